package query

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/AkintolaX/sureinv-financing/internal/projection"
)

// TokenDecimals is the display precision of settlement token minor units
const TokenDecimals = 6

// Amount carries a ledger integer and its human-readable form. The display
// string is formatting only; ledger math never goes through decimal.
type Amount struct {
	Minor   int64  `json:"minor"`
	Display string `json:"display"`
}

func NewAmount(minor int64) Amount {
	return Amount{
		Minor:   minor,
		Display: decimal.New(minor, -TokenDecimals).StringFixed(TokenDecimals),
	}
}

// InvoiceResponse is the get_invoice_details view
type InvoiceResponse struct {
	InvoiceID     uint64    `json:"invoice_id"`
	ExternalRef   uint64    `json:"external_ref"`
	BusinessOwner uuid.UUID `json:"business_owner"`
	Investor      uuid.UUID `json:"investor,omitempty"`
	DebtorInfo    string    `json:"debtor_info"`
	State         string    `json:"state"`

	Principal      Amount `json:"principal"`
	DueDate        int64  `json:"due_date"`
	CreatedAt      int64  `json:"created_at"`
	TermDays       int64  `json:"term_days"`
	CreditScore    int64  `json:"credit_score"`
	IndustryFactor int64  `json:"industry_factor"`
	HistoryFactor  int64  `json:"history_factor"`

	RiskScore      int64  `json:"risk_score"`
	CoverageBps    int64  `json:"coverage_bps"`
	PremiumRateBps int64  `json:"premium_rate_bps"`
	YieldRateBps   int64  `json:"yield_rate_bps"`
	Premium        Amount `json:"premium"`
	ExpectedYield  Amount `json:"expected_yield"`
	ExpectedReturn Amount `json:"expected_return"` // principal + yield

	FundedAt        int64  `json:"funded_at,omitempty"`
	RepaidAt        int64  `json:"repaid_at,omitempty"`
	RepaidAmount    Amount `json:"repaid_amount"`
	LateFee         Amount `json:"late_fee"`
	ProtocolFee     Amount `json:"protocol_fee"`
	DefaultedAt     int64  `json:"defaulted_at,omitempty"`
	ClaimedAt       int64  `json:"claimed_at,omitempty"`
	InsurancePayout Amount `json:"insurance_payout"`

	Version      uint64 `json:"version"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// RepaymentQuoteResponse is what a repay issued at the given time would charge
type RepaymentQuoteResponse struct {
	InvoiceID      uint64 `json:"invoice_id"`
	At             int64  `json:"at"`
	Principal      Amount `json:"principal"`
	Yield          Amount `json:"yield"`
	LateFee        Amount `json:"late_fee"`
	ProtocolFee    Amount `json:"protocol_fee"`
	Total          Amount `json:"total"`
	InvestorCredit Amount `json:"investor_credit"`
	OverdueDays    int64  `json:"overdue_days"`
	PastGrace      bool   `json:"past_grace"`
	AsOfSequence   int64  `json:"as_of_sequence"`
}

// PoolResponse is the insurance pool view
type PoolResponse struct {
	Balance       Amount `json:"balance"`
	TotalPremiums Amount `json:"total_premiums"`
	TotalTopUps   Amount `json:"total_top_ups"`
	TotalPayouts  Amount `json:"total_payouts"`
	ClaimsPaid    int64  `json:"claims_paid"`
	AsOfSequence  int64  `json:"as_of_sequence"`
}

// ProtocolResponse is the global state view
type ProtocolResponse struct {
	Initialized        bool      `json:"initialized"`
	Authority          uuid.UUID `json:"authority"`
	SettlementToken    string    `json:"settlement_token"`
	InvoiceCounter     uint64    `json:"invoice_counter"`
	ProtocolFeeBalance Amount    `json:"protocol_fee_balance"`
	TotalFunded        Amount    `json:"total_funded"`
	TotalInsurancePaid Amount    `json:"total_insurance_paid"`
	StateHash          string    `json:"state_hash"`
	AsOfSequence       int64     `json:"as_of_sequence"`
}

// BalanceResponse is a participant's wallet on the in-process token ledger
type BalanceResponse struct {
	Owner        uuid.UUID `json:"owner"`
	Asset        string    `json:"asset"`
	Balance      Amount    `json:"balance"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// HistoryResponse lists lifecycle steps of an invoice
type HistoryResponse struct {
	InvoiceID    uint64                    `json:"invoice_id"`
	Entries      []projection.HistoryEntry `json:"entries"`
	AsOfSequence int64                     `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        Amount `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
	PoolMismatch     int64             `json:"pool_mismatch,omitempty"` // projected pool balance minus ledger pool account
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}
