package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypePoolTopUp
	JournalTypePrincipalEscrow
	JournalTypePrincipalDisburse
	JournalTypePremiumCollect
	JournalTypeRepayPrincipal
	JournalTypeRepayYield
	JournalTypeRepayLateFee
	JournalTypeProtocolFee
	JournalTypeInsurancePayout
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypePoolTopUp:
		return "pool_top_up"
	case JournalTypePrincipalEscrow:
		return "principal_escrow"
	case JournalTypePrincipalDisburse:
		return "principal_disburse"
	case JournalTypePremiumCollect:
		return "premium_collect"
	case JournalTypeRepayPrincipal:
		return "repay_principal"
	case JournalTypeRepayYield:
		return "repay_yield"
	case JournalTypeRepayLateFee:
		return "repay_late_fee"
	case JournalTypeProtocolFee:
		return "protocol_fee"
	case JournalTypeInsurancePayout:
		return "insurance_payout"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of source instruction
	Sequence      int64       // Global instruction sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        int64       // Fixed-point amount (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Versioned input timestamp (unix seconds)
}

// Batch represents a balanced set of journal entries, applied all or nothing
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each journal moves a single positive amount from credit account to debit
// account, so every entry is balanced by construction.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}

// NetDeltas returns the per-account balance change the batch would cause.
func (b *Batch) NetDeltas() map[AccountKey]int64 {
	deltas := make(map[AccountKey]int64, len(b.Journals)*2)
	for _, j := range b.Journals {
		deltas[j.DebitAccount] += j.Amount
		deltas[j.CreditAccount] -= j.Amount
	}
	return deltas
}

// AmountOf sums the journals of one type.
func (b *Batch) AmountOf(t JournalType) int64 {
	var total int64
	for _, j := range b.Journals {
		if j.JournalType == t {
			total += j.Amount
		}
	}
	return total
}
