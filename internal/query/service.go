package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/AkintolaX/sureinv-financing/internal/core"
	"github.com/AkintolaX/sureinv-financing/internal/event"
	"github.com/AkintolaX/sureinv-financing/internal/ledger"
	"github.com/AkintolaX/sureinv-financing/internal/projection"
	"github.com/AkintolaX/sureinv-financing/internal/state"
)

// CoreReader is the read-only surface of the settlement core
type CoreReader interface {
	GetInvoice(id uint64) (*state.Invoice, error)
	InvoicesByOwner(owner uuid.UUID) []*state.Invoice
	QuoteRepayment(invoiceID uint64, now int64) (core.RepaymentQuote, error)
	Pool() state.InsurancePool
	Global() state.GlobalState
	WalletBalance(owner uuid.UUID) (int64, bool)
	GetSequence() int64
	GetStateHash() [32]byte
}

var _ CoreReader = (*core.SettlementCore)(nil)

// ErrNoLedger is returned for wallet reads when the token ledger is external
var ErrNoLedger = errors.New("token ledger is not in process")

// QueryService answers reads. Invoice, pool and protocol views come from the
// core's in-memory state; history and journals come from projections and the
// event log. All responses include as_of_sequence.
type QueryService struct {
	core    CoreReader
	db      *sql.DB // nil disables journal and integrity queries
	history *projection.HistoryProjection
}

func NewQueryService(reader CoreReader, db *sql.DB, history *projection.HistoryProjection) *QueryService {
	return &QueryService{core: reader, db: db, history: history}
}

// asOf is the last committed sequence
func (qs *QueryService) asOf() int64 { return qs.core.GetSequence() - 1 }

func invoiceResponse(inv *state.Invoice, asOf int64) *InvoiceResponse {
	return &InvoiceResponse{
		InvoiceID:       inv.ID,
		ExternalRef:     inv.ExternalRef,
		BusinessOwner:   inv.BusinessOwner,
		Investor:        inv.Investor,
		DebtorInfo:      inv.DebtorInfo,
		State:           inv.State.String(),
		Principal:       NewAmount(inv.Principal),
		DueDate:         inv.DueDate,
		CreatedAt:       inv.CreatedAt,
		TermDays:        inv.TermSeconds() / 86400,
		CreditScore:     inv.CreditScore,
		IndustryFactor:  inv.IndustryFactor,
		HistoryFactor:   inv.HistoryFactor,
		RiskScore:       inv.RiskScore,
		CoverageBps:     inv.CoverageBps,
		PremiumRateBps:  inv.PremiumRateBps,
		YieldRateBps:    inv.YieldRateBps,
		Premium:         NewAmount(inv.Premium),
		ExpectedYield:   NewAmount(inv.ExpectedYield),
		ExpectedReturn:  NewAmount(inv.Principal + inv.ExpectedYield),
		FundedAt:        inv.FundedAt,
		RepaidAt:        inv.RepaidAt,
		RepaidAmount:    NewAmount(inv.RepaidAmount),
		LateFee:         NewAmount(inv.LateFee),
		ProtocolFee:     NewAmount(inv.ProtocolFee),
		DefaultedAt:     inv.DefaultedAt,
		ClaimedAt:       inv.ClaimedAt,
		InsurancePayout: NewAmount(inv.InsurancePayout),
		Version:         inv.Version,
		AsOfSequence:    asOf,
	}
}

// GetInvoice returns the full invoice record.
func (qs *QueryService) GetInvoice(ctx context.Context, id uint64) (*InvoiceResponse, error) {
	asOf := qs.asOf()
	inv, err := qs.core.GetInvoice(id)
	if err != nil {
		return nil, err
	}
	return invoiceResponse(inv, asOf), nil
}

// ListInvoices returns every invoice created by owner, in ID order.
func (qs *QueryService) ListInvoices(ctx context.Context, owner uuid.UUID) ([]*InvoiceResponse, error) {
	asOf := qs.asOf()
	invoices := qs.core.InvoicesByOwner(owner)
	out := make([]*InvoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, invoiceResponse(inv, asOf))
	}
	return out, nil
}

// QuoteRepayment prices a repayment at the caller-supplied time.
func (qs *QueryService) QuoteRepayment(ctx context.Context, id uint64, at int64) (*RepaymentQuoteResponse, error) {
	asOf := qs.asOf()
	q, err := qs.core.QuoteRepayment(id, at)
	if err != nil {
		return nil, err
	}
	return &RepaymentQuoteResponse{
		InvoiceID:      id,
		At:             at,
		Principal:      NewAmount(q.Principal),
		Yield:          NewAmount(q.Yield),
		LateFee:        NewAmount(q.LateFee),
		ProtocolFee:    NewAmount(q.ProtocolFee),
		Total:          NewAmount(q.Total()),
		InvestorCredit: NewAmount(q.InvestorCredit()),
		OverdueDays:    q.OverdueDays,
		PastGrace:      q.PastGrace,
		AsOfSequence:   asOf,
	}, nil
}

func (qs *QueryService) GetPool(ctx context.Context) *PoolResponse {
	asOf := qs.asOf()
	p := qs.core.Pool()
	return &PoolResponse{
		Balance:       NewAmount(p.Balance),
		TotalPremiums: NewAmount(p.TotalPremiums),
		TotalTopUps:   NewAmount(p.TotalTopUps),
		TotalPayouts:  NewAmount(p.TotalPayouts),
		ClaimsPaid:    p.ClaimsPaid,
		AsOfSequence:  asOf,
	}
}

func (qs *QueryService) GetProtocol(ctx context.Context) *ProtocolResponse {
	asOf := qs.asOf()
	g := qs.core.Global()
	hash := qs.core.GetStateHash()
	return &ProtocolResponse{
		Initialized:        g.Initialized,
		Authority:          g.Authority,
		SettlementToken:    g.SettlementToken,
		InvoiceCounter:     g.InvoiceCounter,
		ProtocolFeeBalance: NewAmount(g.ProtocolFeeBalance),
		TotalFunded:        NewAmount(g.TotalFunded),
		TotalInsurancePaid: NewAmount(g.TotalInsurancePaid),
		StateHash:          hex.EncodeToString(hash[:]),
		AsOfSequence:       asOf,
	}
}

// GetBalance returns a participant's wallet balance.
func (qs *QueryService) GetBalance(ctx context.Context, owner uuid.UUID) (*BalanceResponse, error) {
	asOf := qs.asOf()
	bal, ok := qs.core.WalletBalance(owner)
	if !ok {
		return nil, ErrNoLedger
	}
	return &BalanceResponse{
		Owner:        owner,
		Asset:        qs.core.Global().SettlementToken,
		Balance:      NewAmount(bal),
		AsOfSequence: asOf,
	}, nil
}

// GetInvoiceHistory returns an invoice's lifecycle, oldest first. Reads the
// in-memory projection, falling back to Postgres when it has nothing.
func (qs *QueryService) GetInvoiceHistory(ctx context.Context, id uint64) (*HistoryResponse, error) {
	if _, err := qs.core.GetInvoice(id); err != nil {
		return nil, err
	}
	resp := &HistoryResponse{InvoiceID: id, AsOfSequence: qs.asOf()}
	if qs.history != nil {
		resp.Entries = qs.history.QueryByInvoice(id)
	}
	if len(resp.Entries) > 0 || qs.db == nil {
		return resp, nil
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence, notification_type, actor, amount, timestamp
		FROM projections.invoice_history
		WHERE invoice_id = $1
		ORDER BY sequence ASC
	`, int64(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e     projection.HistoryEntry
			typ   string
			actor string
		)
		if err := rows.Scan(&e.Sequence, &typ, &actor, &e.Amount, &e.Timestamp); err != nil {
			return nil, err
		}
		e.InvoiceID = id
		e.Type = event.NotificationType(typ)
		if e.Actor, err = uuid.Parse(actor); err != nil {
			return nil, err
		}
		resp.Entries = append(resp.Entries, e)
	}
	return resp, rows.Err()
}

// GetJournalHistory returns journal entries touching a participant's wallet
// with pagination, newest first.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	owner uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	if qs.db == nil {
		return nil, nil
	}
	accountPrefix := fmt.Sprintf("user:%s:%%", owner)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var (
			e      JournalHistoryEntry
			amount int64
		)
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.Amount = NewAmount(amount)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity, global balance per asset and
// that the projected pool agrees with the ledger pool account.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	if qs.db == nil {
		return nil, errors.New("integrity check needs the event log")
	}
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Every journal debits one account and credits another, so balances sum to zero per asset
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance) AS total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var (
			assetID uint16
			total   int64
		)
		if err := balanceRows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			AssetID:   assetID,
			Imbalance: total,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	// projected pool record vs projected ledger pool account, both at the watermark
	if assetID, ok := ledger.GetAssetID(qs.core.Global().SettlementToken); ok {
		var poolRecord, poolAccount sql.NullInt64
		err := qs.db.QueryRowContext(ctx, `
			SELECT
				(SELECT balance FROM projections.pool WHERE id = 1),
				(SELECT balance FROM projections.balances WHERE account_path = $1 AND asset_id = $2)
		`, ledger.InsurancePoolKey(assetID).AccountPath(), uint16(assetID)).Scan(&poolRecord, &poolAccount)
		if err != nil {
			return nil, err
		}
		report.PoolMismatch = poolRecord.Int64 - poolAccount.Int64
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0 && report.PoolMismatch == 0
	return report, nil
}
