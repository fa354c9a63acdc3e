package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/AkintolaX/sureinv-financing/internal/core"
	"github.com/AkintolaX/sureinv-financing/internal/ledger"
	"github.com/AkintolaX/sureinv-financing/internal/observability"
	"github.com/AkintolaX/sureinv-financing/internal/state"
)

// ProjectionWorker updates projection tables from committed outputs.
// The core sends to it without blocking and drops on a full channel; the
// projections are eventually consistent and can be rebuilt.
type ProjectionWorker struct {
	db        *sql.DB // nil keeps only the in-memory history
	inputChan <-chan core.CoreOutput
	history   *HistoryProjection
	lastSeq   int64
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewProjectionWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	history *HistoryProjection,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		history:   history,
		metrics:   metrics,
		log:       log,
	}
}

// LastSequence is the last sequence applied
func (pw *ProjectionWorker) LastSequence() int64 { return pw.lastSeq }

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			pw.apply(ctx, output)
		}
	}
}

func (pw *ProjectionWorker) apply(ctx context.Context, output core.CoreOutput) {
	seq := output.Envelope.Sequence
	if seq <= pw.lastSeq {
		return
	}

	if pw.history != nil {
		for _, n := range output.Notifications {
			pw.history.AddEntry(NewHistoryEntry(n))
		}
	}

	if pw.db != nil {
		start := time.Now()
		err := pw.processOutput(ctx, output)
		if pw.metrics != nil {
			pw.metrics.ProjectionUpdateDur.WithLabelValues("main").Observe(time.Since(start).Seconds())
		}
		if err != nil {
			// Continue: projections can be rebuilt from the event log
			pw.log.Warn().Int64("sequence", seq).Err(err).Msg("projection update failed")
			if pw.metrics != nil {
				pw.metrics.ProjectionErrors.Inc()
			}
		}
	}

	pw.lastSeq = seq
	if pw.metrics != nil {
		pw.metrics.ProjectionLastSeq.Set(float64(seq))
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output core.CoreOutput) error {
	seq := output.Envelope.Sequence

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if output.Invoice != nil {
		if err := upsertInvoice(ctx, tx, output.Invoice, seq); err != nil {
			return fmt.Errorf("invoice projection: %w", err)
		}
	}

	for _, n := range output.Notifications {
		if n.InvoiceID == 0 {
			continue
		}
		h := NewHistoryEntry(n)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.invoice_history
				(sequence, invoice_id, notification_type, actor, amount, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT DO NOTHING
		`, h.Sequence, int64(h.InvoiceID), string(h.Type), h.Actor.String(), h.Amount, h.Timestamp); err != nil {
			return fmt.Errorf("history projection: %w", err)
		}
	}

	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			if err := updateBalanceProjection(ctx, tx, j, seq); err != nil {
				return fmt.Errorf("balance projection: %w", err)
			}
		}
	}

	if err := upsertPool(ctx, tx, output.Pool, seq); err != nil {
		return fmt.Errorf("pool projection: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func nullableUUID(id uuid.UUID) interface{} {
	if id == uuid.Nil {
		return nil
	}
	return id.String()
}

func upsertInvoice(ctx context.Context, tx *sql.Tx, inv *state.Invoice, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.invoices (
			invoice_id, external_ref, business_owner, debtor_info, principal, due_date, created_at,
			risk_score, coverage_bps, premium, expected_yield, state, investor, funded_at,
			late_fee, protocol_fee, repaid_at, repaid_amount, defaulted_at, claimed_at,
			insurance_payout, version, last_sequence, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, NOW())
		ON CONFLICT (invoice_id) DO UPDATE SET
			state = EXCLUDED.state,
			investor = EXCLUDED.investor,
			funded_at = EXCLUDED.funded_at,
			late_fee = EXCLUDED.late_fee,
			protocol_fee = EXCLUDED.protocol_fee,
			repaid_at = EXCLUDED.repaid_at,
			repaid_amount = EXCLUDED.repaid_amount,
			defaulted_at = EXCLUDED.defaulted_at,
			claimed_at = EXCLUDED.claimed_at,
			insurance_payout = EXCLUDED.insurance_payout,
			version = EXCLUDED.version,
			last_sequence = EXCLUDED.last_sequence,
			updated_at = NOW()
		WHERE projections.invoices.last_sequence < EXCLUDED.last_sequence
	`,
		int64(inv.ID), int64(inv.ExternalRef), inv.BusinessOwner.String(), inv.DebtorInfo,
		inv.Principal, inv.DueDate, inv.CreatedAt,
		inv.RiskScore, inv.CoverageBps, inv.Premium, inv.ExpectedYield, inv.State.String(),
		nullableUUID(inv.Investor), inv.FundedAt,
		inv.LateFee, inv.ProtocolFee, inv.RepaidAt, inv.RepaidAmount, inv.DefaultedAt, inv.ClaimedAt,
		inv.InsurancePayout, int64(inv.Version), seq,
	)
	return err
}

// updateBalanceProjection mirrors the tracker: the debit account goes up,
// the credit account goes down.
func updateBalanceProjection(ctx context.Context, tx *sql.Tx, j ledger.Journal, seq int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
	`, j.DebitAccount.AccountPath(), uint16(j.AssetID), j.Amount, seq); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, -$3::BIGINT, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance - $3, last_sequence = $4
	`, j.CreditAccount.AccountPath(), uint16(j.AssetID), j.Amount, seq); err != nil {
		return err
	}

	return nil
}

func upsertPool(ctx context.Context, tx *sql.Tx, p state.InsurancePool, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.pool (id, balance, total_premiums, total_topups, total_payouts, claims_paid, last_sequence)
		VALUES (1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			balance = EXCLUDED.balance,
			total_premiums = EXCLUDED.total_premiums,
			total_topups = EXCLUDED.total_topups,
			total_payouts = EXCLUDED.total_payouts,
			claims_paid = EXCLUDED.claims_paid,
			last_sequence = EXCLUDED.last_sequence
	`, p.Balance, p.TotalPremiums, p.TotalTopUps, p.TotalPayouts, p.ClaimsPaid, seq)
	return err
}

// RebuildProjections rebuilds all projection tables. Balances and history
// come from the event log; invoices and the pool come from the core's
// current store, which is itself a replay of the log.
func RebuildProjections(ctx context.Context, db *sql.DB, snap state.StoreSnapshot, seq int64, log zerolog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.invoices`,
		`TRUNCATE projections.invoice_history`,
		`TRUNCATE projections.pool`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}
	for _, stmt := range truncateStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// debits add, credits subtract
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT account_path, asset_id, SUM(delta), MAX(sequence)
		FROM (
			SELECT debit_account AS account_path, asset_id, amount AS delta, sequence FROM event_log.journal
			UNION ALL
			SELECT credit_account, asset_id, -amount, sequence FROM event_log.journal
		) legs
		GROUP BY account_path, asset_id
	`); err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.invoice_history (sequence, invoice_id, notification_type, actor, amount, timestamp)
		SELECT n.sequence, n.invoice_id, n.notification_type, (n.payload->>'actor')::UUID,
		       COALESCE((n.payload->>'payout')::BIGINT, (n.payload->>'principal')::BIGINT, (n.payload->>'amount')::BIGINT, 0),
		       (n.payload->>'timestamp')::BIGINT
		FROM event_log.notifications n
		WHERE n.invoice_id IS NOT NULL
		ON CONFLICT DO NOTHING
	`); err != nil {
		return fmt.Errorf("rebuild history: %w", err)
	}

	for i := range snap.Invoices {
		inv := snap.Invoices[i]
		if err := upsertInvoice(ctx, tx, &inv, seq); err != nil {
			return fmt.Errorf("rebuild invoice %d: %w", inv.ID, err)
		}
	}
	if err := upsertPool(ctx, tx, snap.Pool, seq); err != nil {
		return fmt.Errorf("rebuild pool: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at) VALUES ('main', $1, NOW())
	`, seq); err != nil {
		return fmt.Errorf("watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	log.Info().Int64("sequence", seq).Int("invoices", len(snap.Invoices)).Msg("projection rebuild complete")
	return nil
}
