package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/AkintolaX/sureinv-financing/internal/core"
	"github.com/AkintolaX/sureinv-financing/internal/event"
)

// execer is satisfied by *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// EventLogWriter writes events, journals and notifications to Postgres using
// multi-row INSERT ... ON CONFLICT DO NOTHING, so a retried batch is a no-op.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence        int64
	InstructionType string
	IdempotencyKey  string
	InvoiceID       sql.NullInt64
	Caller          uuid.UUID
	Payload         []byte // JSON-encoded instruction, re-executed on replay
	StateHash       []byte
	PrevHash        []byte
	Timestamp       int64 // instruction timestamp, unix seconds
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        int64
	JournalType   int32
	Timestamp     int64
}

// NotificationRow represents a row in event_log.notifications
type NotificationRow struct {
	Sequence  int64
	Ordinal   int
	Type      string
	InvoiceID sql.NullInt64
	Payload   []byte
}

// Record is everything one commit writes
type Record struct {
	Event         EventRow
	Journals      []JournalRow
	Notifications []NotificationRow
	notes         []event.Notification
}

// NewRecord converts a core output into rows.
func NewRecord(out core.CoreOutput) (Record, error) {
	env := out.Envelope
	rec := Record{
		Event: EventRow{
			Sequence:        env.Sequence,
			InstructionType: env.InstructionType.String(),
			IdempotencyKey:  env.IdempotencyKey,
			InvoiceID:       nullInvoiceID(env.InvoiceID),
			Caller:          env.Caller,
			Payload:         env.Payload,
			StateHash:       append([]byte(nil), env.StateHash[:]...),
			PrevHash:        append([]byte(nil), env.PrevHash[:]...),
			Timestamp:       env.Timestamp,
		},
		notes: out.Notifications,
	}

	if out.Batch != nil {
		for _, j := range out.Batch.Journals {
			rec.Journals = append(rec.Journals, JournalRow{
				JournalID:     j.JournalID.String(),
				BatchID:       j.BatchID.String(),
				EventRef:      j.EventRef,
				Sequence:      j.Sequence,
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				AssetID:       uint16(j.AssetID),
				Amount:        j.Amount,
				JournalType:   int32(j.JournalType),
				Timestamp:     j.Timestamp,
			})
		}
	}

	for i, n := range out.Notifications {
		data, err := json.Marshal(n)
		if err != nil {
			return Record{}, fmt.Errorf("marshal notification %d/%d: %w", env.Sequence, i, err)
		}
		rec.Notifications = append(rec.Notifications, NotificationRow{
			Sequence:  env.Sequence,
			Ordinal:   i,
			Type:      string(n.Type),
			InvoiceID: nullInvoiceID(n.InvoiceID),
			Payload:   data,
		})
	}
	return rec, nil
}

func nullInvoiceID(id uint64) sql.NullInt64 {
	if id == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(id), Valid: true}
}

// ToEnvelope rebuilds the envelope for replay.
func (e EventRow) ToEnvelope() (*event.Envelope, error) {
	t := event.ParseInstructionType(e.InstructionType)
	if t == event.InstructionTypeUnknown {
		return nil, fmt.Errorf("sequence %d: unknown instruction type %q", e.Sequence, e.InstructionType)
	}
	env := &event.Envelope{
		Sequence:        e.Sequence,
		IdempotencyKey:  e.IdempotencyKey,
		InstructionType: t,
		Caller:          e.Caller,
		Timestamp:       e.Timestamp,
		Payload:         e.Payload,
	}
	if e.InvoiceID.Valid {
		env.InvoiceID = uint64(e.InvoiceID.Int64)
	}
	copy(env.StateHash[:], e.StateHash)
	copy(env.PrevHash[:], e.PrevHash)
	return env, nil
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// multiRowInsert builds INSERT INTO table (cols) VALUES ($1..),($n..) suffix
func multiRowInsert(table string, cols []string, rows int, suffix string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table, strings.Join(cols, ", "))
	n := len(cols)
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := 0; c < n; c++ {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", r*n+c+1)
		}
		b.WriteByte(')')
	}
	b.WriteByte(' ')
	b.WriteString(suffix)
	return b.String()
}

var eventColumns = []string{
	"sequence", "instruction_type", "idempotency_key", "invoice_id", "caller",
	"payload", "state_hash", "prev_hash", "timestamp",
}

// WriteEventBatch writes a batch of events to event_log.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(events)*len(eventColumns))
	for _, e := range events {
		args = append(args,
			e.Sequence, e.InstructionType, e.IdempotencyKey, e.InvoiceID, e.Caller.String(),
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp,
		)
	}
	query := multiRowInsert("event_log.events", eventColumns, len(events), "ON CONFLICT (sequence) DO NOTHING")
	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

var journalColumns = []string{
	"journal_id", "batch_id", "event_ref", "sequence", "debit_account",
	"credit_account", "asset_id", "amount", "journal_type", "timestamp",
}

// WriteJournalBatch writes a batch of journal entries to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, ex execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(journals)*len(journalColumns))
	for _, j := range journals {
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.AssetID, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}
	query := multiRowInsert("event_log.journal", journalColumns, len(journals), "ON CONFLICT (journal_id) DO NOTHING")
	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

var notificationColumns = []string{"sequence", "ordinal", "notification_type", "invoice_id", "payload"}

// WriteNotificationBatch writes the outbound notifications of a batch.
func (w *EventLogWriter) WriteNotificationBatch(ctx context.Context, ex execer, notes []NotificationRow) error {
	if len(notes) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(notes)*len(notificationColumns))
	for _, n := range notes {
		args = append(args, n.Sequence, n.Ordinal, n.Type, n.InvoiceID, n.Payload)
	}
	query := multiRowInsert("event_log.notifications", notificationColumns, len(notes), "ON CONFLICT (sequence, ordinal) DO NOTHING")
	_, err := ex.ExecContext(ctx, query, args...)
	return err
}
