// internal/event/instruction.go
package event

import "github.com/google/uuid"

// Instruction is the interface all settlement inputs implement
type Instruction interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	InstructionType() InstructionType

	// Caller is the authenticated identity submitting the instruction
	Caller() uuid.UUID

	// Timestamp is supplied by the execution environment, unix seconds
	Timestamp() int64

	// InvoiceRef is the ledger invoice touched (0 when none or not yet assigned)
	InvoiceRef() uint64
}

// Meta carries the fields shared by every instruction. At is never read from
// a client payload; the shell stamps it and the envelope carries it for replay.
type Meta struct {
	Key      string    `json:"idempotency_key"`
	CallerID uuid.UUID `json:"caller"`
	At       int64     `json:"-"`
}

func (m Meta) IdempotencyKey() string { return m.Key }
func (m Meta) Caller() uuid.UUID      { return m.CallerID }
func (m Meta) Timestamp() int64       { return m.At }

// SetTimestamp is called by the ingestion shell before the core sees the instruction
func (m *Meta) SetTimestamp(at int64) { m.At = at }

// SetCaller replaces the claimed caller with the authenticated one
func (m *Meta) SetCaller(id uuid.UUID) { m.CallerID = id }

type timestamper interface {
	SetTimestamp(at int64)
}

// Stamp sets the execution timestamp on any instruction embedding Meta.
func Stamp(instr Instruction, at int64) {
	if ts, ok := instr.(timestamper); ok {
		ts.SetTimestamp(at)
	}
}

// Initialize creates the global record. One-time.
type Initialize struct {
	Meta
	Authority       uuid.UUID `json:"authority"`
	SettlementToken string    `json:"settlement_token"`
}

func (i *Initialize) InstructionType() InstructionType { return InstructionTypeInitialize }
func (i *Initialize) InvoiceRef() uint64               { return 0 }

// CreateInvoice registers a receivable. InvoiceID is the business's own
// reference; the ledger ID is assigned from the global counter.
type CreateInvoice struct {
	Meta
	InvoiceID  uint64 `json:"invoice_id"`
	Amount     int64  `json:"amount"`
	DueDate    int64  `json:"due_date"`
	DebtorInfo string `json:"debtor_info"`

	// risk inputs; CreditScore 0 means derive a simulated score
	CreditScore    int64 `json:"credit_score,omitempty"`
	IndustryFactor int64 `json:"industry_factor"`
	HistoryFactor  int64 `json:"history_factor"`
}

func (c *CreateInvoice) InstructionType() InstructionType { return InstructionTypeCreateInvoice }
func (c *CreateInvoice) InvoiceRef() uint64               { return 0 }

type FundInvoice struct {
	Meta
	InvoiceID uint64 `json:"invoice_id"`
	Amount    int64  `json:"amount"`
}

func (f *FundInvoice) InstructionType() InstructionType { return InstructionTypeFundInvoice }
func (f *FundInvoice) InvoiceRef() uint64               { return f.InvoiceID }

// RepayInvoice: RepaymentAmount is the most the business authorizes; the
// exact amount due is charged.
type RepayInvoice struct {
	Meta
	InvoiceID       uint64 `json:"invoice_id"`
	RepaymentAmount int64  `json:"repayment_amount"`
}

func (r *RepayInvoice) InstructionType() InstructionType { return InstructionTypeRepayInvoice }
func (r *RepayInvoice) InvoiceRef() uint64               { return r.InvoiceID }

type MarkDefaulted struct {
	Meta
	InvoiceID uint64 `json:"invoice_id"`
}

func (m *MarkDefaulted) InstructionType() InstructionType { return InstructionTypeMarkDefaulted }
func (m *MarkDefaulted) InvoiceRef() uint64               { return m.InvoiceID }

type ClaimInsurance struct {
	Meta
	InvoiceID uint64 `json:"invoice_id"`
}

func (c *ClaimInsurance) InstructionType() InstructionType { return InstructionTypeClaimInsurance }
func (c *ClaimInsurance) InvoiceRef() uint64               { return c.InvoiceID }

// TopUpPool replenishes the insurance pool from the caller's wallet
type TopUpPool struct {
	Meta
	Amount int64 `json:"amount"`
}

func (t *TopUpPool) InstructionType() InstructionType { return InstructionTypeTopUpPool }
func (t *TopUpPool) InvoiceRef() uint64               { return 0 }

// DepositTokens credits a wallet from the external token boundary. Authority only.
type DepositTokens struct {
	Meta
	Owner  uuid.UUID `json:"owner"`
	Amount int64     `json:"amount"`
}

func (d *DepositTokens) InstructionType() InstructionType { return InstructionTypeDepositTokens }
func (d *DepositTokens) InvoiceRef() uint64               { return 0 }
