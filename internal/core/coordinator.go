package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/AkintolaX/sureinv-financing/internal/event"
	"github.com/AkintolaX/sureinv-financing/internal/failure"
	"github.com/AkintolaX/sureinv-financing/internal/ledger"
	"github.com/AkintolaX/sureinv-financing/internal/observability"
	"github.com/AkintolaX/sureinv-financing/internal/state"
)

const defaultMaxCommitAttempts = 3

// BalanceBook is the optional richer surface of a Transferer that keeps
// balances in process. When available the core snapshots it and checks
// pool/escrow invariants after every commit.
type BalanceBook interface {
	ledger.Transferer
	Entries() []ledger.BalanceEntry
	Restore(entries []ledger.BalanceEntry)
	Validator() *ledger.InvariantValidator
	WalletBalance(owner uuid.UUID, assetID ledger.AssetID) int64
}

// CoreOutput is everything downstream workers need about one commit
type CoreOutput struct {
	Envelope      *event.Envelope
	Batch         *ledger.Batch // nil for state-only instructions
	Notifications []event.Notification
	Invoice       *state.Invoice // post-commit copy of the touched invoice
	Pool          state.InsurancePool
	Global        state.GlobalState
	StateDelta    []byte
}

// Receipt is returned to the submitter of a committed instruction
type Receipt struct {
	Sequence      int64
	StateHash     [32]byte
	Invoice       *state.Invoice
	Notifications []event.Notification
}

// Config wires a SettlementCore.
type Config struct {
	Params              Params
	StartSequence       int64 // first sequence to assign, normally 1
	IdempotencyCapacity int
	MaxCommitAttempts   int
	DBChecker           DBIdempotencyChecker
	Metrics             *observability.Metrics
	Logger              zerolog.Logger
}

// SettlementCore orchestrates invoice operations. Instructions are
// validated against a snapshot of current state outside the commit lock,
// then committed with a version check; a conflicting commit is re-validated
// against the new state, so losers of a race see the precise rejection.
type SettlementCore struct {
	params Params

	// mu serializes commits: idempotency, version check, transfer, apply, hash, emit
	mu          sync.Mutex
	sequence    int64
	hasher      *StateHasher
	idempotency *IdempotencyChecker
	generator   *ledger.JournalGenerator
	replaying   bool

	store       *state.Store
	transfer    ledger.Transferer
	book        BalanceBook // nil when transfer is external
	maxAttempts int

	metrics *observability.Metrics
	log     zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

func NewSettlementCore(
	cfg Config,
	transfer ledger.Transferer,
	persistChan, projectionChan chan<- CoreOutput,
) *SettlementCore {
	if cfg.StartSequence <= 0 {
		cfg.StartSequence = 1
	}
	if cfg.IdempotencyCapacity <= 0 {
		cfg.IdempotencyCapacity = 1_000_000
	}
	if cfg.MaxCommitAttempts <= 0 {
		cfg.MaxCommitAttempts = defaultMaxCommitAttempts
	}

	book, _ := transfer.(BalanceBook)

	return &SettlementCore{
		params:         cfg.Params,
		sequence:       cfg.StartSequence,
		hasher:         NewStateHasher(),
		idempotency:    NewIdempotencyChecker(cfg.IdempotencyCapacity, cfg.DBChecker, cfg.Metrics),
		store:          state.NewStore(),
		transfer:       transfer,
		book:           book,
		maxAttempts:    cfg.MaxCommitAttempts,
		metrics:        cfg.Metrics,
		log:            cfg.Logger,
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}
}

// Execute validates and commits one instruction. Every failure wraps a
// failure sentinel and leaves state untouched.
func (c *SettlementCore) Execute(ctx context.Context, instr event.Instruction) (*Receipt, error) {
	start := time.Now()
	typ := instr.InstructionType().String()

	receipt, err := c.execute(ctx, instr)
	if err != nil {
		if c.metrics != nil {
			c.metrics.CoreInstructionsRejected.WithLabelValues(typ, failure.Code(err)).Inc()
		}
		c.log.Debug().
			Str("instruction", typ).
			Str("idempotency_key", instr.IdempotencyKey()).
			Str("code", failure.Code(err)).
			Err(err).
			Msg("instruction rejected")
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.CoreInstructionsApplied.WithLabelValues(typ).Inc()
		c.metrics.CoreInstructionDuration.WithLabelValues(typ).Observe(time.Since(start).Seconds())
	}
	return receipt, nil
}

func (c *SettlementCore) execute(ctx context.Context, instr event.Instruction) (*Receipt, error) {
	if instr.IdempotencyKey() == "" {
		return nil, fmt.Errorf("%w: missing idempotency key", failure.ErrInvalidAttributes)
	}
	if instr.Caller() == uuid.Nil {
		return nil, fmt.Errorf("%w: missing caller identity", failure.ErrUnauthorized)
	}
	if instr.Timestamp() <= 0 {
		return nil, fmt.Errorf("%w: missing timestamp", failure.ErrInvalidAttributes)
	}

	typ := instr.InstructionType().String()
	c.mu.Lock()
	dup := c.idempotency.IsDuplicate(ctx, typ, instr.IdempotencyKey())
	c.mu.Unlock()
	if dup {
		return nil, fmt.Errorf("%w: %s %s", failure.ErrDuplicate, typ, instr.IdempotencyKey())
	}

	for attempt := 1; ; attempt++ {
		p, err := c.plan(instr)
		if err != nil {
			return nil, err
		}

		receipt, err := c.commit(ctx, instr, p)
		if !errors.Is(err, state.ErrVersionConflict) {
			return receipt, err
		}
		if c.metrics != nil {
			c.metrics.CoreCASRetries.WithLabelValues(typ).Inc()
		}
		if attempt >= c.maxAttempts {
			return nil, fmt.Errorf("%w: %v", failure.ErrConflict, err)
		}
	}
}

func (c *SettlementCore) commit(ctx context.Context, instr event.Instruction, p *plan) (*Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	typ := instr.InstructionType().String()
	key := instr.IdempotencyKey()

	// a concurrent submission of the same key may have committed since the first check
	if c.idempotency.SeenRecently(typ, key) {
		return nil, fmt.Errorf("%w: %s %s", failure.ErrDuplicate, typ, key)
	}

	m := &p.mutation
	if m.AllocateInvoiceID {
		m.Invoice.ID = c.store.NextInvoiceID()
	}
	if err := c.store.Verify(m); err != nil {
		return nil, err
	}

	seq := c.sequence
	var batch *ledger.Batch
	if p.build != nil {
		gen := c.generator
		if gen == nil {
			return nil, failure.ErrNotInitialized
		}
		b, err := p.build(ledger.BatchRef{EventRef: key, Sequence: seq, Timestamp: instr.Timestamp()}, gen)
		if err != nil {
			return nil, fmt.Errorf("build journals: %w", err)
		}
		if err := b.Validate(); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
		// transfer-then-commit happens under one lock; nothing can interleave
		if err := c.transfer.Transfer(ctx, b); err != nil {
			return nil, err
		}
		batch = b
	}

	if err := c.store.Apply(m); err != nil {
		panic(fmt.Sprintf("FATAL: state commit failed after transfer: %v", err))
	}

	if m.Initialize != nil {
		assetID, _ := ledger.GetAssetID(m.Initialize.SettlementToken)
		c.generator = ledger.NewJournalGenerator(assetID)
	}

	global := c.store.Global()
	pool := c.store.Pool()
	if err := c.postCheckInvariants(m, global, pool); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	var invoice *state.Invoice
	if m.Invoice != nil {
		invoice = m.Invoice.Clone()
	}

	digest := computeStateDigest(invoice, &global, &pool, batch)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(seq, digest)

	payload, err := json.Marshal(instr)
	if err != nil {
		panic(fmt.Sprintf("FATAL: cannot encode committed instruction: %v", err))
	}

	notes := make([]event.Notification, len(p.notifications))
	for i, n := range p.notifications {
		n.Sequence = seq
		n.Timestamp = instr.Timestamp()
		n.PoolBalance = pool.Balance
		if n.Actor == uuid.Nil {
			n.Actor = instr.Caller()
		}
		if invoice != nil {
			n.InvoiceID = invoice.ID
		}
		notes[i] = n
	}

	output := CoreOutput{
		Envelope: &event.Envelope{
			Sequence:        seq,
			IdempotencyKey:  key,
			InstructionType: instr.InstructionType(),
			InvoiceID:       invoiceIDOf(invoice),
			Caller:          instr.Caller(),
			Timestamp:       instr.Timestamp(),
			Payload:         payload,
			StateHash:       stateHash,
			PrevHash:        prevHash,
		},
		Batch:         batch,
		Notifications: notes,
		Invoice:       invoice,
		Pool:          pool,
		Global:        global,
		StateDelta:    digest,
	}
	c.sequence++

	if !c.replaying {
		c.emit(output)
	}

	c.idempotency.MarkProcessed(typ, key)
	c.recordCommit(output)

	c.log.Debug().
		Int64("sequence", seq).
		Str("instruction", typ).
		Uint64("invoice_id", invoiceIDOf(invoice)).
		Msg("instruction committed")

	return &Receipt{
		Sequence:      seq,
		StateHash:     stateHash,
		Invoice:       invoice,
		Notifications: notes,
	}, nil
}

// emit sends to the persist channel with a BLOCKING send (backpressure, no
// loss) and to the projection channel with a NON-BLOCKING send (projections
// rebuild from the event log when they fall behind).
func (c *SettlementCore) emit(output CoreOutput) {
	if c.persistChan != nil {
		select {
		case c.persistChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- output
		}
	}

	if c.projectionChan != nil {
		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.Inc()
			}
		}
	}
}

func (c *SettlementCore) recordCommit(output CoreOutput) {
	if c.metrics == nil {
		return
	}
	c.metrics.CoreSequence.Set(float64(output.Envelope.Sequence))
	c.metrics.InsurancePoolBalance.Set(float64(output.Pool.Balance))
	c.metrics.ProtocolFeeBalance.Set(float64(output.Global.ProtocolFeeBalance))
	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
	}
	for _, n := range output.Notifications {
		if n.State != "" {
			c.metrics.InvoiceTransitions.WithLabelValues(n.State).Inc()
		}
		if n.Type == event.NotificationInsuranceClaimed {
			c.metrics.InsurancePayouts.Inc()
		}
	}
}

// postCheckInvariants runs after every commit while the lock is held
func (c *SettlementCore) postCheckInvariants(m *state.Mutation, global state.GlobalState, pool state.InsurancePool) error {
	if pool.Balance < 0 {
		return fmt.Errorf("insurance pool balance negative: %d", pool.Balance)
	}
	if c.book == nil || c.generator == nil {
		return nil
	}

	assetID := c.generator.AssetID()
	v := c.book.Validator()
	if err := v.ValidateGlobalBalance(); err != nil {
		return err
	}
	if err := v.ValidatePoolMatches(pool.Balance, assetID); err != nil {
		return err
	}
	if err := v.ValidateProtocolFeesMatch(global.ProtocolFeeBalance, assetID); err != nil {
		return err
	}
	if m.Invoice != nil {
		if err := v.ValidateEscrowZero(m.Invoice.ID, assetID); err != nil {
			return err
		}
	}
	return nil
}

func invoiceIDOf(inv *state.Invoice) uint64 {
	if inv == nil {
		return 0
	}
	return inv.ID
}

// computeStateDigest creates canonical bytes for the state hash: touched
// invoice, global record, pool, then journal legs in generation order.
func computeStateDigest(inv *state.Invoice, global *state.GlobalState, pool *state.InsurancePool, batch *ledger.Batch) []byte {
	digest := make([]byte, 0, 512)
	if inv != nil {
		digest = append(digest, inv.CanonicalBytes()...)
	}
	digest = append(digest, global.CanonicalBytes()...)
	digest = append(digest, pool.CanonicalBytes()...)

	if batch != nil {
		for _, j := range batch.Journals {
			for _, path := range []string{j.DebitAccount.AccountPath(), j.CreditAccount.AccountPath()} {
				digest = append(digest, byte(len(path)))
				digest = append(digest, []byte(path)...)
			}
			digest = appendInt64LE(digest, j.Amount)
			digest = append(digest, byte(j.JournalType))
		}
	}
	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// --- Reads ---

// GetInvoice returns a copy of the invoice
func (c *SettlementCore) GetInvoice(id uint64) (*state.Invoice, error) {
	inv, ok := c.store.Invoice(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", failure.ErrInvoiceNotFound, id)
	}
	return inv, nil
}

func (c *SettlementCore) InvoicesByOwner(owner uuid.UUID) []*state.Invoice {
	return c.store.InvoicesByOwner(owner)
}

func (c *SettlementCore) Pool() state.InsurancePool { return c.store.Pool() }

func (c *SettlementCore) Global() state.GlobalState { return c.store.Global() }

func (c *SettlementCore) Params() Params { return c.params }

// WalletBalance reads the in-process token ledger; ok is false when the
// transfer capability is external or the core is not initialized.
func (c *SettlementCore) WalletBalance(owner uuid.UUID) (balance int64, ok bool) {
	c.mu.Lock()
	gen := c.generator
	c.mu.Unlock()
	if c.book == nil || gen == nil {
		return 0, false
	}
	return c.book.WalletBalance(owner, gen.AssetID()), true
}

// GetSequence returns the next sequence number to assign.
func (c *SettlementCore) GetSequence() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *SettlementCore) GetStateHash() [32]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasher.GetPrevHash()
}
