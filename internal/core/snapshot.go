package core

import (
	"context"
	"fmt"

	"github.com/AkintolaX/sureinv-financing/internal/event"
	"github.com/AkintolaX/sureinv-financing/internal/ledger"
	"github.com/AkintolaX/sureinv-financing/internal/state"
)

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence        int64 // last processed sequence
	StateHash       [32]byte
	Store           state.StoreSnapshot
	Balances        []ledger.BalanceEntry // empty when the token ledger is external
	IdempotencyKeys []string
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *SettlementCore) CreateSnapshotState() *SnapshotState {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		Store:           c.store.Snapshot(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
	if c.book != nil {
		snap.Balances = c.book.Entries()
	}
	return snap
}

// RestoreFromSnapshot restores the core's in-memory state from a snapshot.
// Events after snap.Sequence are then replayed from the log.
func (c *SettlementCore) RestoreFromSnapshot(snap *SnapshotState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)
	c.store.Restore(snap.Store)

	if c.book != nil {
		c.book.Restore(snap.Balances)
	}

	c.generator = nil
	if g := snap.Store.Global; g.Initialized {
		assetID, ok := ledger.GetAssetID(g.SettlementToken)
		if !ok {
			return fmt.Errorf("snapshot settlement token %q unknown", g.SettlementToken)
		}
		c.generator = ledger.NewJournalGenerator(assetID)
	}

	c.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)
	return nil
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (c *SettlementCore) WarmLRU(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idempotency.lru.WarmFromKeys(keys)
}

// BeginReplay suppresses output emission and the Postgres dedup tier; every
// replayed instruction is already in the event log.
func (c *SettlementCore) BeginReplay() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replaying = true
	c.idempotency.SetTier2Enabled(false)
}

func (c *SettlementCore) EndReplay() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replaying = false
	c.idempotency.SetTier2Enabled(true)
}

// Replay re-executes a logged envelope and checks that it reproduces the
// recorded sequence and state hash.
func (c *SettlementCore) Replay(ctx context.Context, env *event.Envelope) error {
	if next := c.GetSequence(); env.Sequence != next {
		return fmt.Errorf("replay gap: expected sequence %d, got %d", next, env.Sequence)
	}

	instr, err := event.DecodeInstruction(env.InstructionType, env.Payload)
	if err != nil {
		return fmt.Errorf("replay sequence %d: %w", env.Sequence, err)
	}
	event.Stamp(instr, env.Timestamp)

	receipt, err := c.execute(ctx, instr)
	if err != nil {
		return fmt.Errorf("replay sequence %d rejected: %w", env.Sequence, err)
	}
	if receipt.StateHash != env.StateHash {
		return fmt.Errorf("replay sequence %d: state hash mismatch (got %x, logged %x)",
			env.Sequence, receipt.StateHash, env.StateHash)
	}
	if c.metrics != nil {
		c.metrics.ReplayEventsTotal.Inc()
	}
	return nil
}
