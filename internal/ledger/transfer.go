package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/AkintolaX/sureinv-financing/internal/failure"
)

// Transferer is the atomic debit/credit capability the settlement core
// relies on. A batch either applies completely or not at all.
type Transferer interface {
	Transfer(ctx context.Context, batch *Batch) error
}

// TokenLedger is the in-process token ledger: a BalanceTracker guarded by a
// lock, rejecting any batch that would leave a non-external account negative.
type TokenLedger struct {
	mu      sync.RWMutex
	tracker *BalanceTracker
}

func NewTokenLedger() *TokenLedger {
	return &TokenLedger{tracker: NewBalanceTracker()}
}

// Transfer applies batch atomically. A shortfall on the insurance pool account
// fails with ErrPoolInsufficient, any other shortfall with ErrInsufficientFunds.
func (tl *TokenLedger) Transfer(ctx context.Context, batch *Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()

	for key, delta := range batch.NetDeltas() {
		if delta >= 0 || key.Scope == AccountScopeExternal {
			continue
		}
		have := tl.tracker.GetBalance(key)
		if have+delta >= 0 {
			continue
		}
		if key.SubType == SubTypeSystemInsurancePool {
			return fmt.Errorf("%w: pool has %d, need %d", failure.ErrPoolInsufficient, have, -delta)
		}
		return fmt.Errorf("%w: %s has %d, need %d", failure.ErrInsufficientFunds, key.AccountPath(), have, -delta)
	}

	for _, j := range batch.Journals {
		tl.tracker.ApplyJournal(j)
	}
	return nil
}

func (tl *TokenLedger) Balance(key AccountKey) int64 {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return tl.tracker.GetBalance(key)
}

func (tl *TokenLedger) WalletBalance(owner uuid.UUID, assetID AssetID) int64 {
	return tl.Balance(NewWalletKey(owner, assetID))
}

// BalanceEntry is the serializable form of one account balance.
type BalanceEntry struct {
	Account AccountKey `json:"account"`
	Path    string     `json:"path"`
	Balance int64      `json:"balance"`
}

// Entries returns all balances sorted by account path.
func (tl *TokenLedger) Entries() []BalanceEntry {
	tl.mu.RLock()
	snap := tl.tracker.Snapshot()
	tl.mu.RUnlock()

	entries := make([]BalanceEntry, 0, len(snap))
	for k, v := range snap {
		entries = append(entries, BalanceEntry{Account: k, Path: k.AccountPath(), Balance: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries
}

// Restore replaces all balances from a snapshot.
func (tl *TokenLedger) Restore(entries []BalanceEntry) {
	balances := make(map[AccountKey]int64, len(entries))
	for _, e := range entries {
		balances[e.Account] = e.Balance
	}
	tl.mu.Lock()
	tl.tracker.Restore(balances)
	tl.mu.Unlock()
}

// Validator returns an invariant validator over a consistent copy of the balances.
func (tl *TokenLedger) Validator() *InvariantValidator {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	copyTracker := NewBalanceTracker()
	copyTracker.Restore(tl.tracker.Snapshot())
	return NewInvariantValidator(copyTracker)
}
