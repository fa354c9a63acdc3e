package core

import (
	"context"
	"errors"
	"testing"
)

type stubDB struct {
	seen  map[string]bool
	err   error
	calls int
}

func (s *stubDB) IsDuplicate(_ context.Context, instructionType, key string) (bool, error) {
	s.calls++
	if s.err != nil {
		return false, s.err
	}
	return s.seen[instructionType+":"+key], nil
}

func TestIdempotencyLRU_EvictsOldest(t *testing.T) {
	lru := NewIdempotencyLRU(2)
	lru.Add("a")
	lru.Add("b")
	lru.Contains("a") // promote a
	lru.Add("c")

	if lru.Contains("b") {
		t.Error("b should have been evicted")
	}
	if !lru.Contains("a") || !lru.Contains("c") {
		t.Error("a and c should remain")
	}
	if lru.Evictions() != 1 {
		t.Errorf("got %d evictions, want 1", lru.Evictions())
	}
}

func TestIdempotencyLRU_KeysOldestFirst(t *testing.T) {
	lru := NewIdempotencyLRU(10)
	lru.WarmFromKeys([]string{"x", "y", "z"})

	got := lru.GetAllKeys()
	want := []string{"x", "y", "z"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
			break
		}
	}
}

func TestIdempotencyChecker_Tier2(t *testing.T) {
	db := &stubDB{seen: map[string]bool{"FundInvoice:k1": true}}
	ic := NewIdempotencyChecker(16, db, nil)

	if !ic.IsDuplicate(context.Background(), "FundInvoice", "k1") {
		t.Error("expected postgres hit")
	}
	// promoted to LRU, second lookup stays in memory
	ic.IsDuplicate(context.Background(), "FundInvoice", "k1")
	if db.calls != 1 {
		t.Errorf("got %d db calls, want 1", db.calls)
	}

	ic.SetTier2Enabled(false)
	if ic.IsDuplicate(context.Background(), "FundInvoice", "k2") {
		t.Error("tier 2 disabled, expected miss")
	}
	if db.calls != 1 {
		t.Errorf("got %d db calls with tier 2 disabled, want 1", db.calls)
	}
}

func TestIdempotencyChecker_Tier2ErrorTreatedAsMiss(t *testing.T) {
	db := &stubDB{err: errors.New("connection refused")}
	ic := NewIdempotencyChecker(16, db, nil)
	if ic.IsDuplicate(context.Background(), "RepayInvoice", "k") {
		t.Error("db error must not report a duplicate")
	}
}

func TestIdempotencyChecker_ScopedByType(t *testing.T) {
	ic := NewIdempotencyChecker(16, nil, nil)
	ic.MarkProcessed("FundInvoice", "same")
	if ic.SeenRecently("RepayInvoice", "same") {
		t.Error("keys must be scoped by instruction type")
	}
	if !ic.SeenRecently("FundInvoice", "same") {
		t.Error("expected hit after MarkProcessed")
	}
}

func TestStateHasher_Deterministic(t *testing.T) {
	a, b := NewStateHasher(), NewStateHasher()
	for seq := int64(1); seq <= 3; seq++ {
		if a.ComputeHash(seq, []byte{byte(seq)}) != b.ComputeHash(seq, []byte{byte(seq)}) {
			t.Fatalf("hash diverged at sequence %d", seq)
		}
	}
	c := NewStateHasher()
	c.SetPrevHash(a.GetPrevHash())
	if c.ComputeHash(4, nil) != a.ComputeHash(4, nil) {
		t.Error("restored hasher diverged")
	}
}

func TestParams_Validate(t *testing.T) {
	p := DefaultParams()
	if err := p.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	p.GracePeriodSeconds = 0
	if err := p.Validate(); err == nil {
		t.Error("expected error for zero grace period")
	}
	p = DefaultParams()
	p.ProtocolFeeBps = 10_001
	if err := p.Validate(); err == nil {
		t.Error("expected error for protocol fee over 100%")
	}
}
