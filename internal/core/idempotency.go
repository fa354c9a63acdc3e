package core

import (
	"container/list"
	"context"
	"fmt"
	"time"

	"github.com/AkintolaX/sureinv-financing/internal/observability"
)

// IdempotencyChecker implements two-tier deduplication.
// Not thread-safe: every call happens under the core commit lock.
type IdempotencyChecker struct {
	// Tier 1: In-memory LRU
	lru *IdempotencyLRU

	// Tier 2: Postgres (injected via interface)
	dbChecker    DBIdempotencyChecker
	tier2Enabled bool
	tier2Timeout time.Duration

	metrics *observability.Metrics
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(ctx context.Context, instructionType string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:          NewIdempotencyLRU(capacity),
		dbChecker:    dbChecker,
		tier2Enabled: true,
		tier2Timeout: 2 * time.Second,
		metrics:      metrics,
	}
}

// CompositeKey is the LRU key of an instruction: keys are scoped by instruction type
func CompositeKey(instructionType, idempotencyKey string) string {
	return fmt.Sprintf("%s:%s", instructionType, idempotencyKey)
}

// IsDuplicate checks if an instruction has been committed (two-tier lookup)
func (ic *IdempotencyChecker) IsDuplicate(ctx context.Context, instructionType string, idempotencyKey string) bool {
	key := CompositeKey(instructionType, idempotencyKey)

	// Tier 1: LRU check (hot path)
	if ic.lru.Contains(key) {
		ic.record(instructionType, "lru")
		return true
	}

	// Tier 2: Postgres check (cold path)
	if ic.dbChecker != nil && ic.tier2Enabled {
		lookupCtx, cancel := context.WithTimeout(ctx, ic.tier2Timeout)
		defer cancel()

		isDup, err := ic.dbChecker.IsDuplicate(lookupCtx, instructionType, idempotencyKey)
		if err != nil {
			// assume not duplicate; the event log primary key still rejects a true replay
			if ic.metrics != nil {
				ic.metrics.DedupTier2Errors.Inc()
			}
			return false
		}

		if isDup {
			ic.record(instructionType, "postgres")
			ic.lru.Add(key)
			return true
		}
	}

	return false
}

// SeenRecently is the tier-1 check only
func (ic *IdempotencyChecker) SeenRecently(instructionType string, idempotencyKey string) bool {
	return ic.lru.Contains(CompositeKey(instructionType, idempotencyKey))
}

// MarkProcessed adds key to LRU after a successful commit
func (ic *IdempotencyChecker) MarkProcessed(instructionType string, idempotencyKey string) {
	ic.lru.Add(CompositeKey(instructionType, idempotencyKey))
}

// SetTier2Enabled toggles the Postgres lookup. Disabled during replay, where
// every instruction is by definition already in the log.
func (ic *IdempotencyChecker) SetTier2Enabled(enabled bool) {
	ic.tier2Enabled = enabled
}

func (ic *IdempotencyChecker) record(instructionType, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(instructionType, tier).Inc()
	}
}

// --- LRU Implementation ---

// IdempotencyLRU is an LRU cache for idempotency keys
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

type lruEntry struct {
	key string
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if exists)
func (lru *IdempotencyLRU) Add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	elem := lru.lruList.PushFront(&lruEntry{key: key})
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		entry := elem.Value.(*lruEntry)
		delete(lru.cache, entry.key)
		lru.evictions++
	}
}

// WarmFromKeys loads composite keys into the LRU, oldest first, so that the
// last key of the slice ends up most recently used.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		lru.Add(key)
	}
}

// GetAllKeys returns keys from least to most recently used
func (lru *IdempotencyLRU) GetAllKeys() []string {
	keys := make([]string, 0, lru.lruList.Len())
	for e := lru.lruList.Back(); e != nil; e = e.Prev() {
		keys = append(keys, e.Value.(*lruEntry).key)
	}
	return keys
}

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

// Evictions returns total evictions
func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}
