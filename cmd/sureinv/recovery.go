package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/AkintolaX/sureinv-financing/internal/core"
	"github.com/AkintolaX/sureinv-financing/internal/observability"
	"github.com/AkintolaX/sureinv-financing/internal/persistence"
)

const replayPageSize = 1000

type recentKeySource interface {
	RecentKeys(ctx context.Context, limit int) ([]persistence.RecentKey, error)
}

// recovery rebuilds the core from the latest verified snapshot plus the
// event log tail. Every replayed event must reproduce its logged hash.
type recovery struct {
	core     *core.SettlementCore
	snapshot *persistence.SnapshotManager
	keys     recentKeySource
	lruSize  int
	log      zerolog.Logger
}

func (r *recovery) Run(ctx context.Context) error {
	start := time.Now()

	snap, err := r.snapshot.LoadLatestSnapshot(ctx)
	if err != nil {
		// replay from genesis is always correct, only slower
		r.log.Warn().Err(err).Msg("failed to load snapshot, cold start")
		snap = nil
	}
	if snap != nil {
		st, err := snap.CoreState()
		if err != nil {
			return fmt.Errorf("decode snapshot %d: %w", snap.Sequence, err)
		}
		if err := r.core.RestoreFromSnapshot(st); err != nil {
			return fmt.Errorf("restore snapshot %d: %w", snap.Sequence, err)
		}
		r.log.Info().Int64("sequence", snap.Sequence).Msg("restored snapshot")
	} else {
		r.log.Info().Msg("no snapshot found, cold start")
	}

	replayed, err := r.replay(ctx)
	if err != nil {
		return err
	}

	head, err := r.snapshot.GetLatestSequence(ctx)
	if err != nil {
		return fmt.Errorf("latest sequence: %w", err)
	}
	if got := r.core.GetSequence() - 1; got != head {
		return fmt.Errorf("replay stopped at %d, event log head is %d", got, head)
	}

	// after replay: keys logged since the snapshot are not in the snapshot's LRU
	recent, err := r.keys.RecentKeys(ctx, r.lruSize)
	if err != nil {
		return fmt.Errorf("recent idempotency keys: %w", err)
	}
	keys := make([]string, len(recent))
	for i, k := range recent {
		keys[i] = core.CompositeKey(k.InstructionType, k.IdempotencyKey)
	}
	r.core.WarmLRU(keys)

	r.log.Info().
		Int64("replayed", replayed).
		Int64("sequence", head).
		Int("lru_keys", len(keys)).
		Dur("took", time.Since(start)).
		Msg("recovery complete")
	return nil
}

func (r *recovery) replay(ctx context.Context) (int64, error) {
	r.core.BeginReplay()
	defer r.core.EndReplay()

	var total int64
	for {
		from := r.core.GetSequence()
		rows, err := r.snapshot.LoadEventsFrom(ctx, from, replayPageSize)
		if err != nil {
			return total, fmt.Errorf("load events from %d: %w", from, err)
		}
		if len(rows) == 0 {
			return total, nil
		}
		for _, row := range rows {
			env, err := row.ToEnvelope()
			if err != nil {
				return total, err
			}
			if err := r.core.Replay(ctx, env); err != nil {
				return total, err
			}
			total++
		}
		r.log.Debug().Int64("sequence", r.core.GetSequence()-1).Msg("replay page applied")
	}
}

// snapshotter captures core state, waits for the log to catch up, then
// verifies the snapshot hash against the logged event.
type snapshotter struct {
	core    *core.SettlementCore
	mgr     *persistence.SnapshotManager
	metrics *observability.Metrics
	log     zerolog.Logger
}

func (s *snapshotter) TakeSnapshot(ctx context.Context) (int64, error) {
	st := s.core.CreateSnapshotState()
	if st.Sequence == 0 {
		return 0, nil
	}

	data := persistence.NewSnapshotData(st, time.Now().UTC())
	size, err := s.mgr.SaveSnapshot(ctx, data)
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}

	if err := s.awaitPersisted(ctx, st.Sequence); err != nil {
		return 0, err
	}
	if err := s.mgr.VerifySnapshot(ctx, data); err != nil {
		return 0, fmt.Errorf("verify snapshot: %w", err)
	}

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotSizeBytes.Set(float64(size))
		s.metrics.SnapshotLastSeq.Set(float64(st.Sequence))
	}
	s.log.Info().Int64("sequence", st.Sequence).Int("bytes", size).Msg("snapshot saved")
	return st.Sequence, nil
}

func (s *snapshotter) awaitPersisted(ctx context.Context, seq int64) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		head, err := s.mgr.GetLatestSequence(ctx)
		if err != nil {
			return fmt.Errorf("latest sequence: %w", err)
		}
		if head >= seq {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("sequence %d not persisted: %w", seq, ctx.Err())
		case <-ticker.C:
		}
	}
}

// runPeriodicSnapshots snapshots every interval commits, checked every 10s.
func runPeriodicSnapshots(ctx context.Context, s *snapshotter, interval int64) error {
	if interval <= 0 {
		interval = 100_000
	}

	last := s.core.GetSequence() - 1
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.core.GetSequence()-1-last < interval {
				continue
			}
			seq, err := s.TakeSnapshot(ctx)
			if err != nil {
				s.log.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			last = seq
		}
	}
}
