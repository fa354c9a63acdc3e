package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/AkintolaX/sureinv-financing/internal/core"
	"github.com/AkintolaX/sureinv-financing/internal/event"
	"github.com/AkintolaX/sureinv-financing/internal/persistence"
	"github.com/AkintolaX/sureinv-financing/internal/testutil"
)

func envelopeOutput(seq int64, key string) core.CoreOutput {
	env := &event.Envelope{
		Sequence:        seq,
		IdempotencyKey:  key,
		InstructionType: event.InstructionTypeTopUpPool,
		Caller:          uuid.New(),
		Timestamp:       1_700_000_000 + seq,
		Payload:         []byte(`{}`),
	}
	env.StateHash[0] = byte(seq)
	return core.CoreOutput{Envelope: env}
}

func TestPersistenceWorkerRoundTrip(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	in := make(chan core.CoreOutput, 4)
	in <- envelopeOutput(1, "k1")
	in <- envelopeOutput(2, "k2")
	close(in)

	w := persistence.NewPersistenceWorker(db, in, nil, 10, 50*time.Millisecond, nil, zerolog.Nop())
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sm := persistence.NewSnapshotManager(db)
	latest, err := sm.GetLatestSequence(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest != 2 {
		t.Errorf("got latest sequence %d, want 2", latest)
	}

	rows, err := sm.LoadEventsFrom(ctx, 2, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].IdempotencyKey != "k2" {
		t.Fatalf("got %+v", rows)
	}

	checker := persistence.NewPostgresIdempotencyChecker(db)
	dup, err := checker.IsDuplicate(ctx, "TopUpPool", "k1")
	if err != nil || !dup {
		t.Errorf("got dup=%v err=%v, want true", dup, err)
	}
	dup, err = checker.IsDuplicate(ctx, "DepositTokens", "k1")
	if err != nil || dup {
		t.Errorf("keys must be scoped by type: got dup=%v err=%v", dup, err)
	}

	keys, err := checker.RecentKeys(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0].IdempotencyKey != "k1" {
		t.Errorf("got %+v, want k1 then k2", keys)
	}
}

func TestSnapshotVerifyAndLoad(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	in := make(chan core.CoreOutput, 1)
	out := envelopeOutput(1, "k1")
	in <- out
	close(in)
	if err := persistence.NewPersistenceWorker(db, in, nil, 1, time.Second, nil, zerolog.Nop()).Run(ctx); err != nil {
		t.Fatal(err)
	}

	sm := persistence.NewSnapshotManager(db)
	snap := persistence.NewSnapshotData(&core.SnapshotState{Sequence: 1, StateHash: out.Envelope.StateHash}, time.Now())
	size, err := sm.SaveSnapshot(ctx, snap)
	if err != nil {
		t.Fatal(err)
	}
	if size == 0 {
		t.Fatal("SaveSnapshot reported zero bytes")
	}

	loaded, err := sm.LoadLatestSnapshot(ctx)
	if err != nil || loaded != nil {
		t.Fatalf("unverified snapshot must not load: got %v, %v", loaded, err)
	}

	if err := sm.VerifySnapshot(ctx, snap); err != nil {
		t.Fatalf("VerifySnapshot: %v", err)
	}
	loaded, err = sm.LoadLatestSnapshot(ctx)
	if err != nil || loaded == nil || loaded.Sequence != 1 {
		t.Fatalf("got %+v, %v", loaded, err)
	}
}
