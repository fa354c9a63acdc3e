package projection

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AkintolaX/sureinv-financing/internal/core"
	"github.com/AkintolaX/sureinv-financing/internal/event"
	"github.com/AkintolaX/sureinv-financing/internal/observability"
)

func output(seq int64, notes ...event.Notification) core.CoreOutput {
	for i := range notes {
		notes[i].Sequence = seq
	}
	return core.CoreOutput{
		Envelope:      &event.Envelope{Sequence: seq},
		Notifications: notes,
	}
}

func TestNewHistoryEntryPicksAmount(t *testing.T) {
	actor := uuid.New()
	cases := []struct {
		note event.Notification
		want int64
	}{
		{event.Notification{Type: event.NotificationInvoiceCreated, Principal: 10000, Premium: 23}, 10000},
		{event.Notification{Type: event.NotificationInvoiceFunded, Principal: 10000, Amount: 10023}, 10000},
		{event.Notification{Type: event.NotificationInvoiceRepaid, Amount: 10066, ProtocolFee: 2}, 10066},
		{event.Notification{Type: event.NotificationInsuranceClaimed, Payout: 8000}, 8000},
		{event.Notification{Type: event.NotificationInvoiceDefaulted}, 0},
	}
	for _, tc := range cases {
		tc.note.Actor = actor
		tc.note.InvoiceID = 1
		got := NewHistoryEntry(tc.note)
		assert.Equal(t, tc.want, got.Amount, tc.note.Type)
		assert.Equal(t, actor, got.Actor)
	}
}

func TestHistoryProjectionQueries(t *testing.T) {
	p := NewHistoryProjection()
	business, investor := uuid.New(), uuid.New()

	p.AddEntry(HistoryEntry{Sequence: 2, InvoiceID: 1, Type: event.NotificationInvoiceCreated, Actor: business})
	p.AddEntry(HistoryEntry{Sequence: 3, InvoiceID: 1, Type: event.NotificationInvoiceFunded, Actor: investor})
	p.AddEntry(HistoryEntry{Sequence: 4, InvoiceID: 2, Type: event.NotificationInvoiceCreated, Actor: business})
	p.AddEntry(HistoryEntry{Sequence: 5, Type: event.NotificationPoolToppedUp, Actor: business})

	inv1 := p.QueryByInvoice(1)
	require.Len(t, inv1, 2)
	assert.Equal(t, int64(2), inv1[0].Sequence)
	assert.Equal(t, int64(3), inv1[1].Sequence)
	assert.Empty(t, p.QueryByInvoice(99))

	recent := p.QueryByActor(business, 2)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(5), recent[0].Sequence, "newest first")
	assert.Equal(t, int64(4), recent[1].Sequence)

	// returned slices are copies
	inv1[0].Amount = 42
	assert.Zero(t, p.QueryByInvoice(1)[0].Amount)
}

func TestWorkerAppliesInOrderAndSkipsStale(t *testing.T) {
	in := make(chan core.CoreOutput, 4)
	history := NewHistoryProjection()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	w := NewProjectionWorker(nil, in, history, metrics, zerolog.Nop())

	actor := uuid.New()
	in <- output(1, event.Notification{Type: event.NotificationInvoiceCreated, InvoiceID: 1, Actor: actor, Principal: 500})
	in <- output(2, event.Notification{Type: event.NotificationInvoiceFunded, InvoiceID: 1, Actor: actor, Principal: 500})
	in <- output(2, event.Notification{Type: event.NotificationInvoiceFunded, InvoiceID: 1, Actor: actor, Principal: 500})
	close(in)

	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, int64(2), w.LastSequence())
	assert.Len(t, history.QueryByInvoice(1), 2)
}

func TestWorkerStopsOnCancel(t *testing.T) {
	in := make(chan core.CoreOutput)
	w := NewProjectionWorker(nil, in, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Run(ctx), context.Canceled)
}
