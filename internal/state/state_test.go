package state_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AkintolaX/sureinv-financing/internal/failure"
	"github.com/AkintolaX/sureinv-financing/internal/state"
)

func newInvoice(id uint64) *state.Invoice {
	return &state.Invoice{
		ID:            id,
		BusinessOwner: uuid.New(),
		DebtorInfo:    "ACME Corp, net 30",
		Principal:     10_000,
		CreatedAt:     1_000,
		DueDate:       1_000 + 30*86_400,
		State:         state.InvoiceStateCreated,
	}
}

func TestInvoiceState_TerminalStatesHaveNoExits(t *testing.T) {
	all := []state.InvoiceState{
		state.InvoiceStateCreated, state.InvoiceStateFunded, state.InvoiceStateRepaid,
		state.InvoiceStateDefaulted, state.InvoiceStateClaimed,
	}
	for _, from := range all {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range all {
			assert.False(t, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestInvoiceState_Transitions(t *testing.T) {
	assert.True(t, state.InvoiceStateCreated.CanTransitionTo(state.InvoiceStateFunded))
	assert.True(t, state.InvoiceStateFunded.CanTransitionTo(state.InvoiceStateRepaid))
	assert.True(t, state.InvoiceStateFunded.CanTransitionTo(state.InvoiceStateDefaulted))
	assert.True(t, state.InvoiceStateDefaulted.CanTransitionTo(state.InvoiceStateClaimed))

	assert.False(t, state.InvoiceStateCreated.CanTransitionTo(state.InvoiceStateRepaid))
	assert.False(t, state.InvoiceStateDefaulted.CanTransitionTo(state.InvoiceStateRepaid))
	assert.False(t, state.InvoiceStateFunded.CanTransitionTo(state.InvoiceStateFunded))
}

func TestParseInvoiceState(t *testing.T) {
	st, ok := state.ParseInvoiceState("Defaulted")
	require.True(t, ok)
	assert.Equal(t, state.InvoiceStateDefaulted, st)

	_, ok = state.ParseInvoiceState("Written off")
	assert.False(t, ok)
}

func TestInvoice_FundedAtSetOnce(t *testing.T) {
	inv := newInvoice(1)
	investor := uuid.New()

	require.NoError(t, inv.MarkFunded(investor, 2_000))
	assert.Equal(t, investor, inv.Investor)
	assert.Equal(t, int64(2_000), inv.FundedAt)

	err := inv.MarkFunded(uuid.New(), 3_000)
	assert.ErrorIs(t, err, state.ErrIllegalTransition)
	assert.Equal(t, investor, inv.Investor)
	assert.Equal(t, int64(2_000), inv.FundedAt)
}

func TestInvoice_ClaimRequiresDefault(t *testing.T) {
	inv := newInvoice(1)
	require.NoError(t, inv.MarkFunded(uuid.New(), 2_000))

	assert.ErrorIs(t, inv.MarkClaimed(5_000, 8_000), state.ErrIllegalTransition)
	require.NoError(t, inv.MarkDefaulted(4_000))
	require.NoError(t, inv.MarkClaimed(5_000, 8_000))
	assert.Equal(t, state.InvoiceStateClaimed, inv.State)
	assert.ErrorIs(t, inv.MarkClaimed(6_000, 8_000), state.ErrIllegalTransition)
}

func TestInvoice_GracePredicate(t *testing.T) {
	inv := newInvoice(1)
	grace := int64(30 * 86_400)

	assert.False(t, inv.IsPastGrace(inv.DueDate, grace))
	assert.False(t, inv.IsPastGrace(inv.DueDate+grace, grace))
	assert.True(t, inv.IsPastGrace(inv.DueDate+grace+1, grace))
}

func TestInvoice_CanonicalBytesDeterministic(t *testing.T) {
	inv := newInvoice(3)
	assert.Equal(t, inv.CanonicalBytes(), inv.Clone().CanonicalBytes())

	other := inv.Clone()
	other.LateFee = 1
	assert.NotEqual(t, inv.CanonicalBytes(), other.CanonicalBytes())
}

// ==== Test: InsurancePool ====

func TestInsurancePool_DebitNoPartialPayout(t *testing.T) {
	var p state.InsurancePool
	p.Credit(5_000)

	err := p.Debit(8_000)
	assert.ErrorIs(t, err, failure.ErrPoolInsufficient)
	assert.Equal(t, int64(5_000), p.Balance)

	p.Credit(3_000)
	require.NoError(t, p.Debit(8_000))
	assert.Equal(t, int64(0), p.Balance)
}

func TestInsurancePool_CreditIgnoresNonPositive(t *testing.T) {
	var p state.InsurancePool
	p.Credit(0)
	p.Credit(-5)
	assert.Equal(t, int64(0), p.Balance)
	assert.ErrorIs(t, p.Debit(0), failure.ErrInvalidAttributes)
}

// ==== Test: Store ====

func TestStore_CreateAllocatesSequentialIDs(t *testing.T) {
	s := state.NewStore()
	for want := uint64(1); want <= 3; want++ {
		inv := newInvoice(s.NextInvoiceID())
		require.NoError(t, s.Apply(&state.Mutation{Invoice: inv, AllocateInvoiceID: true}))
		assert.Equal(t, want, inv.ID)
		assert.Equal(t, uint64(1), inv.Version)
	}
	assert.Equal(t, uint64(3), s.Global().InvoiceCounter)
}

func TestStore_RejectsStaleVersion(t *testing.T) {
	s := state.NewStore()
	inv := newInvoice(s.NextInvoiceID())
	require.NoError(t, s.Apply(&state.Mutation{Invoice: inv, AllocateInvoiceID: true}))

	a, _ := s.Invoice(1)
	b, _ := s.Invoice(1)

	require.NoError(t, a.MarkFunded(uuid.New(), 10))
	require.NoError(t, s.Apply(&state.Mutation{Invoice: a, ExpectedVersion: 1}))

	require.NoError(t, b.MarkFunded(uuid.New(), 11))
	err := s.Apply(&state.Mutation{Invoice: b, ExpectedVersion: 1})
	assert.ErrorIs(t, err, state.ErrVersionConflict)

	current, _ := s.Invoice(1)
	assert.Equal(t, a.Investor, current.Investor)
	assert.Equal(t, uint64(2), current.Version)
}

func TestStore_PoolPayoutVerified(t *testing.T) {
	s := state.NewStore()
	require.NoError(t, s.Apply(&state.Mutation{PoolTopUp: 5_000}))

	err := s.Apply(&state.Mutation{PoolPayout: 8_000, InsurancePaid: 8_000})
	assert.ErrorIs(t, err, failure.ErrPoolInsufficient)
	assert.Equal(t, int64(5_000), s.Pool().Balance)
	assert.Equal(t, int64(0), s.Global().TotalInsurancePaid)
}

func TestStore_InitializeOnce(t *testing.T) {
	s := state.NewStore()
	g := state.GlobalState{Initialized: true, Authority: uuid.New(), SettlementToken: "USDC"}
	require.NoError(t, s.Apply(&state.Mutation{Initialize: &g}))
	assert.ErrorIs(t, s.Apply(&state.Mutation{Initialize: &g}), failure.ErrAlreadyInitialized)
}

func TestStore_SnapshotRestore(t *testing.T) {
	s := state.NewStore()
	inv := newInvoice(s.NextInvoiceID())
	require.NoError(t, s.Apply(&state.Mutation{Invoice: inv, AllocateInvoiceID: true, PoolTopUp: 100}))

	restored := state.NewStore()
	restored.Restore(s.Snapshot())

	assert.Equal(t, s.Snapshot(), restored.Snapshot())
	assert.Len(t, restored.InvoicesByOwner(inv.BusinessOwner), 1)
	assert.Equal(t, uint64(2), restored.NextInvoiceID())
}
