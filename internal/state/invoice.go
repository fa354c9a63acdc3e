// internal/state/invoice.go
package state

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrIllegalTransition is returned when a transition is not in the state machine.
// The coordinator checks preconditions first, so seeing it indicates a bug.
var ErrIllegalTransition = errors.New("illegal invoice state transition")

// InvoiceState is the lifecycle state of an invoice
type InvoiceState int32

const (
	InvoiceStateCreated InvoiceState = iota
	InvoiceStateFunded
	InvoiceStateRepaid
	InvoiceStateDefaulted
	InvoiceStateClaimed
)

func (s InvoiceState) String() string {
	switch s {
	case InvoiceStateCreated:
		return "Created"
	case InvoiceStateFunded:
		return "Funded"
	case InvoiceStateRepaid:
		return "Repaid"
	case InvoiceStateDefaulted:
		return "Defaulted"
	case InvoiceStateClaimed:
		return "Claimed"
	default:
		return "Unknown"
	}
}

// ParseInvoiceState is the inverse of String.
func ParseInvoiceState(s string) (InvoiceState, bool) {
	for st := InvoiceStateCreated; st <= InvoiceStateClaimed; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}

// IsTerminal reports whether no transition leaves s
func (s InvoiceState) IsTerminal() bool {
	return s == InvoiceStateRepaid || s == InvoiceStateClaimed
}

// CanTransitionTo validates state transitions
func (s InvoiceState) CanTransitionTo(next InvoiceState) bool {
	validTransitions := map[InvoiceState][]InvoiceState{
		InvoiceStateCreated: {
			InvoiceStateFunded,
		},
		InvoiceStateFunded: {
			InvoiceStateRepaid,
			InvoiceStateDefaulted,
		},
		InvoiceStateDefaulted: {
			InvoiceStateClaimed,
		},
	}

	for _, allowed := range validTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// Invoice is the authoritative record of one financing request.
// Timestamps are unix seconds; zero means unset.
type Invoice struct {
	ID            uint64
	ExternalRef   uint64 // business's own invoice number
	BusinessOwner uuid.UUID
	DebtorInfo    string
	Principal     int64
	DueDate       int64
	CreatedAt     int64

	// risk inputs and derived insurance parameters
	CreditScore    int64
	IndustryFactor int64
	HistoryFactor  int64
	RiskScore      int64
	CoverageBps    int64
	PremiumRateBps int64
	YieldRateBps   int64
	Premium        int64
	ExpectedYield  int64

	State    InvoiceState
	Investor uuid.UUID // uuid.Nil until funded
	FundedAt int64

	LateFee      int64
	ProtocolFee  int64
	RepaidAt     int64
	RepaidAmount int64

	DefaultedAt     int64
	ClaimedAt       int64
	InsurancePayout int64

	Version uint64 // Optimistic concurrency control
}

// Clone returns an independent copy (all fields are values)
func (inv *Invoice) Clone() *Invoice {
	c := *inv
	return &c
}

// TermSeconds is the financed period from creation to due date
func (inv *Invoice) TermSeconds() int64 {
	return inv.DueDate - inv.CreatedAt
}

// GraceDeadline is the last instant repayment is still considered in grace
func (inv *Invoice) GraceDeadline(gracePeriod int64) int64 {
	return inv.DueDate + gracePeriod
}

// IsPastGrace reports whether default may be declared at now
func (inv *Invoice) IsPastGrace(now, gracePeriod int64) bool {
	return now > inv.GraceDeadline(gracePeriod)
}

func (inv *Invoice) transition(next InvoiceState) error {
	if !inv.State.CanTransitionTo(next) {
		return fmt.Errorf("%w: invoice %d %s -> %s", ErrIllegalTransition, inv.ID, inv.State, next)
	}
	inv.State = next
	return nil
}

// MarkFunded records the investor. funded-at is set exactly once.
func (inv *Invoice) MarkFunded(investor uuid.UUID, at int64) error {
	if inv.FundedAt != 0 || inv.Investor != uuid.Nil {
		return fmt.Errorf("%w: invoice %d already has an investor", ErrIllegalTransition, inv.ID)
	}
	if err := inv.transition(InvoiceStateFunded); err != nil {
		return err
	}
	inv.Investor = investor
	inv.FundedAt = at
	return nil
}

// MarkRepaid records the settled repayment.
func (inv *Invoice) MarkRepaid(at, amount, lateFee, protocolFee int64) error {
	if lateFee < inv.LateFee {
		return fmt.Errorf("%w: late fee cannot decrease (%d < %d)", ErrIllegalTransition, lateFee, inv.LateFee)
	}
	if err := inv.transition(InvoiceStateRepaid); err != nil {
		return err
	}
	inv.RepaidAt = at
	inv.RepaidAmount = amount
	inv.LateFee = lateFee
	inv.ProtocolFee = protocolFee
	return nil
}

func (inv *Invoice) MarkDefaulted(at int64) error {
	if err := inv.transition(InvoiceStateDefaulted); err != nil {
		return err
	}
	inv.DefaultedAt = at
	return nil
}

func (inv *Invoice) MarkClaimed(at, payout int64) error {
	if err := inv.transition(InvoiceStateClaimed); err != nil {
		return err
	}
	inv.ClaimedAt = at
	inv.InsurancePayout = payout
	return nil
}

// CanonicalBytes returns deterministic serialization for hashing
func (inv *Invoice) CanonicalBytes() []byte {
	buf := make([]byte, 0, 256)

	buf = appendUint64LE(buf, inv.ID)
	buf = appendUint64LE(buf, inv.ExternalRef)
	buf = append(buf, inv.BusinessOwner[:]...)

	// debtor_info (length-prefixed, at most 200 bytes)
	buf = append(buf, byte(len(inv.DebtorInfo)))
	buf = append(buf, []byte(inv.DebtorInfo)...)

	for _, v := range []int64{
		inv.Principal, inv.DueDate, inv.CreatedAt,
		inv.CreditScore, inv.IndustryFactor, inv.HistoryFactor,
		inv.RiskScore, inv.CoverageBps, inv.PremiumRateBps, inv.YieldRateBps,
		inv.Premium, inv.ExpectedYield,
	} {
		buf = appendInt64LE(buf, v)
	}

	buf = append(buf, byte(inv.State))
	buf = append(buf, inv.Investor[:]...)

	for _, v := range []int64{
		inv.FundedAt, inv.LateFee, inv.ProtocolFee, inv.RepaidAt, inv.RepaidAmount,
		inv.DefaultedAt, inv.ClaimedAt, inv.InsurancePayout,
	} {
		buf = appendInt64LE(buf, v)
	}

	buf = appendUint64LE(buf, inv.Version)
	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return appendUint64LE(buf, uint64(v))
}

func appendUint64LE(buf []byte, v uint64) []byte {
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
