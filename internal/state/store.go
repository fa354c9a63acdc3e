package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/AkintolaX/sureinv-financing/internal/failure"
)

// ErrVersionConflict means the record changed between read and commit.
var ErrVersionConflict = errors.New("invoice version conflict")

// Store holds the invoice book, the global record and the insurance pool.
// Reads return copies; writes go through Verify/Apply with a version check.
type Store struct {
	mu       sync.RWMutex
	global   GlobalState
	pool     InsurancePool
	invoices map[uint64]*Invoice
	byOwner  map[uuid.UUID][]uint64
}

func NewStore() *Store {
	return &Store{
		invoices: make(map[uint64]*Invoice),
		byOwner:  make(map[uuid.UUID][]uint64),
	}
}

// Mutation is the complete state change of one instruction.
type Mutation struct {
	// Invoice is the next version of the touched invoice, or nil.
	Invoice *Invoice
	// ExpectedVersion is the version the invoice was read at; 0 for a new invoice.
	ExpectedVersion uint64

	// Initialize replaces the global record (initialize only).
	Initialize *GlobalState

	AllocateInvoiceID bool // create: counter++
	ProtocolFees      int64
	FundedPrincipal   int64
	InsurancePaid     int64

	PoolPremium int64
	PoolTopUp   int64
	PoolPayout  int64
}

func (s *Store) Global() GlobalState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global
}

func (s *Store) Pool() InsurancePool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool
}

// Invoice returns a copy of the invoice
func (s *Store) Invoice(id uint64) (*Invoice, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, false
	}
	return inv.Clone(), true
}

// InvoicesByOwner returns copies of the business's invoices in ID order
func (s *Store) InvoicesByOwner(owner uuid.UUID) []*Invoice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byOwner[owner]
	out := make([]*Invoice, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.invoices[id].Clone())
	}
	return out
}

// NextInvoiceID is the ID the next create will be assigned
func (s *Store) NextInvoiceID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global.InvoiceCounter + 1
}

// Verify checks that m can be applied to the current state.
func (s *Store) Verify(m *Mutation) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verifyLocked(m)
}

func (s *Store) verifyLocked(m *Mutation) error {
	if m.Invoice != nil {
		current, exists := s.invoices[m.Invoice.ID]
		switch {
		case m.ExpectedVersion == 0 && exists:
			return fmt.Errorf("%w: invoice %d already exists", ErrVersionConflict, m.Invoice.ID)
		case m.ExpectedVersion == 0 && m.AllocateInvoiceID && m.Invoice.ID != s.global.InvoiceCounter+1:
			return fmt.Errorf("%w: invoice id %d is not next", ErrVersionConflict, m.Invoice.ID)
		case m.ExpectedVersion != 0 && !exists:
			return fmt.Errorf("%w: invoice %d", failure.ErrInvoiceNotFound, m.Invoice.ID)
		case m.ExpectedVersion != 0 && current.Version != m.ExpectedVersion:
			return fmt.Errorf("%w: invoice %d at version %d, read %d",
				ErrVersionConflict, m.Invoice.ID, current.Version, m.ExpectedVersion)
		}
	}

	if m.Initialize != nil && s.global.Initialized {
		return failure.ErrAlreadyInitialized
	}

	if m.PoolPayout > 0 && !s.pool.CanDebit(m.PoolPayout) {
		return fmt.Errorf("%w: balance %d, payout %d", failure.ErrPoolInsufficient, s.pool.Balance, m.PoolPayout)
	}
	return nil
}

// Apply commits m. It re-verifies under the write lock, so a failed Apply
// leaves the store untouched.
func (s *Store) Apply(m *Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.verifyLocked(m); err != nil {
		return err
	}

	if m.Initialize != nil {
		s.global = *m.Initialize
	}
	if m.AllocateInvoiceID {
		s.global.InvoiceCounter++
	}
	s.global.ProtocolFeeBalance += m.ProtocolFees
	s.global.TotalFunded += m.FundedPrincipal
	s.global.TotalInsurancePaid += m.InsurancePaid

	s.pool.Credit(m.PoolPremium)
	s.pool.TotalPremiums += m.PoolPremium
	s.pool.Credit(m.PoolTopUp)
	s.pool.TotalTopUps += m.PoolTopUp
	if m.PoolPayout > 0 {
		// verified above
		_ = s.pool.Debit(m.PoolPayout)
		s.pool.TotalPayouts += m.PoolPayout
		s.pool.ClaimsPaid++
	}

	if m.Invoice != nil {
		next := m.Invoice.Clone()
		next.Version = m.ExpectedVersion + 1
		if m.ExpectedVersion == 0 {
			s.byOwner[next.BusinessOwner] = append(s.byOwner[next.BusinessOwner], next.ID)
		}
		s.invoices[next.ID] = next
		m.Invoice.Version = next.Version
	}
	return nil
}

// StoreSnapshot is the serializable state of a Store.
type StoreSnapshot struct {
	Global   GlobalState   `json:"global"`
	Pool     InsurancePool `json:"pool"`
	Invoices []Invoice     `json:"invoices"`
}

// Snapshot returns a consistent copy with invoices in ID order
func (s *Store) Snapshot() StoreSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := StoreSnapshot{
		Global:   s.global,
		Pool:     s.pool,
		Invoices: make([]Invoice, 0, len(s.invoices)),
	}
	for _, inv := range s.invoices {
		snap.Invoices = append(snap.Invoices, *inv)
	}
	sort.Slice(snap.Invoices, func(i, j int) bool { return snap.Invoices[i].ID < snap.Invoices[j].ID })
	return snap
}

// Restore replaces all state from a snapshot
func (s *Store) Restore(snap StoreSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global = snap.Global
	s.pool = snap.Pool
	s.invoices = make(map[uint64]*Invoice, len(snap.Invoices))
	s.byOwner = make(map[uuid.UUID][]uint64)
	for i := range snap.Invoices {
		inv := snap.Invoices[i]
		s.invoices[inv.ID] = &inv
		s.byOwner[inv.BusinessOwner] = append(s.byOwner[inv.BusinessOwner], inv.ID)
	}
}
