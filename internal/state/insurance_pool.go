package state

import (
	"fmt"

	"github.com/AkintolaX/sureinv-financing/internal/failure"
)

// InsurancePool tracks collected premiums minus payouts. The balance mirrors
// the ledger account system:insurance_pool and never goes negative.
type InsurancePool struct {
	Balance       int64
	TotalPremiums int64 // premiums collected from funding
	TotalTopUps   int64 // external replenishment
	TotalPayouts  int64
	ClaimsPaid    int64 // number of successful claims
}

// Credit increases the balance. Always succeeds for positive amounts.
func (p *InsurancePool) Credit(amount int64) {
	if amount <= 0 {
		return
	}
	p.Balance += amount
}

// CanDebit reports whether a payout of amount can be made in full
func (p *InsurancePool) CanDebit(amount int64) bool {
	return amount >= 0 && amount <= p.Balance
}

// Debit decreases the balance by amount, or fails without touching the
// balance. There are no partial payouts.
func (p *InsurancePool) Debit(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: payout must be positive, got %d", failure.ErrInvalidAttributes, amount)
	}
	if !p.CanDebit(amount) {
		return fmt.Errorf("%w: balance %d, payout %d", failure.ErrPoolInsufficient, p.Balance, amount)
	}
	p.Balance -= amount
	return nil
}

// CanonicalBytes for deterministic hashing
func (p *InsurancePool) CanonicalBytes() []byte {
	buf := make([]byte, 0, 40)
	buf = appendInt64LE(buf, p.Balance)
	buf = appendInt64LE(buf, p.TotalPremiums)
	buf = appendInt64LE(buf, p.TotalTopUps)
	buf = appendInt64LE(buf, p.TotalPayouts)
	buf = appendInt64LE(buf, p.ClaimsPaid)
	return buf
}
