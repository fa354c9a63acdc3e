package core

import (
	"fmt"

	fpmath "github.com/AkintolaX/sureinv-financing/internal/math"
	"github.com/AkintolaX/sureinv-financing/internal/risk"
)

// Params are the settlement rules. All durations are seconds.
type Params struct {
	GracePeriodSeconds int64
	LateFeeDailyBps    int64 // simple daily interest on principal after grace
	LateFeeCapBps      int64 // late fee ceiling, of principal
	ProtocolFeeBps     int64 // of premium, paid by the business on repayment

	MaxPrincipal     int64
	MaxTermSeconds   int64
	DebtorInfoMinLen int
	DebtorInfoMaxLen int

	Risk risk.Params
}

func DefaultParams() Params {
	return Params{
		GracePeriodSeconds: 30 * fpmath.SecondsPerDay,
		LateFeeDailyBps:    5,
		LateFeeCapBps:      1_000,
		ProtocolFeeBps:     1_000,
		MaxPrincipal:       10_000_000_000,
		MaxTermSeconds:     fpmath.SecondsPerYear,
		DebtorInfoMinLen:   10,
		DebtorInfoMaxLen:   200,
		Risk:               risk.DefaultParams(),
	}
}

func (p Params) Validate() error {
	if p.GracePeriodSeconds <= 0 {
		return fmt.Errorf("grace period must be positive, got %d", p.GracePeriodSeconds)
	}
	for name, bps := range map[string]int64{
		"late_fee_daily_bps": p.LateFeeDailyBps,
		"late_fee_cap_bps":   p.LateFeeCapBps,
		"protocol_fee_bps":   p.ProtocolFeeBps,
	} {
		if bps < 0 || bps > fpmath.BpsScale {
			return fmt.Errorf("%s=%d outside [0,%d]", name, bps, fpmath.BpsScale)
		}
	}
	if p.MaxPrincipal <= 0 || p.MaxTermSeconds <= 0 {
		return fmt.Errorf("max principal and max term must be positive")
	}
	if p.DebtorInfoMinLen < 0 || p.DebtorInfoMaxLen < p.DebtorInfoMinLen || p.DebtorInfoMaxLen > 255 {
		return fmt.Errorf("debtor info length bounds [%d,%d] invalid", p.DebtorInfoMinLen, p.DebtorInfoMaxLen)
	}
	return p.Risk.Validate()
}
