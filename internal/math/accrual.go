// internal/math/accrual.go
package math

// ComputeProRata returns principal * rateBps * termSeconds / (BpsScale * SecondsPerYear),
// rounded half up. Used for both the insurance premium and the investor yield.
func ComputeProRata(principal, rateBps, termSeconds int64) int64 {
	if principal <= 0 || rateBps <= 0 || termSeconds <= 0 {
		return 0
	}
	// principal <= 1e10, rate <= 1e4, term <= 3.2e7: product fits in 128 bits, not in 64
	return MulMulDiv(principal, rateBps, termSeconds, BpsScale*SecondsPerYear, RoundHalfUp)
}

// ApplyBps returns amount * bps / BpsScale, rounded half up.
func ApplyBps(amount, bps int64) int64 {
	if amount <= 0 || bps <= 0 {
		return 0
	}
	return MulDiv(amount, bps, BpsScale, RoundHalfUp)
}

// OverdueDays counts whole days elapsed after deadline. Zero when now <= deadline.
func OverdueDays(now, deadline int64) int64 {
	if now <= deadline {
		return 0
	}
	return (now - deadline) / SecondsPerDay
}

// ComputeLateFee is simple daily interest on the principal:
//
//	fee = principal * dailyBps * days / BpsScale, capped at principal * capBps / BpsScale
func ComputeLateFee(principal, dailyBps, days, capBps int64) int64 {
	if days <= 0 {
		return 0
	}
	fee := MulMulDiv(principal, dailyBps, days, BpsScale, RoundHalfUp)
	if limit := ApplyBps(principal, capBps); fee > limit {
		return limit
	}
	return fee
}
