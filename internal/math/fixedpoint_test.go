package math_test

import (
	"math/big"
	"testing"

	fpmath "github.com/AkintolaX/sureinv-financing/internal/math"
)

// ============================================================================
// Test: DivideInt128 rounding modes
// ============================================================================

func TestDivideInt128_RoundingModes(t *testing.T) {
	cases := []struct {
		name string
		num  int64
		den  int64
		mode fpmath.RoundingMode
		want int64
	}{
		{"half up exact half", 5, 2, fpmath.RoundHalfUp, 3},
		{"half up below half", 7, 4, fpmath.RoundHalfUp, 2},
		{"half up above half", 11, 4, fpmath.RoundHalfUp, 3},
		{"half up odd denominator", 5, 3, fpmath.RoundHalfUp, 2},
		{"half even rounds to even", 5, 2, fpmath.RoundHalfEven, 2},
		{"half even odd quotient", 7, 2, fpmath.RoundHalfEven, 4},
		{"down truncates", 19, 10, fpmath.RoundDown, 1},
		{"up ceils", 11, 10, fpmath.RoundUp, 2},
		{"exact division", 100, 10, fpmath.RoundUp, 10},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := fpmath.DivideInt128(big.NewInt(tc.num), tc.den, tc.mode)
			if got != tc.want {
				t.Errorf("%d/%d: got %d, want %d", tc.num, tc.den, got, tc.want)
			}
		})
	}
}

func TestMulMulDiv_NoOverflow(t *testing.T) {
	// 1e10 * 1e4 * 3.1536e7 overflows int64 before division
	got := fpmath.MulMulDiv(10_000_000_000, 10_000, fpmath.SecondsPerYear, fpmath.BpsScale*fpmath.SecondsPerYear, fpmath.RoundHalfUp)
	if got != 10_000_000_000 {
		t.Errorf("got %d, want 10_000_000_000", got)
	}
}

// ============================================================================
// Test: Accruals
// ============================================================================

func TestComputeProRata_ThirtyDays(t *testing.T) {
	term := 30 * fpmath.SecondsPerDay

	// 10_000 * 2.80% * 30/365 = 23.01
	if got := fpmath.ComputeProRata(10_000, 280, term); got != 23 {
		t.Errorf("premium: got %d, want 23", got)
	}
	// 10_000 * 7.80% * 30/365 = 64.11
	if got := fpmath.ComputeProRata(10_000, 780, term); got != 64 {
		t.Errorf("yield: got %d, want 64", got)
	}
}

func TestComputeProRata_ZeroInputs(t *testing.T) {
	if got := fpmath.ComputeProRata(0, 500, 100); got != 0 {
		t.Errorf("zero principal: got %d", got)
	}
	if got := fpmath.ComputeProRata(100, 500, 0); got != 0 {
		t.Errorf("zero term: got %d", got)
	}
}

func TestApplyBps(t *testing.T) {
	if got := fpmath.ApplyBps(10_000, 8_000); got != 8_000 {
		t.Errorf("got %d, want 8000", got)
	}
	// 23 * 10% = 2.3
	if got := fpmath.ApplyBps(23, 1_000); got != 2 {
		t.Errorf("got %d, want 2", got)
	}
	// 25 * 10% = 2.5 rounds up
	if got := fpmath.ApplyBps(25, 1_000); got != 3 {
		t.Errorf("got %d, want 3", got)
	}
}

func TestOverdueDays(t *testing.T) {
	deadline := int64(1_000_000)
	cases := []struct {
		now  int64
		want int64
	}{
		{deadline - 1, 0},
		{deadline, 0},
		{deadline + 1, 0},
		{deadline + fpmath.SecondsPerDay - 1, 0},
		{deadline + fpmath.SecondsPerDay, 1},
		{deadline + fpmath.SecondsPerDay + 1, 1},
		{deadline + 2*fpmath.SecondsPerDay, 2},
	}
	for _, tc := range cases {
		if got := fpmath.OverdueDays(tc.now, deadline); got != tc.want {
			t.Errorf("now=%d: got %d, want %d", tc.now, got, tc.want)
		}
	}
}

func TestComputeLateFee_Capped(t *testing.T) {
	// 0.05% per day for 10 days on 10_000 = 50
	if got := fpmath.ComputeLateFee(10_000, 5, 10, 1_000); got != 50 {
		t.Errorf("got %d, want 50", got)
	}
	// 400 days would be 2_000, capped at 10% = 1_000
	if got := fpmath.ComputeLateFee(10_000, 5, 400, 1_000); got != 1_000 {
		t.Errorf("got %d, want 1000", got)
	}
	if got := fpmath.ComputeLateFee(10_000, 5, 0, 1_000); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}
