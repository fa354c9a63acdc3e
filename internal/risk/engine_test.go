package risk_test

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AkintolaX/sureinv-financing/internal/failure"
	fpmath "github.com/AkintolaX/sureinv-financing/internal/math"
	"github.com/AkintolaX/sureinv-financing/internal/risk"
)

func days(n int64) int64 { return n * fpmath.SecondsPerDay }

func midRange() risk.Attributes {
	return risk.Attributes{
		Principal:      10_000,
		TermSeconds:    days(30),
		CreditScore:    720,
		IndustryFactor: 5,
		HistoryFactor:  90,
	}
}

func TestScore_MidRangeInvoice(t *testing.T) {
	a, err := risk.Score(risk.DefaultParams(), midRange())
	require.NoError(t, err)

	assert.Equal(t, risk.SubScores{Amount: 5, Term: 10, Credit: 5, Industry: 5, History: 3}, a.SubScores)
	assert.Equal(t, int64(28), a.RiskScore)
	assert.Equal(t, int64(8_000), a.CoverageBps)
	assert.Equal(t, int64(280), a.PremiumRateBps)
	assert.Equal(t, int64(780), a.YieldRateBps)
	assert.Equal(t, int64(23), a.Premium)
	assert.Equal(t, int64(64), a.Yield)
}

func TestScore_Deterministic(t *testing.T) {
	first, err := risk.Score(risk.DefaultParams(), midRange())
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		again, err := risk.Score(risk.DefaultParams(), midRange())
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestScore_ClampedAtHundred(t *testing.T) {
	p := risk.DefaultParams()
	p.Weights = risk.Weights{Amount: 1000, Term: 1000, Credit: 1000, Industry: 1000, History: 1000}

	a, err := risk.Score(p, risk.Attributes{
		Principal: 1_000_000_000, TermSeconds: days(1), CreditScore: 300, IndustryFactor: 20, HistoryFactor: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), a.RiskScore)
	assert.Equal(t, int64(1_000), a.PremiumRateBps, "premium rate is capped")
	assert.Equal(t, int64(1_500), a.YieldRateBps)
}

func TestScore_WeightsRoundHalfUp(t *testing.T) {
	p := risk.DefaultParams()
	p.Weights = risk.Weights{Amount: 50, Term: 0, Credit: 0, Industry: 0, History: 0}

	// amount sub-score 5 * 50% = 2.5 -> 3
	a, err := risk.Score(p, midRange())
	require.NoError(t, err)
	assert.Equal(t, int64(3), a.RiskScore)
}

func TestScore_InvalidAttributes(t *testing.T) {
	cases := map[string]func(a *risk.Attributes){
		"zero principal":      func(a *risk.Attributes) { a.Principal = 0 },
		"negative principal":  func(a *risk.Attributes) { a.Principal = -1 },
		"zero term":           func(a *risk.Attributes) { a.TermSeconds = 0 },
		"negative term":       func(a *risk.Attributes) { a.TermSeconds = -days(1) },
		"credit below domain": func(a *risk.Attributes) { a.CreditScore = 299 },
		"credit above domain": func(a *risk.Attributes) { a.CreditScore = 851 },
		"industry too high":   func(a *risk.Attributes) { a.IndustryFactor = 21 },
		"industry negative":   func(a *risk.Attributes) { a.IndustryFactor = -1 },
		"history too high":    func(a *risk.Attributes) { a.HistoryFactor = 101 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			attrs := midRange()
			mutate(&attrs)
			_, err := risk.Score(risk.DefaultParams(), attrs)
			assert.ErrorIs(t, err, failure.ErrInvalidAttributes)
		})
	}
}

func TestCoverageBps_NonIncreasing(t *testing.T) {
	prev := risk.CoverageBps(0)
	for s := int64(1); s <= risk.MaxRiskScore; s++ {
		cur := risk.CoverageBps(s)
		assert.LessOrEqual(t, cur, prev, "score %d", s)
		prev = cur
	}
}

func TestCoverageBps_Boundaries(t *testing.T) {
	var b bytes.Buffer
	for _, s := range []int64{0, 20, 21, 35, 36, 50, 51, 100} {
		fmt.Fprintf(&b, "score=%d coverage_bps=%d\n", s, risk.CoverageBps(s))
	}
	goldie.New(t).Assert(t, "coverage_tiers", b.Bytes())
}

func TestScore_Table(t *testing.T) {
	inputs := []risk.Attributes{
		midRange(),
		{Principal: 1_000_000_000, TermSeconds: days(7), CreditScore: 600, IndustryFactor: 20, HistoryFactor: 50},
		{Principal: 50_000_000, TermSeconds: days(90), CreditScore: 850, IndustryFactor: 0, HistoryFactor: 100},
		{Principal: 200_000_000, TermSeconds: days(45), CreditScore: 760, IndustryFactor: 10, HistoryFactor: 80},
		{Principal: 20_000_000, TermSeconds: days(365), CreditScore: 650, IndustryFactor: 3, HistoryFactor: 70},
	}

	var b bytes.Buffer
	for _, in := range inputs {
		a, err := risk.Score(risk.DefaultParams(), in)
		require.NoError(t, err)
		fmt.Fprintf(&b, "principal=%d term_days=%d credit=%d industry=%d history=%d -> score=%d coverage_bps=%d premium_bps=%d yield_bps=%d premium=%d yield=%d\n",
			in.Principal, in.TermSeconds/fpmath.SecondsPerDay, in.CreditScore, in.IndustryFactor, in.HistoryFactor,
			a.RiskScore, a.CoverageBps, a.PremiumRateBps, a.YieldRateBps, a.Premium, a.Yield)
	}
	goldie.New(t).Assert(t, "assessments", b.Bytes())
}

func TestSimulateCreditScore_InDomain(t *testing.T) {
	for i := 0; i < 256; i++ {
		var id uuid.UUID
		id[0] = byte(i)
		s := risk.SimulateCreditScore(id)
		assert.GreaterOrEqual(t, s, int64(600))
		assert.LessOrEqual(t, s, int64(risk.MaxCreditScore))
	}
}

func TestParamsValidate(t *testing.T) {
	assert.NoError(t, risk.DefaultParams().Validate())

	p := risk.DefaultParams()
	p.Weights.Credit = 1_001
	assert.Error(t, p.Validate())

	p = risk.DefaultParams()
	p.BaseYieldBps = -1
	assert.Error(t, p.Validate())
}
