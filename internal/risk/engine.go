// Package risk derives an invoice's risk score and insurance parameters.
//
// Score is a pure function: same attributes and params, same assessment.
// It never reads the clock; the caller supplies the term.
package risk

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/AkintolaX/sureinv-financing/internal/failure"
	fpmath "github.com/AkintolaX/sureinv-financing/internal/math"
)

const (
	MinCreditScore = 300
	MaxCreditScore = 850

	MaxIndustryFactor = 20
	MaxHistoryFactor  = 100

	MaxRiskScore = 100

	// MaxWeightPct bounds each sub-score weight (percent).
	MaxWeightPct = 1_000
)

// Attributes are the risk inputs of one invoice.
type Attributes struct {
	Principal      int64 // smallest token unit
	TermSeconds    int64 // due date minus creation time
	CreditScore    int64 // 300..850
	IndustryFactor int64 // 0..20, higher is riskier
	HistoryFactor  int64 // 0..100, percentage of past invoices paid on time
}

// Weights scale each sub-score, in percent (100 = unweighted).
type Weights struct {
	Amount   int64 `yaml:"amount"`
	Term     int64 `yaml:"term"`
	Credit   int64 `yaml:"credit"`
	Industry int64 `yaml:"industry"`
	History  int64 `yaml:"history"`
}

// Params configure rate derivation.
type Params struct {
	BaseYieldBps       int64 // annualized base yield
	PremiumPerPointBps int64 // annualized risk premium per risk point
	MaxPremiumBps      int64 // cap on the risk premium
	Weights            Weights
}

func DefaultWeights() Weights {
	return Weights{Amount: 100, Term: 100, Credit: 100, Industry: 100, History: 100}
}

// DefaultParams: 5% base yield, 0.10% premium per risk point capped at 10%.
func DefaultParams() Params {
	return Params{
		BaseYieldBps:       500,
		PremiumPerPointBps: 10,
		MaxPremiumBps:      1_000,
		Weights:            DefaultWeights(),
	}
}

// Validate checks the params themselves, independent of any invoice.
func (p Params) Validate() error {
	if p.BaseYieldBps < 0 || p.PremiumPerPointBps < 0 || p.MaxPremiumBps < 0 {
		return fmt.Errorf("risk params: negative rate")
	}
	for name, w := range map[string]int64{
		"amount": p.Weights.Amount, "term": p.Weights.Term, "credit": p.Weights.Credit,
		"industry": p.Weights.Industry, "history": p.Weights.History,
	} {
		if w < 0 || w > MaxWeightPct {
			return fmt.Errorf("risk params: weight %s=%d outside [0,%d]", name, w, MaxWeightPct)
		}
	}
	return nil
}

type SubScores struct {
	Amount   int64
	Term     int64
	Credit   int64
	Industry int64
	History  int64
}

// Assessment is the output of Score.
type Assessment struct {
	RiskScore      int64
	CoverageBps    int64
	PremiumRateBps int64
	YieldRateBps   int64
	Premium        int64 // principal * premium rate, pro rata over the term
	Yield          int64 // principal * yield rate, pro rata over the term
	SubScores      SubScores
}

// Score computes the assessment for attrs. Fails with ErrInvalidAttributes
// when any input is outside its domain.
func Score(p Params, attrs Attributes) (Assessment, error) {
	if err := validate(attrs); err != nil {
		return Assessment{}, err
	}

	subs := SubScores{
		Amount:   lookup(amountTiers, attrs.Principal, amountScoreAbove),
		Term:     lookup(termTiers, attrs.TermSeconds/fpmath.SecondsPerDay, termScoreAbove),
		Credit:   lookupFloor(creditFloors, attrs.CreditScore, creditScoreBelow),
		Industry: attrs.IndustryFactor,
		History:  lookupFloor(historyFloors, attrs.HistoryFactor, historyScoreBelow),
	}

	w := p.Weights
	weighted := subs.Amount*w.Amount + subs.Term*w.Term + subs.Credit*w.Credit +
		subs.Industry*w.Industry + subs.History*w.History
	score := fpmath.MulDiv(weighted, 1, 100, fpmath.RoundHalfUp)
	if score > MaxRiskScore {
		score = MaxRiskScore
	}
	if score < 0 {
		score = 0
	}

	premiumRate := score * p.PremiumPerPointBps
	if premiumRate > p.MaxPremiumBps {
		premiumRate = p.MaxPremiumBps
	}
	yieldRate := p.BaseYieldBps + premiumRate

	return Assessment{
		RiskScore:      score,
		CoverageBps:    CoverageBps(score),
		PremiumRateBps: premiumRate,
		YieldRateBps:   yieldRate,
		Premium:        fpmath.ComputeProRata(attrs.Principal, premiumRate, attrs.TermSeconds),
		Yield:          fpmath.ComputeProRata(attrs.Principal, yieldRate, attrs.TermSeconds),
		SubScores:      subs,
	}, nil
}

func validate(a Attributes) error {
	switch {
	case a.Principal <= 0:
		return fmt.Errorf("%w: principal must be positive, got %d", failure.ErrInvalidAttributes, a.Principal)
	case a.TermSeconds <= 0:
		return fmt.Errorf("%w: term must be positive, got %ds", failure.ErrInvalidAttributes, a.TermSeconds)
	case a.CreditScore < MinCreditScore || a.CreditScore > MaxCreditScore:
		return fmt.Errorf("%w: credit score %d outside [%d,%d]",
			failure.ErrInvalidAttributes, a.CreditScore, MinCreditScore, MaxCreditScore)
	case a.IndustryFactor < 0 || a.IndustryFactor > MaxIndustryFactor:
		return fmt.Errorf("%w: industry factor %d outside [0,%d]",
			failure.ErrInvalidAttributes, a.IndustryFactor, MaxIndustryFactor)
	case a.HistoryFactor < 0 || a.HistoryFactor > MaxHistoryFactor:
		return fmt.Errorf("%w: history factor %d outside [0,%d]",
			failure.ErrInvalidAttributes, a.HistoryFactor, MaxHistoryFactor)
	}
	return nil
}

// SimulateCreditScore derives a stable credit score in [600,850] from the
// business identity, for submissions that carry no bureau score.
func SimulateCreditScore(business uuid.UUID) int64 {
	return 600 + (int64(business[0])*3)%251
}
