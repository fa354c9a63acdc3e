package risk

// tier maps every value up to and including Upper to Score.
type tier struct {
	Upper int64
	Score int64
}

// amountTiers are in smallest token units (6 decimals): 10, 50, 100, 500 tokens.
var amountTiers = []tier{
	{10_000_000, 5},
	{50_000_000, 10},
	{100_000_000, 15},
	{500_000_000, 25},
}

const amountScoreAbove = 35

// termTiers are in whole days. Shorter terms score higher.
var termTiers = []tier{
	{7, 20},
	{14, 15},
	{30, 10},
	{60, 5},
	{90, 2},
}

const termScoreAbove = 0

func lookup(tiers []tier, v, above int64) int64 {
	for _, t := range tiers {
		if v <= t.Upper {
			return t.Score
		}
	}
	return above
}

// floor maps every value at or above Lower to Score.
type floor struct {
	Lower int64
	Score int64
}

var creditFloors = []floor{
	{800, 0},
	{750, 2},
	{700, 5},
	{650, 10},
}

const creditScoreBelow = 15

// historyFloors are keyed by on-time payment percentage.
var historyFloors = []floor{
	{95, 0},
	{85, 3},
	{70, 6},
}

const historyScoreBelow = 10

func lookupFloor(floors []floor, v, below int64) int64 {
	for _, f := range floors {
		if v >= f.Lower {
			return f.Score
		}
	}
	return below
}

// coverageBands are lower-inclusive, 0-20 / 21-35 / 36-50 / 51-100.
var coverageBands = []tier{
	{20, 9_000},
	{35, 8_000},
	{50, 7_000},
}

const coverageAbove = 6_000

// CoverageBps is the insurance coverage ratio for a risk score, in basis
// points of principal. Non-increasing in score.
func CoverageBps(score int64) int64 {
	return lookup(coverageBands, score, coverageAbove)
}
