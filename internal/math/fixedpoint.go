// internal/math/fixedpoint.go
package math

import (
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// TokenConfig is the settlement token precision (6 decimals, USDC-style)
	TokenConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}
)

const (
	// BpsScale is the denominator for every basis-point quantity.
	BpsScale int64 = 10_000

	SecondsPerDay int64 = 86_400

	// SecondsPerYear is the annual period used for pro-rata accrual (365 days).
	SecondsPerYear int64 = 365 * SecondsPerDay
)

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

type RoundingMode int

const (
	RoundHalfUp   RoundingMode = iota // ledger default
	RoundHalfEven                     // Banker's rounding
	RoundDown
	RoundUp
)

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt128 performs numerator / denominator with rounding.
// Both operands must be non-negative; denominator must be positive.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.DivMod(numerator, denom, remainder)

	result := quotient.Int64()

	if remainder.Sign() != 0 {
		// compare 2*remainder against the denominator to avoid truncating denominator/2
		twice := getInt128()
		twice.Lsh(remainder, 1)
		cmp := twice.Cmp(denom)
		putInt128(twice)

		switch roundingMode {
		case RoundUp:
			result++
		case RoundHalfUp:
			if cmp >= 0 {
				result++
			}
		case RoundHalfEven:
			if cmp > 0 || (cmp == 0 && result%2 != 0) {
				result++
			}
		case RoundDown:
		}
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

// MulDiv computes a * b / denominator in 128-bit intermediate precision.
func MulDiv(a, b, denominator int64, mode RoundingMode) int64 {
	product := MultiplyInt128(a, b)
	result := DivideInt128(product, denominator, mode)
	putInt128(product)
	return result
}

// MulMulDiv computes a * b * c / denominator in 128-bit intermediate precision.
func MulMulDiv(a, b, c, denominator int64, mode RoundingMode) int64 {
	product := MultiplyInt128(a, b)
	product.Mul(product, big.NewInt(c))
	result := DivideInt128(product, denominator, mode)
	putInt128(product)
	return result
}
