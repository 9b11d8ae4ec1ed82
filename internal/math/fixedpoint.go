package math

import (
	"fmt"
	"math/big"
	"sync"
)

// CommonDecimals is the fixed fractional-digit count of the common
// accounting unit (USD-like, 6 decimals).
const CommonDecimals uint8 = 6

// CommonScale is 10^CommonDecimals.
const CommonScale uint64 = 1_000_000

// MaxDecimals is the largest decimal count NormalizeValue accepts;
// 10^19 is the largest power of ten a uint64 holds. Decimal counts
// arrive from token metadata and price wires, so values beyond the
// bound are an error, never a panic.
const MaxDecimals uint8 = 19

// ErrOverflow is returned when a normalized value does not fit in a
// uint64. Intermediate products are computed with widening big.Int
// arithmetic, so only the final result can overflow.
var ErrOverflow = fmt.Errorf("fixed-point overflow")

// ErrDecimalsOutOfRange is returned when a decimal count exceeds
// MaxDecimals.
var ErrDecimalsOutOfRange = fmt.Errorf("decimals out of range")

// Widening intermediates are pooled to keep normalization off the
// allocator hot path.
var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return intPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetUint64(0)
	intPool.Put(v)
}

// Pow10 returns 10^exp as a uint64. exp must be <= 19.
func Pow10(exp uint8) uint64 {
	if exp > 19 {
		panic(fmt.Sprintf("pow10 exponent out of range: %d", exp))
	}
	result := uint64(1)
	for i := uint8(0); i < exp; i++ {
		result *= 10
	}
	return result
}

// NormalizeValue converts a raw asset amount into the common accounting
// unit:
//
//	value = (rawAmount * price) / 10^assetDecimals,
//	then rescaled from priceDecimals to CommonDecimals.
//
// Rounding is truncation (floor) at each division step. That asymmetry is
// deliberate: deposits are slightly under-credited and withdrawals
// under-debited, so the ledger never records more locked value than was
// actually received.
func NormalizeValue(rawAmount, price uint64, assetDecimals, priceDecimals uint8) (uint64, error) {
	if assetDecimals > MaxDecimals || priceDecimals > MaxDecimals {
		return 0, fmt.Errorf("%w: asset=%d price=%d (max %d)",
			ErrDecimalsOutOfRange, assetDecimals, priceDecimals, MaxDecimals)
	}

	product := getInt()
	defer putInt(product)

	scale := getInt()
	defer putInt(scale)

	a := getInt()
	defer putInt(a)

	product.Mul(a.SetUint64(rawAmount), scale.SetUint64(price))

	// Divide out the asset's own scale (floor).
	scale.SetUint64(Pow10(assetDecimals))
	product.Quo(product, scale)

	// Rescale from the oracle's price scale to the common scale.
	if priceDecimals >= CommonDecimals {
		scale.SetUint64(Pow10(priceDecimals - CommonDecimals))
		product.Quo(product, scale)
	} else {
		scale.SetUint64(Pow10(CommonDecimals - priceDecimals))
		product.Mul(product, scale)
	}

	if !product.IsUint64() {
		return 0, fmt.Errorf("%w: raw=%d price=%d", ErrOverflow, rawAmount, price)
	}
	return product.Uint64(), nil
}
