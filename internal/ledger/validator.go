package ledger

import (
	"fmt"
	"math/bits"

	"OracleVault/internal/asset"
)

// NormalizeFunc converts a raw balance of an asset into the common unit.
type NormalizeFunc func(a asset.Asset, rawAmount uint64) (uint64, error)

// InvariantValidator re-derives the aggregate from individual balances.
type InvariantValidator struct {
	book *Book
}

func NewInvariantValidator(book *Book) *InvariantValidator {
	return &InvariantValidator{book: book}
}

// ValidateAggregate checks that totalLocked matches the sum of normalized
// balances. Because every division truncates, each distinct asset can
// contribute up to one common-unit of drift per direction; tolerance is
// therefore one unit per distinct asset present in the book.
func (v *InvariantValidator) ValidateAggregate(normalize NormalizeFunc) error {
	snap := v.book.Snapshot()

	var sum uint64
	assets := make(map[asset.Asset]bool)
	for key, balance := range snap {
		if balance == 0 {
			continue
		}
		value, err := normalize(key.Asset, balance)
		if err != nil {
			return fmt.Errorf("normalize %s: %w", key, err)
		}
		var carry uint64
		sum, carry = bits.Add64(sum, value, 0)
		if carry != 0 {
			return fmt.Errorf("balance sum overflows uint64 at %s", key)
		}
		assets[key.Asset] = true
	}

	total := v.book.TotalLocked()
	tolerance := uint64(len(assets))

	var drift uint64
	if total > sum {
		drift = total - sum
	} else {
		drift = sum - total
	}

	if drift > tolerance {
		return fmt.Errorf("aggregate locked value %d drifted from balance sum %d (tolerance %d)",
			total, sum, tolerance)
	}
	return nil
}
