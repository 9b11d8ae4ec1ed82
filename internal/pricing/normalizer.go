package pricing

import (
	"context"
	"fmt"

	"OracleVault/internal/asset"
	fpmath "OracleVault/internal/math"
	"OracleVault/internal/oracle"
)

// ErrNoPriceFeed is returned for a token that has no assigned price feed
// and whose declared decimal count differs from the common unit's.
var ErrNoPriceFeed = fmt.Errorf("no price feed for token")

// Normalizer converts raw asset amounts into the common 6-decimal
// accounting unit using the oracle adapter and declared asset metadata.
type Normalizer struct {
	oracle *oracle.Adapter
	assets *asset.Registry
}

func NewNormalizer(adapter *oracle.Adapter, assets *asset.Registry) *Normalizer {
	return &Normalizer{oracle: adapter, assets: assets}
}

// ToCommonUnit normalizes rawAmount of an asset. The returned quote is the
// one used for the conversion; for a feedless common-scale token it is the
// zero Quote.
//
// Policy by asset kind:
//   - native: always priced through the oracle at the native 18-digit scale
//   - token with an assigned feed: priced at the token's declared scale
//   - token without a feed: accepted 1:1 only when its declared decimals
//     equal the common unit's; anything else fails with ErrNoPriceFeed
func (n *Normalizer) ToCommonUnit(ctx context.Context, a asset.Asset, rawAmount uint64) (uint64, oracle.Quote, error) {
	decimals, err := n.assets.Decimals(a)
	if err != nil {
		return 0, oracle.Quote{}, err
	}

	if !a.IsNative() && !n.oracle.HasFeed(a) {
		if decimals == fpmath.CommonDecimals {
			// Already denominated in the common unit.
			return rawAmount, oracle.Quote{}, nil
		}
		return 0, oracle.Quote{}, fmt.Errorf("%w: %s has %d decimals", ErrNoPriceFeed, a, decimals)
	}

	quote, err := n.oracle.GetPrice(ctx, a)
	if err != nil {
		return 0, oracle.Quote{}, err
	}

	value, err := fpmath.NormalizeValue(rawAmount, quote.Price, decimals, quote.Decimals)
	if err != nil {
		return 0, oracle.Quote{}, fmt.Errorf("normalize %s: %w", a, err)
	}
	return value, quote, nil
}
