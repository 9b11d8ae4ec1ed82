package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"OracleVault/internal/asset"
	fpmath "OracleVault/internal/math"
)

// DefaultStaleAfter is the maximum tolerated age of a price quote.
const DefaultStaleAfter = 3600 * time.Second

var (
	// ErrOracleUnavailable: no price source is configured for the asset.
	ErrOracleUnavailable = fmt.Errorf("oracle unavailable")

	// ErrStalePrice: the source's last update is older than the staleness
	// threshold. Not retried here — the caller waits for a fresh quote or
	// updates the feed mapping.
	ErrStalePrice = fmt.Errorf("stale price")

	// ErrInvalidPrice: the source reported a zero price or a decimal
	// count the normalizer cannot scale.
	ErrInvalidPrice = fmt.Errorf("invalid price")
)

// Quote is the ephemeral value returned by a price source. It is
// re-fetched on every normalization, never persisted.
type Quote struct {
	Price     uint64 // unsigned fixed-point price
	Decimals  uint8  // fractional digits of Price
	UpdatedAt time.Time
}

// Age returns how old the quote is relative to now.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.UpdatedAt)
}

// PriceFeed is a single external price source for one asset.
type PriceFeed interface {
	Quote(ctx context.Context) (Quote, error)
}

// Adapter wraps one price feed per asset and validates every quote before
// handing it to the normalizer. An administrator may replace an entry at
// any time; liveness of the new feed is not checked at set-time and
// surfaces later as ErrOracleUnavailable on first use.
type Adapter struct {
	mu         sync.RWMutex
	feeds      map[asset.Asset]PriceFeed
	staleAfter time.Duration
}

func NewAdapter(staleAfter time.Duration) *Adapter {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Adapter{
		feeds:      make(map[asset.Asset]PriceFeed),
		staleAfter: staleAfter,
	}
}

// SetFeed replaces the feed mapping entry for an asset. A displaced
// feed that owns resources (a consumer, a goroutine) is stopped so
// rebinding does not leak it.
func (a *Adapter) SetFeed(as asset.Asset, feed PriceFeed) {
	a.mu.Lock()
	old := a.feeds[as]
	a.feeds[as] = feed
	a.mu.Unlock()

	if old == nil || old == feed {
		return
	}
	if s, ok := old.(interface{ Stop() }); ok {
		s.Stop()
	}
}

// HasFeed reports whether a price source is configured for an asset.
func (a *Adapter) HasFeed(as asset.Asset) bool {
	a.mu.RLock()
	_, ok := a.feeds[as]
	a.mu.RUnlock()
	return ok
}

// GetPrice fetches and validates the current quote for an asset.
func (a *Adapter) GetPrice(ctx context.Context, as asset.Asset) (Quote, error) {
	a.mu.RLock()
	feed, ok := a.feeds[as]
	a.mu.RUnlock()
	if !ok {
		return Quote{}, fmt.Errorf("%w: no feed for %s", ErrOracleUnavailable, as)
	}

	q, err := feed.Quote(ctx)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %s: %v", ErrOracleUnavailable, as, err)
	}

	if q.Price == 0 {
		return Quote{}, fmt.Errorf("%w: %s reported zero", ErrInvalidPrice, as)
	}

	// Decimals come straight off the wire; an out-of-range count would
	// otherwise only surface inside the normalizer.
	if q.Decimals > fpmath.MaxDecimals {
		return Quote{}, fmt.Errorf("%w: %s reported %d decimals (max %d)",
			ErrInvalidPrice, as, q.Decimals, fpmath.MaxDecimals)
	}

	if age := q.Age(time.Now()); age > a.staleAfter {
		return Quote{}, fmt.Errorf("%w: %s quote is %s old (threshold %s)",
			ErrStalePrice, as, age.Truncate(time.Second), a.staleAfter)
	}

	return q, nil
}
