package oracle

import (
	"context"
	"sync"
	"time"
)

// StaticFeed serves a quote set in-process. Used for tests and for
// bootstrap environments without a live price stream.
type StaticFeed struct {
	mu    sync.RWMutex
	quote Quote
	set   bool
	err   error
}

func NewStaticFeed(price uint64, decimals uint8, updatedAt time.Time) *StaticFeed {
	return &StaticFeed{
		quote: Quote{Price: price, Decimals: decimals, UpdatedAt: updatedAt},
		set:   true,
	}
}

// Set replaces the served quote.
func (f *StaticFeed) Set(price uint64, decimals uint8, updatedAt time.Time) {
	f.mu.Lock()
	f.quote = Quote{Price: price, Decimals: decimals, UpdatedAt: updatedAt}
	f.set = true
	f.err = nil
	f.mu.Unlock()
}

// Fail makes every subsequent Quote call return err.
func (f *StaticFeed) Fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *StaticFeed) Quote(ctx context.Context) (Quote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.err != nil {
		return Quote{}, f.err
	}
	if !f.set {
		return Quote{}, ErrOracleUnavailable
	}
	return f.quote, nil
}
