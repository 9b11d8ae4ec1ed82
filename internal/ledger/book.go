package ledger

import (
	"fmt"
	"math/bits"
	"sync"

	"OracleVault/internal/asset"
)

// Key identifies a balance: one owner's holding of one asset.
type Key struct {
	Asset asset.Asset
	Owner string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Owner, k.Asset)
}

// InsufficientBalanceError reports a debit exceeding the current balance.
type InsufficientBalanceError struct {
	Key       Key
	Requested uint64
	Available uint64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: requested=%d available=%d",
		e.Key, e.Requested, e.Available)
}

// ErrBalanceOverflow is returned when a credit would wrap a uint64. With
// realistic amounts this never fires; a silent wrap would destroy the
// aggregate invariant, so it is checked.
var ErrBalanceOverflow = fmt.Errorf("balance overflow")

// Book holds per-(asset, owner) balances in each asset's smallest units
// and the running total of locked value in the common accounting unit.
//
// Invariant between operations: totalLocked equals the sum of the
// normalized value of all balances as recorded at credit/debit time
// (within the floor-rounding tolerance of normalization). Both mutators
// update balance and aggregate under one lock, so no partial update is
// ever observable.
type Book struct {
	mu          sync.RWMutex
	balances    map[Key]uint64
	totalLocked uint64
}

func NewBook() *Book {
	return &Book{balances: make(map[Key]uint64)}
}

// Credit increases the owner's balance by rawAmount and the aggregate by
// normalizedValue. Cap enforcement happens in the policy layer before the
// call; the book itself only guards against arithmetic wrap.
func (b *Book) Credit(a asset.Asset, owner string, rawAmount, normalizedValue uint64) error {
	key := Key{Asset: a, Owner: owner}

	b.mu.Lock()
	defer b.mu.Unlock()

	newBalance, carry := bits.Add64(b.balances[key], rawAmount, 0)
	if carry != 0 {
		return fmt.Errorf("%w: balance for %s", ErrBalanceOverflow, key)
	}
	newTotal, carry := bits.Add64(b.totalLocked, normalizedValue, 0)
	if carry != 0 {
		return fmt.Errorf("%w: aggregate locked value", ErrBalanceOverflow)
	}

	b.balances[key] = newBalance
	b.totalLocked = newTotal
	return nil
}

// Debit decreases the owner's balance by rawAmount and the aggregate by
// min(normalizedValue, current aggregate). The floor at zero is a
// deliberate defensive clamp: normalization rounding can otherwise drive
// the aggregate transiently below the true sum. Debit returns the
// aggregate delta actually applied so a compensating credit can restore
// the exact prior state.
func (b *Book) Debit(a asset.Asset, owner string, rawAmount, normalizedValue uint64) (uint64, error) {
	key := Key{Asset: a, Owner: owner}

	b.mu.Lock()
	defer b.mu.Unlock()

	balance := b.balances[key]
	if rawAmount > balance {
		return 0, &InsufficientBalanceError{Key: key, Requested: rawAmount, Available: balance}
	}

	applied := normalizedValue
	if applied > b.totalLocked {
		applied = b.totalLocked
	}

	b.balances[key] = balance - rawAmount
	b.totalLocked -= applied
	return applied, nil
}

// BalanceOf returns the raw balance for an (asset, owner) pair. A pair
// that has never been credited reads as zero.
func (b *Book) BalanceOf(a asset.Asset, owner string) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balances[Key{Asset: a, Owner: owner}]
}

// TotalLocked returns the aggregate locked value in the common unit.
func (b *Book) TotalLocked() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.totalLocked
}

// Snapshot returns a copy of all balances, including zeroed entries.
func (b *Book) Snapshot() map[Key]uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := make(map[Key]uint64, len(b.balances))
	for k, v := range b.balances {
		snap[k] = v
	}
	return snap
}
