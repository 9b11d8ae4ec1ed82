package asset

import (
	"fmt"
	"sync"
)

// Kind distinguishes the chain's base value unit from deployed tokens.
type Kind uint8

const (
	KindNative Kind = iota
	KindToken
)

// NativeDecimals is the smallest-unit scale of the native asset (wei-style).
const NativeDecimals uint8 = 18

// Asset identifies a depositable asset: the native sentinel or a token
// by its address-equivalent identifier.
type Asset struct {
	Kind    Kind
	Address string // empty for the native asset
}

// Native returns the native-asset sentinel.
func Native() Asset {
	return Asset{Kind: KindNative}
}

// Token returns an asset identified by its token address.
func Token(address string) Asset {
	return Asset{Kind: KindToken, Address: address}
}

func (a Asset) IsNative() bool {
	return a.Kind == KindNative
}

func (a Asset) String() string {
	if a.IsNative() {
		return "native"
	}
	return a.Address
}

// Parse maps the wire form back to an Asset: "native" (or empty) for the
// native asset, anything else is a token address.
func Parse(s string) Asset {
	if s == "" || s == "native" {
		return Native()
	}
	return Token(s)
}

// ErrUnknownToken is returned when a token has no declared metadata.
var ErrUnknownToken = fmt.Errorf("unknown token")

// Registry holds declared token metadata. In the custody environment the
// decimal count comes from the token's own declared metadata; here it is
// registered once before the token is accepted for deposits.
type Registry struct {
	mu       sync.RWMutex
	decimals map[Asset]uint8
}

func NewRegistry() *Registry {
	return &Registry{decimals: make(map[Asset]uint8)}
}

// Register declares a token's smallest-unit decimal count.
// Registering the native asset is a no-op; its scale is fixed.
func (r *Registry) Register(a Asset, decimals uint8) {
	if a.IsNative() {
		return
	}
	r.mu.Lock()
	r.decimals[a] = decimals
	r.mu.Unlock()
}

// Decimals returns the smallest-unit decimal count for an asset.
func (r *Registry) Decimals(a Asset) (uint8, error) {
	if a.IsNative() {
		return NativeDecimals, nil
	}
	r.mu.RLock()
	d, ok := r.decimals[a]
	r.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownToken, a)
	}
	return d, nil
}

// Known reports whether the asset has declared metadata.
func (r *Registry) Known(a Asset) bool {
	if a.IsNative() {
		return true
	}
	r.mu.RLock()
	_, ok := r.decimals[a]
	r.mu.RUnlock()
	return ok
}
