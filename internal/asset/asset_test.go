package asset

import (
	"errors"
	"testing"
)

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		in   string
		want Asset
	}{
		{"native", Native()},
		{"", Native()},
		{"0xabc", Token("0xabc")},
	}
	for _, tt := range tests {
		if got := Parse(tt.in); got != tt.want {
			t.Errorf("Parse(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}

	if got := Token("0xabc").String(); got != "0xabc" {
		t.Errorf("token String = %q", got)
	}
	if got := Native().String(); got != "native" {
		t.Errorf("native String = %q", got)
	}
}

func TestRegistryDecimals(t *testing.T) {
	r := NewRegistry()

	// Native scale is fixed and needs no registration.
	d, err := r.Decimals(Native())
	if err != nil || d != NativeDecimals {
		t.Fatalf("native decimals = %d, %v", d, err)
	}

	token := Token("0xabc")
	if _, err := r.Decimals(token); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken, got %v", err)
	}

	r.Register(token, 8)
	d, err = r.Decimals(token)
	if err != nil || d != 8 {
		t.Fatalf("token decimals = %d, %v", d, err)
	}

	// Registering the native asset must not override its fixed scale.
	r.Register(Native(), 9)
	d, _ = r.Decimals(Native())
	if d != NativeDecimals {
		t.Errorf("native decimals after rogue Register = %d", d)
	}
}
