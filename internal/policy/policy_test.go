package policy

import (
	"errors"
	"testing"
)

func TestNewLimits(t *testing.T) {
	tests := []struct {
		name          string
		withdrawLimit uint64
		bankCap       uint64
		wantErr       bool
	}{
		{"both positive", 1_000, 1_000_000, false},
		{"zero withdraw limit", 0, 1_000_000, true},
		{"zero bank cap", 1_000, 0, true},
		{"both zero", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLimits(tt.withdrawLimit, tt.bankCap)
			if tt.wantErr && !errors.Is(err, ErrInvalidParameter) {
				t.Fatalf("expected ErrInvalidParameter, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestCheckDeposit(t *testing.T) {
	limits, err := NewLimits(1_000, 5_000_000_000)
	if err != nil {
		t.Fatal(err)
	}
	enforcer := NewEnforcer(limits)

	tests := []struct {
		name      string
		current   uint64
		incoming  uint64
		wantErr   bool
		attempted uint64
	}{
		{"well under cap", 0, 2_000_000_000, false, 0},
		{"exactly at cap", 3_000_000_000, 2_000_000_000, false, 0},
		{"one over cap", 3_000_000_000, 2_000_000_001, true, 5_000_000_001},
		{"sum wraps uint64", ^uint64(0) - 5, 10, true, ^uint64(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := enforcer.CheckDeposit(tt.current, tt.incoming)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var capErr *BankCapExceededError
			if !errors.As(err, &capErr) {
				t.Fatalf("expected BankCapExceededError, got %v", err)
			}
			if capErr.Attempted != tt.attempted {
				t.Errorf("attempted = %d, want %d", capErr.Attempted, tt.attempted)
			}
			if capErr.Cap != 5_000_000_000 {
				t.Errorf("cap = %d, want 5000000000", capErr.Cap)
			}
		})
	}
}

func TestCheckWithdraw(t *testing.T) {
	limits, err := NewLimits(1_000_000_000_000_000_000, 1)
	if err != nil {
		t.Fatal(err)
	}
	enforcer := NewEnforcer(limits)

	if err := enforcer.CheckWithdraw(1_000_000_000_000_000_000); err != nil {
		t.Fatalf("at the limit should pass: %v", err)
	}

	err = enforcer.CheckWithdraw(1_000_000_000_000_000_001)
	var limitErr *WithdrawLimitExceededError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected WithdrawLimitExceededError, got %v", err)
	}
	if limitErr.Max != 1_000_000_000_000_000_000 {
		t.Errorf("max = %d", limitErr.Max)
	}
	if limitErr.Requested != 1_000_000_000_000_000_001 {
		t.Errorf("requested = %d", limitErr.Requested)
	}
}
