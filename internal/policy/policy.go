package policy

import (
	"fmt"
	"math/bits"
)

// ErrInvalidParameter reports construction-time misconfiguration.
var ErrInvalidParameter = fmt.Errorf("invalid parameter")

// Limits are fixed at construction and never mutated afterwards.
//
// Note the mixed units: the withdraw limit is expressed in the native
// smallest-unit scale and compared against raw amounts, while the bank
// cap is in the common accounting unit. This is observed behavior carried
// from the source design — the effective USD ceiling per withdrawal moves
// with the asset's price. Flagged, not corrected.
type Limits struct {
	WithdrawLimit uint64 // raw native smallest units, > 0
	BankCap       uint64 // common accounting units, > 0
}

func NewLimits(withdrawLimit, bankCap uint64) (Limits, error) {
	if withdrawLimit == 0 {
		return Limits{}, fmt.Errorf("%w: withdraw limit must be positive", ErrInvalidParameter)
	}
	if bankCap == 0 {
		return Limits{}, fmt.Errorf("%w: bank cap must be positive", ErrInvalidParameter)
	}
	return Limits{WithdrawLimit: withdrawLimit, BankCap: bankCap}, nil
}

// BankCapExceededError reports a deposit that would push the aggregate
// locked value above the cap.
type BankCapExceededError struct {
	Attempted uint64 // aggregate after the deposit, common units
	Cap       uint64
}

func (e *BankCapExceededError) Error() string {
	return fmt.Sprintf("bank cap exceeded: attempted=%d cap=%d", e.Attempted, e.Cap)
}

// WithdrawLimitExceededError reports a withdrawal above the per-operation
// limit.
type WithdrawLimitExceededError struct {
	Requested uint64 // raw units
	Max       uint64
}

func (e *WithdrawLimitExceededError) Error() string {
	return fmt.Sprintf("withdraw limit exceeded: requested=%d max=%d", e.Requested, e.Max)
}

// Enforcer evaluates limit rules against the ledger's aggregate state
// before any mutation is committed.
type Enforcer struct {
	limits Limits
}

func NewEnforcer(limits Limits) Enforcer {
	return Enforcer{limits: limits}
}

func (e Enforcer) Limits() Limits {
	return e.limits
}

// CheckDeposit fails when currentAggregate + incoming would exceed the
// bank cap. A uint64 carry on the sum necessarily exceeds any cap.
func (e Enforcer) CheckDeposit(currentAggregate, incomingNormalizedValue uint64) error {
	attempted, carry := bits.Add64(currentAggregate, incomingNormalizedValue, 0)
	if carry != 0 || attempted > e.limits.BankCap {
		if carry != 0 {
			attempted = ^uint64(0)
		}
		return &BankCapExceededError{Attempted: attempted, Cap: e.limits.BankCap}
	}
	return nil
}

// CheckWithdraw fails when the raw amount exceeds the withdraw limit.
func (e Enforcer) CheckWithdraw(rawAmount uint64) error {
	if rawAmount > e.limits.WithdrawLimit {
		return &WithdrawLimitExceededError{Requested: rawAmount, Max: e.limits.WithdrawLimit}
	}
	return nil
}
