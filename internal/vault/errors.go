package vault

import (
	"fmt"

	"OracleVault/internal/auth"
)

var (
	// ErrZeroAmount: mutating operations require a positive raw amount.
	ErrZeroAmount = fmt.Errorf("zero amount")

	// ErrPaused: the external pause gate is engaged.
	ErrPaused = fmt.Errorf("vault paused")

	// ErrReentrant: a mutating call arrived while another mutating call
	// held the entry guard. Never retried internally; retry is the
	// caller's concern.
	ErrReentrant = fmt.Errorf("reentrant call rejected")
)

// CapabilityDeniedError reports a principal lacking a required capability.
type CapabilityDeniedError struct {
	Principal  string
	Capability auth.Capability
}

func (e *CapabilityDeniedError) Error() string {
	return fmt.Sprintf("capability denied: principal %q lacks %s", e.Principal, e.Capability)
}

// TransferFailedError wraps a failure of the external asset movement.
// By the time it surfaces, the ledger effects have been rolled back.
type TransferFailedError struct {
	Kind string // "deposit", "withdraw", "emergency_withdraw"
	Err  error
}

func (e *TransferFailedError) Error() string {
	return fmt.Sprintf("%s transfer failed: %v", e.Kind, e.Err)
}

func (e *TransferFailedError) Unwrap() error {
	return e.Err
}
