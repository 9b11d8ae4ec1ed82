package auth

import "sync/atomic"

// Capability names a permission the vault checks before an administrative
// operation. Role storage itself is an external collaborator; the vault
// only ever asks "does principal P hold capability C".
type Capability string

const (
	CapabilityAdmin    Capability = "ADMIN"
	CapabilityOperator Capability = "OPERATOR"
	CapabilityPauser   Capability = "PAUSER"
)

// RoleChecker is the consumed capability-check interface.
type RoleChecker interface {
	HasRole(principal string, capability Capability) bool
}

// StaticRoles is an in-memory RoleChecker keyed by principal.
type StaticRoles map[string][]Capability

func (r StaticRoles) HasRole(principal string, capability Capability) bool {
	for _, c := range r[principal] {
		if c == capability {
			return true
		}
	}
	return false
}

// PauseGate is the consumed circuit-breaker flag. Mutating vault
// operations fail while it reports true.
type PauseGate interface {
	IsPaused() bool
}

// PauseControl extends the gate with the toggles used by the
// capability-gated pause/unpause operations.
type PauseControl interface {
	PauseGate
	Pause()
	Unpause()
}

// Switch is an in-memory PauseControl.
type Switch struct {
	paused atomic.Bool
}

func NewSwitch() *Switch {
	return &Switch{}
}

func (s *Switch) IsPaused() bool {
	return s.paused.Load()
}

func (s *Switch) Pause() {
	s.paused.Store(true)
}

func (s *Switch) Unpause() {
	s.paused.Store(false)
}
