package auth

import "testing"

func TestStaticRoles(t *testing.T) {
	roles := StaticRoles{
		"root":  {CapabilityAdmin, CapabilityPauser},
		"ops":   {CapabilityOperator},
		"empty": {},
	}

	tests := []struct {
		principal  string
		capability Capability
		want       bool
	}{
		{"root", CapabilityAdmin, true},
		{"root", CapabilityPauser, true},
		{"root", CapabilityOperator, false},
		{"ops", CapabilityOperator, true},
		{"empty", CapabilityAdmin, false},
		{"nobody", CapabilityAdmin, false},
	}

	for _, tt := range tests {
		if got := roles.HasRole(tt.principal, tt.capability); got != tt.want {
			t.Errorf("HasRole(%q, %s) = %v, want %v", tt.principal, tt.capability, got, tt.want)
		}
	}
}

func TestSwitch(t *testing.T) {
	s := NewSwitch()
	if s.IsPaused() {
		t.Error("new switch is paused")
	}
	s.Pause()
	if !s.IsPaused() {
		t.Error("Pause did not engage")
	}
	s.Pause() // idempotent
	if !s.IsPaused() {
		t.Error("second Pause flipped the flag")
	}
	s.Unpause()
	if s.IsPaused() {
		t.Error("Unpause did not release")
	}
}
