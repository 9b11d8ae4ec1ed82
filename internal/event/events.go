package event

import (
	"time"

	"github.com/google/uuid"
)

// Type discriminates event payloads.
type Type int32

const (
	TypeUnknown Type = iota
	TypeDeposit
	TypeWithdraw
	TypePriceOracleSet
	TypeEmergencyWithdrawal
	TypePaused
	TypeUnpaused
)

func (t Type) String() string {
	switch t {
	case TypeDeposit:
		return "deposit"
	case TypeWithdraw:
		return "withdraw"
	case TypePriceOracleSet:
		return "price_oracle_set"
	case TypeEmergencyWithdrawal:
		return "emergency_withdrawal"
	case TypePaused:
		return "paused"
	case TypeUnpaused:
		return "unpaused"
	default:
		return "unknown"
	}
}

// Envelope wraps every emitted event.
type Envelope struct {
	EventID   uuid.UUID   `json:"event_id"`
	Type      Type        `json:"-"`
	TypeName  string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// NewEnvelope stamps a payload with a fresh ID and the current time.
func NewEnvelope(t Type, payload interface{}) Envelope {
	return Envelope{
		EventID:   uuid.New(),
		Type:      t,
		TypeName:  t.String(),
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// Deposit is emitted after a deposit settles.
type Deposit struct {
	Owner           string `json:"owner"`
	Asset           string `json:"asset"`
	RawAmount       uint64 `json:"raw_amount"`
	NormalizedValue uint64 `json:"normalized_value"`
}

// Withdraw is emitted after a withdrawal settles.
type Withdraw struct {
	Owner           string `json:"owner"`
	Asset           string `json:"asset"`
	RawAmount       uint64 `json:"raw_amount"`
	NormalizedValue uint64 `json:"normalized_value"`
}

// PriceOracleSet is emitted when an administrator rebinds an asset's
// price feed.
type PriceOracleSet struct {
	Asset     string `json:"asset"`
	OracleRef string `json:"oracle_ref"`
	By        string `json:"by"`
}

// EmergencyWithdrawal is emitted when native assets are moved out without
// touching the ledger.
type EmergencyWithdrawal struct {
	To        string `json:"to"`
	RawAmount uint64 `json:"raw_amount"`
	By        string `json:"by"`
}

// Paused / Unpaused record pause-gate toggles.
type Paused struct {
	By string `json:"by"`
}

type Unpaused struct {
	By string `json:"by"`
}
