package custody

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"OracleVault/internal/asset"
)

// CustodyStreamName is the JetStream stream carrying transfer instructions
// for the external custody gateway.
const CustodyStreamName = "VAULT_CUSTODY"

// Instruction is the wire format consumed by the custody gateway.
type Instruction struct {
	Direction string `json:"direction"` // "in" or "out"
	Asset     string `json:"asset"`
	Party     string `json:"party"`
	RawAmount uint64 `json:"raw_amount"`
	IssuedAt  int64  `json:"issued_at"` // unix nanos
}

// NATSMover hands asset movements to the custody gateway over JetStream.
// A synchronous publish ack means the instruction is durably queued; the
// gateway owns actual settlement against the chain.
type NATSMover struct {
	js  jetstream.JetStream
	log zerolog.Logger
}

func NewNATSMover(js jetstream.JetStream, log zerolog.Logger) *NATSMover {
	return &NATSMover{js: js, log: log}
}

func (m *NATSMover) TransferIn(ctx context.Context, a asset.Asset, from string, rawAmount uint64) error {
	return m.publish(ctx, Instruction{
		Direction: "in",
		Asset:     a.String(),
		Party:     from,
		RawAmount: rawAmount,
		IssuedAt:  time.Now().UnixNano(),
	})
}

func (m *NATSMover) TransferOut(ctx context.Context, a asset.Asset, to string, rawAmount uint64) error {
	return m.publish(ctx, Instruction{
		Direction: "out",
		Asset:     a.String(),
		Party:     to,
		RawAmount: rawAmount,
		IssuedAt:  time.Now().UnixNano(),
	})
}

func (m *NATSMover) publish(ctx context.Context, inst Instruction) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("%w: marshal instruction: %v", ErrTransferFailed, err)
	}

	subject := fmt.Sprintf("custody.transfers.%s", inst.Direction)
	if _, err := m.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("%w: publish %s: %v", ErrTransferFailed, subject, err)
	}

	m.log.Debug().Str("direction", inst.Direction).Str("asset", inst.Asset).
		Str("party", inst.Party).Uint64("raw_amount", inst.RawAmount).
		Msg("custody instruction queued")
	return nil
}

// EnsureCustodyStream creates the custody instruction stream.
func EnsureCustodyStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      CustodyStreamName,
		Subjects:  []string{"custody.transfers.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create custody stream: %w", err)
	}
	return nil
}
