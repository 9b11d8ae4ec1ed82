package custody

import (
	"context"
	"sync"

	"OracleVault/internal/asset"
)

// Transfer records one movement seen by the RecorderMover.
type Transfer struct {
	Asset     asset.Asset
	Direction string // "in" or "out"
	Party     string // from-owner for in, recipient for out
	RawAmount uint64
}

// RecorderMover is a Mover for tests. It records every call and can be
// configured to fail or to invoke a hook mid-transfer (to simulate an
// untrusted token calling back into the vault).
type RecorderMover struct {
	mu        sync.Mutex
	transfers []Transfer

	FailIn  error
	FailOut error

	// OnTransferOut runs before the movement is recorded, standing in for
	// control passing to external code during the interaction phase.
	OnTransferOut func(ctx context.Context, a asset.Asset, to string, rawAmount uint64)
	// OnTransferIn is the inbound counterpart.
	OnTransferIn func(ctx context.Context, a asset.Asset, from string, rawAmount uint64)
}

func NewRecorderMover() *RecorderMover {
	return &RecorderMover{}
}

func (m *RecorderMover) TransferIn(ctx context.Context, a asset.Asset, from string, rawAmount uint64) error {
	if m.OnTransferIn != nil {
		m.OnTransferIn(ctx, a, from, rawAmount)
	}
	if m.FailIn != nil {
		return m.FailIn
	}
	m.record(Transfer{Asset: a, Direction: "in", Party: from, RawAmount: rawAmount})
	return nil
}

func (m *RecorderMover) TransferOut(ctx context.Context, a asset.Asset, to string, rawAmount uint64) error {
	if m.OnTransferOut != nil {
		m.OnTransferOut(ctx, a, to, rawAmount)
	}
	if m.FailOut != nil {
		return m.FailOut
	}
	m.record(Transfer{Asset: a, Direction: "out", Party: to, RawAmount: rawAmount})
	return nil
}

func (m *RecorderMover) record(t Transfer) {
	m.mu.Lock()
	m.transfers = append(m.transfers, t)
	m.mu.Unlock()
}

// Transfers returns a copy of all recorded movements.
func (m *RecorderMover) Transfers() []Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transfer, len(m.transfers))
	copy(out, m.transfers)
	return out
}
