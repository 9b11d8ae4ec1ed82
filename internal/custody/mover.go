package custody

import (
	"context"
	"fmt"

	"OracleVault/internal/asset"
)

// ErrTransferFailed is returned when the external asset movement is
// rejected or reports failure. For token assets an adapter must treat a
// missing or false return value from the token as failure, never as
// success.
var ErrTransferFailed = fmt.Errorf("transfer failed")

// Mover is the consumed asset-transfer interface. For the native asset
// this is a direct value transfer; for tokens it wraps the token's own
// transfer mechanism. Implementations may transfer control to untrusted
// code — the vault's transfer protocol assumes they do.
type Mover interface {
	// TransferIn pulls rawAmount of the asset from the owner into custody.
	TransferIn(ctx context.Context, a asset.Asset, from string, rawAmount uint64) error

	// TransferOut pushes rawAmount of the asset from custody to the
	// recipient.
	TransferOut(ctx context.Context, a asset.Asset, to string, rawAmount uint64) error
}
