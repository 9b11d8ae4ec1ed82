package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// OperationRow is a row in vault_log.operations.
type OperationRow struct {
	OpID             string
	Kind             string
	Owner            string
	Asset            string
	RawAmount        uint64
	NormalizedValue  uint64
	TotalLockedAfter uint64
	SettledAt        time.Time
}

// OperationWriter writes settled operations to Postgres with multi-row
// INSERT. Writes are idempotent on op_id, so a batch replayed after a
// retried flush is harmless.
type OperationWriter struct {
	db *sql.DB
}

func NewOperationWriter(db *sql.DB) *OperationWriter {
	return &OperationWriter{db: db}
}

func (w *OperationWriter) DB() *sql.DB {
	return w.db
}

// WriteBatch inserts a batch of operation rows inside the given
// transaction.
func (w *OperationWriter) WriteBatch(ctx context.Context, tx *sql.Tx, rows []OperationRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO vault_log.operations
		(op_id, kind, owner, asset, raw_amount, normalized_value, total_locked_after, settled_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*8)

	for i, r := range rows {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		// Amounts go through NUMERIC columns as strings; int64 would
		// truncate the top half of the uint64 range.
		args = append(args,
			r.OpID, r.Kind, r.Owner, r.Asset,
			fmt.Sprintf("%d", r.RawAmount),
			fmt.Sprintf("%d", r.NormalizedValue),
			fmt.Sprintf("%d", r.TotalLockedAfter),
			r.SettledAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (op_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
