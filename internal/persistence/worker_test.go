package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"OracleVault/internal/asset"
	"OracleVault/internal/testutil"
	"OracleVault/internal/vault"
)

func TestWorkerWritesOperations(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	migrator := NewMigrator(db, "../../migrations", zerolog.Nop())
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ch := make(chan vault.Settlement, 8)
	worker := NewWorker(db, ch, 2, 5*time.Millisecond, nil, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		done <- worker.Run(ctx)
	}()

	dup := vault.Settlement{
		OpID:             uuid.New(),
		Kind:             "deposit",
		Owner:            "alice",
		Asset:            asset.Native(),
		RawAmount:        1_000_000_000_000_000_000,
		NormalizedValue:  2_000_000_000,
		TotalLockedAfter: 2_000_000_000,
		SettledAt:        time.Now().UTC(),
	}

	ch <- dup
	ch <- vault.Settlement{
		OpID:             uuid.New(),
		Kind:             "withdraw",
		Owner:            "alice",
		Asset:            asset.Token("0xbtc"),
		RawAmount:        100_000_000,
		NormalizedValue:  30_000_000_000,
		TotalLockedAfter: 0,
		SettledAt:        time.Now().UTC(),
	}
	// A replayed settlement must not produce a second row.
	ch <- dup

	close(ch)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("worker: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not drain")
	}

	var count int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vault_log.operations`,
	).Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 2 {
		t.Errorf("row count = %d, want 2 (duplicate op_id deduped)", count)
	}

	var kind string
	if err := db.QueryRowContext(ctx,
		`SELECT kind FROM vault_log.operations WHERE op_id = $1`, dup.OpID.String(),
	).Scan(&kind); err != nil {
		t.Fatalf("select row: %v", err)
	}
	if kind != "deposit" {
		t.Errorf("kind = %q", kind)
	}
}
