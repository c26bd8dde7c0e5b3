package session

import (
	"context"
	"os"
	"testing"
	"time"

	"trackr/cmd/identity"
	"trackr/cmd/identity/ids"
	"trackr/cmd/internal/db"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Runs only when TRACKR_DATABASE_URL points at a disposable database.
func TestLedger_Postgres(t *testing.T) {
	dsn := os.Getenv("TRACKR_DATABASE_URL")
	if dsn == "" {
		t.Skip("TRACKR_DATABASE_URL is not set; skipping Postgres integration test")
	}
	if err := db.MigrateUp(dsn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)

	users, err := identity.NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("identity store: %v", err)
	}
	ledger, err := NewPostgresLedger(pool)
	if err != nil {
		t.Fatalf("NewPostgresLedger: %v", err)
	}

	newUser := func(t *testing.T) string {
		t.Helper()
		u, err := users.CreateUser(ctx, identity.CreateUserInput{
			Email:        ids.MustULID(time.Time{}) + "@ledger.test",
			Name:         "ledger",
			PasswordHash: "$argon2id$stub",
		})
		if err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		t.Cleanup(func() {
			_, _ = pool.Exec(context.Background(), `DELETE FROM trackr.refresh_tokens WHERE user_id = $1`, u.ID)
			_, _ = pool.Exec(context.Background(), `DELETE FROM trackr.users WHERE id = $1`, u.ID)
		})
		return u.ID
	}

	runLedgerSuite(t, func(t *testing.T) ledgerHarness {
		return ledgerHarness{ledger: ledger, newUser: newUser}
	})
}
