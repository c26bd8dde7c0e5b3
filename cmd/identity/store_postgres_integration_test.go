package identity

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"trackr/cmd/internal/db"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Runs only when TRACKR_DATABASE_URL points at a disposable database.

func mustPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TRACKR_DATABASE_URL")
	if dsn == "" {
		t.Skip("TRACKR_DATABASE_URL is not set; skipping Postgres integration test")
	}
	if err := db.MigrateUp(dsn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresStore_CreateConflictLookup(t *testing.T) {
	pool := mustPool(t)
	ctx := context.Background()

	st, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	email := "it-" + strings.ToLower(time.Now().UTC().Format("20060102150405.000000000")) + "@Example.com"
	u, err := st.CreateUser(ctx, CreateUserInput{Email: email, Name: "IT", PasswordHash: "$argon2id$stub"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM trackr.users WHERE id = $1`, u.ID)
	})

	if _, err := st.CreateUser(ctx, CreateUserInput{Email: strings.ToUpper(email), PasswordHash: "h"}); !IsConflictOn(err, "email") {
		t.Fatalf("expected email conflict, got %v", err)
	}

	got, err := st.GetUserByEmail(ctx, strings.ToUpper(email))
	if err != nil || got.ID != u.ID {
		t.Fatalf("GetUserByEmail: %+v %v", got, err)
	}
	if _, err := st.GetUserByID(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestWithSchema_RejectsBadIdentifier(t *testing.T) {
	t.Parallel()
	st := &PostgresStore{}
	if err := WithSchema("bad;schema")(st); err == nil {
		t.Fatalf("expected error")
	}
	if err := WithSchema("tenant_a")(st); err != nil || st.schema != "tenant_a" {
		t.Fatalf("WithSchema: %v schema=%q", err, st.schema)
	}
}
