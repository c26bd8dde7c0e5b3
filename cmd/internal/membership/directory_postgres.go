package membership

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory reads <schema>.workspace_members.
// The pool is owned by the caller.
type PostgresDirectory struct {
	pool   *pgxpool.Pool
	schema string
}

type PostgresOption func(*PostgresDirectory) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func WithSchema(schema string) PostgresOption {
	return func(d *PostgresDirectory) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("membership: invalid schema identifier %q", schema)
		}
		d.schema = schema
		return nil
	}
}

func NewPostgresDirectory(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresDirectory, error) {
	d := &PostgresDirectory{pool: pool, schema: "trackr"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.pool == nil {
		return nil, errors.New("membership: nil pool")
	}
	return d, nil
}

func (d *PostgresDirectory) table() string {
	return pgx.Identifier{d.schema, "workspace_members"}.Sanitize()
}

func (d *PostgresDirectory) Lookup(ctx context.Context, workspaceID, userID string) (Ref, error) {
	if workspaceID == "" || userID == "" {
		return Ref{}, ErrNotMember
	}

	var role string
	err := d.pool.QueryRow(ctx,
		`SELECT role FROM `+d.table()+` WHERE workspace_id = $1 AND user_id = $2`,
		workspaceID, userID,
	).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return Ref{}, ErrNotMember
	}
	if err != nil {
		return Ref{}, fmt.Errorf("membership: lookup: %w", err)
	}
	return Ref{WorkspaceID: workspaceID, UserID: userID, Role: Role(role)}, nil
}

// Grant upserts the membership row.
func (d *PostgresDirectory) Grant(ctx context.Context, ref Ref) error {
	if !ref.Role.Valid() {
		return ErrInvalidRole
	}
	_, err := d.pool.Exec(ctx,
		`INSERT INTO `+d.table()+` (workspace_id, user_id, role)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		ref.WorkspaceID, ref.UserID, string(ref.Role),
	)
	if err != nil {
		return fmt.Errorf("membership: grant: %w", err)
	}
	return nil
}
