package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger stores records in <schema>.refresh_tokens.
// The pool is owned by the caller.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	schema string
}

type PostgresOption func(*PostgresLedger) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema overrides the default "trackr" schema.
func WithSchema(schema string) PostgresOption {
	return func(l *PostgresLedger) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("session: invalid schema identifier %q", schema)
		}
		l.schema = schema
		return nil
	}
}

func NewPostgresLedger(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresLedger, error) {
	l := &PostgresLedger{pool: pool, schema: "trackr"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	if l.pool == nil {
		return nil, errors.New("session: nil pool")
	}
	return l, nil
}

func (l *PostgresLedger) table() string {
	return pgx.Identifier{l.schema, "refresh_tokens"}.Sanitize()
}

const recordColumns = `id, user_id, token_hash, issued_at, expires_at, revoked_at, replaced_by_id, revocation_reason`

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (l *PostgresLedger) insert(ctx context.Context, db execer, rec Record) error {
	_, err := db.Exec(ctx,
		`INSERT INTO `+l.table()+` (id, user_id, token_hash, issued_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.UserID, rec.TokenHash, rec.IssuedAt, rec.ExpiresAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return errDuplicateRecord
	}
	if err != nil {
		return fmt.Errorf("session: insert refresh record: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Insert(ctx context.Context, rec Record) error {
	return l.insert(ctx, l.pool, rec)
}

func (l *PostgresLedger) GetByHash(ctx context.Context, tokenHash string) (Record, error) {
	var r Record
	err := l.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM `+l.table()+` WHERE token_hash = $1`,
		tokenHash,
	).Scan(
		&r.ID,
		&r.UserID,
		&r.TokenHash,
		&r.IssuedAt,
		&r.ExpiresAt,
		&r.RevokedAt,
		&r.ReplacedByID,
		&r.RevocationReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("session: get refresh record: %w", err)
	}
	r.IssuedAt = r.IssuedAt.UTC()
	r.ExpiresAt = r.ExpiresAt.UTC()
	if r.RevokedAt != nil {
		r.RevokedAt = ptr(r.RevokedAt.UTC())
	}
	return r, nil
}

// Rotate inserts next first (replaced_by_id references it) and then consumes
// the old row with a conditional UPDATE. Under READ COMMITTED a concurrent
// rotation blocks on the row lock and re-evaluates the WHERE clause after the
// winner commits, so exactly one UPDATE affects a row.
func (l *PostgresLedger) Rotate(ctx context.Context, now time.Time, consumedID string, next Record) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("session: begin rotation: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := l.insert(ctx, tx, next); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE `+l.table()+`
		 SET revoked_at = $2, replaced_by_id = $3, revocation_reason = $4
		 WHERE id = $1 AND user_id = $5 AND revoked_at IS NULL AND expires_at > $2`,
		consumedID, now, next.ID, ReasonRotation, next.UserID,
	)
	if err != nil {
		return fmt.Errorf("session: consume refresh record: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrRotationConflict
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("session: commit rotation: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Revoke(ctx context.Context, now time.Time, id, reason string) (bool, error) {
	tag, err := l.pool.Exec(ctx,
		`UPDATE `+l.table()+`
		 SET revoked_at = $2, revocation_reason = $3
		 WHERE id = $1 AND revoked_at IS NULL`,
		id, now, reason,
	)
	if err != nil {
		return false, fmt.Errorf("session: revoke refresh record: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var one int
	err = l.pool.QueryRow(ctx, `SELECT 1 FROM `+l.table()+` WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrRecordNotFound
	}
	if err != nil {
		return false, fmt.Errorf("session: revoke refresh record: %w", err)
	}
	return false, nil
}

func (l *PostgresLedger) RevokeAllForUser(ctx context.Context, now time.Time, userID, reason string) (int, error) {
	tag, err := l.pool.Exec(ctx,
		`UPDATE `+l.table()+`
		 SET revoked_at = $2, revocation_reason = $3
		 WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2`,
		userID, now, reason,
	)
	if err != nil {
		return 0, fmt.Errorf("session: revoke user refresh records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
