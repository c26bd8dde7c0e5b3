package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"trackr/cmd/identity"
	"trackr/cmd/identity/ids"
	"trackr/cmd/internal/metrics"
	"trackr/cmd/security/password"
	"trackr/cmd/security/token"
)

// MaxRefreshTokenLen bounds presented refresh tokens before hashing.
const MaxRefreshTokenLen = 512

// Service implements register, login, refresh and logout.
//
// It holds no mutable state of its own; every decision is made against the
// Ledger, so any number of Service instances may share one ledger.
type Service struct {
	cfg     Config
	users   identity.Store
	ledger  Ledger
	tokens  AccessTokenManager
	hasher  token.Hasher
	pw      password.Config
	log     *slog.Logger
	metrics *metrics.Metrics

	// dummyHash keeps unknown-email logins as expensive as real ones.
	dummyHash string
}

// Result is returned by every operation that issues credentials.
type Result struct {
	User             identity.User
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

type RegisterInput struct {
	Email    string
	Name     string
	Password string
}

type LoginInput struct {
	Email    string
	Password string
}

type Option func(*Service)

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func WithPasswordConfig(pw password.Config) Option {
	return func(s *Service) { s.pw = pw }
}

// WithHasher sets the refresh token digest (HMAC when keyed).
func WithHasher(h token.Hasher) Option {
	return func(s *Service) { s.hasher = h }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(cfg Config, users identity.Store, ledger Ledger, tokens AccessTokenManager, opts ...Option) (*Service, error) {
	if users == nil || ledger == nil || tokens == nil {
		return nil, errors.New("session: nil dependency")
	}
	if cfg.RefreshTokenTTL <= 0 {
		return nil, ErrConfig
	}
	s := &Service{
		cfg:    cfg,
		users:  users,
		ledger: ledger,
		tokens: tokens,
		pw:     password.DefaultConfig(),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	dummy, err := s.pw.DummyHash()
	if err != nil {
		return nil, fmt.Errorf("session: dummy hash: %w", err)
	}
	s.dummyHash = dummy
	return s, nil
}

// Register creates an account and signs it in.
func (s *Service) Register(ctx context.Context, now time.Time, in RegisterInput) (Result, error) {
	email := strings.TrimSpace(in.Email)
	name := strings.TrimSpace(in.Name)

	switch {
	case email == "":
		return Result{}, invalidField("email", "required")
	case !identity.ValidEmail(email):
		return Result{}, invalidField("email", "malformed")
	case name == "":
		return Result{}, invalidField("name", "required")
	case in.Password == "":
		return Result{}, invalidField("password", "required")
	}
	if err := s.pw.Validate(in.Password); err != nil {
		return Result{}, invalidField("password", passwordReason(err))
	}

	hash, err := s.pw.Hash(in.Password)
	if err != nil {
		return Result{}, fmt.Errorf("session: hash password: %w", err)
	}

	u, err := s.users.CreateUser(ctx, identity.CreateUserInput{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Now:          now,
	})
	switch {
	case identity.IsConflictOn(err, "email"):
		return Result{}, ErrEmailInUse
	case identity.IsInvalidInput(err):
		return Result{}, invalidField("email", "malformed")
	case err != nil:
		return Result{}, fmt.Errorf("session: create user: %w", err)
	}

	s.log.Info("auth.register.ok", "user_id", u.ID)
	return s.issue(ctx, now, u, "register")
}

func passwordReason(err error) string {
	switch {
	case errors.Is(err, password.ErrPasswordTooShort):
		return "too_short"
	case errors.Is(err, password.ErrPasswordTooLong):
		return "too_long"
	case errors.Is(err, password.ErrWeakPassword):
		return "too_weak"
	default:
		return "invalid"
	}
}

// Login verifies credentials. Unknown email and wrong password are
// indistinguishable in both result and cost.
func (s *Service) Login(ctx context.Context, now time.Time, in LoginInput) (Result, error) {
	email := strings.TrimSpace(in.Email)
	if email == "" {
		return Result{}, invalidField("email", "required")
	}
	if in.Password == "" {
		return Result{}, invalidField("password", "required")
	}

	u, err := s.users.GetUserByEmail(ctx, email)
	if identity.IsNotFound(err) {
		_, _ = s.pw.Verify(s.dummyHash, in.Password)
		return Result{}, ErrInvalidCredentials
	}
	if err != nil {
		return Result{}, fmt.Errorf("session: lookup user: %w", err)
	}

	ok, err := s.pw.Verify(u.PasswordHash, in.Password)
	if err != nil {
		return Result{}, fmt.Errorf("session: verify password: %w", err)
	}
	if !ok {
		return Result{}, ErrInvalidCredentials
	}

	return s.issue(ctx, now, u, "login")
}

// issue starts a new refresh lineage for u.
func (s *Service) issue(ctx context.Context, now time.Time, u identity.User, via string) (Result, error) {
	access, accessExp, err := s.tokens.Issue(u.ID, now)
	if err != nil {
		return Result{}, fmt.Errorf("session: issue access: %w", err)
	}

	raw, rec, err := s.newRecord(now, u.ID)
	if err != nil {
		return Result{}, err
	}
	if err := s.ledger.Insert(ctx, rec); err != nil {
		return Result{}, fmt.Errorf("session: store refresh: %w", err)
	}

	s.metrics.SessionIssued(via)
	s.log.Info("auth.session.issued", "user_id", u.ID, "record_id", rec.ID, "via", via)

	return Result{
		User:             u,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     raw,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

func (s *Service) newRecord(now time.Time, userID string) (string, Record, error) {
	raw, err := token.NewOpaque(s.cfg.RefreshTokenBytes)
	if err != nil {
		return "", Record{}, fmt.Errorf("session: refresh token: %w", err)
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return "", Record{}, fmt.Errorf("session: record id: %w", err)
	}
	return raw, Record{
		ID:        id,
		UserID:    userID,
		TokenHash: s.hasher.Hash(raw),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
	}, nil
}

// Refresh redeems a refresh token for a new access assertion and a new
// refresh token. The presented token is consumed whether or not the caller
// ever receives the replacement.
//
// A token that is already revoked (rotated, logged out or cascaded) revokes
// every live token of its user before ErrTokenRevoked is returned.
func (s *Service) Refresh(ctx context.Context, now time.Time, presented string) (Result, error) {
	res, err := s.refresh(ctx, now, presented)
	s.metrics.Refresh(refreshOutcome(err))
	return res, err
}

func (s *Service) refresh(ctx context.Context, now time.Time, presented string) (Result, error) {
	if presented == "" {
		return Result{}, ErrTokenMissing
	}
	if len(presented) > MaxRefreshTokenLen {
		return Result{}, ErrTokenInvalid
	}

	rec, err := s.ledger.GetByHash(ctx, s.hasher.Hash(presented))
	if errors.Is(err, ErrRecordNotFound) {
		return Result{}, ErrTokenInvalid
	}
	if err != nil {
		return Result{}, fmt.Errorf("session: load refresh: %w", err)
	}

	if rec.RevokedAt != nil {
		s.cascade(ctx, now, rec)
		return Result{}, ErrTokenRevoked
	}
	if !now.Before(rec.ExpiresAt) {
		return Result{}, ErrTokenExpired
	}

	u, err := s.users.GetUserByID(ctx, rec.UserID)
	if identity.IsNotFound(err) {
		return Result{}, ErrTokenInvalid
	}
	if err != nil {
		return Result{}, fmt.Errorf("session: lookup user: %w", err)
	}

	raw, next, err := s.newRecord(now, rec.UserID)
	if err != nil {
		return Result{}, err
	}
	err = s.ledger.Rotate(ctx, now, rec.ID, next)
	if errors.Is(err, ErrRotationConflict) {
		s.log.Info("auth.refresh.race_lost", "user_id", rec.UserID, "record_id", rec.ID)
		return Result{}, ErrTokenInvalid
	}
	if err != nil {
		return Result{}, fmt.Errorf("session: rotate: %w", err)
	}

	access, accessExp, err := s.tokens.Issue(rec.UserID, now)
	if err != nil {
		return Result{}, fmt.Errorf("session: issue access: %w", err)
	}

	s.log.Info("auth.refresh.ok", "user_id", rec.UserID, "record_id", next.ID, "replaces", rec.ID)
	return Result{
		User:             u,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     raw,
		RefreshExpiresAt: next.ExpiresAt,
	}, nil
}

// cascade revokes every live record of rec's user. Failures are logged only;
// the presented token is refused either way.
func (s *Service) cascade(ctx context.Context, now time.Time, rec Record) {
	reason := ""
	if rec.RevocationReason != nil {
		reason = *rec.RevocationReason
	}

	n, err := s.ledger.RevokeAllForUser(ctx, now, rec.UserID, ReasonReuseDetected)
	if err != nil {
		s.log.Error("auth.refresh.cascade_fail", "user_id", rec.UserID, "record_id", rec.ID, "err", err)
	}
	s.metrics.Reuse(n)
	s.log.Warn("auth.refresh.reuse_detected",
		"user_id", rec.UserID,
		"record_id", rec.ID,
		"prior_reason", reason,
		"revoked", n,
	)
}

func refreshOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.RefreshOK
	case errors.Is(err, ErrTokenMissing):
		return metrics.RefreshMissing
	case errors.Is(err, ErrTokenInvalid):
		return metrics.RefreshInvalid
	case errors.Is(err, ErrTokenExpired):
		return metrics.RefreshExpired
	case errors.Is(err, ErrTokenRevoked):
		return metrics.RefreshRevoked
	default:
		return metrics.RefreshError
	}
}

// Logout revokes the presented refresh token if it is still unrevoked.
// It never fails from the caller's point of view.
func (s *Service) Logout(ctx context.Context, now time.Time, presented string) {
	if presented == "" || len(presented) > MaxRefreshTokenLen {
		return
	}
	rec, err := s.ledger.GetByHash(ctx, s.hasher.Hash(presented))
	if errors.Is(err, ErrRecordNotFound) {
		return
	}
	if err != nil {
		s.log.Error("auth.logout.fail", "err", err)
		return
	}
	if rec.RevokedAt != nil {
		return
	}

	revoked, err := s.ledger.Revoke(ctx, now, rec.ID, ReasonLogout)
	if err != nil {
		s.log.Error("auth.logout.fail", "user_id", rec.UserID, "record_id", rec.ID, "err", err)
		return
	}
	if revoked {
		s.log.Info("auth.logout.ok", "user_id", rec.UserID, "record_id", rec.ID)
	}
}

// VerifyAccess checks an access assertion without touching storage.
func (s *Service) VerifyAccess(assertion string, now time.Time) (AccessClaims, error) {
	if assertion == "" {
		return AccessClaims{}, ErrTokenMissing
	}
	return s.tokens.Verify(assertion, now)
}

// User loads the account behind a verified assertion.
func (s *Service) User(ctx context.Context, userID string) (identity.User, error) {
	u, err := s.users.GetUserByID(ctx, userID)
	if identity.IsNotFound(err) {
		return identity.User{}, ErrTokenInvalid
	}
	return u, err
}
