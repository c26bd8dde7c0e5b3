package invite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"trackr/cmd/identity/ids"
	"trackr/cmd/internal/membership"
	"trackr/cmd/security/token"
)

const (
	defaultCodeBytes = 32
	DefaultTTL       = 7 * 24 * time.Hour
)

// Invite is a pending offer to join a workspace with a fixed role.
type Invite struct {
	ID          string
	WorkspaceID string
	CreatedBy   string
	Role        membership.Role
	CreatedAt   time.Time
	ExpiresAt   time.Time
}


// Service gates invite creation on the actor's workspace role.
type Service struct {
	store     Store
	members   membership.Directory
	hasher    token.Hasher
	codeBytes int
	ttl       time.Duration
	log       *slog.Logger
}

type Option func(*Service) error

func WithCodeBytes(n int) Option {
	return func(s *Service) error {
		if n < 16 {
			return ErrInvalidInput
		}
		s.codeBytes = n
		return nil
	}
}

func WithTTL(d time.Duration) Option {
	return func(s *Service) error {
		if d <= 0 {
			return ErrInvalidInput
		}
		s.ttl = d
		return nil
	}
}

// WithHasher sets the hasher for invite codes. The default is unkeyed SHA-256.
func WithHasher(h token.Hasher) Option {
	return func(s *Service) error {
		s.hasher = h
		return nil
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) error {
		if log != nil {
			s.log = log
		}
		return nil
	}
}

func NewService(store Store, members membership.Directory, opts ...Option) (*Service, error) {
	if store == nil || members == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{
		store:     store,
		members:   members,
		hasher:    token.NewHasher(nil),
		codeBytes: defaultCodeBytes,
		ttl:       DefaultTTL,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Create mints an invite to workspaceID with the given role. Only owners and
// admins may invite, and never to a role above their own. The plain code is
// returned once; only its hash is stored.
func (s *Service) Create(ctx context.Context, now time.Time, actorUserID, workspaceID string, role membership.Role) (Invite, string, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, "", err
	}
	actorUserID = strings.TrimSpace(actorUserID)
	if actorUserID == "" || !membership.ValidWorkspaceID(workspaceID) || !role.Valid() {
		return Invite{}, "", ErrInvalidInput
	}

	actor, err := s.members.Lookup(ctx, workspaceID, actorUserID)
	if errors.Is(err, membership.ErrNotMember) {
		s.log.Info("invite.create.forbidden", "workspace_id", workspaceID, "actor_id", actorUserID, "reason", "not_member")
		return Invite{}, "", ErrForbidden
	}
	if err != nil {
		return Invite{}, "", fmt.Errorf("invite: actor lookup: %w", err)
	}
	if !actor.Role.AtLeast(membership.RoleAdmin) || !actor.Role.AtLeast(role) {
		s.log.Info("invite.create.forbidden", "workspace_id", workspaceID, "actor_id", actorUserID,
			"actor_role", string(actor.Role), "role", string(role))
		return Invite{}, "", ErrForbidden
	}

	code, err := token.NewOpaque(s.codeBytes)
	if err != nil {
		return Invite{}, "", err
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Invite{}, "", err
	}

	inv := Invite{
		ID:          id,
		WorkspaceID: workspaceID,
		CreatedBy:   actorUserID,
		Role:        role,
		CreatedAt:   now.UTC(),
		ExpiresAt:   now.UTC().Add(s.ttl),
	}
	if err := s.store.Create(ctx, CreateRecord{Invite: inv, CodeHash: s.hasher.Hash(code)}); err != nil {
		return Invite{}, "", err
	}

	s.log.Info("invite.created", "invite_id", inv.ID, "workspace_id", workspaceID, "actor_id", actorUserID, "role", string(role))
	return inv, code, nil
}
