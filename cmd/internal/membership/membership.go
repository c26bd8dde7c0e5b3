// Package membership answers "is this user in this workspace, and as what".
// Workspace CRUD lives elsewhere; this package only reads (and, for dev and
// tests, grants) rows of the membership table.
package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"trackr/cmd/identity/ids"

	"github.com/google/uuid"
)

var (
	ErrNotMember   = errors.New("membership: not a member")
	ErrInvalidRole = errors.New("membership: invalid role")
)

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

func (r Role) rank() int {
	switch r {
	case RoleOwner:
		return 4
	case RoleAdmin:
		return 3
	case RoleMember:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

func (r Role) Valid() bool { return r.rank() > 0 }

// AtLeast reports whether r grants everything other grants.
func (r Role) AtLeast(other Role) bool {
	return r.Valid() && r.rank() >= other.rank()
}

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

type Ref struct {
	WorkspaceID string
	UserID      string
	Role        Role
}

// Directory is consulted on every join_workspace and invite creation.
type Directory interface {
	// Lookup returns ErrNotMember when no membership exists.
	Lookup(ctx context.Context, workspaceID, userID string) (Ref, error)
}

// Granter is implemented by directories that can write memberships.
type Granter interface {
	Grant(ctx context.Context, ref Ref) error
}

// ValidWorkspaceID accepts canonical ULIDs and UUIDs.
func ValidWorkspaceID(id string) bool {
	if id == "" || strings.TrimSpace(id) != id {
		return false
	}
	if ids.IsULID(id) {
		return true
	}
	_, err := uuid.Parse(id)
	return err == nil && len(id) == 36
}

// ParseSeed parses "ws:user:role,ws:user:role" into refs.
func ParseSeed(s string) ([]Ref, error) {
	var out []Ref
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		f := strings.Split(part, ":")
		if len(f) != 3 {
			return nil, fmt.Errorf("membership: bad seed entry %q (want ws:user:role)", part)
		}
		role, err := ParseRole(f[2])
		if err != nil {
			return nil, err
		}
		ref := Ref{WorkspaceID: strings.TrimSpace(f[0]), UserID: strings.TrimSpace(f[1]), Role: role}
		if !ValidWorkspaceID(ref.WorkspaceID) || ref.UserID == "" {
			return nil, fmt.Errorf("membership: bad seed entry %q", part)
		}
		out = append(out, ref)
	}
	return out, nil
}

// Seed grants every ref through g.
func Seed(ctx context.Context, g Granter, refs []Ref) error {
	for _, ref := range refs {
		if err := g.Grant(ctx, ref); err != nil {
			return fmt.Errorf("membership: seed %s/%s: %w", ref.WorkspaceID, ref.UserID, err)
		}
	}
	return nil
}
