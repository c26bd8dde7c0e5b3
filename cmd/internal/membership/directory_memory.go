package membership

import (
	"context"
	"sync"
)

type memberKey struct {
	workspaceID string
	userID      string
}

// MemoryDirectory is an in-process Directory for development and tests.
type MemoryDirectory struct {
	mu   sync.RWMutex
	refs map[memberKey]Role
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{refs: make(map[memberKey]Role)}
}

func (d *MemoryDirectory) Lookup(ctx context.Context, workspaceID, userID string) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return Ref{}, err
	}
	d.mu.RLock()
	role, ok := d.refs[memberKey{workspaceID, userID}]
	d.mu.RUnlock()
	if !ok {
		return Ref{}, ErrNotMember
	}
	return Ref{WorkspaceID: workspaceID, UserID: userID, Role: role}, nil
}

func (d *MemoryDirectory) Grant(_ context.Context, ref Ref) error {
	if !ref.Role.Valid() {
		return ErrInvalidRole
	}
	d.mu.Lock()
	d.refs[memberKey{ref.WorkspaceID, ref.UserID}] = ref.Role
	d.mu.Unlock()
	return nil
}

func (d *MemoryDirectory) Revoke(workspaceID, userID string) {
	d.mu.Lock()
	delete(d.refs, memberKey{workspaceID, userID})
	d.mu.Unlock()
}
