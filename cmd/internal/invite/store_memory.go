package invite

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore keeps invites in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	byHash map[string]Invite
	ids    map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHash: make(map[string]Invite),
		ids:    make(map[string]struct{}),
	}
}

func (s *MemoryStore) Create(ctx context.Context, in CreateRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.CodeHash) == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byHash[in.CodeHash]; ok {
		return ErrInvalidInput
	}
	if _, ok := s.ids[in.ID]; ok {
		return ErrInvalidInput
	}
	s.byHash[in.CodeHash] = in.Invite
	s.ids[in.ID] = struct{}{}
	return nil
}
