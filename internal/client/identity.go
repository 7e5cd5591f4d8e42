package client

import (
	"sync"

	"github.com/google/uuid"
)

// IdentityStore generates and holds the opaque participant identifier for
// this process session. Identity survives reconnects but not restarts; there
// is no verification beyond the token itself.
type IdentityStore struct {
	mu sync.Mutex
	id string
}

// NewIdentityStore creates an empty identity store.
func NewIdentityStore() *IdentityStore {
	return &IdentityStore{}
}

// GetOrCreate returns the session identity, generating it on first call.
// Subsequent calls return the same token.
func (s *IdentityStore) GetOrCreate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == "" {
		s.id = uuid.New().String()
	}
	return s.id
}
