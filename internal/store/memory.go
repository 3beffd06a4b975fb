package store

import (
	"context"
	"sync"

	"visadesk/internal/domain"
)

// MemoryStore keeps the credential for the lifetime of the process.
type MemoryStore struct {
	mu   sync.RWMutex
	cred domain.Credential
}

var _ domain.TokenStore = (*MemoryStore)(nil)

func NewMemoryStore(initial domain.Credential) *MemoryStore {
	return &MemoryStore{cred: initial}
}

func (s *MemoryStore) LoadCredential(context.Context) (domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred, nil
}

func (s *MemoryStore) SaveCredential(_ context.Context, cred domain.Credential) error {
	s.mu.Lock()
	s.cred = cred
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ClearCredential(context.Context) error {
	s.mu.Lock()
	s.cred = domain.Credential{}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }
