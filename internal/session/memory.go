package session

import (
	"context"
	"sync"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/wallet"
)

// MemoryStore keeps credentials in process memory
type MemoryStore struct {
	mu    sync.RWMutex
	creds *wallet.SessionCredentials
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the stored credentials or wallet.ErrNoSession
func (s *MemoryStore) Load(ctx context.Context) (*wallet.SessionCredentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.creds == nil {
		return nil, wallet.ErrNoSession
	}
	creds := *s.creds
	return &creds, nil
}

// Save replaces the stored credentials
func (s *MemoryStore) Save(ctx context.Context, creds wallet.SessionCredentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds = &creds
	return nil
}

// Clear forgets the stored credentials
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds = nil
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
