package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/wallet"
	"github.com/syndtr/goleveldb/leveldb"
)

const sessionKeyPrefix = "session/"

// LevelDBStore persists credentials in a LevelDB database
type LevelDBStore struct {
	db  *leveldb.DB
	key []byte
}

// NewLevelDBStore opens (or creates) a LevelDB database at path; name scopes the record
func NewLevelDBStore(path, name string) (*LevelDBStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("leveldb session path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve leveldb session path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb session store: %w", err)
	}
	return &LevelDBStore{db: db, key: []byte(sessionKeyPrefix + name)}, nil
}

// Load returns the stored credentials or wallet.ErrNoSession
func (s *LevelDBStore) Load(ctx context.Context) (*wallet.SessionCredentials, error) {
	value, err := s.db.Get(s.key, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return nil, wallet.ErrNoSession
	case err != nil:
		return nil, fmt.Errorf("load session: %w", err)
	}

	var creds wallet.SessionCredentials
	if err := json.Unmarshal(value, &creds); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &creds, nil
}

// Save replaces the stored credentials
func (s *LevelDBStore) Save(ctx context.Context, creds wallet.SessionCredentials) error {
	value, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	if err := s.db.Put(s.key, value, nil); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Clear deletes the stored credentials
func (s *LevelDBStore) Clear(ctx context.Context) error {
	if err := s.db.Delete(s.key, nil); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Close releases the underlying LevelDB resources
func (s *LevelDBStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
