package session

import (
	"context"
	"fmt"
	"io"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/config"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/wallet"
	"github.com/rs/zerolog"
)

// Store is a wallet.SessionStore that owns resources
type Store interface {
	wallet.SessionStore
	io.Closer
}

// Open builds the store selected by cfg.Driver; name scopes the stored record
func Open(ctx context.Context, cfg config.SessionConfig, name string, logger zerolog.Logger) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "leveldb":
		return NewLevelDBStore(cfg.Path, name)
	case "postgres":
		return NewPostgresStore(ctx, cfg.DSN, name, logger)
	default:
		return nil, fmt.Errorf("unsupported session driver: %q", cfg.Driver)
	}
}
