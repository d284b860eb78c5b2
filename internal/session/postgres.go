package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/wallet"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

const createSessionsTable = `
CREATE TABLE IF NOT EXISTS wallet_sessions (
	name            TEXT PRIMARY KEY,
	account         TEXT NOT NULL DEFAULT '',
	btc_public_key  TEXT NOT NULL,
	near_account_id TEXT NOT NULL DEFAULT '',
	public_key      TEXT NOT NULL DEFAULT '',
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// tables created before the CSNA key was stored lack public_key
const addPublicKeyColumn = `ALTER TABLE wallet_sessions ADD COLUMN IF NOT EXISTS public_key TEXT NOT NULL DEFAULT ''`

// PostgresStore persists credentials in a Postgres table
type PostgresStore struct {
	db     *sql.DB
	name   string
	logger zerolog.Logger
}

// NewPostgresStore connects with dsn and ensures the sessions table exists
func NewPostgresStore(ctx context.Context, dsn, name string, logger zerolog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return newPostgresStore(ctx, db, name, logger)
}

func newPostgresStore(ctx context.Context, db *sql.DB, name string, logger zerolog.Logger) (*PostgresStore, error) {
	for _, stmt := range []string{createSessionsTable, addPublicKeyColumn} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create sessions table: %w", err)
		}
	}

	store := &PostgresStore{
		db:     db,
		name:   name,
		logger: logger.With().Str("component", "session-store").Logger(),
	}
	store.logger.Info().Str("name", name).Msg("Postgres session store ready")
	return store, nil
}

// Load returns the stored credentials or wallet.ErrNoSession
func (s *PostgresStore) Load(ctx context.Context) (*wallet.SessionCredentials, error) {
	var creds wallet.SessionCredentials
	err := s.db.QueryRowContext(ctx,
		`SELECT account, btc_public_key, near_account_id, public_key FROM wallet_sessions WHERE name = $1`,
		s.name,
	).Scan(&creds.Account, &creds.BTCPublicKey, &creds.NearAccountID, &creds.PublicKey)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, wallet.ErrNoSession
	case err != nil:
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &creds, nil
}

// Save upserts the stored credentials
func (s *PostgresStore) Save(ctx context.Context, creds wallet.SessionCredentials) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallet_sessions (name, account, btc_public_key, near_account_id, public_key, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (name) DO UPDATE SET
			account = EXCLUDED.account,
			btc_public_key = EXCLUDED.btc_public_key,
			near_account_id = EXCLUDED.near_account_id,
			public_key = EXCLUDED.public_key,
			updated_at = NOW()`,
		s.name, creds.Account, creds.BTCPublicKey, creds.NearAccountID, creds.PublicKey,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Clear deletes the stored credentials
func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM wallet_sessions WHERE name = $1`, s.name); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// HealthCheck pings the database
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	s.logger.Info().Msg("Closing database connection")
	return s.db.Close()
}
