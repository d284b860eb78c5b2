package wallet

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoSession is returned by stores holding no credentials
var ErrNoSession = errors.New("no session credentials")

// SessionCredentials identifies the connected user for one orchestration call
type SessionCredentials struct {
	// BTC account address
	Account      string `json:"account"`
	BTCPublicKey string `json:"btc_public_key"`
	// CSNA derived from BTCPublicKey
	NearAccountID string `json:"near_account_id,omitempty"`
	// PublicKey is the CSNA's chain signature access key, "secp256k1:<base58>"
	PublicKey string `json:"public_key,omitempty"`
}

// Validate checks that the BTC identity is present
func (c SessionCredentials) Validate() error {
	if c.BTCPublicKey == "" {
		return fmt.Errorf("btc public key is required")
	}
	return nil
}

// SessionStore persists SessionCredentials between runs
type SessionStore interface {
	Load(ctx context.Context) (*SessionCredentials, error)
	Save(ctx context.Context, creds SessionCredentials) error
	Clear(ctx context.Context) error
}

// Connect reads the identity from a provider and persists it
func Connect(ctx context.Context, provider Provider, store SessionStore) (*SessionCredentials, error) {
	publicKey, err := provider.GetPublicKey(ctx)
	if err != nil {
		return nil, err
	}
	accounts, err := provider.GetAccounts(ctx)
	if err != nil {
		return nil, err
	}

	creds := SessionCredentials{BTCPublicKey: publicKey}
	if len(accounts) > 0 {
		creds.Account = accounts[0]
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	if store != nil {
		if err := store.Save(ctx, creds); err != nil {
			return nil, fmt.Errorf("failed to save session: %w", err)
		}
	}
	return &creds, nil
}
