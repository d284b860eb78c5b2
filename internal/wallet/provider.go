package wallet

import (
	"context"
	"errors"
	"strings"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
)

// SendOptions tunes a BTC payment
type SendOptions struct {
	// FeeRate in sat/vB; zero lets the wallet choose
	FeeRate uint64
}

// Provider is the capability set of a connected BTC wallet
type Provider interface {
	GetPublicKey(ctx context.Context) (string, error)
	GetAccounts(ctx context.Context) ([]string, error)
	SignMessage(ctx context.Context, message string) (string, error)
	SendBitcoin(ctx context.Context, address string, satoshis uint64, opts SendOptions) (string, error)
	GetNetwork(ctx context.Context) (types.BTCNetwork, error)
	SwitchNetwork(ctx context.Context, network types.BTCNetwork) error
	// OnAccountsChanged registers a listener and returns a function removing it
	OnAccountsChanged(fn func(accounts []string)) (unsubscribe func())
}

// Confirmation is shown to the user before an automatic action
type Confirmation struct {
	Title   string
	Message string
	Amount  uint64
}

// Confirmer asks the user to approve an automatic action
type Confirmer interface {
	Confirm(ctx context.Context, c Confirmation) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer
type ConfirmFunc func(ctx context.Context, c Confirmation) (bool, error)

// Confirm calls f
func (f ConfirmFunc) Confirm(ctx context.Context, c Confirmation) (bool, error) {
	return f(ctx, c)
}

var rejectionPatterns = []string{
	"user rejected",
	"user denied",
	"user canceled",
	"user cancelled",
	"rejected by user",
	"request rejected",
	"user reject",
}

// IsUserRejection reports whether err is a wallet prompt the user declined.
// Such errors are a silent cancellation, not a failure to surface.
func IsUserRejection(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, types.ErrUserRejected) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range rejectionPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// EnsureNetwork switches the wallet to the environment's network when needed
func EnsureNetwork(ctx context.Context, provider Provider, want types.BTCNetwork) error {
	current, err := provider.GetNetwork(ctx)
	if err != nil {
		return err
	}
	if current == want {
		return nil
	}
	return provider.SwitchNetwork(ctx, want)
}
