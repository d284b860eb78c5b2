package security

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/monitoring"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
	"github.com/rs/zerolog"
)

// WhitelistSource lists allow-listed BTC accounts
type WhitelistSource interface {
	WhitelistUsers(ctx context.Context) ([]string, error)
}

// Whitelist gates mainnet operations on the relay's allow-list
type Whitelist struct {
	source  WhitelistSource
	enabled bool
	refresh time.Duration
	logger  zerolog.Logger
	now     func() time.Time

	mu        sync.RWMutex
	users     map[string]struct{}
	fetchedAt time.Time
}

// NewWhitelist creates a gate. It is active only when enabled on a mainnet environment.
func NewWhitelist(source WhitelistSource, env types.EnvConfig, enabled bool, refresh time.Duration, logger zerolog.Logger) *Whitelist {
	if refresh <= 0 {
		refresh = 5 * time.Minute
	}
	return &Whitelist{
		source:  source,
		enabled: enabled && env.IsMainnet(),
		refresh: refresh,
		logger:  logger.With().Str("component", "whitelist").Logger(),
		now:     time.Now,
	}
}

// Enabled reports whether the gate is active
func (w *Whitelist) Enabled() bool {
	return w.enabled
}

// Check returns ErrWhitelist when btcAccount is not allow-listed
func (w *Whitelist) Check(ctx context.Context, btcAccount string) error {
	if !w.enabled {
		return nil
	}

	users, err := w.load(ctx)
	if err != nil {
		return err
	}

	if _, ok := users[normalize(btcAccount)]; !ok {
		monitoring.WhitelistRejections.Inc()
		w.logger.Warn().
			Str("account", btcAccount).
			Msg("Account rejected by whitelist")
		return fmt.Errorf("%w: %s", types.ErrWhitelist, btcAccount)
	}
	return nil
}

func (w *Whitelist) load(ctx context.Context) (map[string]struct{}, error) {
	w.mu.RLock()
	if w.users != nil && w.now().Sub(w.fetchedAt) < w.refresh {
		users := w.users
		w.mu.RUnlock()
		return users, nil
	}
	w.mu.RUnlock()

	list, err := w.source.WhitelistUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load whitelist: %w", err)
	}

	users := make(map[string]struct{}, len(list))
	for _, user := range list {
		users[normalize(user)] = struct{}{}
	}

	w.mu.Lock()
	w.users = users
	w.fetchedAt = w.now()
	w.mu.Unlock()

	w.logger.Debug().Int("users", len(users)).Msg("Whitelist refreshed")
	return users, nil
}

func normalize(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}
