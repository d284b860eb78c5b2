package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/monitoring"
	"github.com/rs/zerolog"
)

// DefaultTTL is how long a read stays fresh
const DefaultTTL = 3 * time.Second

type entry struct {
	value     json.RawMessage
	expiresAt time.Time
	hitCount  int
}

// RequestCache memoizes read-only remote queries by (method, params) for a short TTL.
// Results are advisory; callers needing a fresh value bypass it.
type RequestCache struct {
	entries map[string]*entry
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

// NewRequestCache creates a new request cache
func NewRequestCache(ttl time.Duration, logger zerolog.Logger) *RequestCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RequestCache{
		entries: make(map[string]*entry),
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With().Str("component", "request-cache").Logger(),
	}
}

// Get returns the cached raw result if present and unexpired. An expired entry is
// evicted on lookup.
func (rc *RequestCache) Get(method string, params interface{}) (json.RawMessage, bool) {
	key := Key(method, params)

	rc.mu.Lock()
	defer rc.mu.Unlock()

	cached, exists := rc.entries[key]
	if exists && rc.now().After(cached.expiresAt) {
		delete(rc.entries, key)
		exists = false
	}
	if !exists {
		monitoring.CacheMisses.Inc()
		return nil, false
	}

	cached.hitCount++
	monitoring.CacheHits.Inc()

	rc.logger.Debug().
		Str("method", method).
		Int("hit_count", cached.hitCount).
		Msg("Cache hit")

	return cached.value, true
}

// Set stores a raw result
func (rc *RequestCache) Set(method string, params interface{}, value json.RawMessage) {
	key := Key(method, params)

	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.entries[key] = &entry{
		value:     append(json.RawMessage(nil), value...),
		expiresAt: rc.now().Add(rc.ttl),
	}
}

// Fetch returns a cached result or calls load and caches its result.
// Errors are never cached.
func (rc *RequestCache) Fetch(method string, params interface{}, load func() (json.RawMessage, error)) (json.RawMessage, error) {
	if value, ok := rc.Get(method, params); ok {
		return value, nil
	}
	value, err := load()
	if err != nil {
		return nil, err
	}
	rc.Set(method, params, value)
	return value, nil
}

// Invalidate removes a specific entry
func (rc *RequestCache) Invalidate(method string, params interface{}) {
	key := Key(method, params)

	rc.mu.Lock()
	defer rc.mu.Unlock()

	delete(rc.entries, key)
}

// Clear removes all entries
func (rc *RequestCache) Clear() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.entries = make(map[string]*entry)
}

// CleanExpired removes expired entries
func (rc *RequestCache) CleanExpired() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	now := rc.now()
	removed := 0
	for key, cached := range rc.entries {
		if now.After(cached.expiresAt) {
			delete(rc.entries, key)
			removed++
		}
	}

	if removed > 0 {
		rc.logger.Debug().
			Int("removed", removed).
			Msg("Expired cache entries cleaned")
	}
	return removed
}

// StartPeriodicCleanup cleans expired entries every interval until ctx is done
func (rc *RequestCache) StartPeriodicCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = rc.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rc.CleanExpired()
		}
	}
}

// Len returns the number of stored entries, expired or not
func (rc *RequestCache) Len() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.entries)
}

// Key derives a deterministic cache key from a method and its params
func Key(method string, params interface{}) string {
	data, _ := json.Marshal(params)
	hash := sha256.Sum256(append([]byte(method+"|"), data...))
	return fmt.Sprintf("%x", hash)
}
