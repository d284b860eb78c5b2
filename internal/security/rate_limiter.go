package security

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RateLimiter applies a token bucket per client key
type RateLimiter struct {
	limit  rate.Limit
	burst  int
	idle   time.Duration
	logger zerolog.Logger

	limiters map[string]*clientLimit
	mu       sync.Mutex
}

type clientLimit struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute requests per client with a burst of the same size.
// perMinute <= 0 disables limiting.
func NewRateLimiter(perMinute int, logger zerolog.Logger) *RateLimiter {
	rl := &RateLimiter{
		idle:     10 * time.Minute,
		logger:   logger.With().Str("component", "rate_limiter").Logger(),
		limiters: make(map[string]*clientLimit),
	}
	if perMinute > 0 {
		rl.limit = rate.Limit(float64(perMinute) / 60)
		rl.burst = perMinute
	}
	return rl
}

// Allow reports whether a request from key may proceed
func (rl *RateLimiter) Allow(key string) bool {
	if rl.burst == 0 {
		return true
	}

	rl.mu.Lock()
	entry, ok := rl.limiters[key]
	if !ok {
		entry = &clientLimit{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = time.Now()
	rl.mu.Unlock()

	if !entry.limiter.Allow() {
		rl.logger.Debug().Str("client", key).Msg("Rate limit exceeded")
		return false
	}
	return true
}

// Cleanup removes clients idle for longer than the idle window and returns how many
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-rl.idle)
	for key, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
			removed++
		}
	}
	return removed
}

// StartCleanup runs Cleanup every interval until stop is closed
func (rl *RateLimiter) StartCleanup(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if removed := rl.Cleanup(); removed > 0 {
					rl.logger.Debug().Int("removed", removed).Msg("Rate limit cleanup completed")
				}
			}
		}
	}()
}
