package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/monitoring"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
	"github.com/rs/zerolog"
)

// Options bounds a polling loop
type Options struct {
	Name        string
	Interval    time.Duration
	MaxAttempts int
	Logger      zerolog.Logger
	// Sleep waits between attempts; nil uses SleepWithContext
	Sleep func(ctx context.Context, d time.Duration) error
}

// FetchFunc fetches the current status
type FetchFunc[T any] func(ctx context.Context) (T, error)

// TerminalFunc reports whether a status is final. A non-nil error ends polling with that error.
type TerminalFunc[T any] func(status T) (bool, error)

// SleepWithContext sleeps for d or until ctx is done
func SleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Until calls fetch until isTerminal accepts a status, a terminal error occurs,
// attempts run out, or ctx is cancelled. Fetch errors are logged and retried.
func Until[T any](ctx context.Context, fetch FetchFunc[T], isTerminal TerminalFunc[T], opts Options) (T, error) {
	var zero T
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Sleep == nil {
		opts.Sleep = SleepWithContext
	}
	if opts.Name == "" {
		opts.Name = "status"
	}
	logger := opts.Logger.With().Str("poller", opts.Name).Logger()

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		monitoring.RecordPollAttempt(opts.Name)
		status, err := fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			lastErr = err
			logger.Debug().
				Err(err).
				Int("attempt", attempt).
				Msg("Status fetch failed, retrying")
		} else {
			done, termErr := isTerminal(status)
			if termErr != nil {
				return status, termErr
			}
			if done {
				return status, nil
			}
		}

		if attempt == opts.MaxAttempts {
			break
		}
		if err := opts.Sleep(ctx, opts.Interval); err != nil {
			return zero, err
		}
	}

	monitoring.RecordPollTimeout(opts.Name)
	if lastErr != nil {
		return zero, fmt.Errorf("%w: %s after %d attempts: %v", types.ErrPollingTimeout, opts.Name, opts.MaxAttempts, lastErr)
	}
	return zero, fmt.Errorf("%w: %s after %d attempts", types.ErrPollingTimeout, opts.Name, opts.MaxAttempts)
}
