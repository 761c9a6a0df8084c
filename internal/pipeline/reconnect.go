package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ErrStopped is returned when the stop signal is raised while connecting
var ErrStopped = errors.New("pipeline stopped")

// ErrMaxRetries is returned when every allowed connection attempt failed
var ErrMaxRetries = errors.New("max retries exceeded")

// ReconnectConfig contains configuration for exponential backoff reconnection
type ReconnectConfig struct {
	MaxRetries    int           // Maximum number of consecutive failed attempts, 0 retries forever
	RetryDelay    time.Duration // Initial retry delay (default: 1 second)
	MaxRetryDelay time.Duration // Maximum retry delay cap (default: 30 seconds)
}

// DefaultReconnectConfig returns default reconnection configuration
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxRetries:    0,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// normalize fills unset delays with defaults
func (c ReconnectConfig) normalize() ReconnectConfig {
	defaults := DefaultReconnectConfig()
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaults.RetryDelay
	}
	if c.MaxRetryDelay < c.RetryDelay {
		c.MaxRetryDelay = c.RetryDelay
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}

// ReconnectState tracks the current state of reconnection attempts
type ReconnectState struct {
	CurrentRetries int
	Attempts       atomic.Uint64 // Total connection attempts, successful or not
}

// ConnectFunc attempts to establish a connection
type ConnectFunc func(ctx context.Context) error

// RunWithReconnect calls connectFn until it succeeds, waiting with exponential
// backoff between failures.
//
// Backoff schedule with the default config:
//   - Attempt 1 fails: wait 1s
//   - Attempt 2 fails: wait 2s
//   - Attempt 3 fails: wait 4s
//   - ... capped at MaxRetryDelay
//
// Returns ErrStopped if stop is raised, ErrMaxRetries (wrapped) once MaxRetries
// consecutive attempts failed, or the context error on cancellation.
func RunWithReconnect(
	ctx context.Context,
	connectFn ConnectFunc,
	cfg ReconnectConfig,
	state *ReconnectState,
	stop *StopSignal,
	logger *slog.Logger,
) error {
	cfg = cfg.normalize()

	for {
		if stop != nil && stop.Raised() {
			return ErrStopped
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		state.Attempts.Add(1)
		err := connectFn(ctx)
		if err == nil {
			state.CurrentRetries = 0
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		state.CurrentRetries++
		logger.Warn("Connection attempt failed",
			slog.Int("attempt", state.CurrentRetries),
			slog.Int("max_retries", cfg.MaxRetries),
			slog.String("error", err.Error()),
		)

		if cfg.MaxRetries > 0 && state.CurrentRetries >= cfg.MaxRetries {
			return fmt.Errorf("%w (%d attempts): %w", ErrMaxRetries, state.CurrentRetries, err)
		}

		delay := calculateBackoff(state.CurrentRetries, cfg)
		logger.Debug("Retrying connection", slog.Duration("delay", delay))

		if err := wait(ctx, delay, stop); err != nil {
			return err
		}
	}
}

// calculateBackoff calculates the exponential backoff delay for a given attempt
//
// Formula: delay = retryDelay * 2^(attempt-1)
// Cap: min(delay, maxRetryDelay)
func calculateBackoff(attempt int, cfg ReconnectConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Larger shifts overflow time.Duration
	if attempt > 31 {
		return cfg.MaxRetryDelay
	}

	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxRetryDelay || delay <= 0 {
		delay = cfg.MaxRetryDelay
	}

	return delay
}

// wait sleeps for delay unless the context is cancelled or stop is raised first
func wait(ctx context.Context, delay time.Duration, stop *StopSignal) error {
	var stopped <-chan struct{}
	if stop != nil {
		stopped = stop.Done()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
