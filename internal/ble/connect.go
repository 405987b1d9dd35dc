package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ConnectOptions configures connection establishment.
type ConnectOptions struct {
	MaxAttempts    int           // total connect attempts (default 4)
	AttemptTimeout time.Duration // bound on a single attempt (default 10s)
	BackoffBase    time.Duration // delay before the second attempt, doubled after; zero retries immediately
	BackoffMax     time.Duration // cap on the backoff delay
	Logger         *slog.Logger
}

// DefaultConnectOptions returns sensible defaults.
func DefaultConnectOptions() ConnectOptions {
	return ConnectOptions{
		MaxAttempts:    4,
		AttemptTimeout: 10 * time.Second,
		BackoffBase:    250 * time.Millisecond,
		BackoffMax:     2 * time.Second,
	}
}

// EstablishConnection connects to address with bounded retries. Every
// failure is classified as ErrTimeout or ErrLink; cancelling ctx stops the
// loop early.
func EstablishConnection(ctx context.Context, adapter Adapter, address string, opts ConnectOptions) (Connection, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 4
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 10 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", Classify(err))
	}

	var lastErr error
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		// On the first attempt, try immediately; subsequent attempts use backoff.
		if attempt > 0 {
			delay := backoffDelay(attempt-1, opts.BackoffBase, opts.BackoffMax)
			log.Debug("[BLE] connect backoff", "address", address, "attempt", attempt+1, "delay", delay)
			if err := sleepContext(ctx, delay); err != nil {
				return nil, fmt.Errorf("ble: connect to %s: %w", address, Classify(err))
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, opts.AttemptTimeout)
		conn, err := adapter.Connect(attemptCtx, address)
		cancel()
		if err == nil {
			log.Debug("[BLE] connected", "address", address, "attempt", attempt+1)
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", address, Classify(ctx.Err()))
		}

		lastErr = Classify(err)
		log.Warn("[BLE] connect attempt failed", "address", address, "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("ble: connect to %s failed after %d attempts: %w", address, opts.MaxAttempts, lastErr)
}

// Classify wraps err with ErrTimeout or ErrLink unless it already carries
// one of them. Cancellation is returned unchanged.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrLink):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrLink, err)
	}
}

// backoffDelay returns the delay before retry n (0-based): base doubled n
// times, capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	delay := base << uint(attempt)
	if max > 0 && (delay > max || delay <= 0) {
		return max
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
