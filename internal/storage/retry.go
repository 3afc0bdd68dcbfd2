package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// RetryPolicy bounds retries of transient Postgres conflicts.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryPolicy is used when a caller supplies a zero policy.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, BaseDelay: 20 * time.Millisecond}

// isRetriable returns true for Postgres error codes that indicate a transient conflict.
func isRetriable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03": // lock_not_available
		return true
	default:
		return false
	}
}

// WithRetry executes fn, retrying on serialization, deadlock and lock
// timeout errors with jittered exponential backoff starting at p.BaseDelay.
func WithRetry(ctx context.Context, p RetryPolicy, fn func() error) error {
	if p.BaseDelay <= 0 {
		p = DefaultRetryPolicy
	}
	delay := p.BaseDelay
	var err error
	for attempt := range p.MaxRetries + 1 {
		err = fn()
		if err == nil || !isRetriable(err) {
			return err
		}
		if attempt == p.MaxRetries {
			break
		}
		jitter := time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
	return err
}
