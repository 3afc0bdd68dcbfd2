// Package ratelimit bounds how often one caller may start model-backed work.
//
// Every pipeline request fans out into several chat completions, so the
// limiter guards spend rather than server capacity.
package ratelimit

import "context"

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the request should proceed. The key is opaque;
	// callers construct it (e.g. "sub:<subject>" or "ip:<addr>"). An error
	// signals a limiter malfunction and callers fail open.
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases resources (cleanup goroutines).
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
