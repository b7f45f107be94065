// Package ratelimit guards mutation-heavy endpoints with per-client
// request budgets.
//
// MemoryLimiter is the built-in implementation; anything satisfying
// Limiter can stand in for it.
package ratelimit

import "context"

// Limiter answers whether the request identified by key may proceed.
// Keys are opaque; callers construct them (typically from the client
// IP). Implementations must be safe for concurrent use. A non-nil
// error signals a limiter malfunction and callers fail open.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}

// NoopLimiter admits everything. Used when rate limiting is disabled.
type NoopLimiter struct{}

func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func (NoopLimiter) Close() error { return nil }
