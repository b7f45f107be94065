package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	// sweepInterval is how often Allow opportunistically scans for idle
	// keys. There is no background goroutine; an idle limiter costs
	// nothing.
	sweepInterval = time.Minute

	// idleEviction is how long a key may go unseen before its bucket is
	// dropped.
	idleEviction = 10 * time.Minute
)

// cell tracks the bucket fill for one key.
type cell struct {
	level float64   // tokens currently available
	seen  time.Time // last refill instant
}

// MemoryLimiter is a per-key token bucket held entirely in process
// memory. Suited to a single-instance deployment; a shared backend can
// replace it behind the Limiter interface.
type MemoryLimiter struct {
	rate  float64 // tokens restored per second
	burst float64 // bucket capacity

	mu      sync.Mutex
	cells   map[string]*cell
	sweepAt time.Time
}

// NewMemoryLimiter creates a limiter allowing a sustained rate of
// requests per second per key, with bursts up to burst.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	return &MemoryLimiter{
		rate:    rate,
		burst:   float64(burst),
		cells:   make(map[string]*cell),
		sweepAt: time.Now().Add(sweepInterval),
	}
}

// Allow spends one token from the bucket for key, first restoring
// tokens for the time elapsed since the previous call.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.After(l.sweepAt) {
		l.sweep(now)
		l.sweepAt = now.Add(sweepInterval)
	}

	c, ok := l.cells[key]
	if !ok {
		c = &cell{level: l.burst, seen: now}
		l.cells[key] = c
	}

	c.level += now.Sub(c.seen).Seconds() * l.rate
	if c.level > l.burst {
		c.level = l.burst
	}
	c.seen = now

	if c.level < 1 {
		return false, nil
	}
	c.level--
	return true, nil
}

// Close implements Limiter. The in-memory limiter holds no resources.
func (l *MemoryLimiter) Close() error { return nil }

// sweep drops keys unseen for longer than idleEviction. Caller holds
// l.mu.
func (l *MemoryLimiter) sweep(now time.Time) {
	for key, c := range l.cells {
		if now.Sub(c.seen) > idleEviction {
			delete(l.cells, key)
		}
	}
}
