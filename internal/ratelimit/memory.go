package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	staleThreshold  = 15 * time.Minute
	cleanupInterval = time.Minute
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter keeps one token bucket per key in process memory.
// A background goroutine evicts keys idle for longer than staleThreshold.
type MemoryLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates a limiter that refills perMinute tokens a minute
// up to burst. Call Close to stop the cleanup goroutine.
func NewMemoryLimiter(perMinute float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		limit:   rate.Limit(perMinute / 60),
		burst:   max(burst, 1),
		entries: make(map[string]*entry),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Allow consumes one token from the bucket for key.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1), nil
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *MemoryLimiter) evictStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-staleThreshold)
	for key, e := range m.entries {
		if e.lastSeen.Before(cutoff) {
			delete(m.entries, key)
		}
	}
}
