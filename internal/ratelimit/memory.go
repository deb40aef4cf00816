package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryBucketer is an in-memory implementation of Bucketer for tests
// and single-instance deployments. Buckets are created lazily on first
// use and garbage-collected after prolonged inactivity; losing a bucket
// only resets a client's allowance.
type MemoryBucketer struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	idleAfter time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// NewMemoryBucketer creates an in-memory bucket store. Buckets idle for
// longer than idleAfter are pruned opportunistically during Consume.
func NewMemoryBucketer(idleAfter time.Duration) *MemoryBucketer {
	return &MemoryBucketer{
		buckets:   make(map[string]*bucket),
		idleAfter: idleAfter,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (m *MemoryBucketer) Consume(_ context.Context, key string, cost float64, limit Limit) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweepLocked(now)

	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{tokens: limit.Capacity, lastSeen: now}
		m.buckets[key] = b
	}

	// Refill for elapsed time, capped at capacity.
	elapsed := now.Sub(b.lastSeen).Seconds()
	if elapsed > 0 {
		b.tokens = min(limit.Capacity, b.tokens+elapsed*limit.RefillRate)
	}

	b.lastSeen = now

	if b.tokens >= cost {
		b.tokens -= cost

		return Decision{Allowed: true, Remaining: b.tokens}, nil
	}

	return Decision{
		Allowed:    false,
		Remaining:  b.tokens,
		RetryAfter: retryAfter(cost, b.tokens, limit.RefillRate),
	}, nil
}

// sweepLocked prunes idle buckets at most once per idle window.
func (m *MemoryBucketer) sweepLocked(now time.Time) {
	if m.idleAfter <= 0 || now.Sub(m.lastSweep) < m.idleAfter {
		return
	}

	cutoff := now.Add(-m.idleAfter)
	for key, b := range m.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(m.buckets, key)
		}
	}

	m.lastSweep = now
}

// Compile-time check.
var _ Bucketer = (*MemoryBucketer)(nil)
