package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Sweep cadence and the idle age after which a key's bucket is
// reclaimed. Keys are per caller ("user:<id>" once authenticated,
// "ip:<addr>" before), so idle entries accumulate as clients come and
// go.
const (
	sweepInterval = time.Minute
	idleEviction  = 10 * time.Minute
)

// entry is the bucket state for one key.
type entry struct {
	tokens float64
	seen   time.Time
}

// take refills the bucket for the time elapsed since the last call,
// capped at burst, and consumes one token when available.
func (e *entry) take(now time.Time, rate, burst float64) bool {
	e.tokens += now.Sub(e.seen).Seconds() * rate
	if e.tokens > burst {
		e.tokens = burst
	}
	e.seen = now
	if e.tokens < 1 {
		return false
	}
	e.tokens--
	return true
}

// MemoryLimiter is a per-key token bucket held entirely in process
// memory, the default for single-instance deployments. A multi-replica
// deployment would swap in a shared implementation behind the same
// interface.
type MemoryLimiter struct {
	rate  float64
	burst float64

	mu      sync.Mutex
	entries map[string]*entry

	closeOnce sync.Once
	done      chan struct{}
}

// NewMemoryLimiter creates a limiter sustaining rate requests per
// second per key, with bursts up to burst. A background sweeper
// reclaims idle keys; Close stops it.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		rate:    rate,
		burst:   float64(burst),
		entries: make(map[string]*entry),
		done:    make(chan struct{}),
	}
	go m.sweep()
	return m
}

// Allow implements Limiter. The first request for an unseen key draws
// from a full bucket.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		e = &entry{tokens: m.burst, seen: now}
		m.entries[key] = e
	}
	return e.take(now, m.rate, m.burst), nil
}

// Close implements Limiter, stopping the sweeper. Idempotent.
func (m *MemoryLimiter) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryLimiter) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictIdle(time.Now())
		}
	}
}

// evictIdle drops entries not seen since the eviction horizon.
func (m *MemoryLimiter) evictIdle(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	horizon := now.Add(-idleEviction)
	for key, e := range m.entries {
		if e.seen.Before(horizon) {
			delete(m.entries, key)
		}
	}
}
