package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultSweepInterval is how often stale window entries are purged.
// The interval only bounds memory, it does not affect correctness.
const DefaultSweepInterval = 5 * time.Minute

type memoryEntry struct {
	reset time.Time
	count int
}

// MemoryLimiter implements a fixed-window in-memory rate limiter. The
// window opens at the first request for a key and is not merged across
// boundaries, so up to twice the limit can land around a window edge.
type MemoryLimiter struct {
	mu       sync.Mutex
	counters map[string]*memoryEntry
}

// NewMemoryLimiter constructs a MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		counters: make(map[string]*memoryEntry),
	}
}

// Allow checks whether the request should be allowed in the key's
// current window, opening a fresh window when the previous one lapsed.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	if limit <= 0 || window <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}

	l.mu.Lock()
	entry := l.counters[key]
	if entry == nil || !now.Before(entry.reset) {
		entry = &memoryEntry{reset: now.Add(window)}
		l.counters[key] = entry
	}
	reset := entry.reset
	if entry.count >= limit {
		l.mu.Unlock()
		return Result{Allowed: false, Remaining: 0, Reset: reset}, nil
	}
	entry.count++
	remaining := limit - entry.count
	l.mu.Unlock()
	return Result{Allowed: true, Remaining: remaining, Reset: reset}, nil
}

// Sweep removes entries whose window has already ended.
func (l *MemoryLimiter) Sweep(now time.Time) {
	l.mu.Lock()
	for key, entry := range l.counters {
		if !now.Before(entry.reset) {
			delete(l.counters, key)
		}
	}
	l.mu.Unlock()
}

// StartSweeper purges expired entries every interval until ctx ends.
func (l *MemoryLimiter) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.Sweep(now)
			}
		}
	}()
}
