package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of counting one request against a client's window.
// The triggering request is counted even when rejected, so an immediate
// retry cannot reset the window.
type Decision struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter bounds requests per key within a fixed window. Implementations
// must be safe for concurrent use from simultaneously handled requests.
type Limiter interface {
	Allow(key string, limit int) Decision
}

// InMemoryLimiter is a mutex-guarded fixed-window counter. State lives in
// process memory only and is lost on restart; acceptable for a
// single-process deployment.
type InMemoryLimiter struct {
	mu     sync.Mutex
	window time.Duration
	items  map[string]window
}

type window struct {
	count   int
	resetAt time.Time
}

func NewInMemory(windowDur time.Duration) *InMemoryLimiter {
	if windowDur <= 0 {
		windowDur = 15 * time.Minute
	}
	return &InMemoryLimiter{
		window: windowDur,
		items:  make(map[string]window),
	}
}

func (l *InMemoryLimiter) Allow(key string, limit int) Decision {
	if limit <= 0 {
		limit = 1
	}
	now := time.Now().UTC()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(now)
	curr, ok := l.items[key]
	if !ok || now.After(curr.resetAt) {
		curr = window{count: 0, resetAt: now.Add(l.window)}
	}
	curr.count++
	l.items[key] = curr
	remaining := limit - curr.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   curr.count <= limit,
		Count:     curr.count,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   curr.resetAt,
	}
}

// sweep drops expired windows opportunistically; memory-growth mitigation
// only, no correctness impact.
func (l *InMemoryLimiter) sweep(now time.Time) {
	for k, v := range l.items {
		if now.After(v.resetAt) {
			delete(l.items, k)
		}
	}
}
