package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// Memory is a process-local fixed-window limiter.
type Memory struct {
	mu  sync.Mutex
	now func() time.Time
	m   map[string]window
}

func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{now: now, m: make(map[string]window)}
}

func (l *Memory) Allow(ctx context.Context, key string, limit int, win time.Duration) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	if limit <= 0 || win <= 0 {
		return Decision{Allowed: true}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.m[key]
	if !ok || !now.Before(w.resetAt) {
		w = window{resetAt: now.Add(win)}
	}
	w.count++
	l.m[key] = w

	if len(l.m) > 4096 {
		l.sweepLocked(now)
	}

	if w.count > limit {
		return Decision{Allowed: false, Count: w.count, RetryAfter: w.resetAt.Sub(now)}, nil
	}
	return Decision{Allowed: true, Count: w.count}, nil
}

func (l *Memory) sweepLocked(now time.Time) {
	for k, w := range l.m {
		if !now.Before(w.resetAt) {
			delete(l.m, k)
		}
	}
}
