package memorylimiter

import (
	"sync"
	"time"
)

// Limit configures a fixed-window rate limit.
type Limit struct {
	Limit  int
	Window time.Duration
}

type window struct {
	start time.Time
	count int
}

// Limiter is a per-key fixed-window rate limiter. It is only meaningful for
// single-process deployments; multi-replica gateways should rate limit at the
// edge instead.
type Limiter struct {
	mu      sync.Mutex
	limits  map[string]Limit
	windows map[string]window
}

func New(limits map[string]Limit) *Limiter {
	return &Limiter{limits: limits, windows: make(map[string]window)}
}

// AllowNamed applies the bucket's limit to key. Unknown buckets fall back to
// the "default" bucket; with no default either, the request is allowed.
func (l *Limiter) AllowNamed(bucket, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limits[bucket]
	if !ok {
		lim, ok = l.limits["default"]
		if !ok {
			return true, nil
		}
	}
	if lim.Limit <= 0 || lim.Window <= 0 {
		return true, nil
	}
	now := time.Now()
	w := l.windows[key]
	if w.start.IsZero() || now.Sub(w.start) >= lim.Window {
		w = window{start: now}
	}
	if w.count >= lim.Limit {
		l.windows[key] = w
		return false, nil
	}
	w.count++
	l.windows[key] = w
	return true, nil
}
