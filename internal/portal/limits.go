package portal

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// limits hands out one token bucket per portal so lookups and submissions
// never hammer the same site.
type limits struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newLimits() *limits {
	return &limits{limiters: make(map[string]*rate.Limiter)}
}

func (l *limits) wait(ctx context.Context, cfg Config) error {
	return l.get(cfg).Wait(ctx)
}

func (l *limits) get(cfg Config) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[cfg.Name]; ok {
		return lim
	}
	rps, burst := cfg.RateLimitRPS, cfg.Burst
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	lim := rate.NewLimiter(rate.Limit(rps), burst)
	l.limiters[cfg.Name] = lim
	return lim
}
