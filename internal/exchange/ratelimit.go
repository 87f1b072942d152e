package exchange

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// LimiterRegistry holds one token bucket per upstream provider so that a
// burst of routing requests never exceeds a provider's published limit
type LimiterRegistry struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	stats    map[string]*LimitStats
}

// LimitStats 限流统计
type LimitStats struct {
	Allowed int64
	Waited  int64
	Denied  int64
}

// NewLimiterRegistry creates an empty registry
func NewLimiterRegistry() *LimiterRegistry {
	return &LimiterRegistry{
		limiters: make(map[string]*rate.Limiter),
		stats:    make(map[string]*LimitStats),
	}
}

// Register sets the rate for a provider, replacing any previous limiter
func (r *LimiterRegistry) Register(name string, rps float64, burst int) {
	if burst <= 0 {
		burst = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[name] = rate.NewLimiter(rate.Limit(rps), burst)
	if _, ok := r.stats[name]; !ok {
		r.stats[name] = &LimitStats{}
	}
}

// Wait blocks until the provider may make one call or ctx is done.
// Unregistered providers are not limited.
func (r *LimiterRegistry) Wait(ctx context.Context, name string) error {
	r.mu.RLock()
	limiter, ok := r.limiters[name]
	stats := r.stats[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	if limiter.Allow() {
		atomic.AddInt64(&stats.Allowed, 1)
		return nil
	}

	atomic.AddInt64(&stats.Waited, 1)
	if err := limiter.Wait(ctx); err != nil {
		atomic.AddInt64(&stats.Denied, 1)
		return fmt.Errorf("rate limit wait for %s: %w", name, err)
	}
	atomic.AddInt64(&stats.Allowed, 1)
	return nil
}

// Stats returns a copy of a provider's counters
func (r *LimiterRegistry) Stats(name string) LimitStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stats[name]
	if !ok {
		return LimitStats{}
	}
	return LimitStats{
		Allowed: atomic.LoadInt64(&s.Allowed),
		Waited:  atomic.LoadInt64(&s.Waited),
		Denied:  atomic.LoadInt64(&s.Denied),
	}
}
