// Package ratelimit throttles outbound calls to external discovery
// sources. Each source key gets an independent token bucket; keys not
// configured fall back to a shared default.
package ratelimit

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// SourceLimit configures one source's bucket.
type SourceLimit struct {
	// RequestsPerSecond is the sustained refill rate.
	RequestsPerSecond float64
	// Burst is the bucket capacity. Defaults to 1 when unset.
	Burst int
}

// Registry holds one rate limiter per source key.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limits   map[string]SourceLimit
	fallback SourceLimit
}

// NewRegistry creates a limiter registry. limits maps source keys to
// their budgets; fallback applies to any key without an entry.
func NewRegistry(limits map[string]SourceLimit, fallback SourceLimit) *Registry {
	if fallback.RequestsPerSecond <= 0 {
		fallback.RequestsPerSecond = 1
	}
	return &Registry{
		limiters: make(map[string]*rate.Limiter),
		limits:   limits,
		fallback: fallback,
	}
}

// Acquire blocks until the source's bucket grants a token or ctx is
// cancelled. A nil Registry never blocks.
func (r *Registry) Acquire(ctx context.Context, sourceKey string) error {
	if r == nil {
		return nil
	}
	if err := r.limiter(sourceKey).Wait(ctx); err != nil {
		return eris.Wrapf(err, "ratelimit: waiting on %q", sourceKey)
	}
	return nil
}

// Allow reports whether a token is immediately available without
// consuming time. Used by health probes.
func (r *Registry) Allow(sourceKey string) bool {
	if r == nil {
		return true
	}
	return r.limiter(sourceKey).Allow()
}

func (r *Registry) limiter(sourceKey string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[sourceKey]; ok {
		return l
	}

	cfg, ok := r.limits[sourceKey]
	if !ok {
		cfg = r.fallback
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = r.fallback.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	l := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	r.limiters[sourceKey] = l
	return l
}
