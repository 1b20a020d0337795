package ratelimit

import (
	"fmt"
	"sync"
)

// Registry vends limiters keyed by provider:model. Creation is lazy and
// memoized; all LLM clients in the process share one registry so bursty
// callers serialize against the same buckets.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	defaults Config
}

// NewRegistry creates a registry with the given default quota for new keys.
func NewRegistry(defaults Config) *Registry {
	return &Registry{
		limiters: make(map[string]*Limiter),
		defaults: defaults,
	}
}

// Key builds the canonical provider:model limiter key.
func Key(provider, model string) string {
	return fmt.Sprintf("%s:%s", provider, model)
}

// Get returns the limiter for provider:model, creating it on first use.
func (r *Registry) Get(provider, model string) *Limiter {
	key := Key(provider, model)
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[key]; ok {
		return l
	}
	l := New(r.defaults)
	r.limiters[key] = l
	return l
}

// Configure installs a specific quota for a key, replacing any existing
// limiter. Intended for startup wiring, not steady-state use.
func (r *Registry) Configure(provider, model string, cfg Config) *Limiter {
	key := Key(provider, model)
	r.mu.Lock()
	defer r.mu.Unlock()
	l := New(cfg)
	r.limiters[key] = l
	return l
}

// Keys lists the currently materialized limiter keys.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.limiters))
	for k := range r.limiters {
		keys = append(keys, k)
	}
	return keys
}
