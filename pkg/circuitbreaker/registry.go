package circuitbreaker

import (
	"context"
	"sync"

	"notifyhub/pkg/metrics"
)

// Registry holds one breaker per dependency key, created lazily with a
// shared config. All callers of the same key share breaker state.
type Registry struct {
	config   Config
	breakers map[string]*CircuitBreaker
	mu       sync.Mutex
}

func NewRegistry(config Config) *Registry {
	return &Registry{
		config:   config,
		breakers: make(map[string]*CircuitBreaker),
	}
}

func (r *Registry) breaker(key string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.breakers[key]
	if !ok {
		cb = NewCircuitBreaker(r.config)
		r.breakers[key] = cb
	}
	return cb
}

// Execute runs fn through the breaker registered for key.
func (r *Registry) Execute(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	cb := r.breaker(key)
	before := cb.GetState()
	err := cb.Execute(ctx, fn)
	if after := cb.GetState(); after != before {
		metrics.IncrementBreakerTransition(key, after.String())
	}
	return err
}

// State reports the current state of the breaker for key.
func (r *Registry) State(key string) State {
	return r.breaker(key).GetState()
}

// Reset closes the breaker for key.
func (r *Registry) Reset(key string) {
	r.breaker(key).Reset()
}
