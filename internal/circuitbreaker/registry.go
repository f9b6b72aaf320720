package circuitbreaker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Registry holds one circuit breaker per dependency name for the process
// lifetime. Breakers are created lazily on first use and never removed;
// recovery happens through state transitions only. The registry is shared
// across concurrent queries and is injected rather than ambient so tests
// can substitute a fresh instance.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   Config
	retry    RetryPolicy
	logger   *zap.Logger
}

// NewRegistry creates a registry. The config and retry policy apply to
// every breaker it creates.
func NewRegistry(config Config, retry RetryPolicy, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy()
	}
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
		retry:    retry,
		logger:   logger,
	}
}

// Get returns the breaker for a dependency, creating it on first call.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok = r.breakers[name]; ok {
		return cb
	}
	cfg := r.config
	prev := cfg.OnStateChange
	cfg.OnStateChange = func(n string, from, to State) {
		recordStateChange(n, from, to)
		if prev != nil {
			prev(n, from, to)
		}
	}
	cb = NewCircuitBreaker(name, cfg, r.logger)
	r.breakers[name] = cb
	return cb
}

// Execute runs fn against the named dependency with the full resilience
// wrapper: fail fast while the breaker is open, retry with backoff while
// it is closed or half-open. A call that exhausts its retries counts as a
// single failure toward the breaker.
func (r *Registry) Execute(ctx context.Context, name string, fn func(context.Context) error) error {
	cb := r.Get(name)
	err := cb.Execute(ctx, func() error {
		return Retry(ctx, r.retry, fn)
	})
	recordRequest(name, cb.State(), err)
	return err
}

// States returns a snapshot of breaker states by dependency name.
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.breakers))
	for name, cb := range r.breakers {
		out[name] = cb.State()
	}
	return out
}
