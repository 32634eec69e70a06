package resilience

import (
	"sort"
	"sync"
)

// Registry hands out one shared CircuitBreaker per endpoint.
type Registry struct {
	cfg  BreakerConfig
	opts []BreakerOption

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates a registry whose breakers use cfg and opts.
func NewRegistry(cfg BreakerConfig, opts ...BreakerOption) *Registry {
	return &Registry{
		cfg:      cfg,
		opts:     opts,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for endpoint, creating it on first use.
func (r *Registry) Get(endpoint string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[endpoint]; ok {
		return b
	}
	b := NewCircuitBreaker(endpoint, r.cfg, r.opts...)
	r.breakers[endpoint] = b
	return b
}

// Snapshots returns a view of every breaker, sorted by name.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	list := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(list))
	for _, b := range list {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
