package breaker

import (
	"sort"
	"sync"
)

// Registry hands out one Breaker per dependency name. Breakers created by the
// same registry share its Options.
type Registry struct {
	opts Options

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry
func NewRegistry(opts Options) *Registry {
	return &Registry{opts: opts, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for name, creating it on first use
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, r.opts)
	r.breakers[name] = b
	return b
}

// Statuses returns every breaker's status, sorted by name
func (r *Registry) Statuses() []Status {
	r.mu.Lock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()

	out := make([]Status, 0, len(list))
	for _, b := range list {
		out = append(out, b.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
