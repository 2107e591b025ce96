package provider

import (
	"sort"
	"sync"

	"healthbridge.app/syncer/internal/domain"
	"healthbridge.app/syncer/internal/model"
)

// Registry resolves adapters by provider identifier.
type Registry struct {
	mu       sync.RWMutex
	adapters map[model.Provider]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[model.Provider]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Provider()] = a
}

func (r *Registry) Get(p model.Provider) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[p]
	if !ok {
		return nil, &domain.ConfigurationError{Provider: p, Reason: "no adapter registered"}
	}
	return a, nil
}

// Webhook returns the adapter if it supports push notifications.
func (r *Registry) Webhook(p model.Provider) (WebhookAdapter, bool) {
	a, err := r.Get(p)
	if err != nil {
		return nil, false
	}
	wa, ok := a.(WebhookAdapter)
	return wa, ok
}

func (r *Registry) Providers() []model.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Provider, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
