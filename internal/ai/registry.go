package ai

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry maps backend identifiers to constructed providers.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[BackendID]Provider
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[BackendID]Provider),
	}
}

// Register adds a provider under id, replacing any previous one.
func (r *Registry) Register(id BackendID, provider Provider) error {
	if id == "" {
		return fmt.Errorf("backend id cannot be empty")
	}
	if provider == nil {
		return fmt.Errorf("cannot register nil provider for backend %q", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers[id] = provider
	return nil
}

// Get retrieves the provider registered under id.
func (r *Registry) Get(id BackendID) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, ok := r.providers[id]
	return provider, ok
}

// List returns all registered backend ids in sorted order.
func (r *Registry) List() []BackendID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]BackendID, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Summarize routes req to the provider registered under id.
// An unknown id yields ErrUnsupportedBackend without any network call.
func (r *Registry) Summarize(ctx context.Context, id BackendID, req *Request) (string, *Stats, error) {
	provider, ok := r.Get(id)
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, id)
	}
	return provider.Summarize(ctx, req)
}
