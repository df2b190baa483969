package integrations

import (
	"log"
	"sync"
)

// Provider is the common surface of every external AI service client.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Configured reports whether the provider has the credentials it needs.
	// Unconfigured providers still answer calls, with ErrProviderNotConfigured.
	Configured() bool
}

// Registry holds the providers wired into the process, keyed by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a new provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider to the registry.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.Name()]; exists {
		log.Printf("WARN [ProviderRegistry] Provider '%s' is already registered. Overwriting.", p.Name())
	}
	r.providers[p.Name()] = p
	log.Printf("[ProviderRegistry] Registered provider: %s (configured: %t)", p.Name(), p.Configured())
}

// Status reports, per provider, whether it is configured.
func (r *Registry) Status() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.providers))
	for name, p := range r.providers {
		out[name] = p.Configured()
	}
	return out
}
