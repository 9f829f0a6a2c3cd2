// Package adapters holds the per-provider gateway strategies and the registry
// the service resolves them from.
package adapters

import (
	"sort"
	"strings"

	gatewaydomain "github.com/thanhtoan69/ahihi-sub023/internal/gateway/domain"
)

// Registry maps provider names to configured strategies. Providers whose
// credentials are absent from configuration are simply not registered, so an
// unavailable gateway fails fast with ErrProviderNotFound.
type Registry struct {
	providers map[string]gatewaydomain.Provider
}

func NewRegistry(providers ...gatewaydomain.Provider) *Registry {
	registry := &Registry{providers: make(map[string]gatewaydomain.Provider, len(providers))}
	for _, p := range providers {
		if p == nil {
			continue
		}
		registry.providers[strings.ToLower(p.Name())] = p
	}
	return registry
}

// Get resolves a provider by name.
func (r *Registry) Get(name string) (gatewaydomain.Provider, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Exists reports whether a provider is registered.
func (r *Registry) Exists(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names lists registered providers, sorted for stable logs.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
