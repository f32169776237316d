package provider

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sightline/pkg/model"
)

// ErrDuplicateProvider is wrapped when two providers share an ID
var ErrDuplicateProvider = goerr.New("duplicate provider")

// Registry is an ordered set of providers. The order is the scheduling order
// of a batch.
type Registry struct {
	providers []Provider
}

// NewRegistry builds a registry. Providers sharing an ID are rejected.
func NewRegistry(providers ...Provider) (*Registry, error) {
	seen := make(map[model.ProviderID]struct{}, len(providers))
	r := &Registry{}
	for _, p := range providers {
		if p == nil {
			return nil, goerr.New("provider is nil")
		}
		if _, ok := seen[p.ID()]; ok {
			return nil, goerr.Wrap(ErrDuplicateProvider, "provider registered twice", goerr.V("provider", p.ID()))
		}
		seen[p.ID()] = struct{}{}
		r.providers = append(r.providers, p)
	}
	return r, nil
}

// Providers returns the registered providers in order
func (r *Registry) Providers() []Provider {
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

func (r *Registry) Len() int {
	return len(r.providers)
}
