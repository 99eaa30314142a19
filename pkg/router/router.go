// Package router turns the backend model alias into an ordered chain of
// provider and model pairs for the upstream backend to try.
package router

import (
	"errors"
	"fmt"
	"sort"

	"github.com/pario-ai/recall/pkg/config"
)

var (
	// ErrNoProviders is returned when the backend has no providers at all.
	ErrNoProviders = errors.New("router: no providers configured")
	// ErrNoTargets is returned when every target of a route names an unknown provider.
	ErrNoTargets = errors.New("router: route has no known providers")
)

// Route is one provider and model pair to try.
type Route struct {
	Provider config.ProviderConfig
	Model    string
}

// Router holds the fallback chains compiled from the backend config.
type Router struct {
	fallback *config.ProviderConfig
	chains   map[string][]Route
}

// New compiles cfg. Targets naming unknown providers are dropped, as are
// repeats of a provider and model pair already in the chain.
func New(cfg config.BackendConfig) *Router {
	byName := make(map[string]config.ProviderConfig, len(cfg.Providers))
	for _, p := range cfg.Providers {
		byName[p.Name] = p
	}

	r := &Router{chains: make(map[string][]Route, len(cfg.Router.Routes))}
	if len(cfg.Providers) > 0 {
		r.fallback = &cfg.Providers[0]
	}
	for _, rc := range cfg.Router.Routes {
		if _, dup := r.chains[rc.Model]; dup {
			continue // first definition wins
		}
		chain := []Route{}
		seen := make(map[Route]bool)
		for _, t := range rc.Targets {
			p, ok := byName[t.Provider]
			if !ok {
				continue
			}
			model := t.Model
			if model == "" {
				model = rc.Model
			}
			route := Route{Provider: p, Model: model}
			if seen[route] {
				continue
			}
			seen[route] = true
			chain = append(chain, route)
		}
		r.chains[rc.Model] = chain
	}
	return r
}

// Resolve returns the chain for model. A model with no route goes to the
// first configured provider unchanged.
func (r *Router) Resolve(model string) ([]Route, error) {
	if r.fallback == nil {
		return nil, ErrNoProviders
	}
	chain, ok := r.chains[model]
	if !ok {
		return []Route{{Provider: *r.fallback, Model: model}}, nil
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoTargets, model)
	}
	out := make([]Route, len(chain))
	copy(out, chain)
	return out, nil
}

// Aliases lists the routed model names in sorted order.
func (r *Router) Aliases() []string {
	names := make([]string, 0, len(r.chains))
	for name := range r.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
