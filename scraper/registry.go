package scraper

import (
	"fmt"
	"net/url"
	"strings"

	"wohnwatch/config"
	"wohnwatch/extract"
	"wohnwatch/httputil"
)

// Dependencies are the shared collaborators handed to every provider.
type Dependencies struct {
	HTTP     httputil.Fetcher
	Browser  httputil.Fetcher
	Archiver Archiver
	City     string
}

func (d Dependencies) fetcherFor(kind string) httputil.Fetcher {
	if kind == config.FetcherBrowser && d.Browser != nil {
		return d.Browser
	}
	return d.HTTP
}

func (d Dependencies) city() string {
	if d.City == "" {
		return extract.DefaultCity
	}
	return d.City
}

// Registry maps provider ids to providers. It is built once and never changes.
type Registry struct {
	providers map[string]Provider
	order     []string
}

// NewRegistry wraps already built providers, keeping their order.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if _, dup := r.providers[p.ID()]; dup {
			continue
		}
		r.providers[p.ID()] = p
		r.order = append(r.order, p.ID())
	}
	return r
}

// BuildRegistry creates every configured provider in cfg.ProviderOrder.
func BuildRegistry(cfg *config.Config, deps Dependencies) (*Registry, error) {
	if deps.City == "" {
		deps.City = cfg.City
	}

	var providers []Provider
	var domains []string
	var searchCfgs []*config.ProviderConfig
	seenDomain := make(map[string]bool)

	for _, id := range cfg.ProviderOrder {
		pc, ok := cfg.Providers[id]
		if !ok {
			continue
		}
		if pc.Kind == config.ProviderKindSearch {
			searchCfgs = append(searchCfgs, pc)
			providers = append(providers, nil)
			continue
		}

		p, err := NewProvider(pc, deps)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)

		if !pc.IsEnabled() {
			continue
		}
		if d := providerDomain(pc); d != "" && !seenDomain[d] {
			seenDomain[d] = true
			domains = append(domains, d)
		}
	}

	// Search providers fill the placeholders left above, in order.
	next := 0
	for i, p := range providers {
		if p != nil {
			continue
		}
		providers[i] = NewSearchEngineProvider(searchCfgs[next], domains, deps.city())
		next++
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}
	return NewRegistry(providers...), nil
}

func providerDomain(pc *config.ProviderConfig) string {
	for _, raw := range append([]string{pc.Fallback}, pc.Candidates...) {
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			continue
		}
		return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	}
	return ""
}

func (r *Registry) Get(id string) (Provider, bool) {
	p, ok := r.providers[id]
	return p, ok
}

func (r *Registry) Has(id string) bool {
	_, ok := r.providers[id]
	return ok
}

// IDs returns provider ids in registry order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

// All returns providers in registry order.
func (r *Registry) All() []Provider {
	out := make([]Provider, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.providers[id])
	}
	return out
}
