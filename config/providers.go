package config

import (
	"fmt"
	"regexp"
)

const (
	ProviderKindHTML   = "html"
	ProviderKindSearch = "search"

	FetcherHTTP    = "http"
	FetcherBrowser = "browser"
)

// ProviderConfig describes one housing source. HTML providers are scraped from their
// candidate pages; a search provider links to a web search over the other providers.
type ProviderConfig struct {
	ID          string      `yaml:"id"`
	Name        string      `yaml:"name"`
	Kind        string      `yaml:"kind"`
	Enabled     *bool       `yaml:"enabled"`
	Fetcher     string      `yaml:"fetcher"`
	Candidates  []string    `yaml:"candidates"`
	LinkPattern string      `yaml:"link_pattern"`
	Fallback    string      `yaml:"fallback"`
	Selectors   []string    `yaml:"selectors"`
	Query       QueryParams `yaml:"query"`
	SearchURL   string      `yaml:"search_url"`
}

// QueryParams names the query parameters a provider understands for server-side filtering.
// Empty names are not sent.
type QueryParams struct {
	District string `yaml:"district"`
	RoomsMin string `yaml:"rooms_min"`
	RoomsMax string `yaml:"rooms_max"`
	PriceMax string `yaml:"price_max"`
	AreaMin  string `yaml:"area_min"`
}

func (q QueryParams) IsZero() bool {
	return q == QueryParams{}
}

func (p *ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Validate fills defaults and rejects entries that cannot be turned into a provider.
func (p *ProviderConfig) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("provider id is required")
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	if p.Kind == "" {
		p.Kind = ProviderKindHTML
	}
	if p.Fetcher == "" {
		p.Fetcher = FetcherHTTP
	}

	switch p.Kind {
	case ProviderKindHTML:
		if len(p.Candidates) == 0 {
			return fmt.Errorf("provider %s: at least one candidate url is required", p.ID)
		}
		if _, err := regexp.Compile(p.LinkPattern); err != nil {
			return fmt.Errorf("provider %s: invalid link_pattern: %w", p.ID, err)
		}
	case ProviderKindSearch:
		if p.SearchURL == "" {
			p.SearchURL = "https://www.google.com/search"
		}
	default:
		return fmt.Errorf("provider %s: unknown kind %q", p.ID, p.Kind)
	}

	switch p.Fetcher {
	case FetcherHTTP, FetcherBrowser:
	default:
		return fmt.Errorf("provider %s: unknown fetcher %q", p.ID, p.Fetcher)
	}

	return nil
}

// DefaultProviders returns the built-in Berlin housing companies plus the web search
// fallback, in registry order.
func DefaultProviders() (map[string]*ProviderConfig, []string) {
	list := []*ProviderConfig{
		{
			ID:   "vonovia",
			Name: "Vonovia",
			Candidates: []string{
				"https://www.vonovia.de/immobiliensuche",
				"https://www.vonovia.de/de-de/mieten/immobiliensuche",
			},
			LinkPattern: `(?i)immobil|wohnung|miete`,
			Fallback:    "https://www.vonovia.de/immobiliensuche?city=Berlin",
		},
		{
			ID:   "gewobag",
			Name: "Gewobag",
			Candidates: []string{
				"https://www.gewobag.de/wohnungen/angebote/",
				"https://www.gewobag.de/Wohnungen/",
			},
			LinkPattern: `(?i)angebot|wohnung|miete`,
			Fallback:    "https://www.gewobag.de/wohnungen/angebote/?ort=Berlin",
		},
		{
			ID:   "degewo",
			Name: "DEGEWO",
			Candidates: []string{
				"https://www.degewo.de/wohnungen/wohnungsangebote/",
				"https://www.degewo.de/wohnungen/wohnungssuche/",
			},
			LinkPattern: `(?i)angebot|wohnung|miete`,
			Fallback:    "https://www.degewo.de/wohnungen/wohnungssuche/?ort=Berlin",
		},
		{
			ID:   "dw",
			Name: "Deutsche Wohnen",
			Candidates: []string{
				"https://www.deutsche-wohnen.com/mieten/wohnungsangebote/",
				"https://www.deutsche-wohnen.com/mieten/",
			},
			LinkPattern: `(?i)angebot|wohnung|miete|expose`,
			Fallback:    "https://www.deutsche-wohnen.com/mieten/",
		},
		{
			ID:   "stadtundland",
			Name: "STADT UND LAND",
			Candidates: []string{
				"https://www.stadtundland.de/wohnungen/wohnungsangebote",
				"https://www.stadtundland.de/mietangebote",
			},
			LinkPattern: `(?i)wohnung|angebot|miete`,
			Fallback:    "https://www.stadtundland.de/mietangebote",
		},
		{
			ID:   "berlinovo",
			Name: "Berlinovo",
			Candidates: []string{
				"https://www.berlinovo.de/de/wohnraum",
				"https://www.berlinovo.de/de/wohnraum/mieten",
			},
			LinkPattern: `(?i)wohn|apartment|miete|angebot`,
			Fallback:    "https://www.berlinovo.de/de/wohnraum",
		},
		{
			ID:   "google",
			Name: "Google Fallback",
			Kind: ProviderKindSearch,
		},
	}

	providers := make(map[string]*ProviderConfig, len(list))
	order := make([]string, 0, len(list))
	for _, p := range list {
		if err := p.Validate(); err != nil {
			panic(err)
		}
		providers[p.ID] = p
		order = append(order, p.ID)
	}
	return providers, order
}
