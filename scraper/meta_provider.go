package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"wohnwatch/config"
	"wohnwatch/models"
)

const metaTitleFormat = "Sammelsuche in allen Gesellschaften (%s)"

// SearchEngineProvider never fetches anything. It links to a web search restricted to
// the other providers' domains, so a search always has at least one usable result.
type SearchEngineProvider struct {
	cfg     *config.ProviderConfig
	domains []string
	city    string
}

func NewSearchEngineProvider(pc *config.ProviderConfig, domains []string, city string) *SearchEngineProvider {
	return &SearchEngineProvider{
		cfg:     pc,
		domains: append([]string(nil), domains...),
		city:    city,
	}
}

func (p *SearchEngineProvider) ID() string    { return p.cfg.ID }
func (p *SearchEngineProvider) Name() string  { return p.cfg.Name }
func (p *SearchEngineProvider) Enabled() bool { return p.cfg.IsEnabled() }

// Query is the search phrase: city, districts, then one site: term per domain.
func (p *SearchEngineProvider) Query(c models.Criteria) string {
	terms := []string{p.city}
	terms = append(terms, c.Bezirke...)
	for _, d := range p.domains {
		terms = append(terms, "site:"+d)
	}
	return strings.Join(terms, " ")
}

func (p *SearchEngineProvider) SearchURL(c models.Criteria) string {
	base := p.cfg.SearchURL
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "q=" + url.QueryEscape(p.Query(c))
}

// engineName is the display name without the "Fallback" suffix used in provider lists.
func (p *SearchEngineProvider) engineName() string {
	return strings.TrimSpace(strings.TrimSuffix(p.cfg.Name, "Fallback"))
}

func (p *SearchEngineProvider) Search(ctx context.Context, c models.Criteria) ([]models.Listing, error) {
	link := p.SearchURL(c)
	name := p.engineName()
	return []models.Listing{{
		ID:       link,
		URL:      link,
		Title:    fmt.Sprintf(metaTitleFormat, name),
		Provider: name,
		Location: locationLabel(c, p.city),
		Kind:     models.KindMeta,
	}}, nil
}
