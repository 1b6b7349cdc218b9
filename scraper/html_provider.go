package scraper

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"wohnwatch/config"
	"wohnwatch/extract"
	"wohnwatch/models"
)

// HTMLProvider scrapes listing cards from a provider's own pages.
type HTMLProvider struct {
	cfg         *config.ProviderConfig
	linkPattern *regexp.Regexp
	resolver    *Resolver
}

func NewHTMLProvider(pc *config.ProviderConfig, deps Dependencies) (*HTMLProvider, error) {
	pattern, err := regexp.Compile(pc.LinkPattern)
	if err != nil {
		return nil, fmt.Errorf("provider %s: link pattern: %w", pc.ID, err)
	}

	fetcher := deps.fetcherFor(pc.Fetcher)
	if fetcher == nil {
		return nil, fmt.Errorf("provider %s: no %s fetcher available", pc.ID, pc.Fetcher)
	}

	extractor := extract.NewCardExtractor(pc.Selectors, deps.city())
	resolver := NewResolver(fetcher, extractor, deps.city())
	if deps.Archiver != nil {
		resolver.SetArchiver(deps.Archiver)
	}

	return &HTMLProvider{
		cfg:         pc,
		linkPattern: pattern,
		resolver:    resolver,
	}, nil
}

func (p *HTMLProvider) ID() string    { return p.cfg.ID }
func (p *HTMLProvider) Name() string  { return p.cfg.Name }
func (p *HTMLProvider) Enabled() bool { return p.cfg.IsEnabled() }

func (p *HTMLProvider) LinkPattern() *regexp.Regexp {
	return p.linkPattern
}

// Candidates returns the pages to try in order. When the provider understands query
// filters, the filtered variants come first and the plain pages stay as a backstop.
func (p *HTMLProvider) Candidates(c models.Criteria) []string {
	out := make([]string, 0, len(p.cfg.Candidates)*2)
	if params := p.queryValues(c); len(params) > 0 {
		for _, candidate := range p.cfg.Candidates {
			if u, ok := withQuery(candidate, params); ok {
				out = append(out, u)
			}
		}
	}
	return append(out, p.cfg.Candidates...)
}

func (p *HTMLProvider) FallbackURL(c models.Criteria) string {
	if p.cfg.Fallback == "" {
		return ""
	}
	if params := p.queryValues(c); len(params) > 0 {
		if u, ok := withQuery(p.cfg.Fallback, params); ok {
			return u
		}
	}
	return p.cfg.Fallback
}

func (p *HTMLProvider) Search(ctx context.Context, c models.Criteria) ([]models.Listing, error) {
	return p.resolver.Resolve(ctx, Target{
		Name:        p.cfg.Name,
		Candidates:  p.Candidates(c),
		LinkPattern: p.linkPattern,
		FallbackURL: p.FallbackURL(c),
		Criteria:    c,
	}), nil
}

func (p *HTMLProvider) queryValues(c models.Criteria) url.Values {
	q := p.cfg.Query
	if q.IsZero() {
		return nil
	}

	v := url.Values{}
	if q.District != "" && c.HasDistricts() {
		v.Set(q.District, strings.Join(c.Bezirke, ","))
	}
	setFloat(v, q.RoomsMin, c.ZimmerMin)
	setFloat(v, q.RoomsMax, c.ZimmerMax)
	setFloat(v, q.PriceMax, c.PreisMax)
	setFloat(v, q.AreaMin, c.FlaecheMin)
	return v
}

func setFloat(v url.Values, key string, val *float64) {
	if key == "" || val == nil {
		return
	}
	v.Set(key, strconv.FormatFloat(*val, 'f', -1, 64))
}

// withQuery adds params to raw, keeping any query it already carries.
func withQuery(raw string, params url.Values) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	q := u.Query()
	for k, vals := range params {
		q[k] = vals
	}
	u.RawQuery = q.Encode()
	return u.String(), true
}
