package scraper

import (
	"context"
	"fmt"
	"strings"

	"wohnwatch/config"
	"wohnwatch/models"
)

// Provider is one housing source. Search never fails on fetch or parse problems; an
// error means the provider itself broke and contributes nothing this cycle.
type Provider interface {
	ID() string
	Name() string
	Enabled() bool
	Search(ctx context.Context, c models.Criteria) ([]models.Listing, error)
}

// NewProvider builds the provider described by pc. Search providers are built by the
// registry because they need to know the other providers' domains.
func NewProvider(pc *config.ProviderConfig, deps Dependencies) (Provider, error) {
	switch pc.Kind {
	case config.ProviderKindHTML, "":
		return NewHTMLProvider(pc, deps)
	default:
		return nil, fmt.Errorf("provider %s: kind %q cannot be built standalone", pc.ID, pc.Kind)
	}
}

// locationLabel is what synthetic records show as their location.
func locationLabel(c models.Criteria, city string) string {
	if c.HasDistricts() {
		return strings.Join(c.Bezirke, ", ")
	}
	return city
}
