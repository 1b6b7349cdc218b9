package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"wohnwatch/models"
)

// DefaultCardSelectors are the generic "card-like" containers most listing pages use.
// They are applied as one union; overlapping matches are expected.
var DefaultCardSelectors = []string{
	"article", ".teaser", ".card", ".listing", ".listing-item", ".c-results__item",
	".result", "li", ".tile", ".object", ".item", ".search-result", ".search__result", ".result-item",
}

const (
	DefaultCity  = "Berlin"
	DefaultTitle = "Angebot"
)

// Options carries the provider-specific parts of one extraction.
type Options struct {
	ProviderName string
	LinkPattern  *regexp.Regexp
}

// Extractor turns fetched markup into listings. Implementations must not fetch.
type Extractor interface {
	Extract(markup []byte, sourceURL string, opts Options) ([]models.Listing, error)
}

// CardExtractor scans a document for card elements and reads one listing per card.
type CardExtractor struct {
	selectors    string
	city         string
	defaultTitle string
	locationRe   *regexp.Regexp
}

// NewCardExtractor builds an extractor. Empty selectors fall back to DefaultCardSelectors,
// an empty city to DefaultCity.
func NewCardExtractor(selectors []string, city string) *CardExtractor {
	if len(selectors) == 0 {
		selectors = DefaultCardSelectors
	}
	if city == "" {
		city = DefaultCity
	}
	return &CardExtractor{
		selectors:    strings.Join(selectors, ","),
		city:         city,
		defaultTitle: DefaultTitle,
		locationRe:   regexp.MustCompile(regexp.QuoteMeta(city) + `[^|,]*`),
	}
}

// City is the fallback location used when a card names none.
func (e *CardExtractor) City() string {
	return e.city
}

func (e *CardExtractor) Extract(markup []byte, sourceURL string, opts Options) ([]models.Listing, error) {
	base, err := url.Parse(sourceURL)
	if err != nil {
		return nil, fmt.Errorf("parse source url: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var listings []models.Listing
	seen := make(map[string]bool)

	doc.Find(e.selectors).Each(func(i int, card *goquery.Selection) {
		a := card.Find("a[href]").First()
		if a.Length() == 0 {
			return
		}
		href, _ := a.Attr("href")
		if opts.LinkPattern != nil && !opts.LinkPattern.MatchString(href) {
			return
		}
		link := resolveLink(base, href)
		if link == "" || seen[link] {
			return
		}
		seen[link] = true

		text := CollapseSpace(card.Text())
		fields := Normalize(text)

		title := CollapseSpace(a.Text())
		if title == "" {
			title = e.defaultTitle
		}

		location := strings.TrimSpace(e.locationRe.FindString(text))
		if location == "" {
			location = e.city
		}

		listings = append(listings, models.Listing{
			ID:       link,
			URL:      link,
			Title:    title,
			Provider: opts.ProviderName,
			Price:    fields.Price,
			Rooms:    fields.Rooms,
			Size:     fields.Size,
			Location: location,
			Kind:     models.KindListing,
		})
	})

	return listings, nil
}

// resolveLink makes href absolute against base. It returns "" when that is not possible.
func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}
