// Package extract turns provider markup into listing records.
package extract

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	priceRegex      = regexp.MustCompile(`((?:\d{1,3}(?:\.\d{3})+|\d{2,5})(?:,\d+)?)\s*€`)
	roomsRegex      = regexp.MustCompile(`(?i)(\d+(?:[.,]\d)?)\s*(?:Zimmer|Zi)\b`)
	sizeRegex       = regexp.MustCompile(`(?i)(\d{2,4})\s*(?:m²|qm\b|m2\b)`)
	multiSpaceRegex = regexp.MustCompile(`\s+`)
)

// Fields holds the numeric values found in a listing text. Nil means not found.
type Fields struct {
	Price *float64
	Rooms *float64
	Size  *float64
}

// Normalize pulls price, room count and living area out of free text.
// The first match of each pattern wins.
func Normalize(text string) Fields {
	t := CollapseSpace(text)

	var f Fields
	if m := priceRegex.FindStringSubmatch(t); m != nil {
		raw := strings.ReplaceAll(m[1], ".", "")
		f.Price = parseDecimal(raw)
	}
	if m := roomsRegex.FindStringSubmatch(t); m != nil {
		f.Rooms = parseDecimal(m[1])
	}
	if m := sizeRegex.FindStringSubmatch(t); m != nil {
		f.Size = parseDecimal(m[1])
	}
	return f
}

// CollapseSpace replaces whitespace runs with one space and trims the ends.
func CollapseSpace(s string) string {
	return strings.TrimSpace(multiSpaceRegex.ReplaceAllString(s, " "))
}

func parseDecimal(s string) *float64 {
	v, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return nil
	}
	return &v
}
