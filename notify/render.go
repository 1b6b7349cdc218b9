package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strconv"
	"strings"

	"wohnwatch/models"
)

var htmlTemplate = template.Must(template.New("listings").Funcs(template.FuncMap{
	"num": formatNumber,
}).Parse(`<h3>Neue Angebote ({{len .}})</h3>
<table border="1" cellpadding="6" cellspacing="0">
<tr><th>Titel</th><th>Anbieter</th><th>Bezirk/Ort</th><th>Preis</th><th>Zimmer</th><th>m²</th><th>Link</th></tr>
{{range .}}<tr><td>{{.Title}}</td><td>{{.Provider}}</td><td>{{.Location}}</td><td>{{num .Price}}</td><td>{{num .Rooms}}</td><td>{{num .Size}}</td><td><a href="{{.URL}}">Öffnen</a></td></tr>
{{end}}</table>
`))

// Subject is the mail subject for a batch of n listings.
func Subject(n int) string {
	return fmt.Sprintf("Neue Wohnungsangebote (%d)", n)
}

// RenderHTML renders the listings as an HTML table. All listing text is escaped.
func RenderHTML(listings []models.Listing) (string, error) {
	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, listings); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderText renders one line per listing.
func RenderText(listings []models.Listing) string {
	lines := make([]string, 0, len(listings))
	for _, l := range listings {
		lines = append(lines, fmt.Sprintf("%s | %s | %s | %s € | %s Zi | %s m² | %s",
			l.Title, l.Provider, l.Location, formatNumber(l.Price), formatNumber(l.Rooms), formatNumber(l.Size), l.URL))
	}
	return strings.Join(lines, "\n")
}

func formatNumber(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
