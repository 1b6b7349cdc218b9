package extract

import "strings"

// MatchesDistrict reports whether text mentions any of the wanted districts.
// Matching is case-insensitive substring containment; no wanted districts matches all.
func MatchesDistrict(text string, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	hay := strings.ToLower(text)
	for _, d := range wanted {
		if strings.Contains(hay, strings.ToLower(d)) {
			return true
		}
	}
	return false
}
