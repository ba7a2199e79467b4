package gateway

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Request names the region and crop to fetch. An empty District asks for
// the whole state.
type Request struct {
	State    string
	District string
	Crop     string
}

// NormalizeRegion trims and collapses inner whitespace in a state or
// district name. Case is kept as the reference table spells it, since the
// remote source matches region filters exactly ("NCT of Delhi").
func NormalizeRegion(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeCrop trims, collapses inner whitespace and title-cases a crop
// name the way the remote source spells commodities ("tomato " → "Tomato").
func NormalizeCrop(s string) string {
	s = NormalizeRegion(s)
	if s == "" {
		return ""
	}
	return cases.Title(language.English).String(s)
}

// RegionKey folds a region name for case-insensitive comparison.
func RegionKey(s string) string {
	return cases.Fold().String(NormalizeRegion(s))
}

// Normalized returns the request with every name normalized.
func (r Request) Normalized() Request {
	return Request{
		State:    NormalizeRegion(r.State),
		District: NormalizeRegion(r.District),
		Crop:     NormalizeCrop(r.Crop),
	}
}
