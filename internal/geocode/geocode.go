// Package geocode resolves incident locations to coordinates through a tiered
// policy: real GPS from the source, a geocoded street, a geocoded city center,
// and finally a static state center. Lookups against the external provider are
// memoized per run, including lookups that found nothing.
package geocode

import (
	"context"
	"strings"
)

// ResultTypes restricts which kinds of place a provider may return.
type ResultTypes []string

var (
	// PlaceTypes restricts results to cities and towns.
	PlaceTypes = ResultTypes{"place", "locality"}
	// AddressTypes restricts results to streets, addresses and points of interest.
	AddressTypes = ResultTypes{"address", "poi"}
)

// String joins the types the way place-search APIs expect them.
func (t ResultTypes) String() string {
	return strings.Join(t, ",")
}

// Candidate is one provider match.
type Candidate struct {
	Lat         float64
	Lon         float64
	DisplayName string
}

// Provider searches a place-search API. Implementations return candidates
// best first; an empty slice means no match.
type Provider interface {
	Search(ctx context.Context, query string, types ResultTypes) ([]Candidate, error)
}

// Lookup is a cached provider outcome. Found is false for the explicit
// not-found marker.
type Lookup struct {
	Candidate Candidate
	Found     bool
}

// CityState is a distinct city and state pair to prewarm.
type CityState struct {
	City  string
	State string
}

func cityKey(city, state string) string {
	return strings.ToLower(strings.TrimSpace(city) + "," + strings.TrimSpace(state))
}

func streetKey(street, city, state string) string {
	return strings.ToLower(strings.TrimSpace(street) + "," + strings.TrimSpace(city) + "," + strings.TrimSpace(state))
}

// joinQuery builds "part, part" from the non-empty parts.
func joinQuery(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}
