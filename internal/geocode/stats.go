package geocode

import (
	"sync/atomic"

	"github.com/couchcryptid/av-incident-etl/internal/domain"
)

// Stats counts resolutions per accuracy tier. Safe for concurrent use.
type Stats struct {
	real   atomic.Int64
	street atomic.Int64
	city   atomic.Int64
	state  atomic.Int64
}

// Record counts one resolution.
func (s *Stats) Record(tier domain.GeoTier) {
	switch tier {
	case domain.TierReal:
		s.real.Add(1)
	case domain.TierStreet:
		s.street.Add(1)
	case domain.TierCity:
		s.city.Add(1)
	case domain.TierState:
		s.state.Add(1)
	}
}

// Snapshot returns the current counts.
func (s *Stats) Snapshot() Accuracy {
	return Accuracy{
		Real:   int(s.real.Load()),
		Street: int(s.street.Load()),
		City:   int(s.city.Load()),
		State:  int(s.state.Load()),
	}
}

// Accuracy is the coordinate-accuracy breakdown of a run.
type Accuracy struct {
	Real   int `json:"real"`
	Street int `json:"street"`
	City   int `json:"city"`
	State  int `json:"state"`
}

// Total is the number of resolved locations.
func (a Accuracy) Total() int {
	return a.Real + a.Street + a.City + a.State
}

// Add returns the element-wise sum of two breakdowns.
func (a Accuracy) Add(b Accuracy) Accuracy {
	return Accuracy{
		Real:   a.Real + b.Real,
		Street: a.Street + b.Street,
		City:   a.City + b.City,
		State:  a.State + b.State,
	}
}

// Sub returns the element-wise difference a - b.
func (a Accuracy) Sub(b Accuracy) Accuracy {
	return Accuracy{
		Real:   a.Real - b.Real,
		Street: a.Street - b.Street,
		City:   a.City - b.City,
		State:  a.State - b.State,
	}
}

// Map renders the breakdown for JSON metadata columns.
func (a Accuracy) Map() map[string]any {
	return map[string]any{
		"real":   a.Real,
		"street": a.Street,
		"city":   a.City,
		"state":  a.State,
	}
}
