package domain

import (
	"fmt"
	"time"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
)

// RawRecord maps a source column name to its string value for one CSV row.
type RawRecord map[string]string

// Incident types.
const (
	TypeCollision      = "collision"
	TypeNearMiss       = "near_miss"
	TypeSuddenBehavior = "sudden_behavior"
	TypeBlockage       = "blockage"
	TypeOther          = "other"
)

// Verification states.
const (
	StatusVerified   = "verified"
	StatusUnverified = "unverified"
)

// Provenance tags for the source column.
const (
	SourceNHTSA      = "nhtsa"
	SourceDMV        = "dmv"
	SourceCPUC       = "cpuc"
	SourceUserReport = "user_report"
)

// GeoTier records which resolution strategy produced an incident's coordinates.
type GeoTier string

const (
	TierReal   GeoTier = "real"   // GPS coordinates supplied by the source
	TierStreet GeoTier = "street" // narrative or address geocoded to a street
	TierCity   GeoTier = "city"   // city center with jitter
	TierState  GeoTier = "state"  // static state center with jitter
)

// SRID is the spatial reference (WGS 84) used for every stored point.
const SRID = 4326

// Point is a WGS-84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the point lies within geographic bounds.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// WKT returns the point as well-known text, e.g. "POINT (-122.4194 37.7749)".
// Longitude comes first.
func (p Point) WKT() (string, error) {
	s, err := wkt.Marshal(geom.NewPointFlat(geom.XY, []float64{p.Lon, p.Lat}))
	if err != nil {
		return "", fmt.Errorf("encode point: %w", err)
	}
	return s, nil
}

// EWKT returns the point as extended well-known text carrying the SRID.
func (p Point) EWKT() (string, error) {
	s, err := p.WKT()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SRID=%d;%s", SRID, s), nil
}

// Incident is the unified record persisted for every source.
type Incident struct {
	IncidentType string    `json:"incident_type"`
	AVCompany    string    `json:"av_company"`
	Description  string    `json:"description"`
	Location     Point     `json:"location"`
	Address      string    `json:"address,omitempty"`
	City         string    `json:"city,omitempty"`
	State        string    `json:"state,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
	ReportedAt   time.Time `json:"reported_at"`
	Status       string    `json:"status"`
	Source       string    `json:"source"`
	ExternalID   string    `json:"external_id"`
	Fatalities   int       `json:"fatalities"`
	Injuries     int       `json:"injuries"`
	GeoTier      GeoTier   `json:"geo_tier,omitempty"`
	RawData      RawRecord `json:"raw_data,omitempty"`
}

// LocationHint carries the raw location evidence of a record before resolution.
type LocationHint struct {
	Latitude  string
	Longitude string
	Address   string
	Narrative string
	City      string
	State     string
}

// PendingIncident is a normalized incident whose location is not yet resolved.
type PendingIncident struct {
	Incident Incident
	Hint     LocationHint
}
