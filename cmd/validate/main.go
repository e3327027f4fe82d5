// Command validate checks an incident JSON fixture produced by cmd/normalize
// against its source SGO CSV: row coverage, field integrity and geocoding tier
// consistency.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -csv data/SGO-2021-01_Incident_Reports_ADS.csv \
//	  -dataset ads \
//	  -json data/mock/incidents_ads.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/av-incident-etl/internal/domain"
	"github.com/couchcryptid/av-incident-etl/internal/geocode"
)

var (
	incidentTypes = []string{
		domain.TypeCollision, domain.TypeNearMiss, domain.TypeSuddenBehavior,
		domain.TypeBlockage, domain.TypeOther,
	}
	geoTiers = []domain.GeoTier{domain.TierReal, domain.TierStreet, domain.TierCity, domain.TierState}
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	csvPath := flag.String("csv", "", "path to the source SGO CSV")
	datasetKey := flag.String("dataset", "ads", "dataset the CSV belongs to: ads, adas or other")
	jsonPath := flag.String("json", "", "path to the incident JSON fixture")
	flag.Parse()

	if *csvPath == "" || *jsonPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*csvPath, *datasetKey, *jsonPath); code != 0 {
		os.Exit(code)
	}
}

func run(csvPath, datasetKey, jsonPath string) int {
	ds, ok := datasets()[datasetKey]
	if !ok {
		fmt.Fprintf(os.Stderr, "FATAL: unknown dataset %q\n", datasetKey)
		return 1
	}

	fmt.Println("=== AV Incident Fixture Validation ===")
	fmt.Println()

	records, err := loadCSV(csvPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load CSV: %v\n", err)
		return 1
	}
	incidents, err := loadJSON(jsonPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load JSON: %v\n", err)
		return 1
	}

	expected := domain.NewNormalizer(
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		clockwork.NewFakeClockAt(time.Date(2026, time.January, 1, 6, 0, 0, 0, time.UTC)),
	).Normalize(ds, records)

	phases := []*phase{
		validateCoverage(expected.Pending, incidents),
		validateFields(ds, incidents),
		validateTiers(incidents),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d CSV rows, %d duplicates, %d JSON incidents\n",
		len(records), expected.Duplicates, len(incidents))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			if i >= 20 {
				fmt.Printf("  ... and %d more\n", len(p.errors)-20)
				break
			}
			fmt.Printf("  %s\n", e)
		}
	}

	if !allPassed {
		return 1
	}
	return 0
}

func datasets() map[string]domain.Dataset {
	return map[string]domain.Dataset{
		"ads":   domain.ADSDataset(domain.NHTSAADSURL),
		"adas":  domain.ADASDataset(domain.NHTSAADASURL),
		"other": domain.OtherDataset(domain.NHTSAOtherURL),
	}
}

// validateCoverage checks that every non-duplicate CSV row has exactly one
// incident and nothing else is present.
func validateCoverage(expected []domain.PendingIncident, incidents []domain.Incident) *phase {
	p := &phase{name: "Row coverage"}

	want := make(map[string]domain.Incident, len(expected))
	for _, e := range expected {
		want[e.Incident.ExternalID] = e.Incident
	}

	seen := make(map[string]bool, len(incidents))
	for _, inc := range incidents {
		if seen[inc.ExternalID] {
			p.errorf("duplicate external_id %s", inc.ExternalID)
			continue
		}
		seen[inc.ExternalID] = true

		exp, ok := want[inc.ExternalID]
		if !ok {
			p.errorf("unexpected external_id %s", inc.ExternalID)
			continue
		}
		if inc.AVCompany != exp.AVCompany {
			p.errorf("%s: av_company %q, want %q", inc.ExternalID, inc.AVCompany, exp.AVCompany)
		}
		if inc.IncidentType != exp.IncidentType {
			p.errorf("%s: incident_type %q, want %q", inc.ExternalID, inc.IncidentType, exp.IncidentType)
		}
		if !inc.OccurredAt.Equal(exp.OccurredAt) {
			p.errorf("%s: occurred_at %s, want %s", inc.ExternalID, inc.OccurredAt, exp.OccurredAt)
		}
	}
	for id := range want {
		if !seen[id] {
			p.errorf("missing external_id %s", id)
		}
	}
	return p
}

// validateFields checks per-incident schema constraints.
func validateFields(ds domain.Dataset, incidents []domain.Incident) *phase {
	p := &phase{name: "Field integrity"}
	for _, inc := range incidents {
		id := inc.ExternalID
		if !strings.HasPrefix(id, ds.IDPrefix+"-") {
			p.errorf("%s: external_id lacks prefix %s", id, ds.IDPrefix)
		}
		if !slices.Contains(incidentTypes, inc.IncidentType) {
			p.errorf("%s: invalid incident_type %q", id, inc.IncidentType)
		}
		if inc.Status != domain.StatusVerified {
			p.errorf("%s: status %q", id, inc.Status)
		}
		if inc.Source != ds.Source {
			p.errorf("%s: source %q", id, inc.Source)
		}
		if inc.Fatalities < 0 || inc.Injuries < 0 {
			p.errorf("%s: negative casualty count", id)
		}
		if !inc.Location.Valid() {
			p.errorf("%s: location out of range (%f, %f)", id, inc.Location.Lat, inc.Location.Lon)
		}
		if inc.OccurredAt.IsZero() {
			p.errorf("%s: occurred_at missing", id)
		}
		if inc.Description == "" {
			p.errorf("%s: description missing", id)
		}
		if len(inc.RawData) == 0 {
			p.errorf("%s: raw_data missing", id)
		}
	}
	return p
}

// validateTiers checks that tier tags agree with the source coordinates.
func validateTiers(incidents []domain.Incident) *phase {
	p := &phase{name: "Geocoding tiers"}
	for _, inc := range incidents {
		id := inc.ExternalID
		if !slices.Contains(geoTiers, inc.GeoTier) {
			p.errorf("%s: invalid geo_tier %q", id, inc.GeoTier)
			continue
		}
		gps, ok := geocode.RealCoordinates(inc.RawData["Latitude"], inc.RawData["Longitude"])
		switch {
		case ok && inc.GeoTier != domain.TierReal:
			p.errorf("%s: has GPS coordinates but tier %q", id, inc.GeoTier)
		case ok && inc.Location != gps:
			p.errorf("%s: real tier location %v differs from source %v", id, inc.Location, gps)
		case !ok && inc.GeoTier == domain.TierReal:
			p.errorf("%s: tier real without usable GPS coordinates", id)
		}
	}
	return p
}

func loadCSV(path string) ([]domain.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return domain.ParseCSV(f)
}

func loadJSON(path string) ([]domain.Incident, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var incidents []domain.Incident
	if err := json.Unmarshal(data, &incidents); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return incidents, nil
}
