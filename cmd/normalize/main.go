// Command normalize converts a local SGO CSV export into the incident JSON the
// sync service would store, without a database or geocoding provider. Records
// without GPS coordinates resolve to their state center. It uses the service's
// domain and geocode packages so the output matches real pipeline behavior.
//
// Usage:
//
//	go run ./cmd/normalize \
//	  -csv data/SGO-2021-01_Incident_Reports_ADS.csv \
//	  -dataset ads \
//	  -out data/mock/incidents_ads.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand/v2"
	"os"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/av-incident-etl/internal/domain"
	"github.com/couchcryptid/av-incident-etl/internal/geocode"
	"github.com/couchcryptid/av-incident-etl/internal/observability"
)

// ingestTime is fixed so repeated runs produce identical fixtures.
var ingestTime = time.Date(2026, time.January, 1, 6, 0, 0, 0, time.UTC)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	csvPath := flag.String("csv", "", "path to an SGO incident report CSV")
	datasetKey := flag.String("dataset", "ads", "dataset the CSV belongs to: ads, adas or other")
	outPath := flag.String("out", "", "output path for the incident JSON (default stdout)")
	seed := flag.Uint64("seed", 1, "jitter seed")
	flag.Parse()

	if *csvPath == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -csv")
	}

	ds, err := datasetFor(*datasetKey)
	if err != nil {
		return err
	}

	clock := clockwork.NewFakeClockAt(ingestTime)

	f, err := os.Open(*csvPath)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	records, err := domain.ParseCSV(f)
	if err != nil {
		return fmt.Errorf("parse %s: %w", *csvPath, err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	norm := domain.NewNormalizer(logger, clock).Normalize(ds, records)

	resolver := geocode.NewResolver(nil, logger, observability.NewMetricsForTesting(), geocode.Options{
		Rand:  rand.New(rand.NewPCG(*seed, *seed)),
		Clock: clock,
	})

	incidents := make([]domain.Incident, len(norm.Pending))
	for i, p := range norm.Pending {
		res := resolver.Resolve(context.Background(), p.Hint)
		inc := p.Incident
		inc.Location = res.Point
		inc.GeoTier = res.Tier
		incidents[i] = inc
	}

	log.Printf("%s: %d rows, %d incidents, %d duplicates, %d date fallbacks",
		ds.Name, len(records), len(incidents), norm.Duplicates, norm.DateFallbacks)

	if err := writeJSON(*outPath, incidents); err != nil {
		return fmt.Errorf("writing incidents: %w", err)
	}

	printStats(incidents, resolver.Accuracy())
	return nil
}

func datasetFor(key string) (domain.Dataset, error) {
	switch key {
	case "ads":
		return domain.ADSDataset(domain.NHTSAADSURL), nil
	case "adas":
		return domain.ADASDataset(domain.NHTSAADASURL), nil
	case "other":
		return domain.OtherDataset(domain.NHTSAOtherURL), nil
	default:
		return domain.Dataset{}, fmt.Errorf("unknown dataset %q", key)
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func printStats(incidents []domain.Incident, acc geocode.Accuracy) {
	companies := map[string]int{}
	types := map[string]int{}
	for _, inc := range incidents {
		companies[inc.AVCompany]++
		types[inc.IncidentType]++
	}

	log.Printf("accuracy: real=%d street=%d city=%d state=%d", acc.Real, acc.Street, acc.City, acc.State)
	log.Printf("incident types: %s", formatCounts(types))
	log.Printf("companies: %s", formatCounts(companies))
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := ""
	for i, k := range keys {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%d", k, counts[k])
	}
	return out
}
