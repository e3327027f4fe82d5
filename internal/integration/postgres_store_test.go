//go:build integration

package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/av-incident-etl/internal/adapter/postgres"
	"github.com/couchcryptid/av-incident-etl/internal/adapter/sgo"
	"github.com/couchcryptid/av-incident-etl/internal/domain"
	"github.com/couchcryptid/av-incident-etl/internal/geocode"
	"github.com/couchcryptid/av-incident-etl/internal/pipeline"
)

const sgoCSV = "Report ID,Same Incident ID,Make,Model,Model Year,City,State,Latitude,Longitude,Incident Date,Incident Time (24:00),Highest Injury Severity Alleged,Crash With,Narrative\n" +
	"30270-1,A1,Waymo,Jaguar I-Pace,2024,Phoenix,AZ,33.4484,-112.0740,OCT-2025,08:15,No Injuries Reported,Passenger Car,\"The AV was proceeding, then was struck.\"\n" +
	"30270-2,A2,Cruise,Bolt,2023,San Francisco,CA,,,09/14/2025,,Fatality,Cyclist,[REDACTED]\n"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(ctx context.Context, t *testing.T) (*postgres.Store, postgres.Pool) {
	t.Helper()
	dsn := startPostGIS(ctx, t)

	pool, err := postgres.NewPool(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return postgres.NewStore(pool, testLogger()), pool
}

func TestPostgresStore_UpsertIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	store, pool := newStore(ctx, t)
	require.NoError(t, store.CheckReadiness(ctx))

	inc := domain.Incident{
		IncidentType: domain.TypeCollision,
		AVCompany:    "waymo",
		Description:  "2024 Waymo Jaguar I-Pace crash with passenger car in Phoenix, AZ.",
		Location:     domain.Point{Lat: 33.4484, Lon: -112.074},
		City:         "Phoenix",
		State:        "AZ",
		OccurredAt:   time.Date(2025, 10, 1, 8, 15, 0, 0, time.UTC),
		ReportedAt:   time.Now().UTC(),
		Status:       domain.StatusVerified,
		Source:       domain.SourceNHTSA,
		ExternalID:   "nhtsa-ads-30270-1",
		GeoTier:      domain.TierReal,
		RawData:      domain.RawRecord{"Report ID": "30270-1"},
	}
	opts := domain.UpsertOptions{ConflictKey: domain.ConflictKeyExternalID}

	res, err := store.UpsertIncidents(ctx, []domain.Incident{inc}, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"nhtsa-ads-30270-1"}, res.Created)

	inc.Injuries = 2
	res, err = store.UpsertIncidents(ctx, []domain.Incident{inc}, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"nhtsa-ads-30270-1"}, res.Updated)

	n, err := store.CountIncidents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var wkt string
	var injuries int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT ST_AsText(location::geometry), injuries FROM incidents WHERE external_id = $1`,
		inc.ExternalID).Scan(&wkt, &injuries))
	assert.Equal(t, "POINT(-112.074 33.4484)", wkt)
	assert.Equal(t, 2, injuries)

	res, err = store.UpsertIncidents(ctx, []domain.Incident{inc}, domain.UpsertOptions{IgnoreDuplicates: true})
	require.NoError(t, err)
	assert.Zero(t, res.Returned())
}

func TestPostgresStore_SyncLogIsAppendOnly(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	store, pool := newStore(ctx, t)

	now := time.Now().UTC()
	require.NoError(t, store.AppendSyncLog(ctx, domain.SyncLogEntry{
		RunID:       "7f1c9a6e-2b1d-4f43-9a57-3c2f4ad1f0b8",
		SourceName:  "nhtsa_sgo_ads",
		Dataset:     "ads",
		Status:      domain.SyncCompleted,
		Metadata:    map[string]any{"duplicates": 0},
		StartedAt:   now,
		CompletedAt: now,
	}))

	_, err := pool.Exec(ctx, `UPDATE sync_logs SET status = 'failed'`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = pool.Exec(ctx, `DELETE FROM sync_logs`)
	require.Error(t, err)
}

func TestSyncer_EndToEndAgainstPostgres(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	store, pool := newStore(ctx, t)

	csvServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = io.WriteString(w, sgoCSV)
	}))
	defer csvServer.Close()

	logger := testLogger()
	metrics := testMetrics()
	ds := domain.ADSDataset(csvServer.URL + "/ads.csv")

	syncer := pipeline.New(
		sgo.NewFetcher(10*time.Second, logger),
		geocode.NewResolver(nil, logger, metrics, geocode.Options{}),
		pipeline.NewWriter(store, 50, logger, metrics),
		store,
		logger,
		metrics,
		pipeline.Options{Datasets: []domain.Dataset{ds}},
	)

	first := syncer.RunOnce(ctx)
	second := syncer.RunOnce(ctx)

	assert.Equal(t, 2, first.Created)
	assert.Equal(t, 2, second.Updated)
	assert.Equal(t, geocode.Accuracy{Real: 1, State: 1}, second.Accuracy)

	var count, recordsCount, logs int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM incidents`).Scan(&count))
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT records_count FROM data_sources WHERE name = $1`, ds.Name).Scan(&recordsCount))
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM sync_logs`).Scan(&logs))
	assert.Equal(t, 2, count)
	assert.Equal(t, 2, recordsCount)
	assert.Equal(t, 2, logs)

	var fatalities int
	var tier string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT fatalities, geo_tier FROM incidents WHERE external_id = 'nhtsa-ads-30270-2'`).Scan(&fatalities, &tier))
	assert.Equal(t, 1, fatalities)
	assert.Equal(t, "state", tier)
}
