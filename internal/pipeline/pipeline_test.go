package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/av-incident-etl/internal/adapter/memory"
	"github.com/couchcryptid/av-incident-etl/internal/domain"
	"github.com/couchcryptid/av-incident-etl/internal/geocode"
	"github.com/couchcryptid/av-incident-etl/internal/observability"
	"github.com/couchcryptid/av-incident-etl/internal/pipeline"
)

// --- mocks ---

type mockFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	errs   map[string][]error
	calls  map[string]int
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{
		bodies: make(map[string]string),
		errs:   make(map[string][]error),
		calls:  make(map[string]int),
	}
}

func (m *mockFetcher) Fetch(_ context.Context, ds domain.Dataset) ([]domain.RawRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[ds.Key]++
	if errs := m.errs[ds.Key]; len(errs) > 0 {
		err := errs[0]
		m.errs[ds.Key] = errs[1:]
		return nil, err
	}
	return domain.ParseCSV(strings.NewReader(m.bodies[ds.Key]))
}

func (m *mockFetcher) callsFor(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[key]
}

type cityProvider struct {
	calls atomic.Int64
}

func (p *cityProvider) Search(_ context.Context, query string, _ geocode.ResultTypes) ([]geocode.Candidate, error) {
	p.calls.Add(1)
	if query == "San Francisco, CA" {
		return []geocode.Candidate{{Lat: 37.7749, Lon: -122.4194, DisplayName: "San Francisco, California"}}, nil
	}
	return nil, nil
}

type mockPublisher struct {
	mu        sync.Mutex
	published []domain.Incident
	err       error
}

func (m *mockPublisher) Publish(_ context.Context, incidents []domain.Incident) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, incidents...)
	return nil
}

func newTestMetrics() *observability.Metrics {
	// Use a fresh registry to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const sgoCSV = "Report ID,Same Incident ID,Make,Model,Model Year,City,State,Latitude,Longitude,Incident Date,Incident Time (24:00),Highest Injury Severity Alleged,Crash With,Narrative\n" +
	"30270-1,A1,Waymo,Jaguar I-Pace,2024,Phoenix,AZ,33.4484,-112.0740,OCT-2025,08:15,No Injuries Reported,Passenger Car,\"The AV was proceeding, then was struck.\"\n" +
	"30270-2,A2,Cruise,Bolt,2023,San Francisco,CA,,,09/14/2025,,Minor W/O Hospitalization,Cyclist,[REDACTED]\n"

type harness struct {
	fetcher   *mockFetcher
	provider  *cityProvider
	store     *memory.Store
	publisher *mockPublisher
	syncer    *pipeline.Syncer
	clock     *clockwork.FakeClock
}

func newHarness(t *testing.T, datasets []domain.Dataset, opts pipeline.Options) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testNow)

	h := &harness{
		fetcher:   newMockFetcher(),
		provider:  &cityProvider{},
		store:     memory.NewStore(),
		publisher: &mockPublisher{},
		clock:     clock,
	}
	metrics := newTestMetrics()
	logger := discardLogger()

	resolver := geocode.NewResolver(h.provider, logger, metrics, geocode.Options{Clock: clock})
	writer := pipeline.NewWriter(h.store, 50, logger, metrics).WithClock(clock)

	opts.Datasets = datasets
	opts.Clock = clock
	if opts.Publisher == nil {
		opts.Publisher = h.publisher
	}
	h.syncer = pipeline.New(h.fetcher, resolver, writer, h.store, logger, metrics, opts)
	return h
}

// --- tests ---

func TestSyncer_RunOnce_EndToEnd(t *testing.T) {
	ads := domain.ADSDataset(domain.NHTSAADSURL)
	h := newHarness(t, []domain.Dataset{ads}, pipeline.Options{})
	h.fetcher.bodies["ads"] = sgoCSV

	summary := h.syncer.RunOnce(context.Background())

	require.Len(t, summary.Datasets, 1)
	ds := summary.Datasets[0]
	assert.Equal(t, domain.SyncCompleted, ds.Status)
	assert.Equal(t, 2, ds.Fetched)
	assert.Equal(t, 2, ds.Processed)
	assert.Equal(t, 2, ds.Created)
	assert.Zero(t, ds.Updated)
	assert.Equal(t, geocode.Accuracy{Real: 1, City: 1}, ds.Accuracy)
	assert.Equal(t, 2, summary.Created)
	assert.NotEmpty(t, summary.RunID)

	phoenix, ok := h.store.Incident("nhtsa-ads-30270-1")
	require.True(t, ok)
	assert.Equal(t, "waymo", phoenix.AVCompany)
	assert.Equal(t, domain.TierReal, phoenix.GeoTier)
	assert.Equal(t, domain.Point{Lat: 33.4484, Lon: -112.0740}, phoenix.Location)
	assert.Equal(t, time.Date(2025, 10, 1, 8, 15, 0, 0, time.UTC), phoenix.OccurredAt)
	assert.Equal(t, domain.StatusVerified, phoenix.Status)
	assert.Equal(t, domain.SourceNHTSA, phoenix.Source)
	assert.Equal(t, testNow, phoenix.ReportedAt, "ingestion time comes from the syncer clock")

	sf, ok := h.store.Incident("nhtsa-ads-30270-2")
	require.True(t, ok)
	assert.Equal(t, "cruise", sf.AVCompany)
	assert.Equal(t, domain.TierCity, sf.GeoTier)
	assert.InDelta(t, 37.7749, sf.Location.Lat, 0.02)
	assert.InDelta(t, -122.4194, sf.Location.Lon, 0.02)
	assert.Equal(t, domain.TypeNearMiss, sf.IncidentType)
	assert.Equal(t, 1, sf.Injuries)
	assert.NotContains(t, sf.Description, "REDACTED")

	src, ok := h.store.Source(ads.Name)
	require.True(t, ok)
	assert.Equal(t, 2, src.RecordsCount)
	assert.Equal(t, testNow, src.SyncedAt)

	logs := h.store.SyncLogs()
	require.Len(t, logs, 1)
	want := domain.SyncLogEntry{
		RunID:            summary.RunID,
		SourceName:       ads.Name,
		Dataset:          "ads",
		Status:           domain.SyncCompleted,
		RecordsProcessed: 2,
		RecordsCreated:   2,
		StartedAt:        testNow,
		CompletedAt:      testNow,
	}
	got := logs[0]
	got.Metadata = nil
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sync log mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, map[string]any{"real": 1, "street": 0, "city": 1, "state": 0}, logs[0].Metadata["accuracy"])

	assert.Len(t, h.publisher.published, 2)
	require.NoError(t, h.syncer.CheckReadiness(context.Background()))
}

func TestSyncer_RunOnce_SecondRunUpdatesInPlace(t *testing.T) {
	h := newHarness(t, []domain.Dataset{domain.ADSDataset(domain.NHTSAADSURL)}, pipeline.Options{})
	h.fetcher.bodies["ads"] = sgoCSV

	first := h.syncer.RunOnce(context.Background())
	second := h.syncer.RunOnce(context.Background())

	assert.Equal(t, 2, first.Created)
	assert.Zero(t, second.Created)
	assert.Equal(t, 2, second.Updated)
	assert.Len(t, h.store.Incidents(), 2)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, int64(2), h.provider.calls.Load(), "city cache is reset between runs")
}

func TestSyncer_RunOnce_SinceDropsOlderIncidents(t *testing.T) {
	ads := domain.ADSDataset(domain.NHTSAADSURL)
	h := newHarness(t, []domain.Dataset{ads}, pipeline.Options{
		Since: time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC),
	})
	h.fetcher.bodies["ads"] = sgoCSV

	summary := h.syncer.RunOnce(context.Background())

	require.Len(t, summary.Datasets, 1)
	ds := summary.Datasets[0]
	assert.Equal(t, 2, ds.Fetched)
	assert.Equal(t, 1, ds.Filtered)
	assert.Equal(t, 1, ds.Processed)
	assert.Equal(t, 1, ds.Created)
	assert.Equal(t, geocode.Accuracy{Real: 1}, ds.Accuracy)

	_, ok := h.store.Incident("nhtsa-ads-30270-1")
	assert.True(t, ok, "incident on the cutoff date is kept")
	_, ok = h.store.Incident("nhtsa-ads-30270-2")
	assert.False(t, ok, "September incident is dropped")
	assert.Zero(t, h.provider.calls.Load(), "filtered incidents are not geocoded")
	assert.Equal(t, 1, h.store.SyncLogs()[0].Metadata["filtered"])
}

func TestSyncer_RunOnce_FetchFailureIsolated(t *testing.T) {
	datasets := []domain.Dataset{
		domain.ADSDataset(domain.NHTSAADSURL),
		domain.ADASDataset(domain.NHTSAADASURL),
	}
	h := newHarness(t, datasets, pipeline.Options{})
	h.fetcher.errs["ads"] = []error{errors.New("fetch ads: status 503")}
	h.fetcher.bodies["adas"] = sgoCSV

	summary := h.syncer.RunOnce(context.Background())

	require.Len(t, summary.Datasets, 2)
	assert.Equal(t, domain.SyncFailed, summary.Datasets[0].Status)
	assert.Contains(t, summary.Datasets[0].Error, "503")
	assert.Equal(t, domain.SyncCompleted, summary.Datasets[1].Status)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 2, summary.Created)

	logs := h.store.SyncLogs()
	require.Len(t, logs, 2)
	assert.Equal(t, domain.SyncFailed, logs[0].Status)
	assert.Equal(t, 1, logs[0].ErrorCount)
	assert.Equal(t, "fetch ads: status 503", logs[0].ErrorMessage)
	assert.Equal(t, domain.SyncCompleted, logs[1].Status)

	_, ok := h.store.Incident("nhtsa-adas-30270-1")
	assert.True(t, ok)
}

func TestSyncer_RunOnce_RetriesFetch(t *testing.T) {
	h := newHarness(t, []domain.Dataset{domain.ADSDataset(domain.NHTSAADSURL)},
		pipeline.Options{FetchRetries: 1, FetchBackoff: time.Second})
	h.fetcher.errs["ads"] = []error{errors.New("connection reset")}
	h.fetcher.bodies["ads"] = sgoCSV

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan pipeline.RunSummary, 1)
	go func() { done <- h.syncer.RunOnce(ctx) }()

	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(time.Second)

	summary := <-done
	assert.Equal(t, 2, h.fetcher.callsFor("ads"))
	assert.Equal(t, domain.SyncCompleted, summary.Datasets[0].Status)
}

func TestSyncer_RunOnce_SkipsSameIncidentDuplicates(t *testing.T) {
	h := newHarness(t, []domain.Dataset{domain.ADSDataset(domain.NHTSAADSURL)}, pipeline.Options{})
	h.fetcher.bodies["ads"] = sgoCSV +
		"30270-3,A1,Waymo,Jaguar I-Pace,2024,Phoenix,AZ,33.4484,-112.0740,OCT-2025,08:15,,Passenger Car,Second report\n"

	summary := h.syncer.RunOnce(context.Background())

	ds := summary.Datasets[0]
	assert.Equal(t, 3, ds.Fetched)
	assert.Equal(t, 2, ds.Processed)
	assert.Equal(t, 1, ds.Duplicates)
	assert.Equal(t, 1, h.store.SyncLogs()[0].Metadata["duplicates"])
}

func TestSyncer_RunOnce_PublishFailureDoesNotFailRun(t *testing.T) {
	pub := &mockPublisher{err: errors.New("broker down")}
	h := newHarness(t, []domain.Dataset{domain.ADSDataset(domain.NHTSAADSURL)}, pipeline.Options{Publisher: pub})
	h.fetcher.bodies["ads"] = sgoCSV

	summary := h.syncer.RunOnce(context.Background())

	assert.Equal(t, domain.SyncCompleted, summary.Datasets[0].Status)
	assert.Zero(t, summary.Datasets[0].Published)
	assert.Len(t, h.store.Incidents(), 2)
}

func TestSyncer_Run_OnceWhenIntervalZero(t *testing.T) {
	h := newHarness(t, []domain.Dataset{domain.ADSDataset(domain.NHTSAADSURL)}, pipeline.Options{})
	h.fetcher.bodies["ads"] = sgoCSV

	require.Error(t, h.syncer.CheckReadiness(context.Background()))
	_, ok := h.syncer.LastSummary()
	assert.False(t, ok)

	require.NoError(t, h.syncer.Run(context.Background()))

	assert.Equal(t, 1, h.fetcher.callsFor("ads"))
	require.NoError(t, h.syncer.CheckReadiness(context.Background()))
	last, ok := h.syncer.LastSummary()
	require.True(t, ok)
	assert.Equal(t, 2, last.Created)
}

func TestSyncer_Run_RepeatsOnInterval(t *testing.T) {
	h := newHarness(t, []domain.Dataset{domain.ADSDataset(domain.NHTSAADSURL)},
		pipeline.Options{Interval: time.Hour})
	h.fetcher.bodies["ads"] = sgoCSV

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.syncer.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	require.NoError(t, h.clock.BlockUntilContext(waitCtx, 1))
	assert.Equal(t, 1, h.fetcher.callsFor("ads"))

	h.clock.Advance(time.Hour)
	assert.Eventually(t, func() bool { return h.fetcher.callsFor("ads") == 2 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestSyncer_RunOnce_CancelledContext(t *testing.T) {
	h := newHarness(t, []domain.Dataset{domain.ADSDataset(domain.NHTSAADSURL)}, pipeline.Options{})
	h.fetcher.bodies["ads"] = sgoCSV

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary := h.syncer.RunOnce(ctx)
	assert.Empty(t, summary.Datasets)
	assert.Error(t, h.syncer.CheckReadiness(context.Background()))
}
