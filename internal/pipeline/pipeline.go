package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/av-incident-etl/internal/domain"
	"github.com/couchcryptid/av-incident-etl/internal/geocode"
	"github.com/couchcryptid/av-incident-etl/internal/observability"
)

// Fetcher downloads and parses one dataset.
type Fetcher interface {
	Fetch(ctx context.Context, ds domain.Dataset) ([]domain.RawRecord, error)
}

// LocationResolver assigns coordinates to normalized incidents.
type LocationResolver interface {
	Reset()
	Prewarm(ctx context.Context, pairs []geocode.CityState) error
	Resolve(ctx context.Context, hint domain.LocationHint) geocode.Resolution
	Accuracy() geocode.Accuracy
}

// EventPublisher announces written incidents downstream.
type EventPublisher interface {
	Publish(ctx context.Context, incidents []domain.Incident) error
}

// Options configures a Syncer. Zero values select defaults.
type Options struct {
	Datasets []domain.Dataset
	// RecordBatchSize is the number of records resolved concurrently.
	RecordBatchSize int
	// Interval is the pause between runs. Zero makes Run return after one run.
	Interval time.Duration
	// FetchRetries is the number of extra attempts after a failed fetch.
	FetchRetries int
	// FetchBackoff is the first retry delay; it doubles up to maxFetchBackoff.
	FetchBackoff time.Duration
	// Since drops incidents that occurred before it. Zero keeps all.
	Since time.Time
	// Publisher is optional.
	Publisher EventPublisher
	Clock     clockwork.Clock
}

const maxFetchBackoff = 30 * time.Second

// DatasetSummary is the outcome of syncing one dataset.
type DatasetSummary struct {
	Dataset       string           `json:"dataset"`
	Source        string           `json:"source"`
	Status        string           `json:"status"`
	Fetched       int              `json:"fetched"`
	Processed     int              `json:"processed"`
	Created       int              `json:"created"`
	Updated       int              `json:"updated"`
	Skipped       int              `json:"skipped"`
	Errors        int              `json:"errors"`
	Duplicates    int              `json:"duplicates"`
	Filtered      int              `json:"filtered"`
	DateFallbacks int              `json:"date_fallbacks"`
	Published     int              `json:"published"`
	Accuracy      geocode.Accuracy `json:"accuracy"`
	Error         string           `json:"error,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	CompletedAt   time.Time        `json:"completed_at"`
}

// RunSummary aggregates every dataset of one run.
type RunSummary struct {
	RunID       string           `json:"run_id"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
	Datasets    []DatasetSummary `json:"datasets"`
	Processed   int              `json:"processed"`
	Created     int              `json:"created"`
	Updated     int              `json:"updated"`
	Skipped     int              `json:"skipped"`
	Errors      int              `json:"errors"`
	Accuracy    geocode.Accuracy `json:"accuracy"`
}

func (r *RunSummary) add(d DatasetSummary) {
	r.Datasets = append(r.Datasets, d)
	r.Processed += d.Processed
	r.Created += d.Created
	r.Updated += d.Updated
	r.Skipped += d.Skipped
	r.Errors += d.Errors
	r.Accuracy = r.Accuracy.Add(d.Accuracy)
}

// Syncer runs the fetch, normalize, resolve, write and log sequence for each
// configured dataset.
type Syncer struct {
	fetcher    Fetcher
	resolver   LocationResolver
	writer     *Writer
	syncLog    domain.SyncLogAppender
	normalizer *domain.Normalizer
	logger     *slog.Logger
	metrics    *observability.Metrics
	opts       Options
	clock      clockwork.Clock
	ready      atomic.Bool

	mu   sync.Mutex
	last *RunSummary
}

// New creates a Syncer with the given stages and observability.
func New(f Fetcher, r LocationResolver, w *Writer, syncLog domain.SyncLogAppender, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Syncer {
	if opts.RecordBatchSize <= 0 {
		opts.RecordBatchSize = 20
	}
	if opts.FetchBackoff <= 0 {
		opts.FetchBackoff = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Syncer{
		fetcher:    f,
		resolver:   r,
		writer:     w,
		syncLog:    syncLog,
		normalizer: domain.NewNormalizer(logger, opts.Clock),
		logger:     logger,
		metrics:    metrics,
		opts:       opts,
		clock:      opts.Clock,
	}
}

// CheckReadiness returns nil once the first run has finished, or an error
// describing why the service is not yet ready.
func (s *Syncer) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("first sync run has not completed yet")
	}
	return nil
}

// LastSummary returns the most recent completed run.
func (s *Syncer) LastSummary() (RunSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return RunSummary{}, false
	}
	return *s.last, true
}

// Run syncs immediately and then every Interval until the context is cancelled.
func (s *Syncer) Run(ctx context.Context) error {
	s.logger.Info("sync loop started",
		"interval", s.opts.Interval,
		"datasets", len(s.opts.Datasets),
	)

	s.RunOnce(ctx)
	if s.opts.Interval <= 0 {
		return nil
	}

	ticker := s.clock.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync loop stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			s.RunOnce(ctx)
		}
	}
}

// RunOnce syncs every dataset in order. A failing dataset never stops the
// ones after it.
func (s *Syncer) RunOnce(ctx context.Context) RunSummary {
	s.metrics.SyncRunning.Set(1)
	defer s.metrics.SyncRunning.Set(0)

	s.resolver.Reset()

	summary := RunSummary{RunID: uuid.NewString(), StartedAt: s.clock.Now().UTC()}
	s.logger.Info("sync run started", "run_id", summary.RunID, "datasets", len(s.opts.Datasets))

	for _, ds := range s.opts.Datasets {
		if ctx.Err() != nil {
			s.logger.Warn("sync run cancelled", "run_id", summary.RunID, "reason", ctx.Err())
			break
		}
		summary.add(s.syncDataset(ctx, summary.RunID, ds))
	}
	summary.CompletedAt = s.clock.Now().UTC()

	s.logger.Info("sync run complete",
		"run_id", summary.RunID,
		"processed", summary.Processed,
		"created", summary.Created,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
		"errors", summary.Errors,
		"accuracy_real", summary.Accuracy.Real,
		"accuracy_street", summary.Accuracy.Street,
		"accuracy_city", summary.Accuracy.City,
		"accuracy_state", summary.Accuracy.State,
		"duration", summary.CompletedAt.Sub(summary.StartedAt),
	)

	s.mu.Lock()
	s.last = &summary
	s.mu.Unlock()
	if ctx.Err() == nil {
		s.ready.Store(true)
	}
	return summary
}

func (s *Syncer) syncDataset(ctx context.Context, runID string, ds domain.Dataset) DatasetSummary {
	start := s.clock.Now()
	sum := DatasetSummary{Dataset: ds.Key, Source: ds.Name, StartedAt: start.UTC()}
	log := s.logger.With("run_id", runID, "source", ds.Name)

	records, err := s.fetchWithRetry(ctx, ds)
	if err != nil {
		log.Error("fetch failed, skipping dataset", "error", err)
		sum.Status = domain.SyncFailed
		sum.Errors = 1
		sum.Error = err.Error()
		s.finish(ctx, runID, ds, &sum, start, nil)
		return sum
	}
	sum.Fetched = len(records)
	s.metrics.RecordsFetched.WithLabelValues(ds.Key).Add(float64(len(records)))

	norm := s.normalizer.Normalize(ds, records)
	pending := norm.Pending
	if !s.opts.Since.IsZero() {
		pending = occurredSince(pending, s.opts.Since)
		sum.Filtered = len(norm.Pending) - len(pending)
	}
	sum.Processed = len(pending)
	sum.Duplicates = norm.Duplicates
	sum.DateFallbacks = norm.DateFallbacks
	s.metrics.RecordsNormalized.WithLabelValues(ds.Key).Add(float64(len(norm.Pending)))
	s.metrics.DuplicatesSkipped.WithLabelValues(ds.Key).Add(float64(norm.Duplicates))
	s.metrics.DateFallbacks.WithLabelValues(ds.Key).Add(float64(norm.DateFallbacks))

	before := s.resolver.Accuracy()
	if err := s.resolver.Prewarm(ctx, cityStates(pending)); err != nil {
		log.Warn("geocode prewarm interrupted", "error", err)
	}
	incidents := s.resolveAll(ctx, pending)
	sum.Accuracy = s.resolver.Accuracy().Sub(before)

	written := s.writer.Write(ctx, ds, incidents)
	sum.Created = written.Created
	sum.Updated = written.Updated
	sum.Skipped = written.Skipped
	sum.Errors = written.Errors
	sum.Error = strings.Join(written.Messages, "; ")
	sum.Status = writeStatus(written, len(incidents))

	sum.Published = s.publish(ctx, log, written.Written)
	s.finish(ctx, runID, ds, &sum, start, log)
	return sum
}

// occurredSince keeps incidents that occurred at or after since.
func occurredSince(pending []domain.PendingIncident, since time.Time) []domain.PendingIncident {
	kept := make([]domain.PendingIncident, 0, len(pending))
	for _, p := range pending {
		if !p.Incident.OccurredAt.Before(since) {
			kept = append(kept, p)
		}
	}
	return kept
}

// resolveAll resolves locations in concurrent batches, keeping input order.
func (s *Syncer) resolveAll(ctx context.Context, pending []domain.PendingIncident) []domain.Incident {
	out := make([]domain.Incident, len(pending))
	batch := s.opts.RecordBatchSize
	for start := 0; start < len(pending); start += batch {
		end := min(start+batch, len(pending))
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				res := s.resolver.Resolve(ctx, pending[i].Hint)
				inc := pending[i].Incident
				inc.Location = res.Point
				inc.GeoTier = res.Tier
				out[i] = inc
				return nil
			})
		}
		_ = g.Wait()
	}
	return out
}

func (s *Syncer) publish(ctx context.Context, log *slog.Logger, incidents []domain.Incident) int {
	if s.opts.Publisher == nil || len(incidents) == 0 {
		return 0
	}
	if err := s.opts.Publisher.Publish(ctx, incidents); err != nil {
		s.metrics.PublishErrors.Inc()
		log.Warn("publish incidents failed", "count", len(incidents), "error", err)
		return 0
	}
	s.metrics.EventsPublished.Add(float64(len(incidents)))
	return len(incidents)
}

// finish stamps the summary, appends the sync log entry and records metrics.
func (s *Syncer) finish(ctx context.Context, runID string, ds domain.Dataset, sum *DatasetSummary, start time.Time, log *slog.Logger) {
	if log == nil {
		log = s.logger.With("run_id", runID, "source", ds.Name)
	}
	sum.CompletedAt = s.clock.Now().UTC()

	entry := domain.SyncLogEntry{
		RunID:            runID,
		SourceName:       ds.Name,
		Dataset:          ds.Key,
		Status:           sum.Status,
		RecordsProcessed: sum.Processed,
		RecordsCreated:   sum.Created,
		RecordsUpdated:   sum.Updated,
		RecordsSkipped:   sum.Skipped,
		ErrorCount:       sum.Errors,
		ErrorMessage:     sum.Error,
		Metadata: map[string]any{
			"url":            ds.URL,
			"fetched":        sum.Fetched,
			"duplicates":     sum.Duplicates,
			"filtered":       sum.Filtered,
			"date_fallbacks": sum.DateFallbacks,
			"published":      sum.Published,
			"accuracy":       sum.Accuracy.Map(),
		},
		StartedAt:   sum.StartedAt,
		CompletedAt: sum.CompletedAt,
	}
	// The audit row is written even when the run context was cancelled.
	if err := s.syncLog.AppendSyncLog(context.WithoutCancel(ctx), entry); err != nil {
		log.Error("append sync log failed", "error", err)
	}

	s.metrics.SyncRuns.WithLabelValues(ds.Key, sum.Status).Inc()
	s.metrics.SyncDuration.WithLabelValues(ds.Key).Observe(s.clock.Since(start).Seconds())

	log.Info("dataset synced",
		"status", sum.Status,
		"fetched", sum.Fetched,
		"processed", sum.Processed,
		"created", sum.Created,
		"updated", sum.Updated,
		"skipped", sum.Skipped,
		"errors", sum.Errors,
		"duplicates", sum.Duplicates,
		"filtered", sum.Filtered,
		"date_fallbacks", sum.DateFallbacks,
		"accuracy_real", sum.Accuracy.Real,
		"accuracy_street", sum.Accuracy.Street,
		"accuracy_city", sum.Accuracy.City,
		"accuracy_state", sum.Accuracy.State,
	)
}

// fetchWithRetry retries failed fetches with exponential backoff.
func (s *Syncer) fetchWithRetry(ctx context.Context, ds domain.Dataset) ([]domain.RawRecord, error) {
	backoff := s.opts.FetchBackoff
	for attempt := 0; ; attempt++ {
		records, err := s.fetcher.Fetch(ctx, ds)
		if err == nil {
			return records, nil
		}
		if attempt >= s.opts.FetchRetries || ctx.Err() != nil {
			return nil, err
		}
		s.logger.Warn("fetch failed, retrying",
			"source", ds.Name,
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err,
		)
		if !sleepWithContext(ctx, s.clock, backoff) {
			return nil, err
		}
		backoff = nextBackoff(backoff, maxFetchBackoff)
	}
}

// writeStatus is failed when nothing could be written, partial when some
// batches failed.
func writeStatus(res WriteResult, total int) string {
	switch {
	case res.Errors == 0:
		return domain.SyncCompleted
	case total > 0 && res.Created+res.Updated == 0:
		return domain.SyncFailed
	default:
		return domain.SyncPartial
	}
}

// cityStates lists the city pairs of records that will need a geocoded city.
func cityStates(pending []domain.PendingIncident) []geocode.CityState {
	pairs := make([]geocode.CityState, 0, len(pending))
	for _, p := range pending {
		if _, hasGPS := geocode.RealCoordinates(p.Hint.Latitude, p.Hint.Longitude); hasGPS {
			continue
		}
		if p.Hint.City != "" {
			pairs = append(pairs, geocode.CityState{City: p.Hint.City, State: p.Hint.State})
		}
	}
	return pairs
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
