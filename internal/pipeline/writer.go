package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/av-incident-etl/internal/domain"
	"github.com/couchcryptid/av-incident-etl/internal/observability"
)

// WriteResult tallies one dataset's upsert.
type WriteResult struct {
	Created int
	Updated int
	// Skipped counts incidents a failed batch did not return, plus incidents
	// dropped because a later one in the input shared their external ID.
	Skipped int
	// Errors counts failed batches and a failed source summary update.
	Errors int
	// Messages holds one line per error, for the sync log.
	Messages []string
	// Written are the incidents the store reported as created or updated.
	Written []domain.Incident
}

// Writer upserts incidents in fixed-size batches. A failed batch is counted
// and the remaining batches still run.
type Writer struct {
	store     domain.IncidentStore
	batchSize int
	logger    *slog.Logger
	metrics   *observability.Metrics
	clock     clockwork.Clock
}

// NewWriter creates a Writer. batchSize below one defaults to 50.
func NewWriter(store domain.IncidentStore, batchSize int, logger *slog.Logger, metrics *observability.Metrics) *Writer {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Writer{
		store:     store,
		batchSize: batchSize,
		logger:    logger,
		metrics:   metrics,
		clock:     clockwork.NewRealClock(),
	}
}

// WithClock sets the clock that stamps source summaries.
func (w *Writer) WithClock(c clockwork.Clock) *Writer {
	w.clock = c
	return w
}

// Write upserts incidents keyed on external_id and then refreshes the
// dataset's source summary.
func (w *Writer) Write(ctx context.Context, ds domain.Dataset, incidents []domain.Incident) WriteResult {
	var res WriteResult

	unique := dedupByExternalID(incidents)
	res.Skipped += len(incidents) - len(unique)

	opts := domain.UpsertOptions{ConflictKey: domain.ConflictKeyExternalID}
	for start, n := 0, 0; start < len(unique); start, n = start+w.batchSize, n+1 {
		batch := unique[start:min(start+w.batchSize, len(unique))]
		w.metrics.BatchSize.Observe(float64(len(batch)))

		out, err := w.store.UpsertIncidents(ctx, batch, opts)
		res.Created += len(out.Created)
		res.Updated += len(out.Updated)
		res.Written = append(res.Written, returned(batch, out)...)

		if err != nil {
			res.Errors++
			res.Skipped += len(batch) - out.Returned()
			res.Messages = append(res.Messages, fmt.Sprintf("batch %d: %v", n, err))
			w.metrics.BatchErrors.Inc()
			w.logger.Error("upsert batch failed",
				"source", ds.Name,
				"batch", n,
				"batch_size", len(batch),
				"error", err,
			)
		}
	}

	w.metrics.RecordsWritten.WithLabelValues("created").Add(float64(res.Created))
	w.metrics.RecordsWritten.WithLabelValues("updated").Add(float64(res.Updated))
	w.metrics.RecordsWritten.WithLabelValues("skipped").Add(float64(res.Skipped))

	err := w.store.UpdateSourceSummary(ctx, domain.SourceSummary{
		Name:             ds.Name,
		URL:              ds.URL,
		Description:      ds.Description,
		ExternalIDPrefix: ds.IDPrefix,
		SyncedAt:         w.clock.Now().UTC(),
	})
	if err != nil {
		res.Errors++
		res.Messages = append(res.Messages, "source summary: "+err.Error())
		w.logger.Error("update source summary failed", "source", ds.Name, "error", err)
	}
	return res
}

// dedupByExternalID keeps the last incident for each external ID at the
// position of the first. One statement cannot touch a row twice.
func dedupByExternalID(incidents []domain.Incident) []domain.Incident {
	index := make(map[string]int, len(incidents))
	out := make([]domain.Incident, 0, len(incidents))
	for _, inc := range incidents {
		if i, ok := index[inc.ExternalID]; ok {
			out[i] = inc
			continue
		}
		index[inc.ExternalID] = len(out)
		out = append(out, inc)
	}
	return out
}

// returned selects the batch members the store reported back.
func returned(batch []domain.Incident, out domain.UpsertResult) []domain.Incident {
	if out.Returned() == 0 {
		return nil
	}
	ids := make(map[string]struct{}, out.Returned())
	for _, id := range out.Created {
		ids[id] = struct{}{}
	}
	for _, id := range out.Updated {
		ids[id] = struct{}{}
	}
	written := make([]domain.Incident, 0, len(ids))
	for _, inc := range batch {
		if _, ok := ids[inc.ExternalID]; ok {
			written = append(written, inc)
		}
	}
	return written
}
