package domain

import (
	"context"
	"time"
)

// ConflictKeyExternalID is the unique column incidents are upserted on.
const ConflictKeyExternalID = "external_id"

// Sync run statuses.
const (
	SyncCompleted = "completed"
	SyncPartial   = "partial"
	SyncFailed    = "failed"
)

// UpsertOptions controls conflict handling for a batch upsert.
type UpsertOptions struct {
	ConflictKey string
	// IgnoreDuplicates leaves existing rows untouched instead of merging.
	IgnoreDuplicates bool
}

// UpsertResult lists the external IDs a batch upsert touched.
type UpsertResult struct {
	Created []string
	Updated []string
}

// Returned is the number of rows the store reported back.
func (r UpsertResult) Returned() int {
	return len(r.Created) + len(r.Updated)
}

// SourceSummary refreshes the per-source counters after a sync.
type SourceSummary struct {
	Name             string
	URL              string
	Description      string
	ExternalIDPrefix string
	SyncedAt         time.Time
}

// SyncLogEntry is one immutable row of the sync audit trail.
type SyncLogEntry struct {
	RunID            string
	SourceName       string
	Dataset          string
	Status           string
	RecordsProcessed int
	RecordsCreated   int
	RecordsUpdated   int
	RecordsSkipped   int
	ErrorCount       int
	ErrorMessage     string
	Metadata         map[string]any
	StartedAt        time.Time
	CompletedAt      time.Time
}

// IncidentStore persists incidents and per-source summaries.
type IncidentStore interface {
	UpsertIncidents(ctx context.Context, incidents []Incident, opts UpsertOptions) (UpsertResult, error)
	UpdateSourceSummary(ctx context.Context, summary SourceSummary) error
}

// SyncLogAppender appends to the sync audit trail. Entries are never updated.
type SyncLogAppender interface {
	AppendSyncLog(ctx context.Context, entry SyncLogEntry) error
}
