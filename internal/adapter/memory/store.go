// Package memory provides an in-process incident store for dry runs and tests.
package memory

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/couchcryptid/av-incident-etl/internal/domain"
)

// SourceRecord is the stored state of one data source.
type SourceRecord struct {
	domain.SourceSummary
	RecordsCount int
}

// Store keeps incidents keyed by external ID. It implements
// domain.IncidentStore and domain.SyncLogAppender.
type Store struct {
	mu        sync.Mutex
	incidents map[string]domain.Incident
	sources   map[string]SourceRecord
	logs      []domain.SyncLogEntry
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		incidents: make(map[string]domain.Incident),
		sources:   make(map[string]SourceRecord),
	}
}

// UpsertIncidents inserts or merges incidents by external ID.
func (s *Store) UpsertIncidents(ctx context.Context, incidents []domain.Incident, opts domain.UpsertOptions) (domain.UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.UpsertResult{}, err
	}
	if opts.ConflictKey != "" && opts.ConflictKey != domain.ConflictKeyExternalID {
		return domain.UpsertResult{}, errors.New("memory store: unsupported conflict key " + opts.ConflictKey)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var res domain.UpsertResult
	for _, inc := range incidents {
		if inc.ExternalID == "" {
			return res, errors.New("memory store: incident without external_id")
		}
		if _, exists := s.incidents[inc.ExternalID]; exists {
			if opts.IgnoreDuplicates {
				continue
			}
			s.incidents[inc.ExternalID] = inc
			res.Updated = append(res.Updated, inc.ExternalID)
			continue
		}
		s.incidents[inc.ExternalID] = inc
		res.Created = append(res.Created, inc.ExternalID)
	}
	return res, nil
}

// UpdateSourceSummary records the summary and recounts incidents under its prefix.
func (s *Store) UpdateSourceSummary(ctx context.Context, summary domain.SourceSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if summary.Name == "" {
		return errors.New("memory store: source name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := summary.ExternalIDPrefix + "-"
	count := 0
	for id := range s.incidents {
		if strings.HasPrefix(id, prefix) {
			count++
		}
	}
	s.sources[summary.Name] = SourceRecord{SourceSummary: summary, RecordsCount: count}
	return nil
}

// AppendSyncLog appends an entry to the in-memory audit trail.
func (s *Store) AppendSyncLog(ctx context.Context, entry domain.SyncLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

// Incident returns the stored incident for an external ID.
func (s *Store) Incident(externalID string) (domain.Incident, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[externalID]
	return inc, ok
}

// Incidents returns all stored incidents ordered by external ID.
func (s *Store) Incidents() []domain.Incident {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Incident, 0, len(s.incidents))
	for _, inc := range s.incidents {
		out = append(out, inc)
	}
	slices.SortFunc(out, func(a, b domain.Incident) int {
		return strings.Compare(a.ExternalID, b.ExternalID)
	})
	return out
}

// Source returns the stored summary for a data source name.
func (s *Store) Source(name string) (SourceRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sources[name]
	return rec, ok
}

// SyncLogs returns a copy of the audit trail in append order.
func (s *Store) SyncLogs() []domain.SyncLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.logs)
}
