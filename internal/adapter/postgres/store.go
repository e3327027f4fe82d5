// Package postgres persists incidents, source summaries and the sync audit
// trail in PostgreSQL with PostGIS.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/av-incident-etl/internal/domain"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPool connects to databaseURL and verifies the connection.
func NewPool(ctx context.Context, databaseURL string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// incidentColumns are written by every upsert, in placeholder order.
var incidentColumns = []string{
	"incident_type", "av_company", "description", "location", "address", "city", "state",
	"occurred_at", "reported_at", "status", "source", "external_id",
	"fatalities", "injuries", "geo_tier", "raw_data",
}

// Store implements domain.IncidentStore and domain.SyncLogAppender.
type Store struct {
	pool   Pool
	logger *slog.Logger
}

// NewStore creates a Store backed by pool.
func NewStore(pool Pool, logger *slog.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// UpsertIncidents writes incidents in one statement. Rows whose conflict key
// already exists are updated in place, or left untouched when
// opts.IgnoreDuplicates is set. Incidents must have distinct external IDs.
func (s *Store) UpsertIncidents(ctx context.Context, incidents []domain.Incident, opts domain.UpsertOptions) (domain.UpsertResult, error) {
	if len(incidents) == 0 {
		return domain.UpsertResult{}, nil
	}
	conflictKey := opts.ConflictKey
	if conflictKey == "" {
		conflictKey = domain.ConflictKeyExternalID
	}
	if conflictKey != domain.ConflictKeyExternalID {
		return domain.UpsertResult{}, fmt.Errorf("upsert incidents: unsupported conflict key %q", conflictKey)
	}

	query, args, err := buildUpsert(incidents, conflictKey, opts.IgnoreDuplicates)
	if err != nil {
		return domain.UpsertResult{}, err
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return domain.UpsertResult{}, fmt.Errorf("upsert incidents: %w", err)
	}
	defer rows.Close()

	var res domain.UpsertResult
	for rows.Next() {
		var id string
		var inserted bool
		if err := rows.Scan(&id, &inserted); err != nil {
			return res, fmt.Errorf("scan upsert result: %w", err)
		}
		if inserted {
			res.Created = append(res.Created, id)
		} else {
			res.Updated = append(res.Updated, id)
		}
	}
	if err := rows.Err(); err != nil {
		return res, fmt.Errorf("upsert incidents: %w", err)
	}

	s.logger.Debug("incidents upserted",
		"batch", len(incidents),
		"created", len(res.Created),
		"updated", len(res.Updated),
	)
	return res, nil
}

func buildUpsert(incidents []domain.Incident, conflictKey string, ignoreDuplicates bool) (string, []any, error) {
	var b strings.Builder
	args := make([]any, 0, len(incidents)*len(incidentColumns))

	b.WriteString("INSERT INTO incidents (")
	b.WriteString(strings.Join(incidentColumns, ", "))
	b.WriteString(") VALUES ")

	for i, inc := range incidents {
		location, err := inc.Location.EWKT()
		if err != nil {
			return "", nil, fmt.Errorf("incident %s: %w", inc.ExternalID, err)
		}
		raw, err := json.Marshal(inc.RawData)
		if err != nil {
			return "", nil, fmt.Errorf("incident %s: marshal raw data: %w", inc.ExternalID, err)
		}

		if i > 0 {
			b.WriteString(", ")
		}
		n := len(args)
		fmt.Fprintf(&b, "($%d, $%d, $%d, ST_GeogFromText($%d), $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d::jsonb)",
			n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8, n+9, n+10, n+11, n+12, n+13, n+14, n+15, n+16)

		args = append(args,
			inc.IncidentType, inc.AVCompany, inc.Description, location,
			nullIfEmpty(inc.Address), nullIfEmpty(inc.City), nullIfEmpty(inc.State),
			inc.OccurredAt, inc.ReportedAt, inc.Status, inc.Source, inc.ExternalID,
			inc.Fatalities, inc.Injuries, nullIfEmpty(string(inc.GeoTier)), string(raw),
		)
	}

	fmt.Fprintf(&b, " ON CONFLICT (%s) ", pgx.Identifier{conflictKey}.Sanitize())
	if ignoreDuplicates {
		b.WriteString("DO NOTHING")
	} else {
		b.WriteString("DO UPDATE SET ")
		first := true
		for _, col := range incidentColumns {
			if col == conflictKey {
				continue
			}
			if !first {
				b.WriteString(", ")
			}
			first = false
			fmt.Fprintf(&b, "%s = EXCLUDED.%s", col, col)
		}
		b.WriteString(", updated_at = now()")
	}
	b.WriteString(" RETURNING external_id, (xmax = 0) AS inserted")

	return b.String(), args, nil
}

// UpdateSourceSummary upserts the data_sources row for a dataset, recounting
// the incidents stored under its external ID prefix.
func (s *Store) UpdateSourceSummary(ctx context.Context, summary domain.SourceSummary) error {
	if summary.Name == "" {
		return errors.New("update source summary: name is required")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO data_sources (name, url, description, records_count, last_synced_at)
		 VALUES ($1, $2, $3, (SELECT count(*) FROM incidents WHERE external_id LIKE $4), $5)
		 ON CONFLICT (name) DO UPDATE SET
		   url = EXCLUDED.url,
		   description = EXCLUDED.description,
		   records_count = EXCLUDED.records_count,
		   last_synced_at = EXCLUDED.last_synced_at,
		   updated_at = now()`,
		summary.Name, summary.URL, summary.Description, summary.ExternalIDPrefix+"-%", summary.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("update source summary %s: %w", summary.Name, err)
	}
	return nil
}

// AppendSyncLog inserts one immutable sync_logs row.
func (s *Store) AppendSyncLog(ctx context.Context, e domain.SyncLogEntry) error {
	var meta []byte
	if e.Metadata != nil {
		var err error
		meta, err = json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("sync log: marshal metadata: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_logs (run_id, source_name, dataset, status,
		   records_processed, records_created, records_updated, records_skipped,
		   error_count, error_message, metadata, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.RunID, e.SourceName, e.Dataset, e.Status,
		e.RecordsProcessed, e.RecordsCreated, e.RecordsUpdated, e.RecordsSkipped,
		e.ErrorCount, nullIfEmpty(e.ErrorMessage), meta, e.StartedAt, e.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("sync log: append %s: %w", e.SourceName, err)
	}
	return nil
}

// CountIncidents returns the number of stored incidents.
func (s *Store) CountIncidents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM incidents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count incidents: %w", err)
	}
	return n, nil
}

// CheckReadiness verifies the database answers queries.
func (s *Store) CheckReadiness(ctx context.Context) error {
	var one int
	if err := s.pool.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("database not ready: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
