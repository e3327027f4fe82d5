// Package sgo downloads NHTSA Standing General Order incident report CSVs.
package sgo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/av-incident-etl/internal/domain"
)

// Fetcher retrieves and parses a dataset's CSV over HTTP.
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher whose requests time out after timeout.
func NewFetcher(timeout time.Duration, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  "av-incident-etl/1.0",
		logger:     logger,
	}
}

// Fetch downloads the dataset and parses it into raw records. Transport errors
// and non-2xx responses are returned so the caller can skip the dataset.
func (f *Fetcher) Fetch(ctx context.Context, ds domain.Dataset) ([]domain.RawRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ds.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/csv, */*")

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ds.Key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch %s: status %d: %s", ds.Key, resp.StatusCode, body)
	}

	records, err := domain.ParseCSV(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", ds.Key, err)
	}

	f.logger.Info("dataset fetched",
		"dataset", ds.Key,
		"records", len(records),
		"duration", time.Since(start),
	)
	return records, nil
}
