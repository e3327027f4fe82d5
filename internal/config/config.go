package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/av-incident-etl/internal/domain"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// BatchSize is the number of incidents per upsert statement.
	BatchSize int

	// DatabaseURL selects the Postgres store; empty runs against memory.
	DatabaseURL      string
	DatabaseMaxConns int32

	// SyncInterval is the pause between runs; zero runs once and exits.
	SyncInterval time.Duration
	// SyncSince drops incidents that occurred before it. Zero keeps all.
	SyncSince    time.Time

	NHTSAADSURL       string
	NHTSAADASURL      string
	NHTSAOtherURL     string
	NHTSAIncludeADAS  bool
	NHTSAIncludeOther bool
	FetchTimeout      time.Duration

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	// MapboxCacheSize bounds each per-run lookup cache. Zero is unbounded.
	MapboxCacheSize int
	MapboxRateLimit float64

	GeocodeBatchSize   int
	GeocodeBatchDelay  time.Duration
	GeocodeRecordBatch int

	// Incident event publishing.
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	mapboxTimeout, err := parsePositiveDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := parsePositiveDuration("FETCH_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	syncInterval, err := parseDuration("SYNC_INTERVAL", "24h")
	if err != nil {
		return nil, err
	}
	geocodeBatchDelay, err := parseDuration("GEOCODE_BATCH_DELAY", "200ms")
	if err != nil {
		return nil, err
	}

	syncSince, err := parseDate("SYNC_SINCE")
	if err != nil {
		return nil, err
	}
	cacheSize, err := parseNonNegativeInt("MAPBOX_CACHE_SIZE", 0)
	if err != nil {
		return nil, err
	}

	maxConns, err := parsePositiveInt("DATABASE_MAX_CONNS", 4)
	if err != nil {
		return nil, err
	}
	geocodeBatchSize, err := parsePositiveInt("GEOCODE_BATCH_SIZE", 50)
	if err != nil {
		return nil, err
	}
	geocodeRecordBatch, err := parsePositiveInt("GEOCODE_RECORD_BATCH", 20)
	if err != nil {
		return nil, err
	}

	rateLimit, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("MAPBOX_RATE_LIMIT", "10"), 64)
	if err != nil || rateLimit < 0 {
		return nil, errors.New("invalid MAPBOX_RATE_LIMIT")
	}

	includeADAS, err := parseBool("NHTSA_INCLUDE_ADAS", true)
	if err != nil {
		return nil, err
	}
	includeOther, err := parseBool("NHTSA_INCLUDE_OTHER", false)
	if err != nil {
		return nil, err
	}
	kafkaEnabled, err := parseBool("KAFKA_ENABLED", false)
	if err != nil {
		return nil, err
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		BatchSize:       batchSize,

		DatabaseURL:      os.Getenv("DATABASE_URL"),
		DatabaseMaxConns: int32(maxConns),
		SyncInterval:     syncInterval,
		SyncSince:        syncSince,

		NHTSAADSURL:       sharedcfg.EnvOrDefault("NHTSA_ADS_URL", domain.NHTSAADSURL),
		NHTSAADASURL:      sharedcfg.EnvOrDefault("NHTSA_ADAS_URL", domain.NHTSAADASURL),
		NHTSAOtherURL:     sharedcfg.EnvOrDefault("NHTSA_OTHER_URL", domain.NHTSAOtherURL),
		NHTSAIncludeADAS:  includeADAS,
		NHTSAIncludeOther: includeOther,
		FetchTimeout:      fetchTimeout,

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: cacheSize,
		MapboxRateLimit: rateLimit,

		GeocodeBatchSize:   geocodeBatchSize,
		GeocodeBatchDelay:  geocodeBatchDelay,
		GeocodeRecordBatch: geocodeRecordBatch,

		KafkaEnabled: kafkaEnabled,
		KafkaBrokers: sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "av-incidents"),
	}

	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
		}
		if cfg.KafkaTopic == "" {
			return nil, errors.New("KAFKA_TOPIC is required when KAFKA_ENABLED is true")
		}
	}

	return cfg, nil
}

// Datasets returns the enabled SGO datasets in sync order.
func (c *Config) Datasets() []domain.Dataset {
	ds := []domain.Dataset{domain.ADSDataset(c.NHTSAADSURL)}
	if c.NHTSAIncludeADAS {
		ds = append(ds, domain.ADASDataset(c.NHTSAADASURL))
	}
	if c.NHTSAIncludeOther {
		ds = append(ds, domain.OtherDataset(c.NHTSAOtherURL))
	}
	return ds
}

// StoreKind names the configured incident store for logging.
func (c *Config) StoreKind() string {
	if c.DatabaseURL == "" {
		return "memory"
	}
	return "postgres"
}

// parseDate reads a YYYY-MM-DD or RFC 3339 instant. Unset yields the zero time.
func parseDate(name string) (time.Time, error) {
	s := os.Getenv(name)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid %s: want YYYY-MM-DD or RFC 3339", name)
}

func parseDuration(name, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(name, def))
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return d, nil
}

func parsePositiveDuration(name, def string) (time.Duration, error) {
	d, err := parseDuration(name, def)
	if err != nil || d == 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return d, nil
}

func parsePositiveInt(name string, def int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", name)
	}
	return n, nil
}

func parseNonNegativeInt(name string, def int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: must be zero or a positive integer", name)
	}
	return n, nil
}

func parseBool(name string, def bool) (bool, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", name, err)
	}
	return b, nil
}
