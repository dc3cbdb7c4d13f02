/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// EventBusBackend selects where chapter events are relayed.
type EventBusBackend string

const (
	EventBusMemory EventBusBackend = "memory"
	EventBusRedis  EventBusBackend = "redis"
	EventBusNATS   EventBusBackend = "nats"
)

const defaultSQLiteDSN = "inkpress.db"

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment     string
	HTTPBind        string
	HTTPPort        int
	DBBackend       DatabaseBackend
	DBDSN           string
	MaxUploadSizeMB int

	// Storage
	StorageRoot         string
	StorageReadAttempts uint
	ScratchRoot         string

	// S3 Object Storage configuration
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3PublicBaseURL   string // Optional CDN/CloudFront URL
	S3UsePathStyle    bool   // Required for MinIO

	// Archive processing
	AcceptedExtensions   []string
	ThumbnailSizes       []int
	ThumbnailQuality     int
	ThumbnailConcurrency int
	CoverMarkers         []string
	CorruptRatio         float64
	MaxEntrySizeMB       int

	// Worker pool
	Workers        int
	MaxAttempts    uint
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	AttemptTimeout time.Duration
	DrainTimeout   time.Duration
	RescanInterval time.Duration

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockEnabled   bool
	LockTTL       time.Duration
	InstanceID    string

	// Event relay
	EventBus     EventBusBackend
	NATSURL      string
	EventSubject string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:     getEnvAny([]string{"INKPRESS_ENV"}, "development"),
		HTTPBind:        getEnvAny([]string{"INKPRESS_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:        getEnvIntAny([]string{"INKPRESS_HTTP_PORT", "PORT"}, 8080),
		DBBackend:       DatabaseBackend(getEnvAny([]string{"INKPRESS_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:           getEnvAny([]string{"INKPRESS_DB_DSN", "DATABASE_URL"}, ""),
		MaxUploadSizeMB: getEnvIntAny([]string{"INKPRESS_MAX_UPLOAD_SIZE_MB"}, 512),

		StorageRoot:         getEnvAny([]string{"INKPRESS_STORAGE_ROOT"}, "./data/storage"),
		StorageReadAttempts: uint(getEnvIntAny([]string{"INKPRESS_STORAGE_READ_ATTEMPTS"}, 3)),
		ScratchRoot:         getEnvAny([]string{"INKPRESS_SCRATCH_ROOT"}, os.TempDir()),

		// S3 Object Storage configuration
		S3AccessKeyID:     getEnvAny([]string{"INKPRESS_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"INKPRESS_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"INKPRESS_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"INKPRESS_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        getEnvAny([]string{"INKPRESS_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3PublicBaseURL:   getEnvAny([]string{"INKPRESS_S3_PUBLIC_BASE_URL", "S3_PUBLIC_BASE_URL"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"INKPRESS_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		AcceptedExtensions:   getEnvListAny([]string{"INKPRESS_ACCEPTED_EXTENSIONS"}, []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tif", ".tiff"}),
		ThumbnailSizes:       getEnvIntListAny([]string{"INKPRESS_THUMBNAIL_SIZES"}, []int{1024, 512, 256}),
		ThumbnailQuality:     getEnvIntAny([]string{"INKPRESS_THUMBNAIL_QUALITY"}, 85),
		ThumbnailConcurrency: getEnvIntAny([]string{"INKPRESS_THUMBNAIL_CONCURRENCY"}, 2),
		CoverMarkers:         getEnvListAny([]string{"INKPRESS_COVER_MARKERS"}, []string{"cover", "front"}),
		CorruptRatio:         getEnvFloatAny([]string{"INKPRESS_CORRUPT_RATIO"}, 0.5),
		MaxEntrySizeMB:       getEnvIntAny([]string{"INKPRESS_MAX_ENTRY_SIZE_MB"}, 256),

		Workers:        getEnvIntAny([]string{"INKPRESS_WORKERS"}, 2),
		MaxAttempts:    uint(getEnvIntAny([]string{"INKPRESS_MAX_ATTEMPTS"}, 3)),
		BackoffBase:    getEnvDurationAny([]string{"INKPRESS_BACKOFF_BASE"}, 5*time.Second),
		BackoffCap:     getEnvDurationAny([]string{"INKPRESS_BACKOFF_CAP"}, 5*time.Minute),
		AttemptTimeout: getEnvDurationAny([]string{"INKPRESS_ATTEMPT_TIMEOUT"}, 10*time.Minute),
		DrainTimeout:   getEnvDurationAny([]string{"INKPRESS_DRAIN_TIMEOUT"}, 30*time.Second),
		RescanInterval: getEnvDurationAny([]string{"INKPRESS_RESCAN_INTERVAL"}, time.Minute),

		// Tracing configuration
		TracingEnabled:    getEnvBoolAny([]string{"INKPRESS_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"INKPRESS_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"INKPRESS_TRACING_SAMPLE_RATE"}, 1.0),

		// Multi-instance configuration
		RedisAddr:     getEnvAny([]string{"INKPRESS_REDIS_ADDR", "REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"INKPRESS_REDIS_PASSWORD", "REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"INKPRESS_REDIS_DB"}, 0),
		LockEnabled:   getEnvBoolAny([]string{"INKPRESS_LOCK_ENABLED"}, false),
		LockTTL:       getEnvDurationAny([]string{"INKPRESS_LOCK_TTL"}, 30*time.Second),
		InstanceID:    getEnvAny([]string{"INKPRESS_INSTANCE_ID", "HOSTNAME"}, ""),

		EventBus:     EventBusBackend(getEnvAny([]string{"INKPRESS_EVENT_BUS"}, string(EventBusMemory))),
		NATSURL:      getEnvAny([]string{"INKPRESS_NATS_URL", "NATS_URL"}, "nats://localhost:4222"),
		EventSubject: getEnvAny([]string{"INKPRESS_EVENT_SUBJECT"}, "inkpress.events"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBBackend {
	case DatabasePostgres, DatabaseMySQL:
		if c.DBDSN == "" {
			return fmt.Errorf("INKPRESS_DB_DSN must be provided for %s", c.DBBackend)
		}
	case DatabaseSQLite:
		if c.DBDSN == "" {
			if strings.EqualFold(c.Environment, "production") {
				return fmt.Errorf("INKPRESS_DB_DSN must be provided in production")
			}
			c.DBDSN = defaultSQLiteDSN
		}
	default:
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}

	switch c.EventBus {
	case EventBusMemory, EventBusRedis, EventBusNATS:
	default:
		return fmt.Errorf("unsupported event bus %q", c.EventBus)
	}

	if c.Workers < 1 {
		return fmt.Errorf("INKPRESS_WORKERS must be at least 1, got %d", c.Workers)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("INKPRESS_MAX_ATTEMPTS must be at least 1")
	}
	if c.BackoffBase <= 0 || c.BackoffCap < c.BackoffBase {
		return fmt.Errorf("backoff base %s must be positive and not exceed cap %s", c.BackoffBase, c.BackoffCap)
	}
	if c.CorruptRatio <= 0 || c.CorruptRatio > 1 {
		return fmt.Errorf("INKPRESS_CORRUPT_RATIO must be in (0, 1], got %v", c.CorruptRatio)
	}
	if c.ThumbnailQuality < 1 || c.ThumbnailQuality > 100 {
		return fmt.Errorf("INKPRESS_THUMBNAIL_QUALITY must be in [1, 100], got %d", c.ThumbnailQuality)
	}
	for _, s := range c.ThumbnailSizes {
		if s <= 0 {
			return fmt.Errorf("thumbnail sizes must be positive, got %d", s)
		}
	}
	if len(c.AcceptedExtensions) == 0 {
		return fmt.Errorf("INKPRESS_ACCEPTED_EXTENSIONS must not be empty")
	}
	return nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"INKPRESS_MEDIA_ROOT":      "use INKPRESS_STORAGE_ROOT",
		"INKPRESS_WORKER_COUNT":    "use INKPRESS_WORKERS",
		"INKPRESS_MAX_RETRIES":     "use INKPRESS_MAX_ATTEMPTS",
		"INKPRESS_THUMBNAIL_WIDTH": "use INKPRESS_THUMBNAIL_SIZES",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// MaxUploadSizeBytes returns the configured upload limit in bytes.
func (c *Config) MaxUploadSizeBytes() int64 {
	if c == nil || c.MaxUploadSizeMB <= 0 {
		return 0
	}
	return int64(c.MaxUploadSizeMB) * 1024 * 1024
}

// MaxEntrySizeBytes returns the per-member extraction cap in bytes.
func (c *Config) MaxEntrySizeBytes() int64 {
	if c == nil || c.MaxEntrySizeMB <= 0 {
		return 0
	}
	return int64(c.MaxEntrySizeMB) * 1024 * 1024
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny accepts Go durations ("90s") or bare seconds ("90").
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}

// getEnvListAny splits the first set value on commas.
func getEnvListAny(keys []string, def []string) []string {
	for _, k := range keys {
		v := os.Getenv(k)
		if v == "" {
			continue
		}
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return def
}

// getEnvIntListAny parses a comma separated list of integers. Unparseable
// items fall back to def entirely.
func getEnvIntListAny(keys []string, def []int) []int {
	raw := getEnvListAny(keys, nil)
	if raw == nil {
		return def
	}
	out := make([]int, 0, len(raw))
	for _, r := range raw {
		n, err := strconv.Atoi(r)
		if err != nil {
			return def
		}
		out = append(out, n)
	}
	return out
}
