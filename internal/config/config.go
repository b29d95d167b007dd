// Package config loads server configuration from environment variables.
//
// Required variables:
//   - DATABASE_URL: PostgreSQL connection string.
//
// Optional variables:
//   - HTTP_ADDR: listen address for the HTTP server (default ":8080").
//   - DEFAULT_PAGE_SIZE: page size when the request does not set one
//     (default "24", must be > 0 if set).
//   - MAX_PAGE_SIZE: upper bound for requested page sizes
//     (default "100", must be >= DEFAULT_PAGE_SIZE).
//   - MAX_JSON_BODY_SIZE: max HTTP JSON request body size in bytes
//     (default "1048576", must be > 0 if set).
//   - CATALOG_RESYNC_INTERVAL: safety-net catalog refresh interval
//     (default "1m", must be > 0 if set).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHTTPAddr                    = ":8080"
	defaultTSStateDir                  = "tsnet-state"
	defaultAuthRateLimit               = 10
	defaultAuthMaxTrackedIPs           = 10000
	defaultMaxJSONBodySize       int64 = 1 << 20 // 1MB
	defaultPageSize                    = 24
	defaultMaxPageSize                 = 100
	defaultCatalogResyncInterval       = time.Minute
)

// Config holds the runtime configuration for the shopshelf server.
type Config struct {
	DatabaseURL           string
	HTTPAddr              string
	LogLevel              string
	AuthRateLimit         int
	AuthMaxTrackedIPs     int
	AdminHostname         string
	TSAuthKey             string
	TSStateDir            string
	SessionSecret         string
	MaxJSONBodySize       int64
	DefaultPageSize       int
	MaxPageSize           int
	CatalogResyncInterval time.Duration
}

// Load reads configuration from environment variables, applying defaults where
// appropriate. It returns an error if required variables are missing or if
// optional values fail validation.
func Load() (Config, error) {
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}

	sessionSecret := strings.TrimSpace(os.Getenv("SESSION_SECRET"))

	authRateLimit := defaultAuthRateLimit
	if value := strings.TrimSpace(os.Getenv("AUTH_RATE_LIMIT")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse AUTH_RATE_LIMIT: %w", err)
		}
		if parsed <= 0 {
			return Config{}, errors.New("AUTH_RATE_LIMIT must be > 0")
		}
		authRateLimit = parsed
	}

	authMaxTrackedIPs := defaultAuthMaxTrackedIPs
	if value := strings.TrimSpace(os.Getenv("AUTH_MAX_TRACKED_IPS")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse AUTH_MAX_TRACKED_IPS: %w", err)
		}
		if parsed <= 0 {
			return Config{}, errors.New("AUTH_MAX_TRACKED_IPS must be > 0")
		}
		authMaxTrackedIPs = parsed
	}

	// Admin Portal Config
	adminHostname := strings.TrimSpace(os.Getenv("ADMIN_HOSTNAME"))
	if adminHostname != "" && sessionSecret == "" {
		return Config{}, errors.New("SESSION_SECRET is required when ADMIN_HOSTNAME is set")
	}
	if adminHostname != "" && len(sessionSecret) < 32 {
		return Config{}, errors.New("SESSION_SECRET must be at least 32 characters when ADMIN_HOSTNAME is set")
	}

	maxJSONBodySize := defaultMaxJSONBodySize
	if v := strings.TrimSpace(os.Getenv("MAX_JSON_BODY_SIZE")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			return Config{}, errors.New("MAX_JSON_BODY_SIZE must be a positive integer (bytes)")
		}
		maxJSONBodySize = n
	}

	pageSize := defaultPageSize
	if v := strings.TrimSpace(os.Getenv("DEFAULT_PAGE_SIZE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, errors.New("DEFAULT_PAGE_SIZE must be a positive integer")
		}
		pageSize = n
	}

	maxPageSize := defaultMaxPageSize
	if v := strings.TrimSpace(os.Getenv("MAX_PAGE_SIZE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, errors.New("MAX_PAGE_SIZE must be a positive integer")
		}
		maxPageSize = n
	}
	if maxPageSize < pageSize {
		return Config{}, errors.New("MAX_PAGE_SIZE must be >= DEFAULT_PAGE_SIZE")
	}

	catalogResyncInterval := defaultCatalogResyncInterval
	if v := strings.TrimSpace(os.Getenv("CATALOG_RESYNC_INTERVAL")); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse CATALOG_RESYNC_INTERVAL: %w", err)
		}
		if parsed <= 0 {
			return Config{}, errors.New("CATALOG_RESYNC_INTERVAL must be > 0")
		}
		catalogResyncInterval = parsed
	}

	return Config{
		DatabaseURL:           databaseURL,
		HTTPAddr:              envOrDefault("HTTP_ADDR", defaultHTTPAddr),
		LogLevel:              envOrDefault("LOG_LEVEL", "info"),
		AuthRateLimit:         authRateLimit,
		AuthMaxTrackedIPs:     authMaxTrackedIPs,
		AdminHostname:         adminHostname,
		TSAuthKey:             os.Getenv("TS_AUTH_KEY"),
		TSStateDir:            envOrDefault("TS_STATE_DIR", defaultTSStateDir),
		SessionSecret:         sessionSecret,
		MaxJSONBodySize:       maxJSONBodySize,
		DefaultPageSize:       pageSize,
		MaxPageSize:           maxPageSize,
		CatalogResyncInterval: catalogResyncInterval,
	}, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
