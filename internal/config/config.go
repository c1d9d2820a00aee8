// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database. Optional: when unset the server runs on the in-memory
	// catalog, which is only useful for local development and tests.
	DatabaseURL string `koanf:"database_url"`

	// Redis, used for telemetry counters and rate limiting. Optional:
	// when unset both fall back to in-process stores.
	RedisURL string `koanf:"redis_url"`

	// Internal JWT authentication for operational endpoints.
	InternalJWTSecret string `koanf:"internal_jwt_secret"`

	// Ranking
	RankRefreshInterval time.Duration `koanf:"rank_refresh_interval"`
	RankRefreshTimeout  time.Duration `koanf:"rank_refresh_timeout"`
	CalibrationPath     string        `koanf:"calibration_path"`
	SnapshotRetain      int           `koanf:"snapshot_retain"`

	// Sponsored-slot density cap
	SponsoredWindow int `koanf:"sponsored_window"`
	SponsoredMax    int `koanf:"sponsored_max"`

	// Archive (Cloudflare R2 / S3-compatible object storage) for
	// snapshot audit dumps. Optional as a group.
	ArchiveBucketName      string `koanf:"archive_bucket_name"`
	ArchiveAccessKeyID     string `koanf:"archive_access_key_id"`
	ArchiveSecretAccessKey string `koanf:"archive_secret_access_key"`
	ArchiveEndpoint        string `koanf:"archive_endpoint"`
}

// Configuration validation errors.
var (
	ErrMissingInternalJWTSecret      = errors.New("INTERNAL_JWT_SECRET is required")
	ErrMissingArchiveBucketName      = errors.New("ARCHIVE_BUCKET_NAME is required")
	ErrMissingArchiveAccessKeyID     = errors.New("ARCHIVE_ACCESS_KEY_ID is required")
	ErrMissingArchiveSecretAccessKey = errors.New("ARCHIVE_SECRET_ACCESS_KEY is required")
	ErrMissingArchiveEndpoint        = errors.New("ARCHIVE_ENDPOINT is required")
	ErrInvalidPort                   = errors.New("PORT must be a valid integer")
	ErrInvalidRefreshInterval        = errors.New("RANK_REFRESH_INTERVAL must be a valid duration")
	ErrRefreshIntervalTooLong        = errors.New("RANK_REFRESH_INTERVAL must be 5m or less")
	ErrInvalidSponsoredCap           = errors.New("SPONSORED_MAX must not exceed SPONSORED_WINDOW")
)

// Default values for non-secret configuration.
const (
	DefaultPort                = 8080
	DefaultEnv                 = "development"
	DefaultRankRefreshInterval = 2 * time.Minute
	DefaultRankRefreshTimeout  = 30 * time.Second
	DefaultSnapshotRetain      = 4
	DefaultSponsoredWindow     = 12
	DefaultSponsoredMax        = 2

	// MaxRankRefreshInterval bounds staleness: ranking must recompute
	// at least this often.
	MaxRankRefreshInterval = 5 * time.Minute
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// Try WHALEFEED_PORT first, then PORT for platform compatibility
	port, portErr := getEnvIntOrDefaultMulti([]string{"WHALEFEED_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	refreshInterval, intervalErr := getEnvDurationOrDefault("RANK_REFRESH_INTERVAL", k.Duration("rank_refresh_interval"), DefaultRankRefreshInterval)
	if intervalErr != nil {
		loadErrs = append(loadErrs, intervalErr)
	}

	refreshTimeout, timeoutErr := getEnvDurationOrDefault("RANK_REFRESH_TIMEOUT", k.Duration("rank_refresh_timeout"), DefaultRankRefreshTimeout)
	if timeoutErr != nil {
		loadErrs = append(loadErrs, timeoutErr)
	}

	snapshotRetain, retainErr := getEnvIntOrDefault("SNAPSHOT_RETAIN", k.Int("snapshot_retain"), DefaultSnapshotRetain)
	if retainErr != nil {
		loadErrs = append(loadErrs, retainErr)
	}

	sponsoredWindow, windowErr := getEnvIntOrDefault("SPONSORED_WINDOW", k.Int("sponsored_window"), DefaultSponsoredWindow)
	if windowErr != nil {
		loadErrs = append(loadErrs, windowErr)
	}

	sponsoredMax, maxErr := getEnvIntOrDefault("SPONSORED_MAX", k.Int("sponsored_max"), DefaultSponsoredMax)
	if maxErr != nil {
		loadErrs = append(loadErrs, maxErr)
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:                port,
		Env:                 getEnvOrDefaultMulti([]string{"WHALEFEED_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:         getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:            getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		InternalJWTSecret:   getEnvOrKoanf("INTERNAL_JWT_SECRET", k, "internal_jwt_secret"),
		RankRefreshInterval: refreshInterval,
		RankRefreshTimeout:  refreshTimeout,
		CalibrationPath:     getEnvOrKoanf("CALIBRATION_PATH", k, "calibration_path"),
		SnapshotRetain:      snapshotRetain,
		SponsoredWindow:     sponsoredWindow,
		SponsoredMax:        sponsoredMax,

		ArchiveBucketName:      getEnvOrKoanf("ARCHIVE_BUCKET_NAME", k, "archive_bucket_name"),
		ArchiveAccessKeyID:     getEnvOrKoanf("ARCHIVE_ACCESS_KEY_ID", k, "archive_access_key_id"),
		ArchiveSecretAccessKey: getEnvOrKoanf("ARCHIVE_SECRET_ACCESS_KEY", k, "archive_secret_access_key"),
		ArchiveEndpoint:        getEnvOrKoanf("ARCHIVE_ENDPOINT", k, "archive_endpoint"),
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidPort)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvDurationOrDefault returns the environment variable as a duration
// if set, otherwise the koanf value, or default. Returns an error if the
// environment variable is set but cannot be parsed.
func getEnvDurationOrDefault(envKey string, koanfVal time.Duration, defaultVal time.Duration) (time.Duration, error) {
	if val := os.Getenv(envKey); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", envKey, ErrInvalidRefreshInterval)
		}
		return d, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present and
// consistent. Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.InternalJWTSecret == "" {
		errs = append(errs, ErrMissingInternalJWTSecret)
	}
	if c.RankRefreshInterval > MaxRankRefreshInterval {
		errs = append(errs, ErrRefreshIntervalTooLong)
	}
	if c.SponsoredMax > c.SponsoredWindow {
		errs = append(errs, ErrInvalidSponsoredCap)
	}

	// Archive configuration is optional. Only validate fields if any
	// archive value is set.
	if c.ArchiveBucketName != "" || c.ArchiveAccessKeyID != "" || c.ArchiveSecretAccessKey != "" || c.ArchiveEndpoint != "" {
		if c.ArchiveBucketName == "" {
			errs = append(errs, ErrMissingArchiveBucketName)
		}
		if c.ArchiveAccessKeyID == "" {
			errs = append(errs, ErrMissingArchiveAccessKeyID)
		}
		if c.ArchiveSecretAccessKey == "" {
			errs = append(errs, ErrMissingArchiveSecretAccessKey)
		}
		if c.ArchiveEndpoint == "" {
			errs = append(errs, ErrMissingArchiveEndpoint)
		}
	}

	return errs
}

// ArchiveEnabled reports whether the optional snapshot archive is
// configured.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveBucketName != "" && c.ArchiveAccessKeyID != "" &&
		c.ArchiveSecretAccessKey != "" && c.ArchiveEndpoint != ""
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                  fmt.Sprintf("%d", c.Port),
		"env":                   c.Env,
		"database_url":          maskDatabaseURL(c.DatabaseURL),
		"redis_url":             maskDatabaseURL(c.RedisURL),
		"internal_jwt_secret":   maskSecret(c.InternalJWTSecret),
		"rank_refresh_interval": c.RankRefreshInterval.String(),
		"rank_refresh_timeout":  c.RankRefreshTimeout.String(),
		"calibration_path":      c.CalibrationPath,
		"snapshot_retain":       fmt.Sprintf("%d", c.SnapshotRetain),
		"sponsored_window":      fmt.Sprintf("%d", c.SponsoredWindow),
		"sponsored_max":         fmt.Sprintf("%d", c.SponsoredMax),
		"archive_bucket_name":   c.ArchiveBucketName,
		"archive_access_key_id": maskSecret(c.ArchiveAccessKeyID),
		"archive_endpoint":      c.ArchiveEndpoint,
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a connection URL.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
