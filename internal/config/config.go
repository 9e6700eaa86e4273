// Package config provides configuration loading and validation for the
// bridge server. It uses koanf to merge environment variables with optional
// file overrides.
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

// Config holds all configuration values for the bridge server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// RuntimeID identifies this runtime instance in heartbeats and ledger
	// snapshots.
	RuntimeID string `koanf:"runtime_id"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Redis (replay cache backend; optional, in-memory when unset)
	RedisURL string `koanf:"redis_url"`

	// Token signing
	SigningSecret         string `koanf:"signing_secret"`
	PreviousSigningSecret string `koanf:"previous_signing_secret"`
	TokenTTLSeconds       int    `koanf:"token_ttl_seconds"`

	// Root key for emergency overrides and policy administration
	RootSecret string `koanf:"root_secret"`

	// Liveness
	HeartbeatStalenessMinutes int `koanf:"heartbeat_staleness_minutes"`

	// Ledger synchronization
	SyncIntervalMinutes int    `koanf:"sync_interval_minutes"`
	AnchorBackend       string `koanf:"anchor_backend"` // "memory" or "s3"
	AnchorBucketName    string `koanf:"anchor_bucket_name"`
	AnchorAccessKeyID   string `koanf:"anchor_access_key_id"`
	AnchorSecretKey     string `koanf:"anchor_secret_key"`
	AnchorEndpoint      string `koanf:"anchor_endpoint"`

	// Tracing
	TracingEnabled  bool   `koanf:"tracing_enabled"`
	TracingEndpoint string `koanf:"tracing_endpoint"`
	TracingInsecure bool   `koanf:"tracing_insecure"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL    = errors.New("DATABASE_URL is required")
	ErrMissingSigningSecret  = errors.New("SIGNING_SECRET is required")
	ErrMissingRootSecret     = errors.New("ROOT_SECRET is required")
	ErrMissingRuntimeID      = errors.New("RUNTIME_ID is required")
	ErrMissingAnchorBucket   = errors.New("ANCHOR_BUCKET_NAME is required for the s3 backend")
	ErrMissingAnchorKeyID    = errors.New("ANCHOR_ACCESS_KEY_ID is required for the s3 backend")
	ErrMissingAnchorSecret   = errors.New("ANCHOR_SECRET_KEY is required for the s3 backend")
	ErrMissingAnchorEndpoint = errors.New("ANCHOR_ENDPOINT is required for the s3 backend")
	ErrInvalidAnchorBackend  = errors.New("ANCHOR_BACKEND must be \"memory\" or \"s3\"")
	ErrInvalidPort           = errors.New("PORT must be a valid integer")
)

// Default values for non-secret configuration.
const (
	DefaultPort                      = 8080
	DefaultEnv                       = "development"
	DefaultTokenTTLSeconds           = 60
	DefaultHeartbeatStalenessMinutes = 15
	DefaultSyncIntervalMinutes       = 5
	DefaultAnchorBackend             = "memory"
)

// Load reads configuration from environment variables and an optional config
// file. Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, portErr := getEnvIntOrDefaultMulti([]string{"AUTHBRIDGE_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	tokenTTL, ttlErr := getEnvIntOrDefault("TOKEN_TTL_SECONDS", k.Int("token_ttl_seconds"), DefaultTokenTTLSeconds)
	if ttlErr != nil {
		loadErrs = append(loadErrs, ttlErr)
	}

	staleness, staleErr := getEnvIntOrDefault("HEARTBEAT_STALENESS_MINUTES", k.Int("heartbeat_staleness_minutes"), DefaultHeartbeatStalenessMinutes)
	if staleErr != nil {
		loadErrs = append(loadErrs, staleErr)
	}

	syncInterval, syncErr := getEnvIntOrDefault("SYNC_INTERVAL_MINUTES", k.Int("sync_interval_minutes"), DefaultSyncIntervalMinutes)
	if syncErr != nil {
		loadErrs = append(loadErrs, syncErr)
	}

	tracingEnabled := k.Bool("tracing_enabled")
	if val := os.Getenv("TRACING_ENABLED"); val != "" {
		tracingEnabled = parseBool(val, tracingEnabled)
	}
	tracingInsecure := k.Bool("tracing_insecure")
	if val := os.Getenv("TRACING_INSECURE"); val != "" {
		tracingInsecure = parseBool(val, tracingInsecure)
	}

	cfg := &Config{
		Port:                      port,
		Env:                       getEnvOrDefaultMulti([]string{"AUTHBRIDGE_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		RuntimeID:                 getEnvOrKoanf("RUNTIME_ID", k, "runtime_id"),
		DatabaseURL:               getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:                  getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		SigningSecret:             getEnvOrKoanf("SIGNING_SECRET", k, "signing_secret"),
		PreviousSigningSecret:     getEnvOrKoanf("PREVIOUS_SIGNING_SECRET", k, "previous_signing_secret"),
		TokenTTLSeconds:           tokenTTL,
		RootSecret:                getEnvOrKoanf("ROOT_SECRET", k, "root_secret"),
		HeartbeatStalenessMinutes: staleness,
		SyncIntervalMinutes:       syncInterval,
		AnchorBackend:             getEnvOrDefault("ANCHOR_BACKEND", k.String("anchor_backend"), DefaultAnchorBackend),
		AnchorBucketName:          getEnvOrKoanf("ANCHOR_BUCKET_NAME", k, "anchor_bucket_name"),
		AnchorAccessKeyID:         getEnvOrKoanf("ANCHOR_ACCESS_KEY_ID", k, "anchor_access_key_id"),
		AnchorSecretKey:           getEnvOrKoanf("ANCHOR_SECRET_KEY", k, "anchor_secret_key"),
		AnchorEndpoint:            getEnvOrKoanf("ANCHOR_ENDPOINT", k, "anchor_endpoint"),
		TracingEnabled:            tracingEnabled,
		TracingEndpoint:           getEnvOrKoanf("TRACING_ENDPOINT", k, "tracing_endpoint"),
		TracingInsecure:           tracingInsecure,
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// TokenTTL returns the approval token lifetime as a duration.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLSeconds) * time.Second
}

// HeartbeatStaleness returns the liveness window as a duration.
func (c *Config) HeartbeatStaleness() time.Duration {
	return time.Duration(c.HeartbeatStalenessMinutes) * time.Minute
}

// SyncInterval returns the ledger sync cadence as a duration.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalMinutes) * time.Minute
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.SigningSecret == "" {
		errs = append(errs, ErrMissingSigningSecret)
	}
	if c.RootSecret == "" {
		errs = append(errs, ErrMissingRootSecret)
	}
	if c.RuntimeID == "" {
		errs = append(errs, ErrMissingRuntimeID)
	}

	switch c.AnchorBackend {
	case "memory":
		// no further requirements
	case "s3":
		if c.AnchorBucketName == "" {
			errs = append(errs, ErrMissingAnchorBucket)
		}
		if c.AnchorAccessKeyID == "" {
			errs = append(errs, ErrMissingAnchorKeyID)
		}
		if c.AnchorSecretKey == "" {
			errs = append(errs, ErrMissingAnchorSecret)
		}
		if c.AnchorEndpoint == "" {
			errs = append(errs, ErrMissingAnchorEndpoint)
		}
	default:
		errs = append(errs, ErrInvalidAnchorBackend)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                        fmt.Sprintf("%d", c.Port),
		"env":                         c.Env,
		"runtime_id":                  c.RuntimeID,
		"database_url":                maskDatabaseURL(c.DatabaseURL),
		"redis_url":                   maskDatabaseURL(c.RedisURL),
		"signing_secret":              maskSecret(c.SigningSecret),
		"previous_signing_secret":     maskSecret(c.PreviousSigningSecret),
		"token_ttl_seconds":           fmt.Sprintf("%d", c.TokenTTLSeconds),
		"root_secret":                 maskSecret(c.RootSecret),
		"heartbeat_staleness_minutes": fmt.Sprintf("%d", c.HeartbeatStalenessMinutes),
		"sync_interval_minutes":       fmt.Sprintf("%d", c.SyncIntervalMinutes),
		"anchor_backend":              c.AnchorBackend,
		"anchor_bucket_name":          c.AnchorBucketName,
		"anchor_access_key_id":        maskSecret(c.AnchorAccessKeyID),
		"anchor_secret_key":           maskSecret(c.AnchorSecretKey),
		"anchor_endpoint":             c.AnchorEndpoint,
		"tracing_enabled":             fmt.Sprintf("%t", c.TracingEnabled),
		"tracing_endpoint":            c.TracingEndpoint,
	}
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
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

// parseBool interprets common truthy and falsy spellings, falling back to the
// provided value when the input is unrecognized.
func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(val) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return fallback
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
