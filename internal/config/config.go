// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Supported providers.
const (
	ProviderReplicate = "replicate"
	ProviderBeam      = "beam"
)

// Static errors for configuration validation.
var (
	// ErrUnknownProvider is returned when PROVIDER names an unsupported backend.
	ErrUnknownProvider = errors.New("config: PROVIDER must be replicate or beam")
	// ErrBeamQueueURLRequired is returned when PROVIDER=beam and BEAM_QUEUE_URL is not set.
	ErrBeamQueueURLRequired = errors.New("config: BEAM_QUEUE_URL is required for the beam provider")
	// ErrInvalidPort is returned when PORT is out of range.
	ErrInvalidPort = errors.New("config: PORT must be between 1 and 65535")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int           `env:"PORT, default=8080" json:"port"`
	PublicBaseURL  string        `env:"PUBLIC_BASE_URL" json:"public_base_url,omitempty"` // Used to build webhook URLs
	WebhookSecret  string        `env:"WEBHOOK_SECRET" json:"-"`                          // Masked in JSON
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS, default=*" json:"allowed_origins"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" json:"sweep_interval"` // 0 disables the sweeper

	// Provider settings. Missing tokens do not fail startup; generation requests
	// are answered with "Server not configured" instead.
	Provider          string `env:"PROVIDER, default=replicate" json:"provider"`
	ReplicateAPIToken string `env:"REPLICATE_API_TOKEN" json:"-"` // Masked in JSON
	ReplicateModel    string `env:"REPLICATE_MODEL, default=google/veo-3-fast" json:"replicate_model"`
	ReplicateBaseURL  string `env:"REPLICATE_BASE_URL" json:"replicate_base_url,omitempty"`
	BeamToken         string `env:"BEAM_TOKEN" json:"-"` // Masked in JSON
	BeamQueueURL      string `env:"BEAM_QUEUE_URL" json:"beam_queue_url,omitempty"`

	// Persistence settings. An empty DATABASE_URL keeps jobs in memory.
	DatabaseURL string        `env:"DATABASE_URL" json:"-"` // Masked in JSON
	RedisURL    string        `env:"REDIS_URL" json:"-"`    // Masked in JSON
	CacheTTL    time.Duration `env:"CACHE_TTL, default=10m" json:"cache_ttl"`
	NATSURL     string        `env:"NATS_URL" json:"nats_url,omitempty"`

	// Artifact storage settings. S3 wins when configured, then MEDIA_DIR.
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON
	MediaDir           string `env:"MEDIA_DIR" json:"media_dir,omitempty"`
	CDNBaseURL         string `env:"CDN_BASE_URL" json:"cdn_base_url,omitempty"`
	TempDir            string `env:"TEMP_DIR" json:"temp_dir,omitempty"` // Spool dir for downloads; empty uses the OS default
	// Hosts (and their subdomains) finished videos may be downloaded from.
	MirrorAllowedHosts []string `env:"MIRROR_ALLOWED_HOSTS, default=replicate.delivery,beam.cloud" json:"mirror_allowed_hosts"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// MirrorEnabled returns true if finished videos are copied into owned storage.
func (c *Config) MirrorEnabled() bool {
	return c.S3Enabled() || c.MediaDir != ""
}

// ProviderConfigured returns true if the selected provider has credentials.
func (c *Config) ProviderConfigured() bool {
	if c.Provider == ProviderBeam {
		return c.BeamToken != ""
	}
	return c.ReplicateAPIToken != ""
}

// Load reads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is consistent.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return ErrInvalidPort
	}
	switch c.Provider {
	case ProviderReplicate:
	case ProviderBeam:
		if c.BeamToken != "" && c.BeamQueueURL == "" {
			return ErrBeamQueueURLRequired
		}
	default:
		return ErrUnknownProvider
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, Provider: %s, ProviderConfigured: %t, PublicBaseURL: %s, Database: %t, Redis: %t, NATS: %t, S3Bucket: %s, S3Region: %s, MediaDir: %s, SweepInterval: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.Provider,
		c.ProviderConfigured(),
		c.PublicBaseURL,
		c.DatabaseURL != "",
		c.RedisURL != "",
		c.NATSURL != "",
		c.S3Bucket,
		c.S3Region,
		c.MediaDir,
		c.SweepInterval,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
