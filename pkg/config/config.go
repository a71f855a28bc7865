// Package config loads the hive-sync configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Business  BusinessConfig `yaml:"business"`
	Network   NetworkConfig  `yaml:"network"`
	Database  DatabaseConfig `yaml:"database"`
	LogLevel  string         `yaml:"log_level"`
	LogFormat string         `yaml:"log_format"` // "json" | "text"
}

type BusinessConfig struct {
	Name     string `yaml:"name"`
	Currency string `yaml:"currency"`
}

// NetworkConfig controls the state channel.
type NetworkConfig struct {
	Enabled               bool   `yaml:"enabled"`
	EndpointURL           string `yaml:"endpoint_url"`
	IdentityPath          string `yaml:"identity_path"`
	IntervalSeconds       int    `yaml:"interval_seconds"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	MinSubmitSpacingMs    int    `yaml:"min_submit_spacing_ms"`
	MaxFingerprints       int    `yaml:"max_fingerprints"`
	JournalPath           string `yaml:"journal_path"`
	RedisURL              string `yaml:"redis_url,omitempty"`
	LeaseTTLSeconds       int    `yaml:"lease_ttl_seconds"`
	ArchiveBackend        string `yaml:"archive_backend"` // "s3" | "gcs"
	ArchiveBucket         string `yaml:"archive_bucket,omitempty"`
	ArchivePrefix         string `yaml:"archive_prefix,omitempty"`
	ArchiveRegion         string `yaml:"archive_region,omitempty"`
	ArchiveEndpoint       string `yaml:"archive_endpoint,omitempty"`
	OTLPEndpoint          string `yaml:"otlp_endpoint,omitempty"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" | "postgres"
	URL    string `yaml:"url"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Business: BusinessConfig{Currency: "USD"},
		Network: NetworkConfig{
			Enabled:               false,
			EndpointURL:           "http://localhost:9000",
			IdentityPath:          "data/identity.json",
			IntervalSeconds:       60,
			RequestTimeoutSeconds: 30,
			MinSubmitSpacingMs:    1000,
			MaxFingerprints:       1024,
			JournalPath:           "data/journal.db",
			LeaseTTLSeconds:       30,
			ArchiveBackend:        "s3",
			ArchivePrefix:         "statechannel/",
			ArchiveRegion:         "us-east-1",
		},
		Database:  DatabaseConfig{Driver: "sqlite", URL: "data/hive.db"},
		LogLevel:  "INFO",
		LogFormat: "json",
	}
}

// Load reads path (if non-empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, v)
		}
		*dst = n
		return nil
	}

	if v := os.Getenv("HIVE_NETWORK_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: HIVE_NETWORK_ENABLED=%q", ErrInvalid, v)
		}
		c.Network.Enabled = b
	}
	setString("HIVE_BUSINESS_NAME", &c.Business.Name)
	setString("HIVE_L0_URL", &c.Network.EndpointURL)
	setString("HIVE_IDENTITY_PATH", &c.Network.IdentityPath)
	setString("HIVE_JOURNAL_PATH", &c.Network.JournalPath)
	setString("REDIS_URL", &c.Network.RedisURL)
	setString("HIVE_ARCHIVE_BACKEND", &c.Network.ArchiveBackend)
	setString("HIVE_ARCHIVE_BUCKET", &c.Network.ArchiveBucket)
	setString("AWS_REGION", &c.Network.ArchiveRegion)
	setString("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Network.OTLPEndpoint)
	setString("DATABASE_DRIVER", &c.Database.Driver)
	setString("DATABASE_URL", &c.Database.URL)
	setString("LOG_LEVEL", &c.LogLevel)
	setString("LOG_FORMAT", &c.LogFormat)

	for key, dst := range map[string]*int{
		"HIVE_SYNC_INTERVAL_SECONDS":   &c.Network.IntervalSeconds,
		"HIVE_REQUEST_TIMEOUT_SECONDS": &c.Network.RequestTimeoutSeconds,
		"HIVE_MAX_FINGERPRINTS":        &c.Network.MaxFingerprints,
	} {
		if err := setInt(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the fields the service depends on.
func (c *Config) Validate() error {
	n := c.Network
	if n.IntervalSeconds <= 0 {
		return fmt.Errorf("%w: network.interval_seconds must be > 0", ErrInvalid)
	}
	if n.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: network.request_timeout_seconds must be > 0", ErrInvalid)
	}
	if n.MinSubmitSpacingMs < 0 {
		return fmt.Errorf("%w: network.min_submit_spacing_ms cannot be negative", ErrInvalid)
	}
	if n.MaxFingerprints < 0 {
		return fmt.Errorf("%w: network.max_fingerprints cannot be negative", ErrInvalid)
	}
	if n.Enabled {
		if strings.TrimSpace(n.EndpointURL) == "" {
			return fmt.Errorf("%w: network.endpoint_url is required when the network is enabled", ErrInvalid)
		}
		u, err := url.Parse(n.EndpointURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: network.endpoint_url %q is not an http(s) URL", ErrInvalid, n.EndpointURL)
		}
		if n.IdentityPath == "" {
			return fmt.Errorf("%w: network.identity_path is required when the network is enabled", ErrInvalid)
		}
	}
	if n.ArchiveBucket != "" && n.ArchiveBackend != "s3" && n.ArchiveBackend != "gcs" {
		return fmt.Errorf("%w: network.archive_backend must be s3 or gcs", ErrInvalid)
	}
	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("%w: database.driver must be sqlite or postgres", ErrInvalid)
	}
	return nil
}

func (n NetworkConfig) Interval() time.Duration {
	return time.Duration(n.IntervalSeconds) * time.Second
}

func (n NetworkConfig) RequestTimeout() time.Duration {
	return time.Duration(n.RequestTimeoutSeconds) * time.Second
}

func (n NetworkConfig) MinSubmitSpacing() time.Duration {
	return time.Duration(n.MinSubmitSpacingMs) * time.Millisecond
}

func (n NetworkConfig) LeaseTTL() time.Duration {
	return time.Duration(n.LeaseTTLSeconds) * time.Second
}
