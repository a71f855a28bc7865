package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hive.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.False(t, cfg.Network.Enabled)
	assert.Equal(t, time.Minute, cfg.Network.Interval())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeConfig(t, `
business:
  name: "Mama Mboga"
  currency: KES
network:
  enabled: true
  endpoint_url: "https://l0.example.net:9000"
  identity_path: /var/lib/hive/identity.json
  interval_seconds: 15
  min_submit_spacing_ms: 250
  redis_url: redis://cache:6379/0
database:
  driver: postgres
  url: postgres://hive@db/hive?sslmode=disable
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Mama Mboga", cfg.Business.Name)
	assert.True(t, cfg.Network.Enabled)
	assert.Equal(t, 15*time.Second, cfg.Network.Interval())
	assert.Equal(t, 250*time.Millisecond, cfg.Network.MinSubmitSpacing())
	assert.Equal(t, 30*time.Second, cfg.Network.RequestTimeout(), "unset fields keep defaults")
	assert.Equal(t, "postgres", cfg.Database.Driver)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "network:\n  interval_seconds: 15\n")
	t.Setenv("HIVE_NETWORK_ENABLED", "true")
	t.Setenv("HIVE_L0_URL", "http://10.0.0.5:9000")
	t.Setenv("HIVE_SYNC_INTERVAL_SECONDS", "5")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Network.Enabled)
	assert.Equal(t, "http://10.0.0.5:9000", cfg.Network.EndpointURL)
	assert.Equal(t, 5*time.Second, cfg.Network.Interval())
	assert.Equal(t, "DEBUG", cfg.LogLevel)
}

func TestLoad_BadEnvInteger(t *testing.T) {
	t.Setenv("HIVE_SYNC_INTERVAL_SECONDS", "soon")
	_, err := Load("")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"zero interval":      func(c *Config) { c.Network.IntervalSeconds = 0 },
		"negative spacing":   func(c *Config) { c.Network.MinSubmitSpacingMs = -1 },
		"empty endpoint":     func(c *Config) { c.Network.Enabled = true; c.Network.EndpointURL = "" },
		"non-http endpoint":  func(c *Config) { c.Network.Enabled = true; c.Network.EndpointURL = "ftp://x" },
		"missing identity":   func(c *Config) { c.Network.Enabled = true; c.Network.IdentityPath = "" },
		"unknown db driver":  func(c *Config) { c.Database.Driver = "mysql" },
		"zero timeout":       func(c *Config) { c.Network.RequestTimeoutSeconds = 0 },
		"negative max print": func(c *Config) { c.Network.MaxFingerprints = -5 },
		"unknown archive":    func(c *Config) { c.Network.ArchiveBucket = "b"; c.Network.ArchiveBackend = "ftp" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}

	// Disabled network does not need a reachable endpoint.
	cfg := Default()
	cfg.Network.EndpointURL = ""
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
