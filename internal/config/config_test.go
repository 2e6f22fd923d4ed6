package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, 3*time.Second, cfg.Scraper.PageDelay)
	assert.Equal(t, 12*time.Second, cfg.Scraper.Timeout)
	assert.Equal(t, 10*time.Minute, cfg.Ingest.JobTTL)
	assert.Equal(t, 500*time.Millisecond, cfg.Ingest.JobDelay)
	assert.Equal(t, 2, cfg.Ingest.Rounds)
	assert.Equal(t, 10, cfg.Ingest.MaxAttempts)
	assert.Zero(t, cfg.Ingest.AttemptTTL)
	assert.Equal(t, 2*time.Minute, cfg.Health.JobTTL)
	assert.Equal(t, 200*time.Millisecond, cfg.Health.JobDelay)
	assert.Equal(t, 200, cfg.Health.PageSize)
	assert.Equal(t, 10*time.Second, cfg.Location.Cooldown)
	assert.Equal(t, 10*time.Second, cfg.Checker.TargetCutoff)
	assert.ElementsMatch(t, []string{"pv.sohu.com", "ip-api.com"}, cfg.Checker.EchoHosts)

	require.Len(t, cfg.Checker.Probes, 4)
	assert.Equal(t, "{ip}", cfg.Checker.Probes[0].Marker)
	assert.Equal(t, "百度一下", cfg.Checker.Probes[1].Marker)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("PROXYPOOL_HEALTH_PAGE_SIZE", "50")
	t.Setenv("PROXYPOOL_CHECKER_SPEED_LIMIT", "1500ms")
	t.Setenv("PROXYPOOL_SERVER_AUTH_TOKEN", "secret")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Health.PageSize)
	assert.Equal(t, 1500*time.Millisecond, cfg.Checker.SpeedLimit)
	assert.Equal(t, "secret", cfg.Server.AuthToken)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scraper:
  sources: [kuaidaili, geonode]
ingest:
  workers: 4
  max_attempts: 3
log:
  level: debug
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"kuaidaili", "geonode"}, cfg.Scraper.Sources)
	assert.Equal(t, 4, cfg.Ingest.Workers)
	assert.Equal(t, 3, cfg.Ingest.MaxAttempts)
	assert.Equal(t, "debug", cfg.Log.Level)
	// untouched keys keep their defaults
	assert.Equal(t, 10*time.Minute, cfg.Ingest.JobTTL)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown source", "scraper:\n  sources: [nowhere]\n"},
		{"bad log level", "log:\n  level: loud\n"},
		{"fallback without ip placeholder", "location:\n  fallback_url: http://ip-api.com/json/\n"},
		{"write timeout below check timeout", "server:\n  write_timeout: 5s\n"},
		{"bad listen addr", "server:\n  listen_addr: localhost\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))

			_, err := LoadConfig(path)
			assert.ErrorContains(t, err, "config validation failed")
		})
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestSaveConfigTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, SaveConfigTemplate(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Health.PageSize)

	assert.Error(t, SaveConfigTemplate(path), "existing file is not overwritten")
}
