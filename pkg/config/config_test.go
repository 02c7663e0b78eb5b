package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"NEXUS_DATABASE_URL", "NEXUS_BODY_ROOT", "NEXUS_LOG_LEVEL",
		"NEXUS_XRPL_ENDPOINT", "NEXUS_WORKER_INTERVAL_SECONDS",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg := Load()
	require.Equal(t, "nexus.db", cfg.DatabaseURL)
	require.Equal(t, "INFO", cfg.LogLevel)
	require.Equal(t, 30, cfg.Worker.IntervalSeconds)
	require.NotEmpty(t, cfg.XRPL.Endpoint)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("NEXUS_DATABASE_URL", "postgres://nexus@localhost/nexus")
	t.Setenv("NEXUS_LOG_LEVEL", "DEBUG")
	t.Setenv("NEXUS_WORKER_INTERVAL_SECONDS", "5")
	t.Setenv("NEXUS_OTLP_ENDPOINT", "collector:4317")

	cfg := Load()
	require.Equal(t, "postgres://nexus@localhost/nexus", cfg.DatabaseURL)
	require.Equal(t, "DEBUG", cfg.LogLevel)
	require.Equal(t, 5, cfg.Worker.IntervalSeconds)
	require.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
	require.True(t, cfg.Telemetry.Insecure)
}

func TestLoadWithProfile(t *testing.T) {
	for _, key := range []string{"NEXUS_DATABASE_URL", "NEXUS_XRPL_ACCOUNT", "NEXUS_XRPL_ENDPOINT"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database_url: /var/lib/nexus/nexus.db
xrpl:
  endpoint: https://xrpl.example.test:51234
  account: rProfileAccount
  rate_limit: 2
worker:
  interval_seconds: 60
`), 0o644))

	cfg, err := LoadWithProfile(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/nexus/nexus.db", cfg.DatabaseURL)
	require.Equal(t, "rProfileAccount", cfg.XRPL.Account)
	require.Equal(t, float64(2), cfg.XRPL.RateLimit)
	require.Equal(t, 60, cfg.Worker.IntervalSeconds)
}

func TestEnvWinsOverProfile(t *testing.T) {
	t.Setenv("NEXUS_DATABASE_URL", "from-env.db")

	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database_url: from-profile.db\n"), 0o644))

	cfg, err := LoadWithProfile(path)
	require.NoError(t, err)
	require.Equal(t, "from-env.db", cfg.DatabaseURL)
}

func TestProfileMissingFileIsFine(t *testing.T) {
	cfg, err := LoadWithProfile("/nonexistent/profile.yaml")
	require.NoError(t, err)
	require.NotNil(t, cfg)
}

func TestProfileBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("::не yaml::{"), 0o644))
	_, err := LoadWithProfile(path)
	require.Error(t, err)
}
