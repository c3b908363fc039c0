package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalEnvYAML = `
server:
  port: "8080"
forecast_api:
  url: "https://api.example.com/timeline"
  timeout: "2s"
request:
  timeout: "5s"
cache:
  dir: "data/forecasts"
ledger:
  path: "data/history.json"
`

// setupConfigDir writes config/dev.yaml (and optional secrets) under a temp dir and
// makes it the working directory. Environment overrides are cleared.
func setupConfigDir(t *testing.T, envYAML, secretsYAML string) string {
	t.Helper()
	for _, k := range []string{"ENV_NAME", "FORECAST_API_KEY", "CACHE_DIR", "LEDGER_PATH", "PORT",
		"DOCUMENT_BACKEND", "AWS_REGION", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "MEMCACHED_ADDRS"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	dir := t.TempDir()
	configDir := filepath.Join(dir, "config")
	require.NoError(t, os.MkdirAll(configDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "dev.yaml"), []byte(envYAML), 0644))
	if secretsYAML != "" {
		require.NoError(t, os.WriteFile(filepath.Join(configDir, "secrets.yaml"), []byte(secretsYAML), 0644))
	}
	origWD, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origWD) })
	return dir
}

func TestLoad_FailsWhenNoAPIKey(t *testing.T) {
	setupConfigDir(t, minimalEnvYAML, "")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "FORECAST_API_KEY")
}

func TestLoad_SucceedsWithSecretsFile(t *testing.T) {
	setupConfigDir(t, minimalEnvYAML, "forecast_api_key: key-from-secrets-file\naws_access_key_id: AKIA\naws_secret_access_key: shh\n")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "key-from-secrets-file", cfg.ForecastAPIKey)
	assert.Equal(t, "AKIA", cfg.AWSAccessKeyID)
	assert.Equal(t, "shh", cfg.AWSSecretAccessKey)
}

func TestLoad_DotEnvSuppliesKey(t *testing.T) {
	dir := setupConfigDir(t, minimalEnvYAML, "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FORECAST_API_KEY=from-dotenv\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("FORECAST_API_KEY") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.ForecastAPIKey)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	setupConfigDir(t, minimalEnvYAML, "forecast_api_key: from-file\n")
	t.Setenv("FORECAST_API_KEY", "from-env")
	t.Setenv("CACHE_DIR", "/var/cache/forecasts")
	t.Setenv("LEDGER_PATH", "/var/lib/history.json")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.ForecastAPIKey)
	assert.Equal(t, "/var/cache/forecasts", cfg.CacheDir)
	assert.Equal(t, "/var/lib/history.json", cfg.LedgerPath)
}

func TestLoad_EnvFileNotFound(t *testing.T) {
	setupConfigDir(t, minimalEnvYAML, "")
	t.Setenv("ENV_NAME", "nonexistent")
	t.Setenv("FORECAST_API_KEY", "k")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoad_InvalidYAML(t *testing.T) {
	setupConfigDir(t, "server: [unclosed", "")
	t.Setenv("FORECAST_API_KEY", "k")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

// TestLoad_Defaults verifies the cache policy and other defaults used when keys are omitted.
func TestLoad_Defaults(t *testing.T) {
	setupConfigDir(t, "server:\n  port: \"9090\"\n", "")
	t.Setenv("FORECAST_API_KEY", "k")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, 10, cfg.CacheMaxEntries)
	assert.Equal(t, 24*time.Hour, cfg.CacheMaxAge)
	assert.Equal(t, "data/forecasts", cfg.CacheDir)
	assert.Equal(t, "data/history.json", cfg.LedgerPath)
	assert.Equal(t, "dynamodb", cfg.DocumentBackend)
	assert.Equal(t, "image.jpg", cfg.AssetKey)
	assert.True(t, cfg.CoalesceEnabled)
	assert.False(t, cfg.SyncEnabled)
	assert.Equal(t, 5, cfg.CircuitBreakerFailureThreshold)
	assert.Greater(t, cfg.RequestTimeout, cfg.ForecastAPITimeout)
}

func TestLoad_DurationFallbacks(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"empty", `""`},
		{"invalid", `"not-a-duration"`},
		{"negative", `"-5m"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupConfigDir(t, "cache:\n  max_age: "+tt.value+"\n", "")
			t.Setenv("FORECAST_API_KEY", "k")

			cfg, err := Load()
			require.NoError(t, err)
			assert.Equal(t, 24*time.Hour, cfg.CacheMaxAge)
		})
	}
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"zero forecast timeout", "forecast_api:\n  timeout: \"0s\"\n", "ForecastAPITimeout"},
		{"bad backend", "sync:\n  document_backend: \"postgres\"\n", "DocumentBackend"},
		{"bad url", "forecast_api:\n  url: \"not a url\"\n", "ForecastAPIURL"},
		{"sync without bucket", "sync:\n  enabled: true\n", "sync.bucket"},
		{"warm without locations", "cache:\n  warm: true\n", "warm_locations"},
		{"degraded pct out of range", "lifecycle:\n  degraded_error_pct: 150\n", "DegradedErrorPct"},
		{"retry delays inverted", "reliability:\n  retry_base_delay: \"5s\"\n  retry_max_delay: \"1s\"\n", "retry_max_delay"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupConfigDir(t, tt.yaml, "")
			t.Setenv("FORECAST_API_KEY", "k")

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_SyncConfig(t *testing.T) {
	yaml := `
sync:
  enabled: true
  document_backend: memcached
  bucket: assets
  asset_key: banner.jpg
  memcached_addrs: "cache-1:11211,cache-2:11211"
  memcached_timeout: "250ms"
metrics:
  tracked_locations: ["london", "paris"]
`
	setupConfigDir(t, yaml, "")
	t.Setenv("FORECAST_API_KEY", "k")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.SyncEnabled)
	assert.Equal(t, "memcached", cfg.DocumentBackend)
	assert.Equal(t, "assets", cfg.Bucket)
	assert.Equal(t, "banner.jpg", cfg.AssetKey)
	assert.Equal(t, "cache-1:11211,cache-2:11211", cfg.MemcachedAddrs)
	assert.Equal(t, 250*time.Millisecond, cfg.MemcachedTimeout)
	assert.Equal(t, []string{"london", "paris"}, cfg.TrackedLocations)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseDuration("3s", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("0s", time.Minute))
	assert.Equal(t, time.Duration(0), parseDurationOrZero("0s", time.Minute))
	assert.Equal(t, time.Minute, parseDurationOrZero("bogus", time.Minute))
}
