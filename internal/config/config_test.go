package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "marketd", cfg.AppName)
	assert.Equal(t, "https://api.coingecko.com/api/v3", cfg.Provider.BaseURL)
	assert.Equal(t, "usd", cfg.Provider.Currency)
	assert.Equal(t, "duckdb", cfg.Storage.Type)
	assert.Equal(t, 365, cfg.Collector.PageDays)
	assert.InDelta(t, 0.95, cfg.Collector.CompletionThreshold, 1e-9)
	assert.Equal(t, 90, cfg.Collector.IncrementalCapDays)
	assert.Equal(t, []int{9, 21}, cfg.Cache.RefreshHours)
	assert.Equal(t, "30m", cfg.Cache.GracePeriod)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Defaults must pass their own validation.
	m := NewManager("", nil)
	require.NoError(t, m.validateConfig(cfg))
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "nope.json"), nil)
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Provider.BaseURL, cfg.Provider.BaseURL)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	contents := `{
		"provider": {
			"base_url": "https://api.coingecko.com/api/v3",
			"request_delay": "250ms",
			"rate_limit_pause": "90s",
			"timeout": "10s",
			"currency": "eur",
			"retry_attempts": 5,
			"retry_initial_delay": "1s",
			"retry_max_delay": "30s"
		},
		"collector": {
			"page_days": 180,
			"completion_threshold": 0.9,
			"incremental_cap_days": 30,
			"bootstrap_days": 365,
			"progress_dir": "./data/progress",
			"graceful_timeout": "30s"
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := NewManager(path, nil).Load()
	require.NoError(t, err)

	assert.Equal(t, "eur", cfg.Provider.Currency)
	assert.Equal(t, 250*time.Millisecond, cfg.Provider.RequestDelayDuration())
	assert.Equal(t, 180, cfg.Collector.PageDays)
	assert.InDelta(t, 0.9, cfg.Collector.CompletionThreshold, 1e-9)

	// Untouched sections keep their defaults.
	assert.Equal(t, "duckdb", cfg.Storage.Type)
	assert.Equal(t, []int{9, 21}, cfg.Cache.RefreshHours)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"provider":{"currency":"eur"}}`), 0o644))

	t.Setenv("PROVIDER_CURRENCY", "gbp")
	t.Setenv("PROVIDER_API_KEY", "env-key")
	t.Setenv("PAGE_DAYS", "30")
	t.Setenv("REFRESH_HOURS", "6, 12, 18")

	cfg, err := NewManager(path, nil).Load()
	require.NoError(t, err)

	assert.Equal(t, "gbp", cfg.Provider.Currency)
	assert.Equal(t, "env-key", cfg.Provider.APIKey)
	assert.Equal(t, 30, cfg.Collector.PageDays)
	assert.Equal(t, []int{6, 12, 18}, cfg.Cache.RefreshHours)
}

func TestLoad_InvalidFileIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewManager(path, nil).Load()
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"missing_base_url", func(c *AppConfig) { c.Provider.BaseURL = "" }},
		{"bad_request_delay", func(c *AppConfig) { c.Provider.RequestDelay = "fast" }},
		{"zero_retry_attempts", func(c *AppConfig) { c.Provider.RetryAttempts = 0 }},
		{"missing_storage_type", func(c *AppConfig) { c.Storage.Type = "" }},
		{"duckdb_without_path", func(c *AppConfig) { c.Storage.DatabaseURL = "" }},
		{"zero_page_days", func(c *AppConfig) { c.Collector.PageDays = 0 }},
		{"threshold_above_one", func(c *AppConfig) { c.Collector.CompletionThreshold = 1.5 }},
		{"no_refresh_hours", func(c *AppConfig) { c.Cache.RefreshHours = nil }},
		{"refresh_hour_out_of_range", func(c *AppConfig) { c.Cache.RefreshHours = []int{9, 24} }},
		{"bad_grace_period", func(c *AppConfig) { c.Cache.GracePeriod = "half an hour" }},
		{"unknown_log_level", func(c *AppConfig) { c.Logging.Level = "verbose" }},
		{"unknown_log_format", func(c *AppConfig) { c.Logging.Format = "xml" }},
	}

	m := NewManager("", nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, m.validateConfig(cfg))
		})
	}
}

func TestDurationHelpersFallBack(t *testing.T) {
	p := ProviderConfig{RequestDelay: "bogus", RateLimitPause: "bogus", Timeout: "bogus"}
	assert.Equal(t, 100*time.Millisecond, p.RequestDelayDuration())
	assert.Equal(t, time.Minute, p.RateLimitPauseDuration())
	assert.Equal(t, 30*time.Second, p.TimeoutDuration())

	c := CacheConfig{GracePeriod: "2h"}
	assert.Equal(t, 2*time.Hour, c.GracePeriodDuration())
}

func TestString_RedactsAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider.APIKey = "super-secret"

	out := cfg.String()
	assert.NotContains(t, out, "super-secret")
	assert.Contains(t, out, "[REDACTED]")
	assert.Equal(t, "super-secret", cfg.Provider.APIKey)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	m := NewManager(path, nil)
	cfg, err := m.Load()
	require.NoError(t, err)
	cfg.Provider.Currency = "chf"
	require.NoError(t, m.SaveConfig())

	reloaded, err := NewManager(path, nil).Load()
	require.NoError(t, err)
	assert.Equal(t, "chf", reloaded.Provider.Currency)
}
