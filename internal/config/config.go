// Package config provides centralized configuration management for the market
// data collector. Configuration is loaded from a JSON file, overridden by
// environment variables, validated, and exposed as typed structures to each
// component.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"log/slog"
)

// AppConfig represents the complete application configuration
type AppConfig struct {
	AppName    string `json:"app_name" env:"APP_NAME"`
	Version    string `json:"version" env:"VERSION"`
	ConfigPath string `json:"-" env:"CONFIG_PATH"`

	Provider  ProviderConfig  `json:"provider"`
	Storage   StorageConfig   `json:"storage"`
	Collector CollectorConfig `json:"collector"`
	Cache     CacheConfig     `json:"cache"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Logging   LoggingConfig   `json:"logging"`
}

// ProviderConfig configures the upstream market data API client
type ProviderConfig struct {
	BaseURL           string `json:"base_url" env:"PROVIDER_BASE_URL"`              // API base URL
	APIKey            string `json:"api_key" env:"PROVIDER_API_KEY"`                // Optional API key
	RequestDelay      string `json:"request_delay" env:"REQUEST_DELAY"`             // Minimum spacing between requests
	RateLimitPause    string `json:"rate_limit_pause" env:"RATE_LIMIT_PAUSE"`       // Cooldown after a 429 response
	Timeout           string `json:"timeout" env:"HTTP_TIMEOUT"`                    // HTTP request timeout
	Currency          string `json:"currency" env:"PROVIDER_CURRENCY"`              // Quote currency for prices
	RetryAttempts     int    `json:"retry_attempts" env:"RETRY_ATTEMPTS"`           // Retry attempts for transient failures
	RetryInitialDelay string `json:"retry_initial_delay" env:"RETRY_INITIAL_DELAY"` // Initial retry delay
	RetryMaxDelay     string `json:"retry_max_delay" env:"RETRY_MAX_DELAY"`         // Maximum retry delay
}

// StorageConfig configures the storage backend
type StorageConfig struct {
	Type         string `json:"type" env:"STORAGE_TYPE"`           // "duckdb", "memory"
	DatabaseURL  string `json:"database_url" env:"DATABASE_URL"`   // Database path or connection string
	BatchSize    int    `json:"batch_size" env:"BATCH_SIZE"`       // Batch size for bulk upserts
	QueryTimeout string `json:"query_timeout" env:"QUERY_TIMEOUT"` // Query execution timeout
}

// CollectorConfig configures historical collection and incremental updates
type CollectorConfig struct {
	PageDays            int     `json:"page_days" env:"PAGE_DAYS"`                         // Days fetched per backfill page
	CompletionThreshold float64 `json:"completion_threshold" env:"COMPLETION_THRESHOLD"`   // Coverage ratio treated as complete
	IncrementalCapDays  int     `json:"incremental_cap_days" env:"INCREMENTAL_CAP_DAYS"`   // Maximum days per incremental update
	BootstrapDays       int     `json:"bootstrap_days" env:"BOOTSTRAP_DAYS"`               // Days fetched when no data exists yet
	ProgressDir         string  `json:"progress_dir" env:"PROGRESS_DIR"`                   // Directory for collection checkpoints
	GracefulTimeout     string  `json:"graceful_timeout" env:"GRACEFUL_TIMEOUT"`           // Graceful shutdown timeout
}

// CacheConfig configures the schedule-aware summary cache
type CacheConfig struct {
	FilePath    string `json:"file_path" env:"CACHE_FILE_PATH"`   // Cache file path
	RefreshHours []int `json:"refresh_hours" env:"REFRESH_HOURS"` // Daily refresh hours in UTC
	GracePeriod string `json:"grace_period" env:"GRACE_PERIOD"`   // Window after a slot during which a write counts
}

// SchedulerConfig configures automatic collection runs
type SchedulerConfig struct {
	Enabled          bool   `json:"enabled" env:"SCHEDULER_ENABLED"`             // Enable scheduled collection
	TimezoneLocation string `json:"timezone_location" env:"TIMEZONE_LOCATION"`   // Timezone for scheduling
	JobTimeout       string `json:"job_timeout" env:"JOB_TIMEOUT"`               // Per-run execution timeout
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`             // Log level: debug, info, warn, error
	Format     string `json:"format" env:"LOG_FORMAT"`           // Log format: json, text
	Output     string `json:"output" env:"LOG_OUTPUT"`           // Output: stdout, stderr, file
	FilePath   string `json:"file_path" env:"LOG_FILE_PATH"`     // Log file path
	MaxSize    int    `json:"max_size" env:"LOG_MAX_SIZE"`       // Maximum log file size in MB
	MaxBackups int    `json:"max_backups" env:"LOG_MAX_BACKUPS"` // Maximum log file backups
	MaxAge     int    `json:"max_age" env:"LOG_MAX_AGE"`         // Maximum log file age in days
	Compress   bool   `json:"compress" env:"LOG_COMPRESS"`       // Compress old log files
}

// Manager handles configuration loading and validation
type Manager struct {
	config     *AppConfig
	configPath string
	logger     *slog.Logger
}

// NewManager creates a new configuration manager
func NewManager(configPath string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		configPath: configPath,
		logger:     logger,
	}
}

// Load loads configuration from multiple sources with priority order:
// 1. Environment variables (highest priority)
// 2. Configuration file
// 3. Default values (lowest priority)
func (m *Manager) Load() (*AppConfig, error) {
	config := DefaultConfig()

	if m.configPath != "" {
		if err := m.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	m.loadFromEnv(config)

	if err := m.validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	m.config = config
	m.logger.Info("configuration loaded successfully",
		"config_path", m.configPath,
		"storage_type", config.Storage.Type,
		"provider_base_url", config.Provider.BaseURL,
		"log_level", config.Logging.Level)

	return config, nil
}

// loadFromFile loads configuration from a JSON file
func (m *Manager) loadFromFile(config *AppConfig) error {
	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		m.logger.Debug("config file does not exist, using defaults", "path", m.configPath)
		return nil
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", m.configPath, err)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", m.configPath, err)
	}

	m.logger.Debug("loaded configuration from file", "path", m.configPath)
	return nil
}

// loadFromEnv loads configuration from environment variables
func (m *Manager) loadFromEnv(config *AppConfig) {
	if val := os.Getenv("APP_NAME"); val != "" {
		config.AppName = val
	}
	if val := os.Getenv("VERSION"); val != "" {
		config.Version = val
	}

	// Provider config
	if val := os.Getenv("PROVIDER_BASE_URL"); val != "" {
		config.Provider.BaseURL = val
	}
	if val := os.Getenv("PROVIDER_API_KEY"); val != "" {
		config.Provider.APIKey = val
	}
	if val := os.Getenv("REQUEST_DELAY"); val != "" {
		config.Provider.RequestDelay = val
	}
	if val := os.Getenv("RATE_LIMIT_PAUSE"); val != "" {
		config.Provider.RateLimitPause = val
	}
	if val := os.Getenv("HTTP_TIMEOUT"); val != "" {
		config.Provider.Timeout = val
	}
	if val := os.Getenv("PROVIDER_CURRENCY"); val != "" {
		config.Provider.Currency = val
	}
	if val := os.Getenv("RETRY_ATTEMPTS"); val != "" {
		if attempts, err := strconv.Atoi(val); err == nil {
			config.Provider.RetryAttempts = attempts
		}
	}

	// Storage config
	if val := os.Getenv("STORAGE_TYPE"); val != "" {
		config.Storage.Type = val
	}
	if val := os.Getenv("DATABASE_URL"); val != "" {
		config.Storage.DatabaseURL = val
	}
	if val := os.Getenv("BATCH_SIZE"); val != "" {
		if batchSize, err := strconv.Atoi(val); err == nil {
			config.Storage.BatchSize = batchSize
		}
	}

	// Collector config
	if val := os.Getenv("PAGE_DAYS"); val != "" {
		if days, err := strconv.Atoi(val); err == nil {
			config.Collector.PageDays = days
		}
	}
	if val := os.Getenv("COMPLETION_THRESHOLD"); val != "" {
		if threshold, err := strconv.ParseFloat(val, 64); err == nil {
			config.Collector.CompletionThreshold = threshold
		}
	}
	if val := os.Getenv("INCREMENTAL_CAP_DAYS"); val != "" {
		if days, err := strconv.Atoi(val); err == nil {
			config.Collector.IncrementalCapDays = days
		}
	}
	if val := os.Getenv("PROGRESS_DIR"); val != "" {
		config.Collector.ProgressDir = val
	}

	// Cache config
	if val := os.Getenv("CACHE_FILE_PATH"); val != "" {
		config.Cache.FilePath = val
	}
	if val := os.Getenv("REFRESH_HOURS"); val != "" {
		var hours []int
		for _, part := range strings.Split(val, ",") {
			if hour, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
				hours = append(hours, hour)
			}
		}
		if len(hours) > 0 {
			config.Cache.RefreshHours = hours
		}
	}
	if val := os.Getenv("GRACE_PERIOD"); val != "" {
		config.Cache.GracePeriod = val
	}

	// Scheduler config
	if val := os.Getenv("SCHEDULER_ENABLED"); val != "" {
		config.Scheduler.Enabled = val == "true"
	}
	if val := os.Getenv("TIMEZONE_LOCATION"); val != "" {
		config.Scheduler.TimezoneLocation = val
	}

	// Logging config
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}
	if val := os.Getenv("LOG_OUTPUT"); val != "" {
		config.Logging.Output = val
	}
	if val := os.Getenv("LOG_FILE_PATH"); val != "" {
		config.Logging.FilePath = val
	}

	m.logger.Debug("loaded configuration from environment variables")
}

// validateConfig validates the configuration for consistency and required fields
func (m *Manager) validateConfig(config *AppConfig) error {
	var errors []string

	// Provider validation
	if config.Provider.BaseURL == "" {
		errors = append(errors, "provider.base_url is required")
	}
	if _, err := time.ParseDuration(config.Provider.RequestDelay); err != nil {
		errors = append(errors, fmt.Sprintf("provider.request_delay is not a valid duration: %v", err))
	}
	if _, err := time.ParseDuration(config.Provider.RateLimitPause); err != nil {
		errors = append(errors, fmt.Sprintf("provider.rate_limit_pause is not a valid duration: %v", err))
	}
	if config.Provider.RetryAttempts <= 0 {
		errors = append(errors, "provider.retry_attempts must be greater than 0")
	}

	// Storage validation
	if config.Storage.Type == "" {
		errors = append(errors, "storage.type is required")
	}
	if config.Storage.Type == "duckdb" && config.Storage.DatabaseURL == "" {
		errors = append(errors, "storage.database_url is required for DuckDB storage")
	}
	if config.Storage.BatchSize <= 0 {
		errors = append(errors, "storage.batch_size must be greater than 0")
	}

	// Collector validation
	if config.Collector.PageDays <= 0 {
		errors = append(errors, "collector.page_days must be greater than 0")
	}
	if config.Collector.CompletionThreshold <= 0 || config.Collector.CompletionThreshold > 1 {
		errors = append(errors, "collector.completion_threshold must be in (0, 1]")
	}
	if config.Collector.IncrementalCapDays <= 0 {
		errors = append(errors, "collector.incremental_cap_days must be greater than 0")
	}

	// Cache validation
	if len(config.Cache.RefreshHours) == 0 {
		errors = append(errors, "cache.refresh_hours must contain at least one hour")
	}
	for _, hour := range config.Cache.RefreshHours {
		if hour < 0 || hour > 23 {
			errors = append(errors, fmt.Sprintf("cache.refresh_hours contains invalid hour %d", hour))
		}
	}
	if _, err := time.ParseDuration(config.Cache.GracePeriod); err != nil {
		errors = append(errors, fmt.Sprintf("cache.grace_period is not a valid duration: %v", err))
	}

	// Logging validation
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[config.Logging.Level] {
		errors = append(errors, "logging.level must be one of: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[config.Logging.Format] {
		errors = append(errors, "logging.format must be one of: json, text")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// GetConfig returns the current configuration
func (m *Manager) GetConfig() *AppConfig {
	return m.config
}

// SaveConfig saves the current configuration to the config file
func (m *Manager) SaveConfig() error {
	if m.configPath == "" {
		return fmt.Errorf("no config path specified")
	}

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	m.logger.Info("configuration saved", "path", m.configPath)
	return nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		AppName: "marketd",
		Version: "1.0.0",
		Provider: ProviderConfig{
			BaseURL:           "https://api.coingecko.com/api/v3",
			RequestDelay:      "100ms",
			RateLimitPause:    "60s",
			Timeout:           "30s",
			Currency:          "usd",
			RetryAttempts:     3,
			RetryInitialDelay: "1s",
			RetryMaxDelay:     "30s",
		},
		Storage: StorageConfig{
			Type:         "duckdb",
			DatabaseURL:  "./data/market.db",
			BatchSize:    1000,
			QueryTimeout: "30s",
		},
		Collector: CollectorConfig{
			PageDays:            365,
			CompletionThreshold: 0.95,
			IncrementalCapDays:  90,
			BootstrapDays:       365,
			ProgressDir:         "./data/progress",
			GracefulTimeout:     "30s",
		},
		Cache: CacheConfig{
			FilePath:     "./data/summary_cache.json",
			RefreshHours: []int{9, 21},
			GracePeriod:  "30m",
		},
		Scheduler: SchedulerConfig{
			Enabled:          false,
			TimezoneLocation: "UTC",
			JobTimeout:       "30m",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePath:   "",
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		},
	}
}

// RequestDelayDuration returns the parsed inter-request delay.
func (c ProviderConfig) RequestDelayDuration() time.Duration {
	d, err := time.ParseDuration(c.RequestDelay)
	if err != nil {
		return 100 * time.Millisecond
	}
	return d
}

// RateLimitPauseDuration returns the parsed rate limit cooldown.
func (c ProviderConfig) RateLimitPauseDuration() time.Duration {
	d, err := time.ParseDuration(c.RateLimitPause)
	if err != nil {
		return time.Minute
	}
	return d
}

// TimeoutDuration returns the parsed HTTP timeout.
func (c ProviderConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GracePeriodDuration returns the parsed grace period.
func (c CacheConfig) GracePeriodDuration() time.Duration {
	d, err := time.ParseDuration(c.GracePeriod)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// String returns a string representation of the configuration with the API
// key redacted.
func (c *AppConfig) String() string {
	sanitized := *c
	if sanitized.Provider.APIKey != "" {
		sanitized.Provider.APIKey = "[REDACTED]"
	}

	data, _ := json.MarshalIndent(&sanitized, "", "  ")
	return string(data)
}
