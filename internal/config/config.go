// Package config provides configuration management for the research query service.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research query service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Translator contains AI translation provider settings.
	Translator TranslatorConfig `mapstructure:"translator"`
	// OpenAlex contains works API client settings.
	OpenAlex OpenAlexConfig `mapstructure:"openalex"`
	// Cache contains request cache settings.
	Cache CacheConfig `mapstructure:"cache"`
	// PDF contains PDF resolver settings.
	PDF PDFConfig `mapstructure:"pdf"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// ReadTimeout is the maximum duration for reading the request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// IdleTimeout is the maximum time to wait for the next request.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// SurfaceDegraded answers degraded searches with 502 instead of 200.
	SurfaceDegraded bool `mapstructure:"surface_degraded"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Namespace is the metric name prefix.
	Namespace string `mapstructure:"namespace"`
}

// TranslatorConfig holds AI translation provider configuration.
type TranslatorConfig struct {
	// Provider is the translation provider (gemini).
	Provider string `mapstructure:"provider"`
	// Model is the model identifier.
	Model string `mapstructure:"model"`
	// BaseURL overrides the provider API base URL (empty means default).
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the per-call timeout for translation requests.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxAttempts bounds translation attempts (further bounded by pool size).
	MaxAttempts int `mapstructure:"max_attempts"`
	// Temperature is the sampling temperature.
	Temperature float64 `mapstructure:"temperature"`
	// BreakerConsecutiveFailures opens the circuit after this many
	// consecutive failures; 0 disables the breaker.
	BreakerConsecutiveFailures uint32 `mapstructure:"breaker_consecutive_failures"`
	// BreakerCooldown is how long the circuit stays open before probing.
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

// OpenAlexConfig holds works API client configuration.
type OpenAlexConfig struct {
	// BaseURL is the works endpoint (default: https://api.openalex.org/works).
	BaseURL string `mapstructure:"base_url"`
	// Mailto is the contact email for the polite pool.
	Mailto string `mapstructure:"mailto"`
	// Timeout is the per-request timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// BurstSize is the maximum burst of requests allowed.
	BurstSize int `mapstructure:"burst_size"`
	// MaxAttempts bounds retries on transient failures.
	MaxAttempts int `mapstructure:"max_attempts"`
}

// CacheConfig holds request cache configuration.
type CacheConfig struct {
	// Enabled enables the request cache.
	Enabled bool `mapstructure:"enabled"`
	// Size is the maximum number of cached search results.
	Size int `mapstructure:"size"`
	// TTL is how long cached results stay fresh.
	TTL time.Duration `mapstructure:"ttl"`
}

// PDFConfig holds PDF resolver configuration.
type PDFConfig struct {
	// Dir is the on-disk store directory for cached PDFs.
	Dir string `mapstructure:"dir"`
	// Timeout is the download timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxSize is the maximum PDF size in bytes.
	MaxSize int64 `mapstructure:"max_size"`
	// AllowedHosts restricts which hosts PDFs may be fetched from.
	AllowedHosts []string `mapstructure:"allowed_hosts"`
	// ArxivBaseURL overrides the arXiv PDF endpoint (tests only).
	ArxivBaseURL string `mapstructure:"arxiv_base_url"`
}

// envPrefix is the environment variable prefix for all settings.
const envPrefix = "RESEARCHQUERY"

// Load reads configuration from defaults, an optional config file, and
// environment variables (RESEARCHQUERY_ prefix, dots become underscores).
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/research-query-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "90s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.surface_degraded", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "research_query")

	// Translator defaults
	v.SetDefault("translator.provider", "gemini")
	v.SetDefault("translator.model", "gemini-1.5-flash-latest")
	v.SetDefault("translator.base_url", "")
	v.SetDefault("translator.timeout", "10s")
	v.SetDefault("translator.max_attempts", 3)
	v.SetDefault("translator.temperature", 0.0)
	v.SetDefault("translator.breaker_consecutive_failures", 5)
	v.SetDefault("translator.breaker_cooldown", "30s")

	// OpenAlex defaults
	v.SetDefault("openalex.base_url", "https://api.openalex.org/works")
	v.SetDefault("openalex.mailto", "")
	v.SetDefault("openalex.timeout", "30s")
	v.SetDefault("openalex.rate_limit", 10.0)
	v.SetDefault("openalex.burst_size", 10)
	v.SetDefault("openalex.max_attempts", 3)

	// Cache defaults
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.size", 1024)
	v.SetDefault("cache.ttl", "24h")

	// PDF defaults
	v.SetDefault("pdf.dir", "./pdf-cache")
	v.SetDefault("pdf.timeout", "60s")
	v.SetDefault("pdf.max_size", 50*1024*1024)
	v.SetDefault("pdf.allowed_hosts", []string{"arxiv.org"})
	v.SetDefault("pdf.arxiv_base_url", "")
}

// Validate checks configuration ranges. The translator key pool is validated
// separately at startup, where an empty pool is fatal.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if strings.ToLower(c.Translator.Provider) != "gemini" {
		return fmt.Errorf("unsupported translator provider: %s", c.Translator.Provider)
	}
	if c.Translator.MaxAttempts < 1 {
		return fmt.Errorf("translator max_attempts must be at least 1")
	}
	if c.Translator.Temperature < 0 || c.Translator.Temperature > 2 {
		return fmt.Errorf("translator temperature must be between 0 and 2")
	}

	if c.OpenAlex.BaseURL == "" {
		return fmt.Errorf("openalex base_url is required")
	}
	if c.OpenAlex.RateLimit <= 0 {
		return fmt.Errorf("openalex rate_limit must be positive")
	}
	if c.OpenAlex.MaxAttempts < 1 {
		return fmt.Errorf("openalex max_attempts must be at least 1")
	}

	if c.Cache.Enabled && c.Cache.Size <= 0 {
		return fmt.Errorf("cache size must be positive when the cache is enabled")
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive when the cache is enabled")
	}

	if c.PDF.Dir == "" {
		return fmt.Errorf("pdf dir is required")
	}
	if c.PDF.MaxSize <= 0 {
		return fmt.Errorf("pdf max_size must be positive")
	}

	return nil
}

// KeyPoolEnvPrefix is the prefix for translator API key environment
// variables: RESEARCHQUERY_TRANSLATOR_API_KEY_1..n, or a comma-separated
// RESEARCHQUERY_TRANSLATOR_API_KEYS.
const KeyPoolEnvPrefix = envPrefix + "_TRANSLATOR_API_KEY"
