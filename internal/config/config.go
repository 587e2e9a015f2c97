// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (CONCIERGE_* prefix, runtime override)
//  2. Config file (~/.concierge/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Provider: Gemini model selection, API key, per-call deadline
//   - Limits: tool rate-limit window, idempotency TTL, demo budget caps
//   - Store: context store backend (memory or badger) and session TTL
//   - Server: listen address, CORS origins, per-IP rate burst
//   - Tracing: optional OTLP endpoint
//
// Sensitive data (the provider API key) is never logged and is masked in
// MarshalJSON. Validation uses sentinel errors checked with errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Sentinel errors for configuration validation.
var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates the provider API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is empty or malformed.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidAddr indicates the server listen address is malformed.
	ErrInvalidAddr = errors.New("invalid listen address")

	// ErrInvalidWindow indicates a rate-limit window or TTL is non-positive.
	ErrInvalidWindow = errors.New("invalid window duration")

	// ErrInvalidLimit indicates a rate-limit or budget cap is non-positive.
	ErrInvalidLimit = errors.New("invalid limit")

	// ErrInvalidStoreBackend indicates an unknown context store backend.
	ErrInvalidStoreBackend = errors.New("invalid store backend")
)

// Context store backend identifiers used in Config.Store.Backend.
const (
	StoreMemory = "memory"
	StoreBadger = "badger"
)

// ProviderConfig configures the upstream language-model provider.
type ProviderConfig struct {
	ModelName   string        `mapstructure:"model_name" json:"model_name"`
	APIKey      string        `mapstructure:"api_key" json:"api_key"` // SENSITIVE: masked in MarshalJSON
	Temperature float32       `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" json:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout" json:"timeout"`
}

// LimitsConfig configures the tool gateway and demo budget caps.
type LimitsConfig struct {
	// Per-(tool, session) sliding window.
	RateWindow time.Duration `mapstructure:"rate_window" json:"rate_window"`
	RateMax    int           `mapstructure:"rate_max" json:"rate_max"`

	// Idempotency replay window.
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl" json:"idempotency_ttl"`

	// Demo budget caps.
	TotalTokens   int           `mapstructure:"total_tokens" json:"total_tokens"`
	TotalRequests int           `mapstructure:"total_requests" json:"total_requests"`
	SessionWindow time.Duration `mapstructure:"session_window" json:"session_window"`

	// Per-feature token sub-budgets, keyed by feature name
	// (chat, roi, calc, meeting, analyze). Missing features fall back
	// to the global cap.
	FeatureTokens map[string]int `mapstructure:"feature_tokens" json:"feature_tokens"`
}

// StoreConfig configures the session context store.
type StoreConfig struct {
	Backend    string        `mapstructure:"backend" json:"backend"` // "memory" or "badger"
	Path       string        `mapstructure:"path" json:"path"`       // badger only
	SessionTTL time.Duration `mapstructure:"session_ttl" json:"session_ttl"`
}

// TracingConfig configures the optional OTLP trace exporter.
// Tracing is disabled when Endpoint is empty.
type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" json:"environment"`
}

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	Addr        string   `mapstructure:"addr" json:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"` // per-IP middleware burst

	Provider ProviderConfig `mapstructure:"provider" json:"provider"`
	Limits   LimitsConfig   `mapstructure:"limits" json:"limits"`
	Store    StoreConfig    `mapstructure:"store" json:"store"`
	Tracing  TracingConfig  `mapstructure:"tracing" json:"tracing"`

	Debug bool `mapstructure:"debug" json:"debug"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".concierge")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", "127.0.0.1:8080")
	v.SetDefault("cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("trust_proxy", false)
	v.SetDefault("rate_burst", 60)

	v.SetDefault("provider.model_name", "gemini-2.5-flash")
	v.SetDefault("provider.temperature", 0.7)
	v.SetDefault("provider.max_tokens", 2048)
	v.SetDefault("provider.timeout", 45*time.Second)

	v.SetDefault("limits.rate_window", time.Minute)
	v.SetDefault("limits.rate_max", 10)
	v.SetDefault("limits.idempotency_ttl", 5*time.Minute)
	v.SetDefault("limits.total_tokens", 50000)
	v.SetDefault("limits.total_requests", 100)
	v.SetDefault("limits.session_window", 30*time.Minute)
	v.SetDefault("limits.feature_tokens", map[string]int{
		"chat":    30000,
		"analyze": 10000,
		"roi":     2000,
		"calc":    2000,
		"meeting": 2000,
	})

	v.SetDefault("store.backend", StoreMemory)
	v.SetDefault("store.path", filepath.Join(os.TempDir(), "concierge-context"))
	v.SetDefault("store.session_ttl", 30*time.Minute)

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "concierge")
	v.SetDefault("tracing.environment", "dev")

	v.SetDefault("debug", false)
}

// bindEnvVariables binds environment variables explicitly.
// The API key only comes from the environment, never from the config file,
// so it cannot end up committed by accident.
func bindEnvVariables(v *viper.Viper) {
	// Errors from BindEnv only occur with zero arguments; safe to ignore.
	_ = v.BindEnv("provider.api_key", "GEMINI_API_KEY", "CONCIERGE_API_KEY")
	_ = v.BindEnv("addr", "CONCIERGE_ADDR")
	_ = v.BindEnv("store.backend", "CONCIERGE_STORE_BACKEND")
	_ = v.BindEnv("store.path", "CONCIERGE_STORE_PATH")
	_ = v.BindEnv("tracing.endpoint", "CONCIERGE_OTLP_ENDPOINT")
	_ = v.BindEnv("debug", "CONCIERGE_DEBUG")
	_ = v.BindEnv("rate_burst", "CONCIERGE_RATE_BURST")
}

// Validate checks the configuration for serve mode.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidAddr, c.Addr)
	}

	if c.Provider.ModelName == "" {
		return fmt.Errorf("%w: model name is empty", ErrInvalidModelName)
	}

	if c.Limits.RateWindow <= 0 {
		return fmt.Errorf("%w: limits.rate_window must be positive", ErrInvalidWindow)
	}
	if c.Limits.IdempotencyTTL <= 0 {
		return fmt.Errorf("%w: limits.idempotency_ttl must be positive", ErrInvalidWindow)
	}
	if c.Limits.SessionWindow <= 0 {
		return fmt.Errorf("%w: limits.session_window must be positive", ErrInvalidWindow)
	}
	if c.Store.SessionTTL <= 0 {
		return fmt.Errorf("%w: store.session_ttl must be positive", ErrInvalidWindow)
	}

	if c.Limits.RateMax <= 0 {
		return fmt.Errorf("%w: limits.rate_max must be positive", ErrInvalidLimit)
	}
	if c.Limits.TotalTokens <= 0 || c.Limits.TotalRequests <= 0 {
		return fmt.Errorf("%w: demo budget caps must be positive", ErrInvalidLimit)
	}
	for feature, cap := range c.Limits.FeatureTokens {
		if cap <= 0 {
			return fmt.Errorf("%w: feature_tokens[%s] must be positive", ErrInvalidLimit, feature)
		}
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StoreBadger:
		if c.Store.Path == "" {
			return fmt.Errorf("%w: badger backend requires store.path", ErrInvalidStoreBackend)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStoreBackend, c.Store.Backend)
	}

	return nil
}

// ValidateServe performs the additional checks required to talk to the
// upstream provider. Separated from Validate so offline commands (version,
// config inspection) do not demand an API key.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Provider.APIKey == "" {
		return fmt.Errorf("%w: set GEMINI_API_KEY", ErrMissingAPIKey)
	}
	return nil
}

// MarshalJSON masks sensitive fields when the config is serialized
// (e.g., for debug logging).
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursion
	masked := alias(*c)
	if masked.Provider.APIKey != "" {
		masked.Provider.APIKey = "***"
	}
	data, err := json.Marshal(masked)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return data, nil
}

// FeatureTokenCap returns the token sub-budget for a feature, falling back
// to the global token cap when the feature has no explicit entry.
func (c *Config) FeatureTokenCap(feature string) int {
	if cap, ok := c.Limits.FeatureTokens[feature]; ok {
		return cap
	}
	return c.Limits.TotalTokens
}
