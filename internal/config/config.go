package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	ProviderA = "providerA"
	ProviderB = "providerB"
)

// Config holds the service configuration. Every field can be set from the
// environment; see envMappings for the variable names.
type Config struct {
	ImgRoot      string `koanf:"img_root"`
	SessionsRoot string `koanf:"sessions_root"`
	PromptsXLSX  string `koanf:"prompts_xlsx"`
	StaticRoot   string `koanf:"static_root"` // empty serves the embedded front-end
	Port         string `koanf:"port"`

	Provider   string         `koanf:"provider"`
	LightX     LightXConfig   `koanf:"lightx"`
	Studio     StudioConfig   `koanf:"studio"`
	Generation GenerationConf `koanf:"generation"`
	HTTP       HTTPConfig     `koanf:"http"`
	Breaker    BreakerConfig  `koanf:"breaker"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`
}

type LightXConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
}

type StudioConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
}

type GenerationConf struct {
	Quota             int           `koanf:"quota"`
	PollInterval      time.Duration `koanf:"poll_interval"`
	PollAttempts      int           `koanf:"poll_attempts"`
	JobTimeout        time.Duration `koanf:"job_timeout"`
	MaxConcurrentJobs int           `koanf:"max_concurrent_jobs"`
}

type HTTPConfig struct {
	Timeout         time.Duration `koanf:"timeout"`
	PreferIPv4      bool          `koanf:"prefer_ipv4"`
	MaxUploadMB     int           `koanf:"max_upload_mb"`
	ApplyRateLimit  int           `koanf:"apply_rate_limit"`
	ApplyRateWindow time.Duration `koanf:"apply_rate_window"`
}

type BreakerConfig struct {
	FailureThreshold uint32        `koanf:"failure_threshold"`
	OpenTimeout      time.Duration `koanf:"open_timeout"`
}

func defaultConfig() Config {
	return Config{
		ImgRoot:      "img",
		SessionsRoot: "sessions",
		PromptsXLSX:  "HairstylePresetPrompts.xlsx",
		Port:         "8000",
		Provider:     ProviderA,
		LightX: LightXConfig{
			BaseURL: "https://api.lightxeditor.com/external/api/v2",
		},
		Generation: GenerationConf{
			Quota:             5,
			PollInterval:      3 * time.Second,
			PollAttempts:      5,
			JobTimeout:        2 * time.Minute,
			MaxConcurrentJobs: 16,
		},
		HTTP: HTTPConfig{
			Timeout:         60 * time.Second,
			PreferIPv4:      true,
			MaxUploadMB:     10,
			ApplyRateLimit:  10,
			ApplyRateWindow: time.Minute,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// envMappings maps environment variable names (lower-cased) to koanf keys.
var envMappings = map[string]string{
	"img_root":                  "img_root",
	"sessions_root":             "sessions_root",
	"prompts_xlsx":              "prompts_xlsx",
	"static_root":               "static_root",
	"port":                      "port",
	"hair_provider":             "provider",
	"lightx_api_key":            "lightx.api_key",
	"lightx_base_url":           "lightx.base_url",
	"studio_api_key":            "studio.api_key",
	"studio_base_url":           "studio.base_url",
	"session_quota":             "generation.quota",
	"poll_interval":             "generation.poll_interval",
	"poll_attempts":             "generation.poll_attempts",
	"job_timeout":               "generation.job_timeout",
	"max_concurrent_jobs":       "generation.max_concurrent_jobs",
	"http_timeout":              "http.timeout",
	"prefer_ipv4":               "http.prefer_ipv4",
	"max_upload_mb":             "http.max_upload_mb",
	"apply_rate_limit":          "http.apply_rate_limit",
	"apply_rate_window":         "http.apply_rate_window",
	"breaker_failure_threshold": "breaker.failure_threshold",
	"breaker_open_timeout":      "breaker.open_timeout",
	"log_level":                 "log_level",
	"log_format":                "log_format",
}

// envTransform returns the koanf key for an environment variable, or "" to
// ignore variables this service does not own.
func envTransform(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}

// Load reads defaults and overlays environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Provider = NormalizeProvider(cfg.Provider)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NormalizeProvider maps backend aliases onto the two provider tags.
func NormalizeProvider(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "providera", "lightx":
		return ProviderA
	case "providerb", "studio":
		return ProviderB
	default:
		return name
	}
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Provider != ProviderA && c.Provider != ProviderB {
		errs = append(errs, fmt.Errorf("unknown provider %q (want %s or %s)", c.Provider, ProviderA, ProviderB))
	}
	if c.Generation.Quota < 1 {
		errs = append(errs, errors.New("session quota must be positive"))
	}
	if c.Generation.PollAttempts < 1 {
		errs = append(errs, errors.New("poll attempts must be positive"))
	}
	if c.Generation.PollInterval < 0 {
		errs = append(errs, errors.New("poll interval must not be negative"))
	}
	if c.Generation.MaxConcurrentJobs < 1 {
		errs = append(errs, errors.New("max concurrent jobs must be positive"))
	}
	if c.HTTP.MaxUploadMB < 1 {
		errs = append(errs, errors.New("max upload size must be positive"))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	return errors.Join(errs...)
}

// ProviderKey returns the credential configured for the selected provider.
func (c *Config) ProviderKey() string {
	if c.Provider == ProviderB {
		return c.Studio.APIKey
	}
	return c.LightX.APIKey
}
