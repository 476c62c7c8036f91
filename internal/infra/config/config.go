package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level gloss configuration.
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Session  SessionConfig  `yaml:"session"`
	Render   RenderConfig   `yaml:"render"`
	Logger   LoggerConfig   `yaml:"logger"`
	Tracer   TracerConfig   `yaml:"tracer"`
}

// ProviderConfig holds settings for the completion service. BaseURL must not
// include the completions sub-path; the client appends it.
type ProviderConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"` // 0 disables the request timeout
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
	Breaker     BreakerConfig `yaml:"circuit_breaker"`
}

// PoolConfig holds HTTP connection pool settings.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// BreakerConfig holds circuit breaker settings for stream initiation.
type BreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// SessionConfig tunes request coalescing and progressive display.
type SessionConfig struct {
	// Debounce is the human-debounce delay measured from request intent.
	Debounce time.Duration `yaml:"debounce"`
	// MinInterval is the minimum spacing between issued requests.
	MinInterval time.Duration `yaml:"min_interval"`
	// RenderDelay bounds re-render frequency while chunks arrive.
	RenderDelay time.Duration `yaml:"render_delay"`
}

// RenderConfig holds markup rendering settings.
type RenderConfig struct {
	// PathAliases maps legacy path prefixes to their canonical prefix.
	// Applied to every location reference before link targets are finalized.
	PathAliases map[string]string `yaml:"path_aliases"`
	// HighlightStyle is the chroma style used for fenced code blocks.
	HighlightStyle string `yaml:"highlight_style"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Provider: ProviderConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Timeout:     60 * time.Second,
			MaxTokens:   1024,
			Temperature: 0.3,
			ConnTimeout: 30 * time.Second,
			RespTimeout: 120 * time.Second,
			Breaker: BreakerConfig{
				Enabled: true,
			},
		},
		Session: SessionConfig{
			Debounce:    300 * time.Millisecond,
			MinInterval: 2 * time.Second,
			RenderDelay: 80 * time.Millisecond,
		},
		Render: RenderConfig{
			HighlightStyle: "github",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file and applies env var overrides. A missing
// file is not an error: defaults plus env overrides are returned.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides overlays GLOSS_* environment variables onto cfg.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GLOSS_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("GLOSS_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("GLOSS_MODEL"); v != "" {
		cfg.Provider.Model = v
	}
	if v := os.Getenv("GLOSS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.Provider.Timeout = d
		}
	}
	if v := os.Getenv("GLOSS_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Provider.MaxTokens = n
		}
	}
	if v := os.Getenv("GLOSS_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("GLOSS_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("GLOSS_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}
