package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a
// *ValidationError when one or more problems are found, allowing callers to
// see every issue at once.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateProvider(cfg, ve)
	validateSession(cfg, ve)
	validateRender(cfg, ve)
	validateLogger(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateProvider(cfg *Config, ve *ValidationError) {
	p := cfg.Provider
	if p.BaseURL == "" {
		ve.Add("provider.base_url is required")
	} else {
		u, err := url.Parse(p.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			ve.Add("provider.base_url must be an http(s) URL: %q", p.BaseURL)
		}
		if strings.HasSuffix(p.BaseURL, "/chat/completions") {
			ve.Add("provider.base_url must not include the completions sub-path")
		}
	}
	if p.Model == "" {
		ve.Add("provider.model is required")
	}
	if p.Timeout < 0 {
		ve.Add("provider.timeout must be >= 0")
	}
	if p.MaxTokens < 0 {
		ve.Add("provider.max_tokens must be >= 0")
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		ve.Add("provider.temperature must be in [0, 2]")
	}
}

func validateSession(cfg *Config, ve *ValidationError) {
	s := cfg.Session
	if s.Debounce < 0 {
		ve.Add("session.debounce must be >= 0")
	}
	if s.MinInterval < 0 {
		ve.Add("session.min_interval must be >= 0")
	}
	if s.RenderDelay < 0 {
		ve.Add("session.render_delay must be >= 0")
	}
}

func validateRender(cfg *Config, ve *ValidationError) {
	for from, to := range cfg.Render.PathAliases {
		if from == "" {
			ve.Add("render.path_aliases contains an empty source prefix")
		}
		if strings.HasPrefix(to, from) && to != from {
			ve.Add("render.path_aliases %q -> %q would re-expand itself", from, to)
		}
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is not a known level", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is not a known format", cfg.Logger.Format)
	}
}
