// Package config provides layered configuration loading.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/basecamp/issuesync/internal/hostutil"
)

// Config holds the resolved configuration.
type Config struct {
	BaseURL string `json:"base_url"`

	// Cache settings. With the cache disabled issues live in memory only.
	CacheDir     string `json:"cache_dir"`
	CacheEnabled bool   `json:"cache_enabled"`

	// Output format: auto, json, yaml, styled, quiet.
	Format string `json:"format"`

	// MaxAge is how old a cached issue may be before the default
	// refresh policy fetches it again.
	MaxAge Duration `json:"max_age"`

	// FetchTimeout bounds a single remote fetch. Zero means no limit.
	FetchTimeout Duration `json:"fetch_timeout"`

	Resilience Resilience `json:"resilience"`

	// Behavior preferences, overridable by flags.
	Stats   *bool `json:"stats,omitempty"`
	Verbose *int  `json:"verbose,omitempty"`

	// Sources tracks where each value came from.
	Sources map[string]string `json:"-"`
}

// Resilience tunes the request gate. Zero values take the gate's defaults.
type Resilience struct {
	FailureThreshold int      `json:"failure_threshold,omitempty"`
	OpenTimeout      Duration `json:"open_timeout,omitempty"`
	MaxTokens        float64  `json:"max_tokens,omitempty"`
	RefillRate       float64  `json:"refill_rate,omitempty"`
	MaxConcurrent    int      `json:"max_concurrent,omitempty"`
}

// Duration is a time.Duration written as a Go duration string ("5m").
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("negative duration %q", b)
	}
	*d = Duration(v)
	return nil
}

// Source indicates where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceSystem  Source = "system"
	SourceGlobal  Source = "global"
	SourceLocal   Source = "local"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

// FlagOverrides holds command-line flag values. Empty fields are ignored.
type FlagOverrides struct {
	BaseURL  string
	CacheDir string
	Format   string
}

// DefaultBaseURL is the API used when nothing else is configured.
const DefaultBaseURL = "https://api.issuesync.dev"

// Default returns the default configuration.
func Default() *Config {
	cfg := &Config{
		BaseURL:      DefaultBaseURL,
		CacheDir:     defaultCacheDir(),
		CacheEnabled: true,
		Format:       "auto",
		MaxAge:       Duration(5 * time.Minute),
		FetchTimeout: Duration(30 * time.Second),
		Sources:      make(map[string]string),
	}
	for _, key := range []string{"base_url", "cache_dir", "cache_enabled", "format", "max_age", "fetch_timeout"} {
		cfg.Sources[key] = string(SourceDefault)
	}
	return cfg
}

// Load resolves configuration from every layer.
// Precedence: flags > env > local > global > system > defaults
func Load(overrides FlagOverrides) (*Config, error) {
	cfg := Default()
	loadFromFile(cfg, systemConfigPath(), SourceSystem, os.Stderr)
	loadFromFile(cfg, globalConfigPath(), SourceGlobal, os.Stderr)
	if path := localConfigPath(); path != "" {
		loadFromFile(cfg, path, SourceLocal, os.Stderr)
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	ApplyOverrides(cfg, overrides)
	return cfg, nil
}

// fileConfig mirrors Config with pointer fields so absent keys are
// distinguishable from zero values.
type fileConfig struct {
	BaseURL      *string   `json:"base_url"`
	CacheDir     *string   `json:"cache_dir"`
	CacheEnabled *bool     `json:"cache_enabled"`
	Format       *string   `json:"format"`
	MaxAge       *Duration `json:"max_age"`
	FetchTimeout *Duration `json:"fetch_timeout"`
	Stats        *bool     `json:"stats"`
	Verbose      *int      `json:"verbose"`
	Resilience   *struct {
		FailureThreshold *int      `json:"failure_threshold"`
		OpenTimeout      *Duration `json:"open_timeout"`
		MaxTokens        *float64  `json:"max_tokens"`
		RefillRate       *float64  `json:"refill_rate"`
		MaxConcurrent    *int      `json:"max_concurrent"`
	} `json:"resilience"`
}

func loadFromFile(cfg *Config, path string, source Source, warn io.Writer) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is from trusted config locations
	if err != nil {
		return
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		fmt.Fprintf(warn, "warning: skipping malformed config at %s: %v\n", path, err)
		return
	}

	set := func(key string) { cfg.Sources[key] = string(source) }

	// base_url decides where the token is sent; a config file in the
	// working directory must not redirect it.
	if fc.BaseURL != nil && *fc.BaseURL != "" {
		if source == SourceLocal {
			fmt.Fprintf(warn, "warning: ignoring base_url %q from local config at %s\n", *fc.BaseURL, path)
		} else {
			cfg.BaseURL = NormalizeBaseURL(*fc.BaseURL)
			set("base_url")
		}
	}
	if fc.CacheDir != nil && *fc.CacheDir != "" {
		cfg.CacheDir = *fc.CacheDir
		set("cache_dir")
	}
	if fc.CacheEnabled != nil {
		cfg.CacheEnabled = *fc.CacheEnabled
		set("cache_enabled")
	}
	if fc.Format != nil && *fc.Format != "" {
		cfg.Format = *fc.Format
		set("format")
	}
	if fc.MaxAge != nil {
		cfg.MaxAge = *fc.MaxAge
		set("max_age")
	}
	if fc.FetchTimeout != nil {
		cfg.FetchTimeout = *fc.FetchTimeout
		set("fetch_timeout")
	}
	if fc.Stats != nil {
		cfg.Stats = fc.Stats
		set("stats")
	}
	if fc.Verbose != nil && *fc.Verbose >= 0 && *fc.Verbose <= 2 {
		cfg.Verbose = fc.Verbose
		set("verbose")
	}
	if r := fc.Resilience; r != nil {
		if r.FailureThreshold != nil {
			cfg.Resilience.FailureThreshold = *r.FailureThreshold
		}
		if r.OpenTimeout != nil {
			cfg.Resilience.OpenTimeout = *r.OpenTimeout
		}
		if r.MaxTokens != nil {
			cfg.Resilience.MaxTokens = *r.MaxTokens
		}
		if r.RefillRate != nil {
			cfg.Resilience.RefillRate = *r.RefillRate
		}
		if r.MaxConcurrent != nil {
			cfg.Resilience.MaxConcurrent = *r.MaxConcurrent
		}
		set("resilience")
	}
}

// LoadFromEnv applies ISSUESYNC_* environment variables. Malformed
// durations are an error rather than silently ignored.
func LoadFromEnv(cfg *Config) error {
	if v := os.Getenv("ISSUESYNC_BASE_URL"); v != "" {
		cfg.BaseURL = NormalizeBaseURL(v)
		cfg.Sources["base_url"] = string(SourceEnv)
	}
	if v := os.Getenv("ISSUESYNC_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
		cfg.Sources["cache_dir"] = string(SourceEnv)
	}
	if v := os.Getenv("ISSUESYNC_CACHE_ENABLED"); v != "" {
		if b, ok := parseEnvBool(v); ok {
			cfg.CacheEnabled = b
			cfg.Sources["cache_enabled"] = string(SourceEnv)
		}
	}
	if v := os.Getenv("ISSUESYNC_FORMAT"); v != "" {
		cfg.Format = v
		cfg.Sources["format"] = string(SourceEnv)
	}
	if v := os.Getenv("ISSUESYNC_MAX_AGE"); v != "" {
		if err := cfg.MaxAge.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("ISSUESYNC_MAX_AGE: %w", err)
		}
		cfg.Sources["max_age"] = string(SourceEnv)
	}
	if v := os.Getenv("ISSUESYNC_FETCH_TIMEOUT"); v != "" {
		if err := cfg.FetchTimeout.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("ISSUESYNC_FETCH_TIMEOUT: %w", err)
		}
		cfg.Sources["fetch_timeout"] = string(SourceEnv)
	}
	if v := os.Getenv("ISSUESYNC_STATS"); v != "" {
		if b, ok := parseEnvBool(v); ok {
			cfg.Stats = &b
			cfg.Sources["stats"] = string(SourceEnv)
		}
	}
	return nil
}

// parseEnvBool accepts true/false/1/0. Anything else is ignored so an
// unset preference stays unset.
func parseEnvBool(v string) (bool, bool) {
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return false, false
	}
	return b, true
}

// ApplyOverrides applies non-empty flag overrides to cfg.
func ApplyOverrides(cfg *Config, o FlagOverrides) {
	if o.BaseURL != "" {
		cfg.BaseURL = NormalizeBaseURL(o.BaseURL)
		cfg.Sources["base_url"] = string(SourceFlag)
	}
	if o.CacheDir != "" {
		cfg.CacheDir = o.CacheDir
		cfg.Sources["cache_dir"] = string(SourceFlag)
	}
	if o.Format != "" {
		cfg.Format = o.Format
		cfg.Sources["format"] = string(SourceFlag)
	}
}

// CacheFile is the issue cache inside CacheDir.
func (c *Config) CacheFile() string {
	return filepath.Join(c.CacheDir, "issues.json")
}

// Host returns the host part of BaseURL, used to scope per-server state.
func (c *Config) Host() string {
	return hostutil.Host(c.BaseURL)
}

func defaultCacheDir() string {
	dir := os.Getenv("XDG_CACHE_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".cache")
	}
	return filepath.Join(dir, "issuesync")
}

func systemConfigPath() string {
	return "/etc/issuesync/config.json"
}

func globalConfigPath() string {
	return filepath.Join(GlobalConfigDir(), "config.json")
}

// localConfigPath returns ./.issuesync/config.json if present. Parent
// directories are not searched.
func localConfigPath() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	path := filepath.Join(dir, ".issuesync", "config.json")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// GlobalConfigDir returns the global config directory path.
func GlobalConfigDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "issuesync")
}

// NormalizeBaseURL adds a scheme to bare hosts and strips trailing slashes.
func NormalizeBaseURL(url string) string {
	return hostutil.Normalize(url)
}
