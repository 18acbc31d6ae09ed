package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path string, v any) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

// isolate points every config layer at fresh temp directories.
func isolate(t *testing.T) (configHome, workDir string) {
	t.Helper()
	configHome = t.TempDir()
	workDir = t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configHome)
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	for _, env := range []string{
		"ISSUESYNC_BASE_URL", "ISSUESYNC_CACHE_DIR", "ISSUESYNC_CACHE_ENABLED",
		"ISSUESYNC_FORMAT", "ISSUESYNC_MAX_AGE", "ISSUESYNC_FETCH_TIMEOUT", "ISSUESYNC_STATS",
	} {
		t.Setenv(env, "")
	}
	t.Chdir(workDir)
	return configHome, workDir
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.True(t, cfg.CacheEnabled)
	assert.Equal(t, "auto", cfg.Format)
	assert.Equal(t, Duration(5*time.Minute), cfg.MaxAge)
	assert.Equal(t, "default", cfg.Sources["base_url"])
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, path, map[string]any{
		"base_url":      "http://test.example.com/",
		"cache_dir":     "/tmp/cache",
		"cache_enabled": false,
		"format":        "json",
		"max_age":       "90s",
		"fetch_timeout": "5s",
		"verbose":       1,
		"resilience": map[string]any{
			"failure_threshold": 3,
			"open_timeout":      "10s",
			"max_concurrent":    2,
		},
	})

	cfg := Default()
	loadFromFile(cfg, path, SourceGlobal, &bytes.Buffer{})

	assert.Equal(t, "http://test.example.com", cfg.BaseURL)
	assert.Equal(t, "/tmp/cache", cfg.CacheDir)
	assert.False(t, cfg.CacheEnabled)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, Duration(90*time.Second), cfg.MaxAge)
	assert.Equal(t, Duration(5*time.Second), cfg.FetchTimeout)
	require.NotNil(t, cfg.Verbose)
	assert.Equal(t, 1, *cfg.Verbose)
	assert.Equal(t, 3, cfg.Resilience.FailureThreshold)
	assert.Equal(t, Duration(10*time.Second), cfg.Resilience.OpenTimeout)
	assert.Equal(t, 2, cfg.Resilience.MaxConcurrent)
	assert.Equal(t, "global", cfg.Sources["base_url"])
	assert.Equal(t, "global", cfg.Sources["resilience"])
}

func TestLoadFromFileSkipsInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("not valid json"), 0644))

	var warn bytes.Buffer
	cfg := Default()
	loadFromFile(cfg, path, SourceGlobal, &warn)

	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Contains(t, warn.String(), "skipping malformed config")
}

func TestLoadFromFileSkipsMissingFile(t *testing.T) {
	cfg := Default()
	loadFromFile(cfg, "/nonexistent/path/config.json", SourceGlobal, &bytes.Buffer{})
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
}

func TestLoadFromFileRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, path, map[string]any{"max_age": "soon", "format": "yaml"})

	var warn bytes.Buffer
	cfg := Default()
	loadFromFile(cfg, path, SourceGlobal, &warn)

	assert.Equal(t, Duration(5*time.Minute), cfg.MaxAge)
	assert.Equal(t, "auto", cfg.Format, "a malformed file is skipped whole")
	assert.NotEmpty(t, warn.String())
}

func TestLocalConfigCannotSetBaseURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, path, map[string]any{"base_url": "https://evil.example", "format": "yaml"})

	var warn bytes.Buffer
	cfg := Default()
	loadFromFile(cfg, path, SourceLocal, &warn)

	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, "yaml", cfg.Format)
	assert.Contains(t, warn.String(), "ignoring base_url")
}

func TestLoadFromEnv(t *testing.T) {
	isolate(t)
	t.Setenv("ISSUESYNC_BASE_URL", "https://env.example/")
	t.Setenv("ISSUESYNC_CACHE_ENABLED", "0")
	t.Setenv("ISSUESYNC_MAX_AGE", "1h")
	t.Setenv("ISSUESYNC_STATS", "true")

	cfg := Default()
	require.NoError(t, LoadFromEnv(cfg))

	assert.Equal(t, "https://env.example", cfg.BaseURL)
	assert.False(t, cfg.CacheEnabled)
	assert.Equal(t, Duration(time.Hour), cfg.MaxAge)
	require.NotNil(t, cfg.Stats)
	assert.True(t, *cfg.Stats)
	assert.Equal(t, "env", cfg.Sources["max_age"])
}

func TestLoadFromEnvBadDuration(t *testing.T) {
	isolate(t)
	t.Setenv("ISSUESYNC_FETCH_TIMEOUT", "-5s")
	err := LoadFromEnv(Default())
	assert.ErrorContains(t, err, "ISSUESYNC_FETCH_TIMEOUT")
}

func TestLoadFromEnvIgnoresUnknownBool(t *testing.T) {
	isolate(t)
	t.Setenv("ISSUESYNC_CACHE_ENABLED", "maybe")
	cfg := Default()
	require.NoError(t, LoadFromEnv(cfg))
	assert.True(t, cfg.CacheEnabled)
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	ApplyOverrides(cfg, FlagOverrides{BaseURL: "http://flag.example", Format: "quiet"})

	assert.Equal(t, "http://flag.example", cfg.BaseURL)
	assert.Equal(t, "quiet", cfg.Format)
	assert.Equal(t, "flag", cfg.Sources["base_url"])
	assert.Equal(t, "default", cfg.Sources["cache_dir"], "empty overrides are skipped")
}

func TestFullLayeringPrecedence(t *testing.T) {
	configHome, workDir := isolate(t)
	writeConfig(t, filepath.Join(configHome, "issuesync", "config.json"), map[string]any{
		"base_url": "https://global.example",
		"format":   "json",
		"max_age":  "1m",
	})
	writeConfig(t, filepath.Join(workDir, ".issuesync", "config.json"), map[string]any{
		"format":  "yaml",
		"max_age": "2m",
	})
	t.Setenv("ISSUESYNC_MAX_AGE", "3m")

	cfg, err := Load(FlagOverrides{Format: "styled"})
	require.NoError(t, err)

	assert.Equal(t, "https://global.example", cfg.BaseURL)
	assert.Equal(t, "global", cfg.Sources["base_url"])
	assert.Equal(t, "styled", cfg.Format)
	assert.Equal(t, "flag", cfg.Sources["format"])
	assert.Equal(t, Duration(3*time.Minute), cfg.MaxAge)
	assert.Equal(t, "env", cfg.Sources["max_age"])
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, Duration(90*time.Second), d)

	out, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(out))

	assert.Error(t, d.UnmarshalText([]byte("later")))
}

func TestHostAndCacheFile(t *testing.T) {
	cfg := Default()
	cfg.BaseURL = "https://api.example.com:8443/v1"
	cfg.CacheDir = "/var/cache/issuesync"

	assert.Equal(t, "api.example.com:8443", cfg.Host())
	assert.Equal(t, filepath.Join("/var/cache/issuesync", "issues.json"), cfg.CacheFile())
}

func TestGlobalConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	assert.Equal(t, filepath.Join("/custom/config", "issuesync"), GlobalConfigDir())
}

func TestNormalizeBaseURL(t *testing.T) {
	assert.Equal(t, "https://a.example", NormalizeBaseURL("https://a.example//"))
	assert.Equal(t, "https://a.example", NormalizeBaseURL("https://a.example"))
	assert.Equal(t, "https://a.example", NormalizeBaseURL("a.example"))
	assert.Equal(t, "http://localhost:8080", NormalizeBaseURL("localhost:8080/"))
}
