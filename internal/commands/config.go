package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/basecamp/issuesync/internal/config"
	"github.com/basecamp/issuesync/internal/hostutil"
	"github.com/basecamp/issuesync/internal/output"
)

// NewConfigCmd creates the config command for managing configuration.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage issuesync configuration.

Configuration is loaded from multiple sources with the following precedence:
  flags > env > local > global > system > defaults

Config locations:
  - System: /etc/issuesync/config.json
  - Global: ~/.config/issuesync/config.json
  - Local:  .issuesync/config.json (base_url is ignored here)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd)
		},
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigSetCmd(),
		newConfigUnsetCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long:  "Display the current effective configuration with source information.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd)
		},
	}
}

// configEntry is one resolved setting and where it came from.
type configEntry struct {
	Value  string `json:"value"`
	Source string `json:"source"`
}

func runConfigShow(cmd *cobra.Command) error {
	app, err := requireApp(cmd)
	if err != nil {
		return err
	}
	cfg := app.Config

	keys := []struct {
		key     string
		value   string
		include bool
	}{
		{"base_url", cfg.BaseURL, true},
		{"cache_dir", cfg.CacheDir, true},
		{"cache_enabled", strconv.FormatBool(cfg.CacheEnabled), true},
		{"format", cfg.Format, true},
		{"max_age", cfg.MaxAge.String(), true},
		{"fetch_timeout", cfg.FetchTimeout.String(), true},
		{"stats", fmt.Sprintf("%t", cfg.Stats != nil && *cfg.Stats), cfg.Stats != nil},
		{"verbose", fmt.Sprintf("%d", derefInt(cfg.Verbose)), cfg.Verbose != nil},
		{"resilience", resilienceSummary(cfg.Resilience), cfg.Sources["resilience"] != ""},
	}

	configData := make(map[string]configEntry, len(keys))
	for _, k := range keys {
		if !k.include {
			continue
		}
		source := cfg.Sources[k.key]
		if source == "" {
			source = string(config.SourceDefault)
		}
		configData[k.key] = configEntry{Value: k.value, Source: source}
	}

	return app.OK(configData, output.WithSummary("Effective configuration"))
}

func resilienceSummary(r config.Resilience) string {
	var parts []string
	if r.FailureThreshold > 0 {
		parts = append(parts, fmt.Sprintf("failure_threshold=%d", r.FailureThreshold))
	}
	if r.OpenTimeout > 0 {
		parts = append(parts, "open_timeout="+r.OpenTimeout.String())
	}
	if r.MaxTokens > 0 {
		parts = append(parts, "max_tokens="+strconv.FormatFloat(r.MaxTokens, 'g', -1, 64))
	}
	if r.RefillRate > 0 {
		parts = append(parts, "refill_rate="+strconv.FormatFloat(r.RefillRate, 'g', -1, 64))
	}
	if r.MaxConcurrent > 0 {
		parts = append(parts, fmt.Sprintf("max_concurrent=%d", r.MaxConcurrent))
	}
	if len(parts) == 0 {
		return "defaults"
	}
	return strings.Join(parts, " ")
}

// settableKeys lists the keys config set accepts. Dotted keys are nested.
var settableKeys = []string{
	"base_url", "cache_dir", "cache_enabled", "format", "max_age", "fetch_timeout",
	"stats", "verbose",
	"resilience.failure_threshold", "resilience.open_timeout", "resilience.max_tokens",
	"resilience.refill_rate", "resilience.max_concurrent",
}

// configPath returns the file config set/unset edits.
func configPath(global bool) (path, scope string) {
	if global {
		return filepath.Join(config.GlobalConfigDir(), "config.json"), "global"
	}
	return filepath.Join(".issuesync", "config.json"), "local"
}

// parseConfigValue validates value for key and returns its JSON form.
func parseConfigValue(key, value string) (any, error) {
	switch key {
	case "cache_enabled", "stats":
		b, ok := parseBoolFlag(value)
		if !ok {
			return nil, output.ErrUsage(fmt.Sprintf("%s must be true/false (or 1/0)", key))
		}
		return b, nil
	case "verbose":
		level, err := strconv.Atoi(value)
		if err != nil || level < 0 || level > 2 {
			return nil, output.ErrUsage("verbose must be 0, 1, or 2")
		}
		return level, nil
	case "format":
		if _, err := output.ParseFormat(value); err != nil {
			return nil, err
		}
		return value, nil
	case "max_age", "fetch_timeout", "resilience.open_timeout":
		d, err := time.ParseDuration(value)
		if err != nil || d < 0 {
			return nil, output.ErrUsage(fmt.Sprintf("%s must be a duration like 30s or 5m", key))
		}
		return d.String(), nil
	case "resilience.failure_threshold", "resilience.max_concurrent":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return nil, output.ErrUsage(fmt.Sprintf("%s must be a positive integer", key))
		}
		return n, nil
	case "resilience.max_tokens", "resilience.refill_rate":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f <= 0 {
			return nil, output.ErrUsage(fmt.Sprintf("%s must be a positive number", key))
		}
		return f, nil
	case "base_url":
		u := config.NormalizeBaseURL(value)
		if err := hostutil.RequireSecureURL(u); err != nil {
			return nil, output.ErrUsage(err.Error())
		}
		return u, nil
	}
	return value, nil
}

func newConfigSetCmd() *cobra.Command {
	var global bool

	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Set a configuration value in the local or global config file.

Valid keys: ` + strings.Join(settableKeys, ", "),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			key, value := args[0], args[1]
			if !slices.Contains(settableKeys, key) {
				return output.ErrUsage(fmt.Sprintf("Invalid config key %q. Valid keys: %s", key, strings.Join(settableKeys, ", ")))
			}
			if key == "base_url" && !global {
				return output.ErrUsageHint("base_url cannot be set in local config", "Use --global")
			}

			parsed, err := parseConfigValue(key, value)
			if err != nil {
				return err
			}

			path, scope := configPath(global)
			if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}

			configData := readConfigFile(path)
			if parent, child, nested := strings.Cut(key, "."); nested {
				section, _ := configData[parent].(map[string]any)
				if section == nil {
					section = make(map[string]any)
				}
				section[child] = parsed
				configData[parent] = section
			} else {
				configData[key] = parsed
			}

			if err := writeConfigFile(path, configData); err != nil {
				return err
			}

			return app.OK(map[string]any{
				"key":    key,
				"value":  fmt.Sprint(parsed),
				"scope":  scope,
				"path":   path,
				"status": "set",
			}, output.WithSummary(fmt.Sprintf("Set %s = %v (%s)", key, parsed, scope)))
		},
	}

	cmd.Flags().BoolVar(&global, "global", false, "Set in global config (~/.config/issuesync/)")

	return cmd
}

func newConfigUnsetCmd() *cobra.Command {
	var global bool

	cmd := &cobra.Command{
		Use:   "unset <key>",
		Short: "Unset a configuration value",
		Long:  "Remove a configuration value from the local or global config file.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			key := args[0]
			path, scope := configPath(global)
			if _, err := os.Stat(path); err != nil {
				return app.OK(map[string]any{
					"key":    key,
					"status": "not_found",
				}, output.WithSummary(fmt.Sprintf("Config file not found: %s", path)))
			}

			configData := readConfigFile(path)
			removed := false
			if parent, child, nested := strings.Cut(key, "."); nested {
				if section, ok := configData[parent].(map[string]any); ok {
					if _, removed = section[child]; removed {
						delete(section, child)
						if len(section) == 0 {
							delete(configData, parent)
						}
					}
				}
			} else if _, removed = configData[key]; removed {
				delete(configData, key)
			}

			if !removed {
				return app.OK(map[string]any{
					"key":    key,
					"status": "not_set",
				}, output.WithSummary(fmt.Sprintf("Key not set: %s", key)))
			}

			if err := writeConfigFile(path, configData); err != nil {
				return err
			}

			return app.OK(map[string]any{
				"key":    key,
				"scope":  scope,
				"status": "unset",
			}, output.WithSummary(fmt.Sprintf("Unset %s (%s)", key, scope)))
		},
	}

	cmd.Flags().BoolVar(&global, "global", false, "Unset from global config")

	return cmd
}

// readConfigFile loads path as a generic JSON object. A missing or invalid
// file reads as empty.
func readConfigFile(path string) map[string]any {
	configData := make(map[string]any)
	if data, err := os.ReadFile(path); err == nil { //nolint:gosec // G304: Path is from trusted config location
		_ = json.Unmarshal(data, &configData)
	}
	if configData == nil {
		configData = make(map[string]any)
	}
	return configData
}

func writeConfigFile(path string, configData map[string]any) error {
	data, err := json.MarshalIndent(configData, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := atomicWriteFile(path, append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func parseBoolFlag(value string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	default:
		return false, false
	}
}

// atomicWriteFile writes data to a file atomically using temp+rename.
// Files are always created with 0600 permissions (owner read/write only).
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	// Windows: rename fails when destination exists.
	if err := os.Rename(tmpPath, path); err != nil {
		if runtime.GOOS == "windows" {
			_ = os.Remove(path)
			return os.Rename(tmpPath, path)
		}
		os.Remove(tmpPath)
		return err
	}
	return nil
}
