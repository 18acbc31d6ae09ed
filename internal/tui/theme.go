package tui

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ResolveTheme picks the palette: NO_COLOR, then ISSUESYNC_THEME (a
// colors.toml path), then the user theme, then the default.
func ResolveTheme() Theme {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return NoColorTheme()
	}
	if path := os.Getenv("ISSUESYNC_THEME"); path != "" {
		if theme, err := LoadThemeFromFile(path); err == nil {
			return theme
		}
	}
	if theme, err := LoadUserTheme(); err == nil {
		return theme
	}
	return DefaultTheme()
}

// NoColorTheme returns a palette with every color empty.
func NoColorTheme() Theme {
	var empty lipgloss.AdaptiveColor
	return Theme{
		Primary: empty, Secondary: empty, Success: empty,
		Warning: empty, Error: empty, Muted: empty,
		Background: empty, Foreground: empty, Border: empty,
	}
}

// UserThemePath is $XDG_CONFIG_HOME/issuesync/theme/colors.toml.
func UserThemePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "issuesync", "theme", "colors.toml")
}

// LoadUserTheme loads the theme at UserThemePath.
func LoadUserTheme() (Theme, error) {
	return LoadThemeFromFile(UserThemePath())
}

// LoadThemeFromFile reads a terminal-theme style colors.toml.
func LoadThemeFromFile(path string) (Theme, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path from trusted config
	if err != nil {
		return Theme{}, err
	}
	return mapColorsToTheme(parseColors(data)), nil
}

// parseColors reads `key = "#rrggbb"` lines. Anything that is not a hex
// color is skipped.
func parseColors(data []byte) map[string]string {
	colors := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if i := findInlineComment(value); i > 0 {
			value = strings.TrimSpace(value[:i])
		}
		value = strings.Trim(value, `"'`)
		if isValidHexColor(value) {
			colors[strings.TrimSpace(key)] = value
		}
	}
	return colors
}

// findInlineComment returns the index of a '#' outside quotes, or -1.
func findInlineComment(s string) int {
	var quote rune
	for i, c := range s {
		switch {
		case quote == 0 && (c == '"' || c == '\''):
			quote = c
		case quote != 0 && c == quote:
			quote = 0
		case quote == 0 && c == '#':
			return i
		}
	}
	return -1
}

func isValidHexColor(s string) bool {
	hex, ok := strings.CutPrefix(s, "#")
	if !ok || (len(hex) != 3 && len(hex) != 6) {
		return false
	}
	return strings.Trim(strings.ToLower(hex), "0123456789abcdef") == ""
}

// mapColorsToTheme maps terminal palette names onto the theme. Terminal
// themes are usually dark, so only Dark variants are overridden:
//
//	accent, color4 → Primary    color1 → Error
//	color7 → Secondary          color2 → Success
//	color8, color0 → Muted      color3 → Warning
func mapColorsToTheme(colors map[string]string) Theme {
	d := DefaultTheme()
	pick := func(def lipgloss.AdaptiveColor, keys ...string) lipgloss.AdaptiveColor {
		for _, k := range keys {
			if v, ok := colors[k]; ok {
				return lipgloss.AdaptiveColor{Light: def.Light, Dark: v}
			}
		}
		return def
	}
	return Theme{
		Primary:    pick(d.Primary, "accent", "color4"),
		Secondary:  pick(d.Secondary, "color7"),
		Success:    pick(d.Success, "color2"),
		Warning:    pick(d.Warning, "color3"),
		Error:      pick(d.Error, "color1"),
		Muted:      pick(d.Muted, "color8", "color0"),
		Background: pick(d.Background, "background"),
		Foreground: pick(d.Foreground, "foreground"),
		Border:     pick(d.Border, "color8", "color0"),
	}
}
