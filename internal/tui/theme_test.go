package tui

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseColors(t *testing.T) {
	colors := parseColors([]byte(`
# comment
accent = "#89b4fa"
color1 = '#f38ba8' # red
color2 = #a6e3a1
bogus = "notacolor"
malformed line
`))
	assert.Equal(t, map[string]string{
		"accent": "#89b4fa",
		"color1": "#f38ba8",
		"color2": "#a6e3a1",
	}, colors)
}

func TestIsValidHexColor(t *testing.T) {
	for s, want := range map[string]bool{
		"#fff": true, "#A1b2C3": true, "fff": false, "#ffff": false, "#ggg": false, "": false,
	} {
		assert.Equal(t, want, isValidHexColor(s), s)
	}
}

func TestMapColorsToThemeOverridesDarkOnly(t *testing.T) {
	theme := mapColorsToTheme(map[string]string{"color4": "#111111", "color1": "#222222"})
	d := DefaultTheme()

	assert.Equal(t, "#111111", theme.Primary.Dark)
	assert.Equal(t, d.Primary.Light, theme.Primary.Light)
	assert.Equal(t, "#222222", theme.Error.Dark)
	assert.Equal(t, d.Success, theme.Success)
}

func TestResolveTheme(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	t.Run("no color", func(t *testing.T) {
		t.Setenv("NO_COLOR", "1")
		assert.Equal(t, NoColorTheme(), ResolveTheme())
	})

	t.Run("env theme file", func(t *testing.T) {
		path := filepath.Join(dir, "custom.toml")
		require.NoError(t, os.WriteFile(path, []byte(`accent = "#abcdef"`), 0644))
		t.Setenv("ISSUESYNC_THEME", path)
		assert.Equal(t, "#abcdef", ResolveTheme().Primary.Dark)
	})

	t.Run("user theme", func(t *testing.T) {
		t.Setenv("ISSUESYNC_THEME", "")
		require.NoError(t, os.MkdirAll(filepath.Dir(UserThemePath()), 0755))
		require.NoError(t, os.WriteFile(UserThemePath(), []byte(`color2 = "#00ff00"`), 0644))
		assert.Equal(t, "#00ff00", ResolveTheme().Success.Dark)
	})
}

func TestResolveThemeDefault(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("ISSUESYNC_THEME", "")
	t.Setenv("NO_COLOR", "")
	require.NoError(t, os.Unsetenv("NO_COLOR"))
	assert.Equal(t, DefaultTheme(), ResolveTheme())
}

func TestRenderBadge(t *testing.T) {
	s := NewStylesWithTheme(NoColorTheme())
	assert.Contains(t, s.RenderBadge("loading"), "loading")
	assert.Contains(t, s.RenderBadge("ERROR"), "✗ error")
	assert.Contains(t, s.RenderBadge("open"), "open")
	assert.Contains(t, s.RenderBadge("weird"), "weird")
}
