// Package tui provides the terminal styles, prompts and interactive views.
package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the color palette.
type Theme struct {
	Primary    lipgloss.AdaptiveColor
	Secondary  lipgloss.AdaptiveColor
	Success    lipgloss.AdaptiveColor
	Warning    lipgloss.AdaptiveColor
	Error      lipgloss.AdaptiveColor
	Muted      lipgloss.AdaptiveColor
	Background lipgloss.AdaptiveColor
	Foreground lipgloss.AdaptiveColor
	Border     lipgloss.AdaptiveColor
}

// DefaultTheme returns the built-in palette.
func DefaultTheme() Theme {
	return Theme{
		Primary:    lipgloss.AdaptiveColor{Light: "#1a73e8", Dark: "#8ab4f8"},
		Secondary:  lipgloss.AdaptiveColor{Light: "#5f6368", Dark: "#9aa0a6"},
		Success:    lipgloss.AdaptiveColor{Light: "#1e8e3e", Dark: "#81c995"},
		Warning:    lipgloss.AdaptiveColor{Light: "#f9ab00", Dark: "#fdd663"},
		Error:      lipgloss.AdaptiveColor{Light: "#d93025", Dark: "#f28b82"},
		Muted:      lipgloss.AdaptiveColor{Light: "#80868b", Dark: "#6e7681"},
		Background: lipgloss.AdaptiveColor{Light: "#ffffff", Dark: "#1f1f1f"},
		Foreground: lipgloss.AdaptiveColor{Light: "#202124", Dark: "#e8eaed"},
		Border:     lipgloss.AdaptiveColor{Light: "#dadce0", Dark: "#3c4043"},
	}
}

// Styles holds the styles derived from a theme.
type Styles struct {
	theme Theme

	Title   lipgloss.Style
	Body    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Box     lipgloss.Style

	BadgeLoading lipgloss.Style
	BadgeSuccess lipgloss.Style
	BadgeError   lipgloss.Style
	BadgeOpen    lipgloss.Style
	BadgeClosed  lipgloss.Style
}

// NewStyles creates Styles with the default theme.
func NewStyles() *Styles {
	return NewStylesWithTheme(DefaultTheme())
}

// NewStylesWithTheme creates Styles with a custom theme.
func NewStylesWithTheme(theme Theme) *Styles {
	s := &Styles{theme: theme}

	s.Title = lipgloss.NewStyle().Bold(true).Foreground(theme.Primary)
	s.Body = lipgloss.NewStyle().Foreground(theme.Foreground)
	s.Muted = lipgloss.NewStyle().Foreground(theme.Muted)
	s.Success = lipgloss.NewStyle().Foreground(theme.Success)
	s.Warning = lipgloss.NewStyle().Foreground(theme.Warning)
	s.Error = lipgloss.NewStyle().Foreground(theme.Error)
	s.Box = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(theme.Border).
		Padding(0, 1)

	badge := lipgloss.NewStyle().Bold(true)
	s.BadgeLoading = badge.Foreground(theme.Warning)
	s.BadgeSuccess = badge.Foreground(theme.Success)
	s.BadgeError = badge.Foreground(theme.Error)
	s.BadgeOpen = badge.Foreground(theme.Success)
	s.BadgeClosed = badge.Foreground(theme.Secondary)

	return s
}

// Theme returns the current theme.
func (s *Styles) Theme() Theme { return s.theme }

// RenderBadge renders a resource status or issue state as a colored
// marker plus label. Unknown labels render plain.
func (s *Styles) RenderBadge(label string) string {
	switch strings.ToLower(label) {
	case "loading":
		return s.BadgeLoading.Render("● loading")
	case "success":
		return s.BadgeSuccess.Render("✓ success")
	case "error":
		return s.BadgeError.Render("✗ error")
	case "open":
		return s.BadgeOpen.Render("○ open")
	case "closed":
		return s.BadgeClosed.Render("● closed")
	}
	return s.Body.Render(label)
}

// RenderKeyValue renders a key-value pair.
func (s *Styles) RenderKeyValue(key, value string) string {
	return s.Muted.Render(key+": ") + s.Body.Render(value)
}

// RenderStatus renders a check or cross with a message.
func (s *Styles) RenderStatus(ok bool, message string) string {
	if ok {
		return s.Success.Bold(true).Render("✓ " + message)
	}
	return s.Error.Bold(true).Render("✗ " + message)
}
