package output

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/x/term"

	"github.com/basecamp/issuesync/internal/observability"
	"github.com/basecamp/issuesync/internal/tui"
)

// Renderer handles styled terminal output.
type Renderer struct {
	width  int
	styled bool
	locale Locale

	Summary lipgloss.Style
	Muted   lipgloss.Style
	Data    lipgloss.Style
	Key     lipgloss.Style
	Error   lipgloss.Style
	Hint    lipgloss.Style
	Header  lipgloss.Style
	Cell    lipgloss.Style

	badges *tui.Styles
}

// NewRenderer creates a renderer using the resolved theme. Styling is on
// for TTYs or when forceStyled is set.
func NewRenderer(w io.Writer, forceStyled bool) *Renderer {
	return NewRendererWithTheme(w, forceStyled, tui.ResolveTheme())
}

// NewRendererWithTheme creates a renderer with a specific theme.
func NewRendererWithTheme(w io.Writer, forceStyled bool, theme tui.Theme) *Renderer {
	width, tty := terminalInfo(w)
	r := &Renderer{
		width:  width,
		styled: tty || forceStyled,
		locale: DetectLocale(),
	}
	if !r.styled {
		theme = tui.NoColorTheme()
	}

	r.Summary = lipgloss.NewStyle().Foreground(theme.Primary).Bold(true)
	r.Muted = lipgloss.NewStyle().Foreground(theme.Muted)
	r.Data = lipgloss.NewStyle().Foreground(theme.Foreground)
	r.Key = lipgloss.NewStyle().Foreground(theme.Secondary)
	r.Error = lipgloss.NewStyle().Foreground(theme.Error).Bold(true)
	r.Hint = lipgloss.NewStyle().Foreground(theme.Muted).Italic(true)
	r.Header = lipgloss.NewStyle().Foreground(theme.Foreground).Bold(true)
	r.Cell = lipgloss.NewStyle().Foreground(theme.Foreground)
	r.badges = tui.NewStylesWithTheme(theme)
	return r
}

func terminalInfo(w io.Writer) (width int, tty bool) {
	width = 80
	if f, ok := w.(*os.File); ok && term.IsTerminal(f.Fd()) {
		tty = true
		if cols, _, err := term.GetSize(f.Fd()); err == nil && cols >= 40 {
			width = cols
		}
	}
	return width, tty
}

// RenderResponse renders a success response.
func (r *Renderer) RenderResponse(w io.Writer, resp *Response) error {
	var b strings.Builder

	if resp.Summary != "" {
		b.WriteString(r.Summary.Render(resp.Summary))
		b.WriteString("\n\n")
	}

	r.renderData(&b, NormalizeData(resp.Data))

	if stats, ok := resp.Meta["stats"].(observability.SessionMetrics); ok {
		b.WriteString("\n")
		b.WriteString(r.Muted.Render("Stats: " + strings.Join(r.StatsParts(stats), " | ")))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// RenderError renders an error response.
func (r *Renderer) RenderError(w io.Writer, resp *ErrorResponse) error {
	var b strings.Builder
	b.WriteString(r.Error.Render("Error: " + resp.Error))
	b.WriteString("\n")
	if resp.Hint != "" {
		b.WriteString(r.Hint.Render("Hint: " + resp.Hint))
		b.WriteString("\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// StatsParts formats session metrics as short labeled fragments.
func (r *Renderer) StatsParts(m observability.SessionMetrics) []string {
	parts := []string{
		fmt.Sprintf("%s fetches", r.locale.FormatInt(m.TotalFetches)),
		fmt.Sprintf("%s cache hits", r.locale.FormatInt(m.CacheHits)),
	}
	if m.SharedFetches > 0 {
		parts = append(parts, fmt.Sprintf("%s shared", r.locale.FormatInt(m.SharedFetches)))
	}
	if m.FailedFetches > 0 {
		parts = append(parts, fmt.Sprintf("%s errors", r.locale.FormatPercent(m.ErrorRate)))
	}
	if m.P50Latency > 0 {
		parts = append(parts, "p50 "+m.P50Latency.Round(time.Millisecond).String())
	}
	if !m.StartTime.IsZero() && !m.EndTime.IsZero() {
		parts = append(parts, m.EndTime.Sub(m.StartTime).Round(time.Millisecond).String())
	}
	return parts
}

func (r *Renderer) renderData(b *strings.Builder, data any) {
	switch d := data.(type) {
	case map[string]any:
		r.renderObject(b, d)
	case []any:
		if len(d) == 0 {
			b.WriteString(r.Muted.Render("(no results)"))
			b.WriteString("\n")
			return
		}
		if rows := toMapSlice(d); rows != nil {
			r.renderTable(b, rows)
			return
		}
		for _, item := range d {
			b.WriteString(r.Data.Render("• " + formatCell(item)))
			b.WriteString("\n")
		}
	case nil:
		b.WriteString(r.Muted.Render("(no data)"))
		b.WriteString("\n")
	default:
		b.WriteString(r.Data.Render(formatCell(d)))
		b.WriteString("\n")
	}
}

// renderObject prints scalar fields as aligned key/value lines. A
// "status" field renders as a badge; nested objects are indented below.
func (r *Renderer) renderObject(b *strings.Builder, obj map[string]any) {
	keys := orderedKeys(obj)
	pad := 0
	for _, k := range keys {
		pad = max(pad, len(formatHeader(k)))
	}

	var nested []string
	for _, k := range keys {
		v := obj[k]
		switch v.(type) {
		case map[string]any, []any:
			nested = append(nested, k)
			continue
		}
		label := r.Key.Render(fmt.Sprintf("%-*s", pad, formatHeader(k)))
		value := r.Data.Render(formatCell(v))
		if k == "status" {
			value = r.badges.RenderBadge(formatCell(v))
		}
		b.WriteString(label + "  " + value + "\n")
	}

	for _, k := range nested {
		b.WriteString("\n")
		b.WriteString(r.Header.Render(formatHeader(k)))
		b.WriteString("\n")
		var sub strings.Builder
		r.renderData(&sub, obj[k])
		for _, line := range strings.Split(strings.TrimRight(sub.String(), "\n"), "\n") {
			b.WriteString("  " + line + "\n")
		}
	}
}

// columnPriority orders table columns; unlisted scalar columns follow
// alphabetically until the width runs out.
var columnPriority = []string{"number", "id", "title", "state", "status", "labels", "comments", "updated_at"}

var skipColumns = map[string]bool{"body": true, "user": true, "repository_id": true, "created_at": true}

func (r *Renderer) renderTable(b *strings.Builder, rows []map[string]any) {
	cols := r.selectColumns(rows)
	if len(cols) == 0 {
		return
	}

	t := table.New().
		Border(lipgloss.HiddenBorder()).
		Width(r.width).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return r.Header
			}
			if cols[col] == "id" || cols[col] == "updated_at" {
				return r.Muted
			}
			return r.Cell
		})

	headers := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = formatHeader(c)
	}
	t.Headers(headers...)

	for _, item := range rows {
		row := make([]string, len(cols))
		for i, c := range cols {
			row[i] = formatCell(item[c])
		}
		t.Row(row...)
	}

	b.WriteString(t.String())
	b.WriteString("\n")
}

func (r *Renderer) selectColumns(rows []map[string]any) []string {
	first := rows[0]
	var cols []string
	for _, k := range columnPriority {
		if _, ok := first[k]; ok {
			cols = append(cols, k)
		}
	}
	if len(cols) > 0 {
		return cols
	}
	for _, k := range orderedKeys(first) {
		if skipColumns[k] {
			continue
		}
		switch first[k].(type) {
		case map[string]any:
			continue
		}
		cols = append(cols, k)
		if len(cols) == 5 {
			break
		}
	}
	return cols
}

func orderedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	rank := func(k string) int {
		if i := slices.Index(columnPriority, k); i >= 0 {
			return i
		}
		return len(columnPriority)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if ra, rb := rank(a), rank(b); ra != rb {
			return ra - rb
		}
		return strings.Compare(a, b)
	})
	return keys
}

func toMapSlice(items []any) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil
		}
		out = append(out, m)
	}
	return out
}

func formatHeader(key string) string {
	words := strings.Fields(strings.ReplaceAll(key, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		if t, err := time.Parse(time.RFC3339Nano, val); err == nil {
			return t.Local().Format("2006-01-02 15:04")
		}
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%.2f", val)
	case bool:
		if val {
			return "yes"
		}
		return "no"
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, formatCell(item))
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		for _, k := range []string{"login", "name", "title", "id"} {
			if s, ok := val[k]; ok {
				return formatCell(s)
			}
		}
		return "{…}"
	}
	return fmt.Sprint(v)
}
