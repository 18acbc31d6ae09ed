package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/x/ansi"

	"github.com/basecamp/issuesync/internal/models"
	"github.com/basecamp/issuesync/internal/resource"
)

// resourceMsg carries one emission from the observed stream.
type resourceMsg struct{ res resource.Resource[models.Issue] }

// streamEndMsg signals the stream was closed.
type streamEndMsg struct{}

// refreshDoneMsg reports the outcome of a manual refresh.
type refreshDoneMsg struct{ err error }

// WatchModel shows one issue and follows its updates.
type WatchModel struct {
	emissions <-chan resource.Resource[models.Issue]
	refresh   func() error

	res        resource.Resource[models.Issue]
	received   bool
	refreshing bool
	refreshErr error
	ended      bool

	spinner  spinner.Model
	styles   *Styles
	mdStyle  string
	width    int
	body     string // rendered markdown, keyed by bodySrc
	bodySrc  string
	bodyWrap int
}

// WatchOption configures a WatchModel.
type WatchOption func(*WatchModel)

// WithRefresh sets the action bound to the "r" key.
func WithRefresh(fn func() error) WatchOption {
	return func(m *WatchModel) { m.refresh = fn }
}

// WithWatchStyles overrides the styles; a no-color theme also turns off
// markdown colors.
func WithWatchStyles(s *Styles, color bool) WatchOption {
	return func(m *WatchModel) {
		m.styles = s
		if !color {
			m.mdStyle = "notty"
		}
	}
}

// NewWatchModel follows the emissions of an issue stream.
func NewWatchModel(emissions <-chan resource.Resource[models.Issue], opts ...WatchOption) WatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	m := WatchModel{
		emissions: emissions,
		spinner:   s,
		styles:    NewStylesWithTheme(ResolveTheme()),
		mdStyle:   "dark",
		width:     80,
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.spinner.Style = m.styles.BadgeLoading
	return m
}

func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.next())
}

// next waits for the following emission.
func (m WatchModel) next() tea.Cmd {
	ch := m.emissions
	return func() tea.Msg {
		res, ok := <-ch
		if !ok {
			return streamEndMsg{}
		}
		return resourceMsg{res: res}
	}
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			if m.refresh == nil || m.refreshing {
				return m, nil
			}
			m.refreshing = true
			m.refreshErr = nil
			fn := m.refresh
			return m, tea.Batch(m.spinner.Tick, func() tea.Msg { return refreshDoneMsg{err: fn()} })
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.renderBody()
		return m, nil
	case resourceMsg:
		m.res = msg.res
		m.received = true
		m.renderBody()
		return m, m.next()
	case refreshDoneMsg:
		m.refreshing = false
		m.refreshErr = msg.err
		return m, nil
	case streamEndMsg:
		m.ended = true
		return m, tea.Quit
	case spinner.TickMsg:
		if !m.busy() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m WatchModel) busy() bool {
	return !m.received || m.res.Status() == resource.StatusLoading || m.refreshing
}

// Resource returns the latest emission.
func (m WatchModel) Resource() resource.Resource[models.Issue] { return m.res }

// renderBody caches the markdown rendering of the issue body.
func (m *WatchModel) renderBody() {
	issue, ok := m.res.Value()
	wrap := max(m.width-4, 20)
	if !ok || (issue.Body == m.bodySrc && wrap == m.bodyWrap && m.body != "") {
		return
	}
	m.bodySrc, m.bodyWrap = issue.Body, wrap
	m.body = strings.TrimSpace(issue.Body)
	if m.body == "" {
		return
	}
	r, err := glamour.NewTermRenderer(glamour.WithStandardStyle(m.mdStyle), glamour.WithWordWrap(wrap))
	if err != nil {
		return
	}
	if out, err := r.Render(issue.Body); err == nil {
		m.body = strings.TrimRight(out, "\n")
	}
}

func (m WatchModel) View() string {
	var b strings.Builder

	status := "loading"
	if m.received {
		status = m.res.Status().String()
	}
	badge := m.styles.RenderBadge(status)
	if m.busy() {
		badge = m.spinner.View() + " " + badge
	}

	issue, ok := m.res.Value()
	switch {
	case ok:
		title := fmt.Sprintf("%s %s", issue.Ref(), issue.Title)
		room := max(m.width-ansi.StringWidth(badge)-1, 10)
		b.WriteString(badge + " " + m.styles.Title.Render(ansi.Truncate(title, room, "…")))
		b.WriteString("\n")
		meta := []string{m.styles.RenderBadge(issue.State)}
		if issue.User.Login != "" {
			meta = append(meta, "by "+issue.User.Login)
		}
		if len(issue.Labels) > 0 {
			meta = append(meta, strings.Join(issue.Labels, ", "))
		}
		if !issue.UpdatedAt.IsZero() {
			meta = append(meta, "updated "+issue.UpdatedAt.Local().Format(time.DateTime))
		}
		b.WriteString(m.styles.Muted.Render(strings.Join(meta, " · ")))
		b.WriteString("\n")
		if m.body != "" {
			b.WriteString("\n" + m.body + "\n")
		}
	case m.received && m.res.Status() != resource.StatusLoading:
		b.WriteString(badge + " " + m.styles.Muted.Render("no cached data"))
		b.WriteString("\n")
	default:
		b.WriteString(badge + " " + m.styles.Muted.Render("fetching…"))
		b.WriteString("\n")
	}

	if msg, ok := m.res.Message(); ok {
		b.WriteString("\n" + m.styles.Error.Render("✗ "+msg) + "\n")
	}
	if m.refreshErr != nil {
		b.WriteString("\n" + m.styles.Error.Render("✗ refresh failed: "+m.refreshErr.Error()) + "\n")
	}

	help := "q quit"
	if m.refresh != nil {
		help = "r refresh · " + help
	}
	b.WriteString("\n" + m.styles.Muted.Render(help) + "\n")
	return b.String()
}
