package tui

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// ErrCanceled is returned when the user quits a spinner early.
var ErrCanceled = errors.New("canceled")

type spinnerModel struct {
	spinner  spinner.Model
	message  string
	done     bool
	result   string
	err      error
	styles   *Styles
	quitting bool
}

func newSpinnerModel(message string, styles *Styles) spinnerModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Title
	return spinnerModel{spinner: s, message: message, styles: styles}
}

func (m spinnerModel) Init() tea.Cmd {
	return m.spinner.Tick
}

type spinnerDoneMsg struct {
	result string
	err    error
}

func (m spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
	case spinnerDoneMsg:
		m.done = true
		m.result = msg.result
		m.err = msg.err
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m spinnerModel) View() string {
	switch {
	case m.quitting:
		return ""
	case m.done && m.err != nil:
		return m.styles.RenderStatus(false, m.err.Error()) + "\n"
	case m.done:
		return m.styles.RenderStatus(true, m.result) + "\n"
	}
	return fmt.Sprintf("%s %s\n", m.spinner.View(), m.message)
}

// Spinner shows progress on the terminal while a function runs.
type Spinner struct {
	message string
	styles  *Styles
	opts    []tea.ProgramOption
}

// NewSpinner creates a spinner. Program options are passed to bubbletea
// (e.g. tea.WithOutput(os.Stderr)).
func NewSpinner(message string, opts ...tea.ProgramOption) *Spinner {
	return &Spinner{message: message, styles: NewStylesWithTheme(ResolveTheme()), opts: opts}
}

// Run calls fn while the spinner animates and returns its result. The
// spinner line is replaced by fn's result message.
func (s *Spinner) Run(fn func() (string, error)) (string, error) {
	p := tea.NewProgram(newSpinnerModel(s.message, s.styles), s.opts...)
	go func() {
		result, err := fn()
		p.Send(spinnerDoneMsg{result: result, err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return "", err
	}
	m := final.(spinnerModel) //nolint:errcheck // the program only ever holds a spinnerModel
	if m.quitting {
		return "", ErrCanceled
	}
	return m.result, m.err
}
