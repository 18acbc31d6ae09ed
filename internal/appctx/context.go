// Package appctx provides application context helpers.
package appctx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/basecamp/issuesync/internal/auth"
	"github.com/basecamp/issuesync/internal/config"
	"github.com/basecamp/issuesync/internal/coordinator"
	"github.com/basecamp/issuesync/internal/hostutil"
	"github.com/basecamp/issuesync/internal/models"
	"github.com/basecamp/issuesync/internal/observability"
	"github.com/basecamp/issuesync/internal/output"
	"github.com/basecamp/issuesync/internal/remote"
	"github.com/basecamp/issuesync/internal/resilience"
	"github.com/basecamp/issuesync/internal/store"
)

// contextKey is a private type for context keys.
type contextKey string

const appKey contextKey = "app"

// IssueStore is the local issue cache as seen by commands.
type IssueStore interface {
	store.LocalStore[int64, int64, models.Issue]
	Stats() store.Stats
}

// App holds the shared application context for all commands.
type App struct {
	Config *config.Config
	Auth   *auth.Manager
	Logger *slog.Logger
	Output *output.Writer

	Store       IssueStore
	Remote      *remote.HTTPSource
	Gate        *resilience.Gate[int64, int64, models.Issue]
	Coordinator *coordinator.Coordinator[int64, int64, models.Issue]

	// Observability
	Collector *observability.SessionCollector
	Hooks     *observability.CLIHooks

	// Flags holds the global flag values
	Flags GlobalFlags

	logLevel *slog.LevelVar
	stdout   io.Writer
	stderr   io.Writer
}

// GlobalFlags holds values for global CLI flags.
type GlobalFlags struct {
	// Output format flags
	JSON   bool
	YAML   bool
	Quiet  bool
	Styled bool // Force ANSI styled output (even when piped)
	JQ     string

	// Connection flags, applied while loading config
	BaseURL  string
	CacheDir string

	// Behavior flags
	Verbose int // 0=off, 1=fetches, 2=fetches+requests (stacks with -v -v or -vv)
	Stats   bool
}

// Option configures NewApp.
type Option func(*App)

// WithStdout redirects command output.
func WithStdout(w io.Writer) Option {
	return func(a *App) { a.stdout = w }
}

// WithStderr redirects diagnostics, traces and logs.
func WithStderr(w io.Writer) Option {
	return func(a *App) { a.stderr = w }
}

// WithAuthStore overrides the credential store.
func WithAuthStore(s *auth.Store) Option {
	return func(a *App) { a.Auth = auth.NewManager(a.Config.Host(), s) }
}

// quietLevel keeps the logger silent until ApplyFlags raises verbosity.
const quietLevel = slog.LevelError + 4

// NewApp wires the cache, remote source, request gate and coordinator
// for cfg.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if err := hostutil.RequireSecureURL(cfg.BaseURL); err != nil {
		return nil, output.ErrUsageHint(err.Error(), "Run: issuesync config set base_url https://... --global")
	}

	a := &App{
		Config:   cfg,
		logLevel: new(slog.LevelVar),
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.Auth == nil {
		a.Auth = auth.NewManager(cfg.Host(), auth.NewStore(config.GlobalConfigDir()))
	}

	a.logLevel.Set(quietLevel)
	a.Logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: a.logLevel}))

	// Collector always runs to gather stats; hooks control output verbosity.
	// Level 0 initially; ApplyFlags sets the actual level from -v flags.
	a.Collector = observability.NewSessionCollector()
	a.Hooks = observability.NewCLIHooks(0, a.Collector, observability.NewTraceWriterTo(a.stderr))

	format, err := output.ParseFormat(cfg.Format)
	if err != nil {
		format = output.FormatAuto
	}
	if a.Output, err = output.New(output.Options{Format: format, Writer: a.stdout}); err != nil {
		return nil, err
	}

	if cfg.CacheEnabled {
		fs, err := store.OpenFile[int64, int64, models.Issue](cfg.CacheFile(), store.WithLogger(a.Logger))
		if err != nil {
			return nil, fmt.Errorf("opening cache: %w", err)
		}
		a.Store = fs
	} else {
		a.Store = store.NewMemoryStore[int64, int64, models.Issue]()
	}

	a.Remote = remote.NewHTTPSource(cfg.BaseURL,
		remote.WithToken(a.Auth.TokenFunc()),
		remote.WithTimeout(time.Duration(cfg.FetchTimeout)),
		remote.WithLogger(a.Logger),
		remote.WithHooks(a.Hooks),
	)
	a.Gate = resilience.NewGate[int64, int64, models.Issue](a.Remote,
		resilience.NewStore(cfg.CacheDir), cfg.Host(), resilienceConfig(cfg.Resilience),
		resilience.WithLogger(a.Logger))

	a.Coordinator = coordinator.New[int64, int64, models.Issue](a.Store, a.Gate,
		coordinator.WithLogger(a.Logger),
		coordinator.WithHooks(a.Hooks),
		coordinator.WithFetchTimeout(time.Duration(cfg.FetchTimeout)),
	)
	return a, nil
}

// resilienceConfig overlays configured values on the gate defaults.
func resilienceConfig(r config.Resilience) *resilience.Config {
	rc := resilience.DefaultConfig()
	cb, rl, bh := rc.CircuitBreaker, rc.RateLimiter, rc.Bulkhead
	if r.FailureThreshold > 0 {
		cb = cb.WithFailureThreshold(r.FailureThreshold)
	}
	if r.OpenTimeout > 0 {
		cb = cb.WithOpenTimeout(time.Duration(r.OpenTimeout))
	}
	if r.MaxTokens > 0 {
		rl = rl.WithMaxTokens(r.MaxTokens)
	}
	if r.RefillRate > 0 {
		rl = rl.WithRefillRate(r.RefillRate)
	}
	if r.MaxConcurrent > 0 {
		bh = bh.WithMaxConcurrent(r.MaxConcurrent)
	}
	return rc.WithCircuitBreaker(cb).WithRateLimiter(rl).WithBulkhead(bh)
}

// ApplyFlags applies global flag values to the app configuration.
func (a *App) ApplyFlags() error {
	// Specific modes first
	format, err := output.ParseFormat(a.Config.Format)
	if err != nil {
		format = output.FormatAuto
	}
	switch {
	case a.Flags.Quiet:
		format = output.FormatQuiet
	case a.Flags.JSON:
		format = output.FormatJSON
	case a.Flags.YAML:
		format = output.FormatYAML
	case a.Flags.Styled:
		format = output.FormatStyled
	}
	w, err := output.New(output.Options{Format: format, Writer: a.stdout, JQ: a.Flags.JQ})
	if err != nil {
		return err
	}
	a.Output = w

	verboseLevel := a.Flags.Verbose
	if debugEnv := os.Getenv("ISSUESYNC_DEBUG"); debugEnv != "" {
		// ISSUESYNC_DEBUG can be "1", "2", or "true" (treated as 2)
		if level, err := strconv.Atoi(debugEnv); err == nil {
			verboseLevel = max(verboseLevel, level)
		} else if debugEnv == "true" {
			verboseLevel = 2
		}
	}

	a.Hooks.SetLevel(verboseLevel)
	switch {
	case verboseLevel >= 2:
		a.logLevel.Set(slog.LevelDebug)
	case verboseLevel == 1:
		a.logLevel.Set(slog.LevelInfo)
	default:
		a.logLevel.Set(quietLevel)
	}
	return nil
}

// MaxAge is how old cached data may be under the default refresh policy.
func (a *App) MaxAge() time.Duration { return time.Duration(a.Config.MaxAge) }

// OK outputs a success response, automatically including stats if --stats flag is set.
func (a *App) OK(data any, opts ...output.ResponseOption) error {
	if a.Flags.Stats && a.Collector != nil {
		opts = append(opts, output.WithMeta("stats", a.Collector.Summary()))
	}
	return a.Output.OK(data, opts...)
}

// Err outputs an error response, printing stats to stderr if --stats flag is set.
func (a *App) Err(err error) error {
	if outputErr := a.Output.Err(err); outputErr != nil {
		return outputErr
	}

	// Machine-consumable modes keep stderr clean.
	if a.Flags.Stats && a.Collector != nil && !a.isMachineOutput() {
		a.printStatsToStderr(a.Collector.Summary())
	}
	return nil
}

// isMachineOutput returns true if the output mode is intended for programmatic consumption.
func (a *App) isMachineOutput() bool {
	if a.Flags.Quiet || a.Flags.JQ != "" {
		return true
	}
	return a.Config != nil && a.Config.Format == "quiet"
}

// printStatsToStderr outputs a compact stats line to stderr.
func (a *App) printStatsToStderr(stats observability.SessionMetrics) {
	parts := output.NewRenderer(a.stderr, false).StatsParts(stats)
	if len(parts) == 0 {
		return
	}
	fmt.Fprintf(a.stderr, "Stats: %s\n", strings.Join(parts, " | "))
}

// Stderr is where diagnostics go.
func (a *App) Stderr() io.Writer { return a.stderr }

// ClearCache removes every cached issue.
func (a *App) ClearCache() error {
	switch s := a.Store.(type) {
	case *store.FileStore[int64, int64, models.Issue]:
		return s.Clear()
	case *store.MemoryStore[int64, int64, models.Issue]:
		s.Clear()
	}
	return nil
}

// CachePath returns the cache file, or "" when the cache is in memory only.
func (a *App) CachePath() string {
	if fs, ok := a.Store.(*store.FileStore[int64, int64, models.Issue]); ok {
		return fs.Path()
	}
	return ""
}

// Close stops background work and releases resources.
func (a *App) Close() error {
	if a.Coordinator != nil {
		a.Coordinator.Close()
	}
	if a.Remote != nil {
		a.Remote.Close()
	}
	if fs, ok := a.Store.(*store.FileStore[int64, int64, models.Issue]); ok {
		return fs.Close()
	}
	return nil
}

// WithApp stores the app in the context.
func WithApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appKey, app)
}

// FromContext retrieves the app from the context.
func FromContext(ctx context.Context) *App {
	app, ok := ctx.Value(appKey).(*App)
	if !ok {
		return nil
	}
	return app
}
