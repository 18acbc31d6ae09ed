package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/basecamp/issuesync/internal/remote"
)

var (
	// ErrCircuitOpen rejects a fetch while the host's circuit is open.
	ErrCircuitOpen = errors.New("circuit breaker open: API is failing, try again later")

	// ErrRateLimited rejects a fetch when the bucket is empty or a
	// Retry-After window is active.
	ErrRateLimited = errors.New("rate limited: too many requests")

	// ErrBulkheadFull rejects a fetch when too many processes are using the host.
	ErrBulkheadFull = errors.New("too many concurrent requests")
)

// Gate wraps a remote.Source with the three primitives. Checks run in
// order rate limiter, bulkhead, circuit breaker: the breaker goes last
// because admitting a half-open probe reserves a slot.
type Gate[K comparable, G comparable, T any] struct {
	next   remote.Source[K, G, T]
	cb     *CircuitBreaker
	rl     *RateLimiter
	bh     *Bulkhead
	host   string
	logger *slog.Logger
}

// GateOption configures a Gate.
type GateOption func(*gateOptions)

type gateOptions struct {
	logger *slog.Logger
}

// WithLogger sets the logger for rejections and state changes.
func WithLogger(l *slog.Logger) GateOption {
	return func(o *gateOptions) { o.logger = l }
}

// NewGate gates next with state for host kept in store. A nil cfg uses
// DefaultConfig.
func NewGate[K comparable, G comparable, T any](next remote.Source[K, G, T], store *Store, host string, cfg *Config, opts ...GateOption) *Gate[K, G, T] {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	o := gateOptions{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}
	return &Gate[K, G, T]{
		next:   next,
		cb:     NewCircuitBreaker(store, host, cfg.CircuitBreaker),
		rl:     NewRateLimiter(store, host, cfg.RateLimiter),
		bh:     NewBulkhead(store, host, cfg.Bulkhead),
		host:   host,
		logger: o.logger,
	}
}

// Fetch implements remote.Source.
func (g *Gate[K, G, T]) Fetch(ctx context.Context, key K) (T, error) {
	var out T
	err := g.guard(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.next.Fetch(ctx, key)
		return err
	})
	return out, err
}

// FetchGroup implements remote.Source.
func (g *Gate[K, G, T]) FetchGroup(ctx context.Context, group G) ([]T, error) {
	var out []T
	err := g.guard(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.next.FetchGroup(ctx, group)
		return err
	})
	return out, err
}

func (g *Gate[K, G, T]) guard(ctx context.Context, fn func(context.Context) error) error {
	if allowed, _ := g.rl.Allow(); !allowed {
		if wait, _ := g.rl.RetryAfterRemaining(); wait > 0 {
			g.logger.Debug("request gated", "host", g.host, "reason", "retry-after", "wait", wait)
			return fmt.Errorf("%w (retry in %s)", ErrRateLimited, wait.Round(time.Second))
		}
		g.logger.Debug("request gated", "host", g.host, "reason", "rate-limit")
		return ErrRateLimited
	}

	if acquired, _ := g.bh.Acquire(); !acquired {
		g.logger.Debug("request gated", "host", g.host, "reason", "bulkhead")
		return ErrBulkheadFull
	}
	defer func() { _ = g.bh.Release() }()

	if allowed, _ := g.cb.Allow(); !allowed {
		g.logger.Debug("request gated", "host", g.host, "reason", "circuit-open")
		if wait := g.cb.OpenRemaining(); wait > 0 {
			return fmt.Errorf("%w (retry in %s)", ErrCircuitOpen, wait.Round(time.Second))
		}
		return ErrCircuitOpen
	}

	recorded := false
	defer func() {
		if !recorded {
			// fn panicked; return any probe slot it reserved
			_ = g.cb.Release()
		}
	}()

	err := fn(ctx)
	recorded = true
	g.record(ctx, err)
	return err
}

// record feeds the outcome back into the breaker and limiter.
func (g *Gate[K, G, T]) record(ctx context.Context, err error) {
	var se *remote.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests {
		_ = g.rl.SetRetryAfterDuration(se.RetryAfter)
	}

	switch {
	case err == nil:
		_ = g.cb.RecordSuccess()
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		// Abandoned by the caller; says nothing about the host.
		_ = g.cb.Release()
	case isCircuitBreakerError(err):
		_ = g.cb.RecordFailure()
		if state, _ := g.cb.State(); state == CircuitOpen {
			g.logger.Warn("circuit opened", "host", g.host, "error", err)
		}
	default:
		// The host answered; a client error still proves it is up.
		_ = g.cb.RecordSuccess()
	}
}

// isCircuitBreakerError reports whether err signals a failing host:
// transport errors, timeouts and 5xx responses. Client errors, 429 and
// gate rejections do not count.
func isCircuitBreakerError(err error) bool {
	if err == nil {
		return false
	}
	var se *remote.StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500
	}
	switch {
	case errors.Is(err, ErrCircuitOpen), errors.Is(err, ErrRateLimited), errors.Is(err, ErrBulkheadFull):
		return false
	case errors.Is(err, remote.ErrUnsupported), errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, remote.ErrNetwork), errors.Is(err, context.DeadlineExceeded):
		return true
	}
	// Unclassified errors (e.g. an undecodable body) count as failures.
	return true
}

// GateStatus is a point-in-time view of a host's primitives.
type GateStatus struct {
	Host          string        `json:"host"`
	Circuit       string        `json:"circuit"`
	Tokens        float64       `json:"tokens"`
	RetryAfter    time.Duration `json:"retry_after"`
	BulkheadInUse int           `json:"bulkhead_in_use"`
}

// Status reports the current state for the gate's host.
func (g *Gate[K, G, T]) Status() (GateStatus, error) {
	st := GateStatus{Host: g.host}
	var err error
	if st.Circuit, err = g.cb.State(); err != nil {
		return st, err
	}
	if st.Tokens, err = g.rl.Tokens(); err != nil {
		return st, err
	}
	if st.RetryAfter, err = g.rl.RetryAfterRemaining(); err != nil {
		return st, err
	}
	st.BulkheadInUse, err = g.bh.InUse()
	return st, err
}

// Reset clears every primitive for the gate's host.
func (g *Gate[K, G, T]) Reset() error {
	return errors.Join(g.cb.Reset(), g.rl.Reset(), g.bh.Reset())
}

var _ remote.Source[int64, int64, struct{}] = (*Gate[int64, int64, struct{}])(nil)
