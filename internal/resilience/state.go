package resilience

import (
	"slices"
	"time"
)

// StateVersion is the current state schema version.
const StateVersion = 1

// State is the resilience state shared by every issuesync process on the
// machine. Each API host gets its own breaker, bucket and bulkhead so a
// failing server does not gate requests to a healthy one.
type State struct {
	Version   int                   `json:"version"`
	Hosts     map[string]*HostState `json:"hosts"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// HostState holds the primitives for one API host.
type HostState struct {
	CircuitBreaker CircuitBreakerState `json:"circuit_breaker"`
	RateLimiter    RateLimiterState    `json:"rate_limiter"`
	Bulkhead       BulkheadState       `json:"bulkhead"`
}

// Host returns the state for host, creating it if needed.
func (s *State) Host(host string) *HostState {
	if s.Hosts == nil {
		s.Hosts = make(map[string]*HostState)
	}
	h := s.Hosts[host]
	if h == nil {
		h = &HostState{
			CircuitBreaker: CircuitBreakerState{State: CircuitClosed},
			Bulkhead:       BulkheadState{ActivePIDs: []int{}},
		}
		s.Hosts[host] = h
	}
	return h
}

// Peek returns a copy of the state for host without creating it.
func (s *State) Peek(host string) HostState {
	if h := s.Hosts[host]; h != nil {
		return *h
	}
	return HostState{CircuitBreaker: CircuitBreakerState{State: CircuitClosed}}
}

// CircuitBreakerState is the persisted breaker for one host.
type CircuitBreakerState struct {
	// State is "closed", "open" or "half_open". Empty reads as closed.
	State string `json:"state"`

	Failures  int `json:"failures"`
	Successes int `json:"successes"`

	// HalfOpenAttempts counts probes in flight across processes.
	HalfOpenAttempts int `json:"half_open_attempts,omitempty"`

	// HalfOpenLastAttemptAt lets a probe abandoned by a crashed process expire.
	HalfOpenLastAttemptAt time.Time `json:"half_open_last_attempt_at"`

	LastFailureAt time.Time `json:"last_failure_at"`
	OpenedAt      time.Time `json:"opened_at"`
}

// Circuit breaker states.
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half_open"
)

func (c *CircuitBreakerState) IsClosed() bool   { return c.State == "" || c.State == CircuitClosed }
func (c *CircuitBreakerState) IsOpen() bool     { return c.State == CircuitOpen }
func (c *CircuitBreakerState) IsHalfOpen() bool { return c.State == CircuitHalfOpen }

// RateLimiterState is a persisted token bucket.
type RateLimiterState struct {
	Tokens       float64   `json:"tokens"`
	LastRefillAt time.Time `json:"last_refill_at"`

	// RetryAfterUntil is set from a 429 response; nothing is sent before it.
	RetryAfterUntil time.Time `json:"retry_after_until"`
}

// BlockedFor returns the time left in the Retry-After window, zero if none.
func (r *RateLimiterState) BlockedFor(now time.Time) time.Duration {
	if r.RetryAfterUntil.IsZero() || !now.Before(r.RetryAfterUntil) {
		return 0
	}
	return r.RetryAfterUntil.Sub(now)
}

// BulkheadState lists the processes currently holding a permit. Dead
// processes are pruned by bulkhead operations, not on load.
type BulkheadState struct {
	ActivePIDs []int `json:"active_pids"`
}

func (b BulkheadState) Count() int { return len(b.ActivePIDs) }

func (b BulkheadState) HasPID(pid int) bool { return slices.Contains(b.ActivePIDs, pid) }

// AddPID adds pid if not already present.
func (b *BulkheadState) AddPID(pid int) {
	if !b.HasPID(pid) {
		b.ActivePIDs = append(b.ActivePIDs, pid)
	}
}

func (b *BulkheadState) RemovePID(pid int) {
	b.ActivePIDs = slices.DeleteFunc(b.ActivePIDs, func(p int) bool { return p == pid })
}

// NewState returns an empty state.
func NewState() *State {
	return &State{
		Version:   StateVersion,
		Hosts:     make(map[string]*HostState),
		UpdatedAt: time.Now(),
	}
}
