package resilience

import "time"

// CircuitBreaker fails fast while a host keeps failing. State is shared
// across processes through the Store; any store error fails open.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	store  *Store
	host   string
	now    func() time.Time
}

// NewCircuitBreaker creates a breaker for host. Zero config fields take defaults.
func NewCircuitBreaker(store *Store, host string, config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		config: config.withDefaults(),
		store:  store,
		host:   host,
		now:    time.Now,
	}
}

// Allow reports whether a request may proceed. In half-open state an
// allowed request reserves a probe slot, returned by RecordSuccess,
// RecordFailure or Release.
func (cb *CircuitBreaker) Allow() (bool, error) {
	state, err := cb.store.Load()
	if err != nil {
		return true, nil //nolint:nilerr // fail open
	}
	now := cb.now()
	peek := state.Peek(cb.host).CircuitBreaker
	if peek.IsClosed() {
		return true, nil
	}
	if peek.IsOpen() && now.Sub(peek.OpenedAt) < cb.config.OpenTimeout {
		return false, nil
	}

	// Open with an expired timeout, or half-open: reserve a probe under lock.
	var allowed bool
	err = cb.store.Update(func(s *State) error {
		c := &s.Host(cb.host).CircuitBreaker
		switch {
		case c.IsClosed():
			allowed = true
			return nil
		case c.IsOpen():
			if now.Sub(c.OpenedAt) < cb.config.OpenTimeout {
				return nil
			}
			c.State = CircuitHalfOpen
			c.Successes = 0
			c.Failures = 0
			c.HalfOpenAttempts = 0
		}
		if c.HalfOpenAttempts >= cb.config.HalfOpenMaxRequests && !c.HalfOpenLastAttemptAt.IsZero() &&
			now.Sub(c.HalfOpenLastAttemptAt) >= cb.config.StaleAttemptTimeout {
			c.HalfOpenAttempts = 0
		}
		if c.HalfOpenAttempts >= cb.config.HalfOpenMaxRequests {
			return nil
		}
		c.HalfOpenAttempts++
		c.HalfOpenLastAttemptAt = now
		allowed = true
		return nil
	})
	if err != nil {
		return true, nil //nolint:nilerr // fail open
	}
	return allowed, nil
}

// RecordSuccess resets the failure count, or counts toward closing a
// half-open circuit.
func (cb *CircuitBreaker) RecordSuccess() error {
	return cb.store.Update(func(s *State) error {
		c := &s.Host(cb.host).CircuitBreaker
		switch {
		case c.IsHalfOpen():
			if c.HalfOpenAttempts > 0 {
				c.HalfOpenAttempts--
			}
			c.Successes++
			if c.Successes >= cb.config.SuccessThreshold {
				*c = CircuitBreakerState{State: CircuitClosed, LastFailureAt: c.LastFailureAt}
			}
		case c.IsClosed():
			c.Failures = 0
		}
		return nil
	})
}

// RecordFailure counts a failure. The circuit opens at FailureThreshold,
// or immediately when a half-open probe fails.
func (cb *CircuitBreaker) RecordFailure() error {
	return cb.store.Update(func(s *State) error {
		c := &s.Host(cb.host).CircuitBreaker
		now := cb.now()
		c.LastFailureAt = now
		switch {
		case c.IsClosed():
			c.Failures++
			if c.Failures >= cb.config.FailureThreshold {
				c.State = CircuitOpen
				c.OpenedAt = now
			}
		case c.IsHalfOpen():
			c.State = CircuitOpen
			c.OpenedAt = now
			c.Successes = 0
			c.HalfOpenAttempts = 0
			c.HalfOpenLastAttemptAt = time.Time{}
		}
		return nil
	})
}

// Release returns a half-open probe slot without recording an outcome,
// for requests abandoned by the caller.
func (cb *CircuitBreaker) Release() error {
	return cb.store.Update(func(s *State) error {
		c := &s.Host(cb.host).CircuitBreaker
		if c.IsHalfOpen() && c.HalfOpenAttempts > 0 {
			c.HalfOpenAttempts--
		}
		return nil
	})
}

// State returns the effective state; an open circuit past its timeout
// reports half-open.
func (cb *CircuitBreaker) State() (string, error) {
	state, err := cb.store.Load()
	if err != nil {
		return CircuitClosed, err
	}
	c := state.Peek(cb.host).CircuitBreaker
	switch {
	case c.IsOpen() && cb.now().Sub(c.OpenedAt) >= cb.config.OpenTimeout:
		return CircuitHalfOpen, nil
	case c.State == "":
		return CircuitClosed, nil
	}
	return c.State, nil
}

// OpenRemaining returns how long until an open circuit starts probing.
func (cb *CircuitBreaker) OpenRemaining() time.Duration {
	state, err := cb.store.Load()
	if err != nil {
		return 0
	}
	c := state.Peek(cb.host).CircuitBreaker
	if !c.IsOpen() {
		return 0
	}
	return max(cb.config.OpenTimeout-cb.now().Sub(c.OpenedAt), 0)
}

// Reset closes the circuit.
func (cb *CircuitBreaker) Reset() error {
	return cb.store.Update(func(s *State) error {
		s.Host(cb.host).CircuitBreaker = CircuitBreakerState{State: CircuitClosed}
		return nil
	})
}
