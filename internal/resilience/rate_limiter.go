package resilience

import "time"

// RateLimiter is a token bucket shared across processes, plus the
// Retry-After window set by 429 responses.
type RateLimiter struct {
	config RateLimiterConfig
	store  *Store
	host   string
	now    func() time.Time
}

// NewRateLimiter creates a limiter for host. Zero config fields take defaults.
func NewRateLimiter(store *Store, host string, config RateLimiterConfig) *RateLimiter {
	return &RateLimiter{
		config: config.withDefaults(),
		store:  store,
		host:   host,
		now:    time.Now,
	}
}

// refill adds tokens for the time since the last refill. A zero
// LastRefillAt starts the bucket full.
func (rl *RateLimiter) refill(r *RateLimiterState, now time.Time) {
	if r.LastRefillAt.IsZero() {
		r.Tokens = rl.config.MaxTokens
		r.LastRefillAt = now
		return
	}
	r.Tokens = min(r.Tokens+now.Sub(r.LastRefillAt).Seconds()*rl.config.RefillRate, rl.config.MaxTokens)
	r.LastRefillAt = now
}

// Allow consumes a token if one is available and no Retry-After window
// is active.
func (rl *RateLimiter) Allow() (bool, error) {
	var allowed bool
	err := rl.store.Update(func(s *State) error {
		r := &s.Host(rl.host).RateLimiter
		now := rl.now()
		if r.BlockedFor(now) > 0 {
			return nil
		}
		rl.refill(r, now)
		if r.Tokens >= rl.config.TokensPerRequest {
			r.Tokens -= rl.config.TokensPerRequest
			allowed = true
		}
		return nil
	})
	if err != nil {
		return true, nil //nolint:nilerr // fail open
	}
	return allowed, nil
}

// SetRetryAfter blocks requests until until. An earlier deadline never
// shortens an existing window.
func (rl *RateLimiter) SetRetryAfter(until time.Time) error {
	return rl.store.Update(func(s *State) error {
		r := &s.Host(rl.host).RateLimiter
		if until.After(r.RetryAfterUntil) {
			r.RetryAfterUntil = until
		}
		return nil
	})
}

// SetRetryAfterDuration blocks requests for d, or for DefaultRetryAfter
// when d is not positive.
func (rl *RateLimiter) SetRetryAfterDuration(d time.Duration) error {
	if d <= 0 {
		d = rl.config.DefaultRetryAfter
	}
	return rl.SetRetryAfter(rl.now().Add(d))
}

// Tokens returns the current token count after refilling.
func (rl *RateLimiter) Tokens() (float64, error) {
	var tokens float64
	err := rl.store.Update(func(s *State) error {
		r := &s.Host(rl.host).RateLimiter
		rl.refill(r, rl.now())
		tokens = r.Tokens
		return nil
	})
	return tokens, err
}

// RetryAfterRemaining returns the time left in the Retry-After window.
func (rl *RateLimiter) RetryAfterRemaining() (time.Duration, error) {
	state, err := rl.store.Load()
	if err != nil {
		return 0, err
	}
	r := state.Peek(rl.host).RateLimiter
	return r.BlockedFor(rl.now()), nil
}

// Reset refills the bucket and clears any Retry-After window.
func (rl *RateLimiter) Reset() error {
	return rl.store.Update(func(s *State) error {
		s.Host(rl.host).RateLimiter = RateLimiterState{
			Tokens:       rl.config.MaxTokens,
			LastRefillAt: rl.now(),
		}
		return nil
	})
}
