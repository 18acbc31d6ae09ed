package resilience

import "time"

// Config holds the settings for every primitive.
type Config struct {
	CircuitBreaker CircuitBreakerConfig
	RateLimiter    RateLimiterConfig
	Bulkhead       BulkheadConfig
}

// CircuitBreakerConfig configures the breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive failures that open the circuit. Default 5.
	FailureThreshold int

	// SuccessThreshold is the half-open successes that close it again. Default 2.
	SuccessThreshold int

	// OpenTimeout is how long the circuit stays open before probing. Default 30s.
	OpenTimeout time.Duration

	// HalfOpenMaxRequests caps concurrent probes. Default 1.
	HalfOpenMaxRequests int

	// StaleAttemptTimeout expires probes left behind by crashed processes.
	// Default 2m.
	StaleAttemptTimeout time.Duration
}

// RateLimiterConfig configures the token bucket.
type RateLimiterConfig struct {
	MaxTokens        float64 // default 50
	RefillRate       float64 // tokens per second, default 10
	TokensPerRequest float64 // default 1

	// DefaultRetryAfter is the block applied to a 429 without a usable
	// Retry-After header. Default 60s.
	DefaultRetryAfter time.Duration
}

// BulkheadConfig configures the cross-process concurrency limit.
type BulkheadConfig struct {
	MaxConcurrent int // processes, default 10
}

// DefaultConfig returns the defaults listed on each field.
func DefaultConfig() *Config {
	return &Config{
		CircuitBreaker: CircuitBreakerConfig{}.withDefaults(),
		RateLimiter:    RateLimiterConfig{}.withDefaults(),
		Bulkhead:       BulkheadConfig{}.withDefaults(),
	}
}

// WithCircuitBreaker returns a copy of c with cb.
func (c *Config) WithCircuitBreaker(cb CircuitBreakerConfig) *Config {
	cp := *c
	cp.CircuitBreaker = cb
	return &cp
}

// WithRateLimiter returns a copy of c with rl.
func (c *Config) WithRateLimiter(rl RateLimiterConfig) *Config {
	cp := *c
	cp.RateLimiter = rl
	return &cp
}

// WithBulkhead returns a copy of c with bh.
func (c *Config) WithBulkhead(bh BulkheadConfig) *Config {
	cp := *c
	cp.Bulkhead = bh
	return &cp
}

func (cb CircuitBreakerConfig) WithFailureThreshold(n int) CircuitBreakerConfig {
	cb.FailureThreshold = n
	return cb
}

func (cb CircuitBreakerConfig) WithSuccessThreshold(n int) CircuitBreakerConfig {
	cb.SuccessThreshold = n
	return cb
}

func (cb CircuitBreakerConfig) WithOpenTimeout(d time.Duration) CircuitBreakerConfig {
	cb.OpenTimeout = d
	return cb
}

func (rl RateLimiterConfig) WithMaxTokens(n float64) RateLimiterConfig {
	rl.MaxTokens = n
	return rl
}

func (rl RateLimiterConfig) WithRefillRate(n float64) RateLimiterConfig {
	rl.RefillRate = n
	return rl
}

func (bh BulkheadConfig) WithMaxConcurrent(n int) BulkheadConfig {
	bh.MaxConcurrent = n
	return bh
}

func (cb CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if cb.FailureThreshold <= 0 {
		cb.FailureThreshold = 5
	}
	if cb.SuccessThreshold <= 0 {
		cb.SuccessThreshold = 2
	}
	if cb.OpenTimeout <= 0 {
		cb.OpenTimeout = 30 * time.Second
	}
	if cb.HalfOpenMaxRequests <= 0 {
		cb.HalfOpenMaxRequests = 1
	}
	if cb.StaleAttemptTimeout <= 0 {
		cb.StaleAttemptTimeout = 4 * cb.OpenTimeout
	}
	return cb
}

func (rl RateLimiterConfig) withDefaults() RateLimiterConfig {
	if rl.MaxTokens <= 0 {
		rl.MaxTokens = 50
	}
	if rl.RefillRate <= 0 {
		rl.RefillRate = 10
	}
	if rl.TokensPerRequest <= 0 {
		rl.TokensPerRequest = 1
	}
	if rl.DefaultRetryAfter <= 0 {
		rl.DefaultRetryAfter = 60 * time.Second
	}
	return rl
}

func (bh BulkheadConfig) withDefaults() BulkheadConfig {
	if bh.MaxConcurrent <= 0 {
		bh.MaxConcurrent = 10
	}
	return bh
}
