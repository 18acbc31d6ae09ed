// Package observability provides metrics collection and tracing for cache
// reads, coordinated fetches and HTTP requests.
package observability

import (
	"slices"
	"sync"
	"time"
)

// FetchMetrics describes one completed coordinated fetch.
type FetchMetrics struct {
	Key      string
	Ticket   string
	Group    bool
	Duration time.Duration
	Error    error
}

// RequestMetrics holds timing and status information for a single HTTP request.
type RequestMetrics struct {
	Method     string
	URL        string
	RequestID  string
	StatusCode int
	Duration   time.Duration
	Error      error
}

// EventType classifies fetch events in the recent-event buffer.
type EventType int

const (
	FetchComplete EventType = iota
	FetchError
	FetchShared
)

// Event records a single fetch event.
type Event struct {
	Timestamp time.Time
	Key       string
	Type      EventType
	Duration  time.Duration
}

// KeyStats holds aggregate statistics for one key.
type KeyStats struct {
	Key        string        `json:"key"`
	FetchCount int           `json:"fetch_count"`
	ErrorCount int           `json:"error_count"`
	AvgLatency time.Duration `json:"avg_latency"`
	LastFetch  time.Time     `json:"last_fetch"`
}

// SessionMetrics aggregates metrics for an entire CLI session.
type SessionMetrics struct {
	StartTime     time.Time     `json:"start_time"`
	EndTime       time.Time     `json:"end_time"`
	CacheHits     int           `json:"cache_hits"`
	CacheMisses   int           `json:"cache_misses"`
	TotalFetches  int           `json:"total_fetches"`
	FailedFetches int           `json:"failed_fetches"`
	SharedFetches int           `json:"shared_fetches"`
	TotalRequests int           `json:"total_requests"`
	TotalLatency  time.Duration `json:"total_latency"`
	P50Latency    time.Duration `json:"p50_latency"`
	ErrorRate     float64       `json:"error_rate"`
}

const maxEvents = 100

type keyTotals struct {
	fetches int
	errors  int
	total   time.Duration
	last    time.Time
}

// SessionCollector accumulates metrics across a CLI session.
// It is safe for concurrent use; recent events are kept in a bounded buffer.
type SessionCollector struct {
	mu sync.Mutex

	startTime     time.Time
	cacheHits     int
	cacheMisses   int
	totalFetches  int
	failedFetches int
	sharedFetches int
	totalRequests int
	totalLatency  time.Duration

	events []Event // last maxEvents
	keys   map[string]*keyTotals
}

// NewSessionCollector creates a new SessionCollector.
func NewSessionCollector() *SessionCollector {
	return &SessionCollector{
		startTime: time.Now(),
		keys:      make(map[string]*keyTotals),
	}
}

// RecordCacheRead records whether a cache read found data.
func (c *SessionCollector) RecordCacheRead(hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit {
		c.cacheHits++
	} else {
		c.cacheMisses++
	}
}

// RecordFetch records a completed coordinated fetch.
func (c *SessionCollector) RecordFetch(m FetchMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalFetches++
	kind := FetchComplete
	if m.Error != nil {
		c.failedFetches++
		kind = FetchError
	}
	c.recordLocked(Event{Timestamp: time.Now(), Key: m.Key, Type: kind, Duration: m.Duration})

	t, ok := c.keys[m.Key]
	if !ok {
		t = &keyTotals{}
		c.keys[m.Key] = t
	}
	t.fetches++
	t.total += m.Duration
	t.last = time.Now()
	if m.Error != nil {
		t.errors++
	}
}

// RecordShared records a request that attached to another caller's fetch.
func (c *SessionCollector) RecordShared(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sharedFetches++
	c.recordLocked(Event{Timestamp: time.Now(), Key: key, Type: FetchShared})
}

// RecordRequest records metrics for an HTTP request.
func (c *SessionCollector) RecordRequest(m RequestMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
	c.totalLatency += m.Duration
}

func (c *SessionCollector) recordLocked(e Event) {
	if len(c.events) >= maxEvents {
		c.events = c.events[1:]
	}
	c.events = append(c.events, e)
}

// Events returns a copy of the recent event buffer, oldest first.
func (c *SessionCollector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.events)
}

// KeyStats returns per-key fetch statistics sorted by key.
func (c *SessionCollector) KeyStats() []KeyStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]KeyStats, 0, len(c.keys))
	for key, t := range c.keys {
		ks := KeyStats{Key: key, FetchCount: t.fetches, ErrorCount: t.errors, LastFetch: t.last}
		if t.fetches > 0 {
			ks.AvgLatency = t.total / time.Duration(t.fetches)
		}
		out = append(out, ks)
	}
	slices.SortFunc(out, func(a, b KeyStats) int {
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	})
	return out
}

// Summary returns aggregated metrics for the session.
func (c *SessionCollector) Summary() SessionMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := SessionMetrics{
		StartTime:     c.startTime,
		EndTime:       time.Now(),
		CacheHits:     c.cacheHits,
		CacheMisses:   c.cacheMisses,
		TotalFetches:  c.totalFetches,
		FailedFetches: c.failedFetches,
		SharedFetches: c.sharedFetches,
		TotalRequests: c.totalRequests,
		TotalLatency:  c.totalLatency,
	}

	// p50 and error rate over the most recent completed fetches
	var latencies []time.Duration
	var errs, total int
	for i := len(c.events) - 1; i >= 0 && total < 50; i-- {
		switch c.events[i].Type {
		case FetchComplete:
			latencies = append(latencies, c.events[i].Duration)
			total++
		case FetchError:
			errs++
			total++
		default:
			// shared fetches made no call of their own
		}
	}
	if len(latencies) > 0 {
		slices.Sort(latencies)
		s.P50Latency = latencies[len(latencies)/2]
	}
	if total > 0 {
		s.ErrorRate = float64(errs) / float64(total)
	}
	return s
}

// Reset clears all collected metrics and resets the start time.
func (c *SessionCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.startTime = time.Now()
	c.cacheHits = 0
	c.cacheMisses = 0
	c.totalFetches = 0
	c.failedFetches = 0
	c.sharedFetches = 0
	c.totalRequests = 0
	c.totalLatency = 0
	c.events = nil
	c.keys = make(map[string]*keyTotals)
}
