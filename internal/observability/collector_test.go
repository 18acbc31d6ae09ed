package observability

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSessionCollector_RecordCacheRead(t *testing.T) {
	c := NewSessionCollector()
	c.RecordCacheRead(true)
	c.RecordCacheRead(false)
	c.RecordCacheRead(true)

	s := c.Summary()
	if s.CacheHits != 2 {
		t.Errorf("expected 2 cache hits, got %d", s.CacheHits)
	}
	if s.CacheMisses != 1 {
		t.Errorf("expected 1 cache miss, got %d", s.CacheMisses)
	}
}

func TestSessionCollector_RecordFetch(t *testing.T) {
	c := NewSessionCollector()

	c.RecordFetch(FetchMetrics{Key: "issue:1", Duration: 10 * time.Millisecond})
	c.RecordFetch(FetchMetrics{Key: "issue:1", Duration: 30 * time.Millisecond})
	c.RecordFetch(FetchMetrics{Key: "issue:2", Duration: 5 * time.Millisecond, Error: errors.New("timeout")})

	s := c.Summary()
	if s.TotalFetches != 3 {
		t.Errorf("expected 3 fetches, got %d", s.TotalFetches)
	}
	if s.FailedFetches != 1 {
		t.Errorf("expected 1 failed fetch, got %d", s.FailedFetches)
	}
	if s.P50Latency != 30*time.Millisecond {
		t.Errorf("expected p50 30ms, got %v", s.P50Latency)
	}
	if s.ErrorRate < 0.33 || s.ErrorRate > 0.34 {
		t.Errorf("expected error rate ~0.33, got %f", s.ErrorRate)
	}

	stats := c.KeyStats()
	if len(stats) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(stats))
	}
	if stats[0].Key != "issue:1" || stats[0].FetchCount != 2 {
		t.Errorf("unexpected stats for issue:1: %+v", stats[0])
	}
	if stats[0].AvgLatency != 20*time.Millisecond {
		t.Errorf("expected avg 20ms, got %v", stats[0].AvgLatency)
	}
	if stats[1].ErrorCount != 1 {
		t.Errorf("expected 1 error for issue:2, got %d", stats[1].ErrorCount)
	}
}

func TestSessionCollector_SharedFetchesExcludedFromLatency(t *testing.T) {
	c := NewSessionCollector()
	c.RecordShared("issue:1")
	c.RecordShared("issue:1")

	s := c.Summary()
	if s.SharedFetches != 2 {
		t.Errorf("expected 2 shared fetches, got %d", s.SharedFetches)
	}
	if s.P50Latency != 0 || s.ErrorRate != 0 {
		t.Errorf("shared fetches should not affect latency or error rate: %+v", s)
	}
}

func TestSessionCollector_EventBufferBounded(t *testing.T) {
	c := NewSessionCollector()
	for i := 0; i < maxEvents+25; i++ {
		c.RecordShared("k")
	}
	if got := len(c.Events()); got != maxEvents {
		t.Errorf("expected %d events, got %d", maxEvents, got)
	}
}

func TestSessionCollector_RecordRequest(t *testing.T) {
	c := NewSessionCollector()
	c.RecordRequest(RequestMetrics{Method: "GET", URL: "/issues/1", StatusCode: 200, Duration: 40 * time.Millisecond})
	c.RecordRequest(RequestMetrics{Method: "GET", URL: "/issues/2", StatusCode: 404, Duration: 10 * time.Millisecond})

	s := c.Summary()
	if s.TotalRequests != 2 {
		t.Errorf("expected 2 requests, got %d", s.TotalRequests)
	}
	if s.TotalLatency != 50*time.Millisecond {
		t.Errorf("expected 50ms total latency, got %v", s.TotalLatency)
	}
}

func TestSessionCollector_Reset(t *testing.T) {
	c := NewSessionCollector()
	c.RecordFetch(FetchMetrics{Key: "k"})
	c.RecordCacheRead(true)

	before := c.Summary().StartTime
	time.Sleep(time.Millisecond)
	c.Reset()

	s := c.Summary()
	if s.TotalFetches != 0 || s.CacheHits != 0 {
		t.Errorf("expected zeroed metrics after reset, got %+v", s)
	}
	if !s.StartTime.After(before) {
		t.Error("expected start time to move forward")
	}
	if len(c.KeyStats()) != 0 {
		t.Error("expected no key stats after reset")
	}
}

func TestSessionCollector_Concurrent(t *testing.T) {
	c := NewSessionCollector()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordFetch(FetchMetrics{Key: "k", Duration: time.Millisecond})
			c.RecordCacheRead(false)
			_ = c.Summary()
		}()
	}
	wg.Wait()

	if got := c.Summary().TotalFetches; got != 100 {
		t.Errorf("expected 100 fetches, got %d", got)
	}
}
