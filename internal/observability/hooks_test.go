package observability

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCLIHooks_Level0CollectsWithoutOutput(t *testing.T) {
	var buf bytes.Buffer
	c := NewSessionCollector()
	h := NewCLIHooks(0, c, NewTraceWriterTo(&buf))
	ctx := context.Background()

	info := FetchInfo{Key: "issue:1", Ticket: "t-1"}
	h.OnCacheRead(ctx, "issue:1", false)
	ctx = h.OnFetchStart(ctx, info)
	h.OnFetchEnd(ctx, info, nil, 10*time.Millisecond)
	h.OnRequest(ctx, RequestMetrics{Method: "GET", URL: "http://x/issues/1", StatusCode: 200})

	if buf.Len() != 0 {
		t.Errorf("expected no output at level 0, got: %s", buf.String())
	}
	s := c.Summary()
	if s.TotalFetches != 1 || s.CacheMisses != 1 || s.TotalRequests != 1 {
		t.Errorf("unexpected summary: %+v", s)
	}
}

func TestCLIHooks_Level1TracesFetches(t *testing.T) {
	var buf bytes.Buffer
	h := NewCLIHooks(1, nil, NewTraceWriterTo(&buf))
	ctx := context.Background()

	info := FetchInfo{Key: "issue:7"}
	h.OnFetchStart(ctx, info)
	h.OnFetchShared(ctx, info)
	h.OnFetchEnd(ctx, info, errors.New("timeout"), time.Millisecond)
	h.OnRequest(ctx, RequestMetrics{Method: "GET", URL: "http://x/issues/7"})

	out := buf.String()
	for _, want := range []string{"Fetching issue:7", "Joined fetch issue:7", "Failed issue:7: timeout"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output, got: %s", want, out)
		}
	}
	if strings.Contains(out, "GET") {
		t.Errorf("requests should not be traced at level 1, got: %s", out)
	}
}

func TestCLIHooks_Level2TracesRequests(t *testing.T) {
	var buf bytes.Buffer
	h := NewCLIHooks(1, nil, NewTraceWriterTo(&buf))
	h.SetLevel(2)
	if h.Level() != 2 {
		t.Fatalf("expected level 2, got %d", h.Level())
	}

	h.OnRequest(context.Background(), RequestMetrics{
		Method:     "GET",
		URL:        "http://x/issues/7?token=abc",
		StatusCode: 200,
		Duration:   45 * time.Millisecond,
	})

	out := buf.String()
	if !strings.Contains(out, "GET") || !strings.Contains(out, "-> 200 (45ms)") {
		t.Errorf("unexpected request trace: %s", out)
	}
	if strings.Contains(out, "abc") {
		t.Errorf("token leaked into trace: %s", out)
	}
}

func TestCLIHooks_NilWriterAndCollector(t *testing.T) {
	h := NewCLIHooks(2, nil, nil)
	ctx := context.Background()
	// Must not panic
	h.OnCacheRead(ctx, "k", true)
	h.OnFetchEnd(h.OnFetchStart(ctx, FetchInfo{Key: "k"}), FetchInfo{Key: "k"}, nil, 0)
	h.OnFetchShared(ctx, FetchInfo{Key: "k"})
	h.OnRequest(ctx, RequestMetrics{})
}

func TestNoopHooks(t *testing.T) {
	var h Hooks = NoopHooks{}
	ctx := context.Background()
	if got := h.OnFetchStart(ctx, FetchInfo{}); got != ctx {
		t.Error("expected context to pass through")
	}
}
