package observability

import (
	"context"
	"sync"
	"time"
)

// FetchInfo identifies a coordinated fetch.
type FetchInfo struct {
	Key    string
	Ticket string
	Group  bool
}

// Hooks receives coordinator lifecycle events. Implementations must be
// safe for concurrent use and must not block.
type Hooks interface {
	OnCacheRead(ctx context.Context, key string, hit bool)
	OnFetchStart(ctx context.Context, info FetchInfo) context.Context
	OnFetchEnd(ctx context.Context, info FetchInfo, err error, duration time.Duration)
	OnFetchShared(ctx context.Context, info FetchInfo)
}

// RequestHooks receives HTTP request events.
type RequestHooks interface {
	OnRequest(ctx context.Context, m RequestMetrics)
}

// NoopHooks discards every event.
type NoopHooks struct{}

func (NoopHooks) OnCacheRead(context.Context, string, bool) {}

func (NoopHooks) OnFetchStart(ctx context.Context, _ FetchInfo) context.Context { return ctx }

func (NoopHooks) OnFetchEnd(context.Context, FetchInfo, error, time.Duration) {}

func (NoopHooks) OnFetchShared(context.Context, FetchInfo) {}

func (NoopHooks) OnRequest(context.Context, RequestMetrics) {}

// Verify CLIHooks implements both hook sets at compile time.
var (
	_ Hooks        = (*CLIHooks)(nil)
	_ RequestHooks = (*CLIHooks)(nil)
)

// CLIHooks implements Hooks for CLI observability.
// It supports configurable verbosity levels:
//   - 0: Silent (collect stats only, no output)
//   - 1: Fetches only (trace coordinated fetches)
//   - 2: Fetches + requests (trace both fetches and HTTP requests)
type CLIHooks struct {
	mu        sync.Mutex
	level     int
	collector *SessionCollector
	writer    *TraceWriter
}

// NewCLIHooks creates a new CLIHooks with the given verbosity level.
// If collector is nil, metrics are not collected.
// If writer is nil, no trace output is produced.
func NewCLIHooks(level int, collector *SessionCollector, writer *TraceWriter) *CLIHooks {
	return &CLIHooks{
		level:     level,
		collector: collector,
		writer:    writer,
	}
}

// SetLevel changes the verbosity level at runtime.
func (h *CLIHooks) SetLevel(level int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.level = level
}

// Level returns the current verbosity level.
func (h *CLIHooks) Level() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level
}

func (h *CLIHooks) load() (int, *SessionCollector, *TraceWriter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level, h.collector, h.writer
}

// OnCacheRead is called after the coordinator reads the cache.
func (h *CLIHooks) OnCacheRead(_ context.Context, key string, hit bool) {
	level, collector, writer := h.load()
	if collector != nil {
		collector.RecordCacheRead(hit)
	}
	if level >= 1 && writer != nil {
		writer.WriteCacheRead(key, hit)
	}
}

// OnFetchStart is called when this process starts a fetch for a key.
func (h *CLIHooks) OnFetchStart(ctx context.Context, info FetchInfo) context.Context {
	level, _, writer := h.load()
	if level >= 1 && writer != nil {
		writer.WriteFetchStart(info)
	}
	return ctx
}

// OnFetchEnd is called when a fetch completes.
func (h *CLIHooks) OnFetchEnd(_ context.Context, info FetchInfo, err error, duration time.Duration) {
	level, collector, writer := h.load()
	if collector != nil {
		collector.RecordFetch(FetchMetrics{
			Key:      info.Key,
			Ticket:   info.Ticket,
			Group:    info.Group,
			Duration: duration,
			Error:    err,
		})
	}
	if level >= 1 && writer != nil {
		writer.WriteFetchEnd(info, err, duration)
	}
}

// OnFetchShared is called when a request attaches to an existing fetch.
func (h *CLIHooks) OnFetchShared(_ context.Context, info FetchInfo) {
	level, collector, writer := h.load()
	if collector != nil {
		collector.RecordShared(info.Key)
	}
	if level >= 1 && writer != nil {
		writer.WriteFetchShared(info)
	}
}

// OnRequest is called after an HTTP request completes.
func (h *CLIHooks) OnRequest(_ context.Context, m RequestMetrics) {
	level, collector, writer := h.load()
	if collector != nil {
		collector.RecordRequest(m)
	}
	if level >= 2 && writer != nil {
		writer.WriteRequest(m)
	}
}
