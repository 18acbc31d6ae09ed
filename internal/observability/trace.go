package observability

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// sensitiveParams are query parameter names that should be scrubbed from trace output.
var sensitiveParams = map[string]bool{
	"access_token":  true,
	"refresh_token": true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"password":      true,
	"secret":        true,
	"client_secret": true,
}

// TraceWriter outputs human-readable trace information to stderr.
// It formats output with timestamps relative to session start.
type TraceWriter struct {
	mu        sync.Mutex
	writer    io.Writer
	startTime time.Time
}

// NewTraceWriter creates a new TraceWriter that writes to stderr.
func NewTraceWriter() *TraceWriter {
	return NewTraceWriterTo(os.Stderr)
}

// NewTraceWriterTo creates a new TraceWriter that writes to the given writer.
func NewTraceWriterTo(w io.Writer) *TraceWriter {
	return &TraceWriter{
		writer:    w,
		startTime: time.Now(),
	}
}

func (t *TraceWriter) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	elapsed := time.Since(t.startTime).Seconds()
	fmt.Fprintf(t.writer, "[%.3fs] "+format+"\n", append([]any{elapsed}, args...)...)
}

// WriteCacheRead writes a cache read trace line.
// Format: [0.001s] Cache hit issue:42
func (t *TraceWriter) WriteCacheRead(key string, hit bool) {
	if hit {
		t.printf("Cache hit %s", key)
		return
	}
	t.printf("Cache miss %s", key)
}

// WriteFetchStart writes a fetch start trace line.
// Format: [0.002s] Fetching issue:42
func (t *TraceWriter) WriteFetchStart(info FetchInfo) {
	t.printf("Fetching %s", info.Key)
}

// WriteFetchEnd writes a fetch completion trace line.
// Format: [0.234s] Fetched issue:42 (232ms)
func (t *TraceWriter) WriteFetchEnd(info FetchInfo, err error, duration time.Duration) {
	if err != nil {
		t.printf("Failed %s: %v", info.Key, err)
		return
	}
	t.printf("Fetched %s (%dms)", info.Key, duration.Milliseconds())
}

// WriteFetchShared writes a trace line for a request that joined a fetch.
// Format: [0.003s] Joined fetch issue:42
func (t *TraceWriter) WriteFetchShared(info FetchInfo) {
	t.printf("Joined fetch %s", info.Key)
}

// WriteRequest writes a request trace line.
// Format: [0.234s]   GET /issues/42 -> 200 (45ms)
// Sensitive query parameters are redacted.
func (t *TraceWriter) WriteRequest(m RequestMetrics) {
	safeURL := scrubURL(m.URL)
	if m.Error != nil {
		t.printf("  %s %s -> ERROR: %v", m.Method, safeURL, m.Error)
		return
	}
	t.printf("  %s %s -> %d (%dms)", m.Method, safeURL, m.StatusCode, m.Duration.Milliseconds())
}

// Reset resets the start time for relative timestamps.
func (t *TraceWriter) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startTime = time.Now()
}

// scrubURL redacts sensitive query parameters from a URL for safe logging.
// Returns a safe placeholder if the URL cannot be parsed.
func scrubURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		// Don't leak potentially sensitive malformed URLs
		return "[unparseable URL]"
	}

	query := u.Query()
	modified := false
	for key := range query {
		if sensitiveParams[strings.ToLower(key)] {
			query.Set(key, "[REDACTED]")
			modified = true
		}
	}

	if !modified {
		return rawURL
	}

	u.RawQuery = query.Encode()
	return u.String()
}
