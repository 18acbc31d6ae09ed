package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/basecamp/issuesync/internal/models"
	"github.com/basecamp/issuesync/internal/observability"
	"github.com/basecamp/issuesync/internal/version"
)

const maxResponseBodySize = 1 << 20 // 1MB

// Connection pooling limits, shared by every request the source makes.
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 90 * time.Second
	defaultTimeout             = 30 * time.Second
)

// TokenFunc returns the bearer token for a request. An empty token sends
// the request unauthenticated.
type TokenFunc func(ctx context.Context) (string, error)

var _ Source[int64, int64, models.Issue] = (*HTTPSource)(nil)

// HTTPSource fetches issues from the issue tracker REST API.
type HTTPSource struct {
	baseURL    string
	httpClient *http.Client
	token      TokenFunc
	timeout    time.Duration
	logger     *slog.Logger
	hooks      observability.RequestHooks
}

// Option configures an HTTPSource.
type Option func(*HTTPSource)

// WithToken sets the bearer token provider.
func WithToken(fn TokenFunc) Option {
	return func(s *HTTPSource) { s.token = fn }
}

// WithTimeout sets the per-request timeout (default 30s).
func WithTimeout(d time.Duration) Option {
	return func(s *HTTPSource) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *HTTPSource) { s.httpClient = c }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *HTTPSource) { s.logger = l }
}

// WithHooks sets the receiver of per-request metrics.
func WithHooks(h observability.RequestHooks) Option {
	return func(s *HTTPSource) {
		if h != nil {
			s.hooks = h
		}
	}
}

// NewHTTPSource creates a source rooted at baseURL.
func NewHTTPSource(baseURL string, opts ...Option) *HTTPSource {
	s := &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			// no client timeout - requests use per-call context deadlines
			Transport: &http.Transport{
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		},
		timeout: defaultTimeout,
		logger:  slog.New(slog.DiscardHandler),
		hooks:   observability.NoopHooks{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch retrieves one issue by id.
func (s *HTTPSource) Fetch(ctx context.Context, id int64) (models.Issue, error) {
	var issue models.Issue
	if err := s.get(ctx, "/issues/"+strconv.FormatInt(id, 10), &issue); err != nil {
		return models.Issue{}, err
	}
	if issue.ID == 0 {
		issue.ID = id
	}
	return issue, nil
}

// FetchGroup retrieves every issue in a repository.
func (s *HTTPSource) FetchGroup(ctx context.Context, repo int64) ([]models.Issue, error) {
	var issues []models.Issue
	if err := s.get(ctx, "/repositories/"+strconv.FormatInt(repo, 10)+"/issues", &issues); err != nil {
		return nil, err
	}
	for i := range issues {
		// Listing endpoints may omit the owning repository
		if issues[i].RepositoryID == 0 {
			issues[i].RepositoryID = repo
		}
	}
	if issues == nil {
		issues = []models.Issue{}
	}
	return issues, nil
}

// Close releases idle connections. The source remains usable.
func (s *HTTPSource) Close() {
	if t, ok := s.httpClient.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

func (s *HTTPSource) get(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	url := s.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("X-Request-Id", requestID)

	if s.token != nil {
		token, err := s.token(ctx)
		if err != nil {
			return err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Debug("request failed", "url", url, "request_id", requestID, "error", err)
		s.hooks.OnRequest(ctx, observability.RequestMetrics{
			Method: http.MethodGet, URL: url, RequestID: requestID,
			Duration: time.Since(start), Error: err,
		})
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	elapsed := time.Since(start)
	s.logger.Debug("request", "url", url, "status", resp.StatusCode,
		"request_id", requestID, "duration", elapsed)
	s.hooks.OnRequest(ctx, observability.RequestMetrics{
		Method: http.MethodGet, URL: url, RequestID: requestID,
		StatusCode: resp.StatusCode, Duration: elapsed,
	})

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %w", ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response, body []byte) *StatusError {
	e := &StatusError{StatusCode: resp.StatusCode}

	switch resp.StatusCode {
	case http.StatusNotFound:
		e.Message = "not found"
	case http.StatusTooManyRequests:
		e.Message = "rate limited"
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case http.StatusUnauthorized:
		e.Message = "authentication failed"
	case http.StatusForbidden:
		e.Message = "access denied"
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		e.Message = "gateway error"
	}

	// Prefer the API's own message when it sends one
	var apiErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &apiErr) == nil {
		if msg := firstNonEmpty(apiErr.Message, apiErr.Error); msg != "" {
			e.Message = msg
		}
	}
	return e
}

// parseRetryAfter parses the Retry-After header (delay in seconds).
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
