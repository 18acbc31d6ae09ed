// Package remote provides the network-backed data sources the coordinator
// refreshes from.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Source fetches entities from the network. Each call completes exactly
// once, with either data or an error.
type Source[K comparable, G comparable, T any] interface {
	Fetch(ctx context.Context, key K) (T, error)
	FetchGroup(ctx context.Context, group G) ([]T, error)
}

// Funcs adapts plain functions to a Source. A nil func fails with
// ErrUnsupported.
type Funcs[K comparable, G comparable, T any] struct {
	FetchFunc      func(ctx context.Context, key K) (T, error)
	FetchGroupFunc func(ctx context.Context, group G) ([]T, error)
}

// Fetch calls FetchFunc.
func (f Funcs[K, G, T]) Fetch(ctx context.Context, key K) (T, error) {
	if f.FetchFunc == nil {
		var zero T
		return zero, ErrUnsupported
	}
	return f.FetchFunc(ctx, key)
}

// FetchGroup calls FetchGroupFunc.
func (f Funcs[K, G, T]) FetchGroup(ctx context.Context, group G) ([]T, error) {
	if f.FetchGroupFunc == nil {
		return nil, ErrUnsupported
	}
	return f.FetchGroupFunc(ctx, group)
}

var (
	// ErrNotFound matches a StatusError for HTTP 404.
	ErrNotFound = errors.New("not found")

	// ErrNetwork wraps transport failures (DNS, connection, timeout).
	ErrNetwork = errors.New("network error")

	// ErrUnsupported is returned by sources that lack an operation.
	ErrUnsupported = errors.New("operation not supported by source")
)

// StatusError is a non-2xx API response.
type StatusError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration // set for 429 when the server says so
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("request failed (HTTP %d)", e.StatusCode)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Temporary reports whether retrying later could succeed.
func (e *StatusError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
