// Package inflight tracks per-key fetches so concurrent requests for the
// same key share one network call.
package inflight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrPanicked is the outcome recorded when an owner's work panics.
var ErrPanicked = errors.New("in-flight request panicked")

// flight is the shared state behind all tickets for one request.
// err is written before done is closed.
type flight struct {
	id       string
	done     chan struct{}
	err      error
	resolved atomic.Bool
}

// Ticket is a handle on one in-flight request. The owner completes it;
// everyone else waits on it.
type Ticket struct {
	f     *flight
	owner bool
}

// ID returns the flight's unique id, shared by owner and waiters.
func (t *Ticket) ID() string { return t.f.id }

// Owner reports whether this handle started the request.
func (t *Ticket) Owner() bool { return t.owner }

// Done is closed when the request completes.
func (t *Ticket) Done() <-chan struct{} { return t.f.done }

// Err returns the request outcome, or nil while it is still running.
func (t *Ticket) Err() error {
	select {
	case <-t.f.done:
		return t.f.err
	default:
		return nil
	}
}

// Wait blocks until the request completes or ctx is done.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.f.done:
		return t.f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Registry is a per-key set of in-flight markers. Different keys never
// contend and no lock is held while the owner's work runs.
type Registry[K comparable] struct {
	flights sync.Map // K -> *flight
	count   atomic.Int64
}

// New creates an empty registry.
func New[K comparable]() *Registry[K] {
	return &Registry[K]{}
}

// TryBegin marks key as in flight. owner is true for exactly one caller
// until the flight completes; every other caller gets a ticket for the
// existing flight.
func (r *Registry[K]) TryBegin(key K) (t *Ticket, owner bool) {
	f := &flight{id: uuid.NewString(), done: make(chan struct{})}
	actual, loaded := r.flights.LoadOrStore(key, f)
	if loaded {
		return &Ticket{f: actual.(*flight)}, false
	}
	r.count.Add(1)
	return &Ticket{f: f, owner: true}, true
}

// Finish resolves the flight behind t with err and removes the marker.
// Later calls are no-ops, and a stale ticket never resolves a newer flight
// that started for the same key.
func (r *Registry[K]) Finish(key K, t *Ticket, err error) {
	f := t.f
	if !f.resolved.CompareAndSwap(false, true) {
		return
	}
	f.err = err
	if r.flights.CompareAndDelete(key, f) {
		r.count.Add(-1)
	}
	close(f.done)
}

// Len returns the number of in-flight keys.
func (r *Registry[K]) Len() int {
	return int(r.count.Load())
}
