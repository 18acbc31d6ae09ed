package coordinator

import (
	"context"
	"sync"

	"github.com/basecamp/issuesync/internal/resource"
)

// Stream delivers the Resource emissions of one observation in order.
// The first emission is always Loading; the second is terminal (Success
// or Error). After that the stream stays open and emits Success whenever
// the observed record changes, until Close or the observer's context ends.
type Stream[T any] struct {
	ch     chan resource.Resource[T]
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func newStream[T any](ctx context.Context) *Stream[T] {
	ctx, cancel := context.WithCancel(ctx)
	return &Stream[T]{
		ch:     make(chan resource.Resource[T], 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// C returns the emission channel. It is closed when the stream ends.
func (s *Stream[T]) C() <-chan resource.Resource[T] { return s.ch }

// Done is closed once the stream has stopped emitting.
func (s *Stream[T]) Done() <-chan struct{} { return s.done }

// Close unsubscribes. It does not cancel a fetch already in progress.
func (s *Stream[T]) Close() {
	s.cancel()
	<-s.done
}

// Err returns the failure behind the terminal Error emission, or nil.
func (s *Stream[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream[T]) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// send delivers r unless the stream was closed first.
func (s *Stream[T]) send(r resource.Resource[T]) bool {
	if s.ctx.Err() != nil {
		return false
	}
	select {
	case s.ch <- r:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Stream[T]) finish() {
	s.cancel()
	close(s.ch)
	close(s.done)
}
