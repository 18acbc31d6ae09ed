package resource

import (
	"fmt"

	"github.com/basecamp/issuesync/internal/live"
)

// Resource is an immutable status-tagged envelope around an optional live
// data handle. Build one with Success, Error or Loading; the zero value is
// not a valid envelope.
//
// Data is nil only when nothing is cached yet for the requested key.
type Resource[T any] struct {
	status     Status
	message    string
	hasMessage bool
	data       *live.Value[T]
}

// Success reports a completed request. data reflects the latest known-good
// value and keeps updating as the store changes.
func Success[T any](data *live.Value[T]) Resource[T] {
	return Resource[T]{status: StatusSuccess, data: data}
}

// Error reports a failed remote operation. data is the last-known cached
// value (possibly nil) so callers can still render it.
//
// An empty message is a programming error and panics.
func Error[T any](message string, data *live.Value[T]) Resource[T] {
	if message == "" {
		panic("resource: error envelope requires a message")
	}
	return Resource[T]{status: StatusError, message: message, hasMessage: true, data: data}
}

// Loading reports a pending refresh. data is whatever is cached right now.
func Loading[T any](data *live.Value[T]) Resource[T] {
	return Resource[T]{status: StatusLoading, data: data}
}

// Status returns the lifecycle stage.
func (r Resource[T]) Status() Status { return r.status }

// Message returns the failure reason. ok is false unless Status is StatusError.
func (r Resource[T]) Message() (msg string, ok bool) {
	return r.message, r.hasMessage
}

// Data returns the live handle, or nil when nothing is cached.
func (r Resource[T]) Data() *live.Value[T] { return r.data }

// Value is a convenience for r.Data().Get() that tolerates a nil handle.
func (r Resource[T]) Value() (T, bool) {
	if r.data == nil {
		var zero T
		return zero, false
	}
	return r.data.Get()
}

// Equal compares status, message and data handle identity.
func (r Resource[T]) Equal(other Resource[T]) bool {
	return r.status == other.status &&
		r.hasMessage == other.hasMessage &&
		r.message == other.message &&
		r.data == other.data
}

func (r Resource[T]) String() string {
	msg := "<nil>"
	if r.hasMessage {
		msg = fmt.Sprintf("%q", r.message)
	}
	data := "<nil>"
	if r.data != nil {
		data = r.data.String()
	}
	return fmt.Sprintf("Resource{status=%s, message=%s, data=%s}", r.status, msg, data)
}
