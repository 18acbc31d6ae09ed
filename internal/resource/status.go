// Package resource provides the status-tagged envelope handed to data observers.
package resource

import "fmt"

// Status is the lifecycle stage of a requested resource.
type Status int

const (
	StatusLoading Status = iota // refresh pending, data may be cached
	StatusSuccess               // data reflects the latest known-good value
	StatusError                 // remote operation failed, data may be stale
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status as its lowercase name.
func (s Status) MarshalText() ([]byte, error) {
	switch s {
	case StatusLoading, StatusSuccess, StatusError:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("invalid status %d", int(s))
	}
}

// UnmarshalText decodes a lowercase status name.
func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "loading":
		*s = StatusLoading
	case "success":
		*s = StatusSuccess
	case "error":
		*s = StatusError
	default:
		return fmt.Errorf("unknown status %q", text)
	}
	return nil
}

// Terminal reports whether the status ends a request.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}
