// Package output formats command results as JSON, YAML or styled text and
// maps errors to stable codes and exit statuses.
package output

// Exit codes.
const (
	ExitOK        = 0
	ExitUsage     = 1 // invalid arguments or flags
	ExitNotFound  = 2
	ExitAuth      = 3 // not authenticated
	ExitForbidden = 4
	ExitRateLimit = 5 // rate limited, locally or by the server
	ExitNetwork   = 6 // connection, DNS, timeout, or API unavailable
	ExitAPI       = 7 // server returned an error
)

// Error codes for the JSON envelope.
const (
	CodeUsage     = "usage"
	CodeNotFound  = "not_found"
	CodeAuth      = "auth_required"
	CodeForbidden = "forbidden"
	CodeRateLimit = "rate_limit"
	CodeNetwork   = "network"
	CodeAPI       = "api_error"
)

// ExitCodeFor returns the exit code for an error code.
func ExitCodeFor(code string) int {
	switch code {
	case CodeUsage:
		return ExitUsage
	case CodeNotFound:
		return ExitNotFound
	case CodeAuth:
		return ExitAuth
	case CodeForbidden:
		return ExitForbidden
	case CodeRateLimit:
		return ExitRateLimit
	case CodeNetwork:
		return ExitNetwork
	default:
		return ExitAPI
	}
}
