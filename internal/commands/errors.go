package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/basecamp/issuesync/internal/auth"
	"github.com/basecamp/issuesync/internal/output"
	"github.com/basecamp/issuesync/internal/remote"
	"github.com/basecamp/issuesync/internal/resilience"
)

// classify maps a fetch failure to a structured CLI error. what and id
// name the resource for not-found messages.
func classify(err error, what string, id int64) *output.Error {
	var oe *output.Error
	if errors.As(err, &oe) {
		return oe
	}

	var se *remote.StatusError
	switch {
	case errors.Is(err, auth.ErrNoToken):
		return output.ErrAuth("Not authenticated")
	case errors.Is(err, resilience.ErrCircuitOpen):
		e := output.ErrNetwork(err)
		e.Message = "API unavailable"
		return e
	case errors.Is(err, resilience.ErrRateLimited), errors.Is(err, resilience.ErrBulkheadFull):
		e := output.ErrRateLimit(0, err)
		e.Hint = err.Error()
		return e
	case errors.As(err, &se):
		return classifyStatus(se, err, what, id)
	case errors.Is(err, remote.ErrNotFound):
		return output.ErrNotFound(what, fmt.Sprint(id))
	case errors.Is(err, remote.ErrNetwork), errors.Is(err, context.DeadlineExceeded):
		return output.ErrNetwork(err)
	case errors.Is(err, context.Canceled):
		return &output.Error{Code: output.CodeUsage, Message: "Canceled", Cause: err}
	}
	return output.AsError(err)
}

func classifyStatus(se *remote.StatusError, err error, what string, id int64) *output.Error {
	switch se.StatusCode {
	case http.StatusNotFound:
		e := output.ErrNotFound(what, fmt.Sprint(id))
		e.Cause = err
		return e
	case http.StatusUnauthorized:
		e := output.ErrAuth("Authentication failed")
		e.Cause = err
		return e
	case http.StatusForbidden:
		e := output.ErrForbidden("Access denied")
		e.Cause = err
		return e
	case http.StatusTooManyRequests:
		return output.ErrRateLimit(se.RetryAfter, err)
	}
	e := output.ErrAPI(se.StatusCode, se.Error())
	e.Retryable = se.Temporary()
	e.Cause = err
	return e
}
