package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basecamp/issuesync/internal/auth"
	"github.com/basecamp/issuesync/internal/live"
	"github.com/basecamp/issuesync/internal/models"
	"github.com/basecamp/issuesync/internal/output"
	"github.com/basecamp/issuesync/internal/remote"
	"github.com/basecamp/issuesync/internal/resilience"
)

func TestParseID(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"42", 42, false},
		{"#42", 42, false},
		{" 7 ", 7, false},
		{"https://issues.example.com/repositories/10/issues/42", 42, false},
		{"https://issues.example.com/repositories/10", 0, true},
		{"0", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseID(tt.input, "issue")
			if tt.wantErr {
				var oe *output.Error
				require.True(t, errors.As(err, &oe))
				assert.Equal(t, output.CodeUsage, oe.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRepositoryIDFromURL(t *testing.T) {
	got, err := parseID("https://issues.example.com/repositories/10/issues/42", "repository")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got)
}

func TestIssueFilter(t *testing.T) {
	now := time.Now()
	open := models.Issue{State: models.StateOpen, UpdatedAt: now}
	old := models.Issue{State: models.StateClosed, UpdatedAt: now.AddDate(0, 0, -30)}

	f, err := newIssueFilter("all", "")
	require.NoError(t, err)
	assert.True(t, f.match(open))
	assert.True(t, f.match(old))

	f, err = newIssueFilter("OPEN", "")
	require.NoError(t, err)
	assert.True(t, f.match(open))
	assert.False(t, f.match(old))

	f, err = newIssueFilter("", "7d")
	require.NoError(t, err)
	assert.True(t, f.match(open))
	assert.False(t, f.match(old))

	_, err = newIssueFilter("pending", "")
	assert.Error(t, err)
	_, err = newIssueFilter("", "whenever")
	assert.Error(t, err)
}

func TestRefreshModeSet(t *testing.T) {
	var m refreshMode
	require.NoError(t, m.Set("ALWAYS"))
	assert.Equal(t, refreshAlways, m)
	assert.Equal(t, "always", m.String())
	assert.Error(t, m.Set("sometimes"))
}

func TestRefreshPolicy(t *testing.T) {
	fresh := live.Snapshot[int]{Data: 1, HasData: true, UpdatedAt: time.Now()}
	stale := live.Snapshot[int]{Data: 1, HasData: true, UpdatedAt: time.Now().Add(-time.Hour)}
	absent := live.Snapshot[int]{}

	tests := []struct {
		name   string
		flags  refreshFlags
		snap   live.Snapshot[int]
		expect bool
	}{
		{"auto fresh", refreshFlags{mode: refreshAuto}, fresh, false},
		{"auto stale", refreshFlags{mode: refreshAuto}, stale, true},
		{"auto absent", refreshFlags{mode: refreshAuto}, absent, true},
		{"auto custom max age", refreshFlags{mode: refreshAuto, maxAge: 2 * time.Hour}, stale, false},
		{"always", refreshFlags{mode: refreshAlways}, fresh, true},
		{"never", refreshFlags{mode: refreshNever}, absent, false},
		{"missing with data", refreshFlags{mode: refreshMissing}, stale, false},
		{"missing without data", refreshFlags{mode: refreshMissing}, absent, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy, err := refreshPolicy[int](tt.flags, 5*time.Minute)
			require.NoError(t, err)
			assert.Equal(t, tt.expect, policy(tt.snap))
		})
	}
}

func TestRefreshPolicyRejectsNegativeMaxAge(t *testing.T) {
	_, err := refreshPolicy[int](refreshFlags{mode: refreshAuto, maxAge: -time.Second}, time.Minute)
	var oe *output.Error
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, output.CodeUsage, oe.Code)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantExit int
	}{
		{"no token", auth.ErrNoToken, output.CodeAuth, output.ExitAuth},
		{"circuit open", resilience.ErrCircuitOpen, output.CodeNetwork, output.ExitNetwork},
		{"rate limited", resilience.ErrRateLimited, output.CodeRateLimit, output.ExitRateLimit},
		{"bulkhead", resilience.ErrBulkheadFull, output.CodeRateLimit, output.ExitRateLimit},
		{"404", &remote.StatusError{StatusCode: http.StatusNotFound}, output.CodeNotFound, output.ExitNotFound},
		{"401", &remote.StatusError{StatusCode: http.StatusUnauthorized}, output.CodeAuth, output.ExitAuth},
		{"403", &remote.StatusError{StatusCode: http.StatusForbidden}, output.CodeForbidden, output.ExitForbidden},
		{"429", &remote.StatusError{StatusCode: http.StatusTooManyRequests}, output.CodeRateLimit, output.ExitRateLimit},
		{"500", &remote.StatusError{StatusCode: http.StatusInternalServerError}, output.CodeAPI, output.ExitAPI},
		{"wrapped network", fmt.Errorf("%w: dial tcp", remote.ErrNetwork), output.CodeNetwork, output.ExitNetwork},
		{"deadline", context.DeadlineExceeded, output.CodeNetwork, output.ExitNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err, "issue", 9)
			assert.Equal(t, tt.wantCode, got.Code)
			assert.Equal(t, tt.wantExit, got.ExitCode())
		})
	}
}

func TestClassifyCircuitOpenMessage(t *testing.T) {
	got := classify(resilience.ErrCircuitOpen, "issue", 1)
	assert.Equal(t, "API unavailable", got.Message)
}

func TestClassifyServerErrorRetryable(t *testing.T) {
	got := classify(&remote.StatusError{StatusCode: http.StatusServiceUnavailable}, "issue", 1)
	assert.True(t, got.Retryable)

	got = classify(&remote.StatusError{StatusCode: http.StatusInternalServerError}, "issue", 1)
	assert.False(t, got.Retryable)
}

func TestReadToken(t *testing.T) {
	token, err := readToken(strings.NewReader("  abc123 \nignored\n"))
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)

	token, err = readToken(strings.NewReader("no-newline"))
	require.NoError(t, err)
	assert.Equal(t, "no-newline", token)

	_, err = readToken(strings.NewReader("\n"))
	var oe *output.Error
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, output.CodeUsage, oe.Code)
}
