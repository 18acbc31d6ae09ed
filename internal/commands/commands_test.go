package commands_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basecamp/issuesync/internal/cli"
	"github.com/basecamp/issuesync/internal/commands"
	"github.com/basecamp/issuesync/internal/models"
	"github.com/basecamp/issuesync/internal/output"
)

func TestCatalogMatchesRegisteredCommands(t *testing.T) {
	root := cli.NewRootCmd()

	// Trigger Cobra's auto-addition of help subcommand
	root.InitDefaultHelpCmd()

	registered := make(map[string]bool)
	for _, cmd := range root.Commands() {
		if cmd.Name() == "help" {
			continue
		}
		registered[cmd.Name()] = true
	}

	catalog := make(map[string]bool)
	for _, name := range commands.CatalogCommandNames() {
		catalog[name] = true
	}

	var missingFromRegistered []string
	for name := range catalog {
		if !registered[name] {
			missingFromRegistered = append(missingFromRegistered, name)
		}
	}
	var missingFromCatalog []string
	for name := range registered {
		if !catalog[name] {
			missingFromCatalog = append(missingFromCatalog, name)
		}
	}

	sort.Strings(missingFromRegistered)
	sort.Strings(missingFromCatalog)

	assert.Empty(t, missingFromRegistered, "Commands in catalog but not registered: %v", missingFromRegistered)
	assert.Empty(t, missingFromCatalog, "Commands registered but not in catalog: %v", missingFromCatalog)
}

// fakeAPI serves issues from a map and counts requests per path.
type fakeAPI struct {
	issues map[int64]models.Issue
	hits   atomic.Int32
	fail   atomic.Int32 // status to return for every request, 0 for none
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.hits.Add(1)
	if status := f.fail.Load(); status != 0 {
		w.WriteHeader(int(status))
		return
	}

	var id int64
	if _, err := fmt.Sscanf(r.URL.Path, "/issues/%d", &id); err == nil {
		issue, ok := f.issues[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"no such issue"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(issue)
		return
	}

	var repo int64
	if _, err := fmt.Sscanf(r.URL.Path, "/repositories/%d/issues", &repo); err == nil {
		list := []models.Issue{}
		for _, issue := range f.issues {
			if issue.RepositoryID == repo {
				list = append(list, issue)
			}
		}
		_ = json.NewEncoder(w).Encode(list)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeAPI{issues: map[int64]models.Issue{
		1: {ID: 1, RepositoryID: 10, Number: 101, Title: "Crash on start", State: models.StateOpen, User: models.Person{ID: 5, Login: "ana"}, CreatedAt: created, UpdatedAt: created},
		2: {ID: 2, RepositoryID: 10, Number: 102, Title: "Typo in docs", State: models.StateClosed, User: models.Person{ID: 6, Login: "bo"}, CreatedAt: created, UpdatedAt: created},
	}}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return api, srv
}

type harness struct {
	baseURL  string
	cacheDir string
}

func newHarness(t *testing.T, baseURL string) harness {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("ISSUESYNC_NO_KEYRING", "1")
	t.Setenv("ISSUESYNC_TOKEN", "")
	t.Setenv("ISSUESYNC_DEBUG", "")
	return harness{baseURL: baseURL, cacheDir: t.TempDir()}
}

// run executes issuesync with JSON output and decodes the envelope.
func (h harness) run(t *testing.T, args ...string) (int, map[string]any) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--json", "--base-url", h.baseURL, "--cache-dir", h.cacheDir}, args...)
	code := cli.Run(full, &stdout, &stderr)

	var resp map[string]any
	if stdout.Len() > 0 {
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &resp), "stdout: %s\nstderr: %s", stdout.String(), stderr.String())
	}
	return code, resp
}

func dataOf(t *testing.T, resp map[string]any) map[string]any {
	t.Helper()
	data, ok := resp["data"].(map[string]any)
	require.True(t, ok, "envelope has no object data: %v", resp)
	return data
}

func TestIssueFetchesThenServesFromCache(t *testing.T) {
	api, srv := newFakeAPI(t)
	h := newHarness(t, srv.URL)

	code, resp := h.run(t, "issue", "1")
	require.Equal(t, output.ExitOK, code)
	data := dataOf(t, resp)
	assert.Equal(t, "success", data["status"])
	issue := data["issue"].(map[string]any)
	assert.Equal(t, "Crash on start", issue["title"])
	assert.Equal(t, "#101 Crash on start", resp["summary"])
	assert.Equal(t, int32(1), api.hits.Load())

	// Fresh cache: no second request.
	code, resp = h.run(t, "issue", "#1")
	require.Equal(t, output.ExitOK, code)
	assert.Equal(t, "success", dataOf(t, resp)["status"])
	assert.NotNil(t, dataOf(t, resp)["cached_at"])
	assert.Equal(t, int32(1), api.hits.Load())

	// Forced refresh goes to the API again.
	code, _ = h.run(t, "issue", "1", "--refresh", "always")
	require.Equal(t, output.ExitOK, code)
	assert.Equal(t, int32(2), api.hits.Load())
}

func TestIssueNotFound(t *testing.T) {
	_, srv := newFakeAPI(t)
	h := newHarness(t, srv.URL)

	code, resp := h.run(t, "issue", "99")
	assert.Equal(t, output.ExitNotFound, code)
	data := dataOf(t, resp)
	assert.Equal(t, "error", data["status"])
	assert.Nil(t, data["issue"])
	assert.NotEmpty(t, data["message"])
}

func TestIssueRefreshFailureKeepsCachedData(t *testing.T) {
	api, srv := newFakeAPI(t)
	h := newHarness(t, srv.URL)

	code, _ := h.run(t, "issue", "2")
	require.Equal(t, output.ExitOK, code)

	api.fail.Store(http.StatusInternalServerError)
	code, resp := h.run(t, "issue", "2", "--refresh", "always")
	assert.Equal(t, output.ExitAPI, code)
	data := dataOf(t, resp)
	assert.Equal(t, "error", data["status"])
	issue, ok := data["issue"].(map[string]any)
	require.True(t, ok, "cached issue should survive a failed refresh")
	assert.Equal(t, "Typo in docs", issue["title"])
}

func TestIssueNeverRefreshWithEmptyCache(t *testing.T) {
	api, srv := newFakeAPI(t)
	h := newHarness(t, srv.URL)

	code, resp := h.run(t, "issue", "1", "--refresh", "never")
	require.Equal(t, output.ExitOK, code)
	data := dataOf(t, resp)
	assert.Equal(t, "success", data["status"])
	assert.Nil(t, data["issue"])
	assert.Equal(t, int32(0), api.hits.Load())
}

func TestIssuesListsRepository(t *testing.T) {
	_, srv := newFakeAPI(t)
	h := newHarness(t, srv.URL)

	code, resp := h.run(t, "issues", "--repo", "10")
	require.Equal(t, output.ExitOK, code)
	data := dataOf(t, resp)
	assert.Equal(t, "success", data["status"])
	issues := data["issues"].([]any)
	require.Len(t, issues, 2)
	assert.Equal(t, "2 issues in repository 10 (1 open)", resp["summary"])
}

func TestIssuesFilters(t *testing.T) {
	_, srv := newFakeAPI(t)
	h := newHarness(t, srv.URL)

	code, resp := h.run(t, "issues", "--repo", srv.URL+"/repositories/10", "--state", "open")
	require.Equal(t, output.ExitOK, code)
	issues := dataOf(t, resp)["issues"].([]any)
	require.Len(t, issues, 1)
	assert.Equal(t, "Crash on start", issues[0].(map[string]any)["title"])

	code, resp = h.run(t, "issues", "--repo", "10", "--since", "2999-01-01")
	require.Equal(t, output.ExitOK, code)
	assert.Empty(t, dataOf(t, resp)["issues"])

	code, _ = h.run(t, "issues", "--repo", "10", "--since", "someday")
	assert.Equal(t, output.ExitUsage, code)
}

func TestIssueAcceptsURL(t *testing.T) {
	_, srv := newFakeAPI(t)
	h := newHarness(t, srv.URL)

	code, resp := h.run(t, "issue", srv.URL+"/repositories/10/issues/2")
	require.Equal(t, output.ExitOK, code)
	assert.Equal(t, "Typo in docs", dataOf(t, resp)["issue"].(map[string]any)["title"])
}

func TestIssuesRequiresRepo(t *testing.T) {
	_, srv := newFakeAPI(t)
	h := newHarness(t, srv.URL)

	code, _ := h.run(t, "issues")
	assert.Equal(t, output.ExitUsage, code)
}

func TestSyncReportsPerIssue(t *testing.T) {
	_, srv := newFakeAPI(t)
	h := newHarness(t, srv.URL)

	code, resp := h.run(t, "sync", "1", "2", "1", "404")
	assert.Equal(t, output.ExitNotFound, code)
	assert.Equal(t, "Synced 2 of 3 issues", resp["summary"])

	results := resp["data"].([]any)
	require.Len(t, results, 3)
	byID := make(map[float64]map[string]any)
	for _, r := range results {
		m := r.(map[string]any)
		byID[m["id"].(float64)] = m
	}
	assert.Equal(t, "success", byID[1]["status"])
	assert.Equal(t, "Crash on start", byID[1]["title"])
	assert.Equal(t, "success", byID[2]["status"])
	assert.Equal(t, "error", byID[404]["status"])

	// Synced issues are now served from cache without the API.
	srv.Close()
	code, resp = h.run(t, "issue", "2", "--refresh", "missing")
	require.Equal(t, output.ExitOK, code)
	assert.Equal(t, "Typo in docs", dataOf(t, resp)["issue"].(map[string]any)["title"])
}

func TestIssueCompletionFromCache(t *testing.T) {
	_, srv := newFakeAPI(t)
	h := newHarness(t, srv.URL)

	code, _ := h.run(t, "sync", "1", "2")
	require.Equal(t, output.ExitOK, code)

	var stdout, stderr bytes.Buffer
	code = cli.Run([]string{"__complete", "issue", "--cache-dir", h.cacheDir, ""}, &stdout, &stderr)
	require.Equal(t, output.ExitOK, code, stderr.String())
	assert.Contains(t, stdout.String(), "1\t#101 Crash on start")
	assert.Contains(t, stdout.String(), "2\t#102 Typo in docs")
}

func TestCacheStatsAndClear(t *testing.T) {
	_, srv := newFakeAPI(t)
	h := newHarness(t, srv.URL)

	code, _ := h.run(t, "sync", "1", "2")
	require.Equal(t, output.ExitOK, code)

	code, resp := h.run(t, "cache", "stats")
	require.Equal(t, output.ExitOK, code)
	stats := dataOf(t, resp)["store"].(map[string]any)
	assert.Equal(t, float64(2), stats["records"])

	code, _ = h.run(t, "cache", "clear", "--force")
	require.Equal(t, output.ExitOK, code)

	code, resp = h.run(t, "cache", "stats")
	require.Equal(t, output.ExitOK, code)
	stats = dataOf(t, resp)["store"].(map[string]any)
	assert.Equal(t, float64(0), stats["records"])
}

func TestAuthLoginStatusLogout(t *testing.T) {
	_, srv := newFakeAPI(t)
	h := newHarness(t, srv.URL)

	code, resp := h.run(t, "auth", "login", "--token", "secret-token-1234")
	require.Equal(t, output.ExitOK, code)
	assert.Equal(t, true, dataOf(t, resp)["authenticated"])

	code, resp = h.run(t, "auth", "status")
	require.Equal(t, output.ExitOK, code)
	status := dataOf(t, resp)
	assert.Equal(t, true, status["authenticated"])
	assert.True(t, strings.HasSuffix(status["token"].(string), "1234"))
	assert.NotContains(t, status["token"], "secret")

	code, _ = h.run(t, "auth", "logout")
	require.Equal(t, output.ExitOK, code)

	code, resp = h.run(t, "auth", "status")
	require.Equal(t, output.ExitOK, code)
	assert.Equal(t, false, dataOf(t, resp)["authenticated"])
}

func TestConfigSetAndUnsetGlobal(t *testing.T) {
	_, srv := newFakeAPI(t)
	h := newHarness(t, srv.URL)

	code, _ := h.run(t, "config", "set", "max_age", "90s", "--global")
	require.Equal(t, output.ExitOK, code)

	path := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "issuesync", "config.json")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var file map[string]any
	require.NoError(t, json.Unmarshal(raw, &file))
	assert.Equal(t, "1m30s", file["max_age"])

	code, _ = h.run(t, "config", "set", "resilience.max_concurrent", "3", "--global")
	require.Equal(t, output.ExitOK, code)

	code, resp := h.run(t, "config", "unset", "max_age", "--global")
	require.Equal(t, output.ExitOK, code)
	assert.Equal(t, "unset", dataOf(t, resp)["status"])

	raw, err = os.ReadFile(path)
	require.NoError(t, err)
	file = nil
	require.NoError(t, json.Unmarshal(raw, &file))
	assert.NotContains(t, file, "max_age")
	assert.Equal(t, float64(3), file["resilience"].(map[string]any)["max_concurrent"])
}

func TestConfigSetRejectsBadValues(t *testing.T) {
	_, srv := newFakeAPI(t)
	h := newHarness(t, srv.URL)

	code, _ := h.run(t, "config", "set", "verbose", "9", "--global")
	assert.Equal(t, output.ExitUsage, code)

	code, _ = h.run(t, "config", "set", "base_url", "https://example.test")
	assert.Equal(t, output.ExitUsage, code, "base_url needs --global")
}
