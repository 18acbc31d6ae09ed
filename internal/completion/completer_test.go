package completion

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basecamp/issuesync/internal/models"
	"github.com/basecamp/issuesync/internal/store"
)

// newTestCompleter creates a Completer for testing with a fixed cache directory.
func newTestCompleter(cacheDir string) *Completer {
	return NewCompleter(func(cmd *cobra.Command) string { return cacheDir })
}

// newTestCmd creates a minimal cobra.Command with a context for testing completion functions.
func newTestCmd() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	return cmd
}

func seedCache(t *testing.T, issues ...models.Issue) string {
	t.Helper()
	dir := t.TempDir()
	s, err := store.OpenFile[int64, int64, models.Issue](filepath.Join(dir, "issues.json"), store.WithWatch(false))
	require.NoError(t, err)
	require.NoError(t, s.Upsert(issues...))
	require.NoError(t, s.Close())
	return dir
}

func testIssues() []models.Issue {
	now := time.Now()
	return []models.Issue{
		{ID: 11, RepositoryID: 1, Number: 1, Title: "Old closed bug", State: models.StateClosed, UpdatedAt: now.Add(-time.Hour)},
		{ID: 12, RepositoryID: 1, Number: 2, Title: "Login fails", State: models.StateOpen, UpdatedAt: now.Add(-48 * time.Hour)},
		{ID: 13, RepositoryID: 2, Number: 1, Title: "Crash on start", State: models.StateOpen, UpdatedAt: now.Add(-2 * time.Hour)},
		{ID: 20, RepositoryID: 2, Number: 2, Title: "Docs typo", State: models.StateClosed, UpdatedAt: now.Add(-3 * time.Hour)},
	}
}

func values(completions []cobra.Completion) []string {
	out := make([]string, len(completions))
	for i, c := range completions {
		out[i] = string(c)
	}
	return out
}

func TestRankIssues(t *testing.T) {
	ranked := rankIssues(testIssues())

	// Open by recency, then closed by recency
	expected := []int64{13, 12, 11, 20}
	for i, id := range expected {
		assert.Equal(t, id, ranked[i].ID, "position %d", i)
	}
}

func TestRankIssuesDoesNotMutateInput(t *testing.T) {
	issues := testIssues()
	_ = rankIssues(issues)
	assert.Equal(t, int64(11), issues[0].ID)
}

func TestIssueCompletion(t *testing.T) {
	c := newTestCompleter(seedCache(t, testIssues()...))
	fn := c.IssueCompletion()

	completions, directive := fn(newTestCmd(), nil, "")
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)
	require.Len(t, completions, 4)
	assert.Equal(t, "13\t#1 Crash on start", string(completions[0]))

	// ID prefix
	completions, _ = fn(newTestCmd(), nil, "1")
	assert.Equal(t, []string{"13\t#1 Crash on start", "12\t#2 Login fails", "11\t#1 Old closed bug"}, values(completions))

	// Title substring, case-insensitive
	completions, _ = fn(newTestCmd(), nil, "LOGIN")
	assert.Equal(t, []string{"12\t#2 Login fails"}, values(completions))

	// Already given arguments are skipped
	completions, _ = fn(newTestCmd(), []string{"13", "#12"}, "1")
	assert.Equal(t, []string{"11\t#1 Old closed bug"}, values(completions))
}

func TestIssueCompletionWithoutCache(t *testing.T) {
	c := newTestCompleter(t.TempDir())
	completions, directive := c.IssueCompletion()(newTestCmd(), nil, "")
	assert.Empty(t, completions)
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)

	c = newTestCompleter("")
	completions, _ = c.IssueCompletion()(newTestCmd(), nil, "")
	assert.Empty(t, completions)
}

func TestRepositoryCompletion(t *testing.T) {
	c := newTestCompleter(seedCache(t, testIssues()...))

	completions, _ := c.RepositoryCompletion()(newTestCmd(), nil, "")
	assert.Equal(t, []string{"1\t2 cached issues", "2\t2 cached issues"}, values(completions))

	completions, _ = c.RepositoryCompletion()(newTestCmd(), nil, "2")
	assert.Equal(t, []string{"2\t2 cached issues"}, values(completions))
}

func TestDefaultCacheDirFuncPrefersFlag(t *testing.T) {
	t.Setenv("ISSUESYNC_CACHE_DIR", "/from/env")

	root := &cobra.Command{Use: "issuesync"}
	var dir string
	root.PersistentFlags().StringVar(&dir, "cache-dir", "", "")
	child := &cobra.Command{Use: "issue"}
	root.AddCommand(child)
	child.SetContext(context.Background())

	assert.Equal(t, "/from/env", DefaultCacheDirFunc(child))

	require.NoError(t, root.PersistentFlags().Set("cache-dir", "/from/flag"))
	assert.Equal(t, "/from/flag", DefaultCacheDirFunc(child))
}

func TestDefaultCacheDirFuncFallsBackToDefault(t *testing.T) {
	t.Setenv("ISSUESYNC_CACHE_DIR", "")
	t.Setenv("XDG_CACHE_HOME", "/xdg/cache")

	cmd := newTestCmd()
	assert.Equal(t, filepath.Join("/xdg/cache", "issuesync"), DefaultCacheDirFunc(cmd))
}
