// Package completion provides shell completion for issue and repository
// arguments, read straight from the local issue cache.
package completion

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/basecamp/issuesync/internal/appctx"
	"github.com/basecamp/issuesync/internal/config"
	"github.com/basecamp/issuesync/internal/models"
	"github.com/basecamp/issuesync/internal/store"
)

// CacheDirFunc returns the cache directory to use for completion.
// Takes the command to allow checking both context and flags at completion time.
type CacheDirFunc func(cmd *cobra.Command) string

// DefaultCacheDirFunc returns the cache directory by checking (in order):
// 1. --cache-dir flag on the root command
// 2. App config from context (set by PersistentPreRunE)
// 3. ISSUESYNC_CACHE_DIR environment variable
// 4. Default cache directory
//
// During __complete, PersistentPreRunE doesn't run, so config files are not
// loaded and a cache_dir set there is NOT honored. Loading them would add
// latency to every keypress.
func DefaultCacheDirFunc(cmd *cobra.Command) string {
	if root := cmd.Root(); root != nil {
		if flag := root.PersistentFlags().Lookup("cache-dir"); flag != nil && flag.Changed {
			return flag.Value.String()
		}
	}
	if app := appctx.FromContext(cmd.Context()); app != nil {
		return app.Config.CacheDir
	}
	if v := os.Getenv("ISSUESYNC_CACHE_DIR"); v != "" {
		return v
	}
	return config.Default().CacheDir
}

// Completer provides tab completion functions for the issuesync CLI.
// It reads the cache file directly and does NOT initialize the App.
type Completer struct {
	getCacheDir CacheDirFunc
}

// NewCompleter creates a new Completer.
// If getCacheDir is nil, DefaultCacheDirFunc is used.
func NewCompleter(getCacheDir CacheDirFunc) *Completer {
	if getCacheDir == nil {
		getCacheDir = DefaultCacheDirFunc
	}
	return &Completer{getCacheDir: getCacheDir}
}

// issues returns the cached issues, or nil when there is no cache.
func (c *Completer) issues(cmd *cobra.Command) []models.Issue {
	dir := c.getCacheDir(cmd)
	if dir == "" {
		return nil
	}
	issues, err := store.ReadFile[int64, int64, models.Issue](filepath.Join(dir, "issues.json"))
	if err != nil {
		return nil
	}
	return issues
}

// IssueCompletion returns a Cobra completion function for issue ID arguments.
// Issues already given earlier on the command line are skipped.
// Issues are ranked: Open > Recently updated > ID.
func (c *Completer) IssueCompletion() cobra.CompletionFunc {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]cobra.Completion, cobra.ShellCompDirective) {
		issues := c.issues(cmd)
		if len(issues) == 0 {
			// No cache - suggest no completions but allow any input
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		given := make(map[string]bool, len(args))
		for _, arg := range args {
			given[strings.TrimPrefix(arg, "#")] = true
		}

		toCompleteLower := strings.ToLower(strings.TrimPrefix(toComplete, "#"))
		var completions []cobra.Completion
		for _, issue := range rankIssues(issues) {
			id := strconv.FormatInt(issue.ID, 10)
			if given[id] {
				continue
			}
			if strings.HasPrefix(id, toCompleteLower) ||
				strings.Contains(strings.ToLower(issue.Title), toCompleteLower) {
				completions = append(completions, cobra.CompletionWithDesc(id, issue.Ref()+" "+issue.Title))
			}
		}

		return completions, cobra.ShellCompDirectiveNoFileComp
	}
}

// RepositoryCompletion returns a Cobra completion function for repository IDs.
// Repositories are those with at least one cached issue, in ID order.
func (c *Completer) RepositoryCompletion() cobra.CompletionFunc {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]cobra.Completion, cobra.ShellCompDirective) {
		counts := make(map[int64]int)
		for _, issue := range c.issues(cmd) {
			counts[issue.RepositoryID]++
		}

		repos := make([]int64, 0, len(counts))
		for repo := range counts {
			repos = append(repos, repo)
		}
		slices.Sort(repos)

		var completions []cobra.Completion
		for _, repo := range repos {
			id := strconv.FormatInt(repo, 10)
			if strings.HasPrefix(id, toComplete) {
				completions = append(completions, cobra.CompletionWithDesc(id, fmt.Sprintf("%d cached issues", counts[repo])))
			}
		}
		return completions, cobra.ShellCompDirectiveNoFileComp
	}
}

// rankIssues returns issues sorted by priority:
// 1. Open
// 2. Recently updated
// 3. ID
func rankIssues(issues []models.Issue) []models.Issue {
	// Copy to avoid mutating the original
	ranked := slices.Clone(issues)

	slices.SortStableFunc(ranked, func(a, b models.Issue) int {
		if a.Open() != b.Open() {
			if a.Open() {
				return -1
			}
			return 1
		}
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	return ranked
}
