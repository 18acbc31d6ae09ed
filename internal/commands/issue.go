package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/basecamp/issuesync/internal/appctx"
	"github.com/basecamp/issuesync/internal/completion"
	"github.com/basecamp/issuesync/internal/coordinator"
	"github.com/basecamp/issuesync/internal/dateparse"
	"github.com/basecamp/issuesync/internal/models"
	"github.com/basecamp/issuesync/internal/output"
	"github.com/basecamp/issuesync/internal/resource"
)

// issueView is the envelope data for one observed issue.
type issueView struct {
	Status   resource.Status `json:"status"`
	Message  string          `json:"message,omitempty"`
	CachedAt *time.Time      `json:"cached_at,omitempty"`
	Issue    *models.Issue   `json:"issue"`
}

func newIssueView(res resource.Resource[models.Issue]) issueView {
	v := issueView{Status: res.Status(), CachedAt: cachedAt(res)}
	v.Message, _ = res.Message()
	if issue, ok := res.Value(); ok {
		v.Issue = &issue
	}
	return v
}

func (v issueView) summary(id int64) string {
	switch {
	case v.Issue == nil && v.Status == resource.StatusLoading:
		return fmt.Sprintf("Fetching issue %d", id)
	case v.Issue == nil:
		return fmt.Sprintf("Issue %d is not cached", id)
	case v.Status == resource.StatusError:
		return fmt.Sprintf("%s %s (cached, refresh failed)", v.Issue.Ref(), v.Issue.Title)
	}
	return fmt.Sprintf("%s %s", v.Issue.Ref(), v.Issue.Title)
}

// issuesView is the envelope data for a repository's issues.
type issuesView struct {
	Status       resource.Status `json:"status"`
	Message      string          `json:"message,omitempty"`
	RepositoryID int64           `json:"repository_id"`
	CachedAt     *time.Time      `json:"cached_at,omitempty"`
	Issues       []models.Issue  `json:"issues"`
}

func newIssuesView(repo int64, res resource.Resource[[]models.Issue], f issueFilter) issuesView {
	v := issuesView{Status: res.Status(), RepositoryID: repo, CachedAt: cachedAt(res), Issues: []models.Issue{}}
	v.Message, _ = res.Message()
	if issues, ok := res.Value(); ok {
		for _, issue := range issues {
			if f.match(issue) {
				v.Issues = append(v.Issues, issue)
			}
		}
	}
	return v
}

// issueFilter narrows a listing after it is read from the cache. The whole
// repository is still fetched and cached.
type issueFilter struct {
	state string // open, closed, or empty for all
	since time.Time
}

func newIssueFilter(state, since string) (issueFilter, error) {
	var f issueFilter
	switch strings.ToLower(state) {
	case "", "all":
	case models.StateOpen, models.StateClosed:
		f.state = strings.ToLower(state)
	default:
		return f, output.ErrUsage(fmt.Sprintf("Invalid --state %q: use open, closed or all", state))
	}
	if since != "" {
		t, err := dateparse.Since(since)
		if err != nil {
			return f, output.ErrUsageHint(fmt.Sprintf("Invalid --since %q", since),
				"Use a date like 2024-01-31, yesterday, monday or 3d")
		}
		f.since = t
	}
	return f, nil
}

func (f issueFilter) match(issue models.Issue) bool {
	if f.state != "" && issue.State != f.state {
		return false
	}
	return f.since.IsZero() || !issue.UpdatedAt.Before(f.since)
}

func (v issuesView) summary() string {
	open := 0
	for _, issue := range v.Issues {
		if issue.Open() {
			open++
		}
	}
	s := fmt.Sprintf("%d issues in repository %d (%d open)", len(v.Issues), v.RepositoryID, open)
	if v.Status == resource.StatusError {
		s += ", refresh failed"
	}
	return s
}

// NewIssueCmd creates the issue command.
func NewIssueCmd() *cobra.Command {
	var (
		refresh refreshFlags
		stream  bool
	)

	cmd := &cobra.Command{
		Use:   "issue <id>",
		Short: "Show an issue",
		Long: `Show an issue from the local cache, refreshing it from the API when the
cached copy is missing or stale.

When the refresh fails the cached copy is still shown and the command exits
with the failure's exit code.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: firstArg(completion.NewCompleter(nil).IssueCompletion()),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			id, err := parseID(args[0], "issue")
			if err != nil {
				return err
			}
			policy, err := refreshPolicy[models.Issue](refresh, app.MaxAge())
			if err != nil {
				return err
			}
			return runIssue(cmd, app, id, policy, stream)
		},
	}

	refresh.register(cmd.Flags())
	cmd.Flags().BoolVar(&stream, "stream", false, "Print every emission, not only the final one")

	return cmd
}

func runIssue(cmd *cobra.Command, app *appctx.App, id int64, policy coordinator.RefreshPolicy[models.Issue], stream bool) error {
	ctx := cmd.Context()
	s := app.Coordinator.Observe(ctx, id, policy)
	defer s.Close()

	var emit func(resource.Resource[models.Issue]) error
	if stream {
		emit = func(res resource.Resource[models.Issue]) error {
			v := newIssueView(res)
			return app.OK(v, output.WithSummary(v.summary(id)))
		}
	}

	res, err := awaitTerminal(ctx, s, emit)
	if err != nil {
		return err
	}
	if !stream {
		v := newIssueView(res)
		if err := app.OK(v, output.WithSummary(v.summary(id))); err != nil {
			return err
		}
	}
	if res.Status() == resource.StatusError {
		return output.Reported(classify(s.Err(), "issue", id))
	}
	return nil
}

// NewIssuesCmd creates the issues command.
func NewIssuesCmd() *cobra.Command {
	var (
		refresh refreshFlags
		repo    string
		state   string
		since   string
	)

	cmd := &cobra.Command{
		Use:   "issues --repo <id>",
		Short: "List a repository's issues",
		Long: `List a repository's issues from the local cache, refreshing the whole
repository from the API when its cached copy is stale.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			if repo == "" {
				return output.ErrUsage("--repo is required")
			}
			repoID, err := parseID(repo, "repository")
			if err != nil {
				return err
			}
			filter, err := newIssueFilter(state, since)
			if err != nil {
				return err
			}
			policy, err := refreshPolicy[[]models.Issue](refresh, app.MaxAge())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s := app.Coordinator.ObserveGroup(ctx, repoID, policy)
			defer s.Close()

			res, err := awaitTerminal(ctx, s, nil)
			if err != nil {
				return err
			}
			v := newIssuesView(repoID, res, filter)
			if err := app.OK(v, output.WithSummary(v.summary())); err != nil {
				return err
			}
			if res.Status() == resource.StatusError {
				return output.Reported(classify(s.Err(), "repository", repoID))
			}
			return nil
		},
	}

	refresh.register(cmd.Flags())
	cmd.Flags().StringVarP(&repo, "repo", "r", "", "Repository ID or URL")
	_ = cmd.RegisterFlagCompletionFunc("repo", completion.NewCompleter(nil).RepositoryCompletion())
	cmd.Flags().StringVar(&state, "state", "all", "Filter by state: open, closed, all")
	cmd.Flags().StringVar(&since, "since", "", "Only issues updated since (e.g. yesterday, monday, 3d, 2024-01-31)")

	return cmd
}
