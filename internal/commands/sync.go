package commands

import (
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/basecamp/issuesync/internal/appctx"
	"github.com/basecamp/issuesync/internal/completion"
	"github.com/basecamp/issuesync/internal/coordinator"
	"github.com/basecamp/issuesync/internal/output"
	"github.com/basecamp/issuesync/internal/tui"
)

// syncResult is one issue's outcome in a sync.
type syncResult struct {
	ID       int64      `json:"id"`
	Number   int        `json:"number,omitempty"`
	Title    string     `json:"title,omitempty"`
	Status   string     `json:"status"`
	Error    string     `json:"error,omitempty"`
	CachedAt *time.Time `json:"cached_at,omitempty"`
}

// NewSyncCmd creates the sync command.
func NewSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <id>...",
		Short: "Refresh several issues into the cache",
		Long: `Fetch several issues from the API concurrently and store them in the
local cache. Issues already being fetched by another command are shared
rather than requested twice.`,
		Args:              cobra.MinimumNArgs(1),
		ValidArgsFunction: completion.NewCompleter(nil).IssueCompletion(),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			ids := make([]int64, 0, len(args))
			seen := make(map[int64]bool, len(args))
			for _, arg := range args {
				id, err := parseID(arg, "issue")
				if err != nil {
					return err
				}
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}

			prefetchErr := runPrefetch(cmd, app, ids)
			if errors.Is(prefetchErr, tui.ErrCanceled) {
				return output.ErrUsage("Sync canceled")
			}

			failed := make(map[int64]error)
			for _, ke := range coordinator.KeyErrors[int64](prefetchErr) {
				failed[ke.Key] = ke.Err
			}

			results := make([]syncResult, 0, len(ids))
			for _, id := range ids {
				results = append(results, syncStatus(app, id, failed[id]))
			}

			summary := fmt.Sprintf("Synced %d of %d issues", len(ids)-len(failed), len(ids))
			if err := app.OK(results, output.WithSummary(summary)); err != nil {
				return err
			}

			for _, id := range ids {
				if err, ok := failed[id]; ok {
					return output.Reported(classify(err, "issue", id))
				}
			}
			if prefetchErr != nil {
				return prefetchErr
			}
			return nil
		},
	}
}

// runPrefetch refreshes ids, with a spinner on stderr when it is a terminal
// and output is styled.
func runPrefetch(cmd *cobra.Command, app *appctx.App, ids []int64) error {
	ctx := cmd.Context()
	fetch := func() (string, error) {
		if err := app.Coordinator.Prefetch(ctx, ids...); err != nil {
			return "", err
		}
		return fmt.Sprintf("Fetched %d issues", len(ids)), nil
	}

	if app.Output.Format() != output.FormatStyled || !isTerminal(app.Stderr()) {
		_, err := fetch()
		return err
	}

	spin := tui.NewSpinner(fmt.Sprintf("Syncing %d issues…", len(ids)),
		tea.WithOutput(app.Stderr()),
		tea.WithInput(nil),
	)
	_, err := spin.Run(fetch)
	return err
}

func syncStatus(app *appctx.App, id int64, err error) syncResult {
	r := syncResult{ID: id, Status: "success"}
	if err != nil {
		r.Status = "error"
		r.Error = err.Error()
	}
	if h := app.Store.GetByID(id); h != nil {
		snap := h.Snapshot()
		if snap.HasData {
			r.Number = snap.Data.Number
			r.Title = snap.Data.Title
			at := snap.UpdatedAt.UTC()
			r.CachedAt = &at
		}
	}
	return r
}
