package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/basecamp/issuesync/internal/appctx"
	"github.com/basecamp/issuesync/internal/completion"
	"github.com/basecamp/issuesync/internal/coordinator"
	"github.com/basecamp/issuesync/internal/models"
	"github.com/basecamp/issuesync/internal/output"
	"github.com/basecamp/issuesync/internal/resource"
	"github.com/basecamp/issuesync/internal/tui"
)

// NewWatchCmd creates the watch command.
func NewWatchCmd() *cobra.Command {
	var refresh refreshFlags

	cmd := &cobra.Command{
		Use:   "watch <id>",
		Short: "Follow an issue as it changes",
		Long: `Follow an issue interactively. The view shows the cached copy right away,
a spinner while it refreshes, and keeps updating when another process
writes to the cache. Press r to refresh and q to quit.

When output is not a terminal every emission is printed as its own
envelope until interrupted.`,
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

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			s := app.Coordinator.Observe(ctx, id, policy)
			defer s.Close()

			if app.Output.Format() != output.FormatStyled {
				return streamEmissions(ctx, app, id, s)
			}
			return runWatchView(ctx, app, id, s)
		},
	}

	refresh.register(cmd.Flags())

	return cmd
}

// streamEmissions prints every emission until ctx ends or the stream closes.
func streamEmissions(ctx context.Context, app *appctx.App, id int64, s *coordinator.Stream[models.Issue]) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case res, ok := <-s.C():
			if !ok {
				return s.Err()
			}
			v := newIssueView(res)
			if err := app.OK(v, output.WithSummary(v.summary(id))); err != nil {
				return err
			}
		}
	}
}

func runWatchView(ctx context.Context, app *appctx.App, id int64, s *coordinator.Stream[models.Issue]) error {
	model := tui.NewWatchModel(s.C(), tui.WithRefresh(func() error {
		return app.Coordinator.Refresh(ctx, id)
	}))

	p := tea.NewProgram(model,
		tea.WithContext(ctx),
		tea.WithOutput(app.Output.Out()),
		tea.WithAltScreen(),
	)
	final, err := p.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	}

	if m, ok := final.(tui.WatchModel); ok {
		res := m.Resource()
		if res.Status() == resource.StatusError {
			return classify(s.Err(), "issue", id)
		}
	}
	return nil
}
