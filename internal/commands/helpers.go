// Package commands implements the CLI commands.
package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/basecamp/issuesync/internal/appctx"
	"github.com/basecamp/issuesync/internal/coordinator"
	"github.com/basecamp/issuesync/internal/output"
	"github.com/basecamp/issuesync/internal/resource"
	"github.com/basecamp/issuesync/internal/urlarg"
)

// requireApp returns the app from the command context.
func requireApp(cmd *cobra.Command) (*appctx.App, error) {
	app := appctx.FromContext(cmd.Context())
	if app == nil {
		return nil, fmt.Errorf("app not initialized")
	}
	return app, nil
}

// interactive reports whether prompts may be shown: stdin is a terminal
// and output is styled.
func interactive(app *appctx.App) bool {
	return isTerminal(os.Stdin) && app.Output.Format() == output.FormatStyled
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}

// firstArg limits fn to the first positional argument.
func firstArg(fn cobra.CompletionFunc) cobra.CompletionFunc {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]cobra.Completion, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		return fn(cmd, args, toComplete)
	}
}

// parseID parses a positive numeric ID. A leading "#" is accepted, as is
// an issue or repository URL.
func parseID(raw, what string) (int64, error) {
	s := strings.TrimSpace(raw)
	switch what {
	case "issue":
		s = urlarg.ExtractID(s)
	case "repository":
		s = urlarg.ExtractRepositoryID(s)
	}
	s = strings.TrimPrefix(s, "#")
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, output.ErrUsage(fmt.Sprintf("Invalid %s ID: %q", what, raw))
	}
	return id, nil
}

// awaitTerminal reads emissions until a terminal one arrives. emit, when
// set, sees every emission including the terminal one.
func awaitTerminal[T any](ctx context.Context, s *coordinator.Stream[T], emit func(resource.Resource[T]) error) (resource.Resource[T], error) {
	for {
		select {
		case <-ctx.Done():
			return resource.Resource[T]{}, ctx.Err()
		case res, ok := <-s.C():
			if !ok {
				if err := s.Err(); err != nil {
					return resource.Resource[T]{}, err
				}
				return resource.Resource[T]{}, fmt.Errorf("stream closed before completing")
			}
			if emit != nil {
				if err := emit(res); err != nil {
					return res, err
				}
			}
			if res.Status().Terminal() {
				return res, nil
			}
		}
	}
}

// cachedAt returns when the store last wrote the resource's data.
func cachedAt[T any](res resource.Resource[T]) *time.Time {
	h := res.Data()
	if h == nil {
		return nil
	}
	snap := h.Snapshot()
	if !snap.HasData || snap.UpdatedAt.IsZero() {
		return nil
	}
	at := snap.UpdatedAt.UTC()
	return &at
}
