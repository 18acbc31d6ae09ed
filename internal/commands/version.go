package commands

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/basecamp/issuesync/internal/output"
	"github.com/basecamp/issuesync/internal/version"
)

// NewVersionCmd creates the version command.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := map[string]string{
				"version": version.Version,
				"commit":  version.Commit,
				"date":    version.Date,
				"go":      runtime.Version(),
			}

			// version runs without app setup so it works with a broken config.
			w, err := output.New(output.Options{Writer: cmd.OutOrStdout()})
			if err != nil {
				return err
			}
			return w.OK(info, output.WithSummary(version.Full()))
		},
	}
}
