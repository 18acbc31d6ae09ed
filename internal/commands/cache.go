package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/basecamp/issuesync/internal/output"
	"github.com/basecamp/issuesync/internal/resilience"
	"github.com/basecamp/issuesync/internal/store"
	"github.com/basecamp/issuesync/internal/tui"
)

// NewCacheCmd creates the cache command group.
func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clear the local cache",
		Long:  "Inspect and clear the local issue cache and the request gate state.",
	}

	cmd.AddCommand(
		newCachePathCmd(),
		newCacheStatsCmd(),
		newCacheClearCmd(),
	)

	return cmd
}

func newCachePathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the cache file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			path := app.CachePath()
			if path == "" {
				return app.OK(map[string]any{"path": nil, "persistent": false},
					output.WithSummary("Cache is disabled; issues are kept in memory only"))
			}
			return app.OK(map[string]any{"path": path, "persistent": true}, output.WithSummary(path))
		},
	}
}

// cacheStats is the data for cache stats.
type cacheStats struct {
	Path       string                `json:"path,omitempty"`
	SizeBytes  int64                 `json:"size_bytes"`
	Store      store.Stats           `json:"store"`
	Resilience resilience.GateStatus `json:"resilience"`
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache and request gate state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			stats := cacheStats{Path: app.CachePath(), Store: app.Store.Stats()}
			if stats.Path != "" {
				if info, err := os.Stat(stats.Path); err == nil {
					stats.SizeBytes = info.Size()
				}
			}
			if stats.Resilience, err = app.Gate.Status(); err != nil {
				return err
			}

			return app.OK(stats, output.WithSummary(
				pluralize(stats.Store.Records, "cached issue", "cached issues")+", circuit "+stats.Resilience.Circuit))
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	var (
		gate  bool
		force bool
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached issue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			removed := app.Store.Stats().Records
			if !force && removed > 0 && interactive(app) {
				ok, err := tui.ConfirmDangerous("Remove " + pluralize(removed, "cached issue", "cached issues") + "?")
				if err != nil {
					return err
				}
				if !ok {
					return output.ErrUsage("Canceled")
				}
			}
			if err := app.ClearCache(); err != nil {
				return err
			}
			result := map[string]any{"removed": removed, "gate_reset": false}
			if gate {
				if err := app.Gate.Reset(); err != nil {
					return err
				}
				result["gate_reset"] = true
			}
			return app.OK(result, output.WithSummary("Removed "+pluralize(removed, "cached issue", "cached issues")))
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Do not ask for confirmation")
	cmd.Flags().BoolVar(&gate, "gate", false, "Also reset the circuit breaker, rate limiter and bulkhead state")

	return cmd
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return output.DetectLocale().FormatInt(n) + " " + many
}
