// Package cli assembles the issuesync command tree.
package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/basecamp/issuesync/internal/appctx"
	"github.com/basecamp/issuesync/internal/commands"
	"github.com/basecamp/issuesync/internal/config"
	"github.com/basecamp/issuesync/internal/output"
	"github.com/basecamp/issuesync/internal/version"
)

// skipSetup marks commands that run without loading config or opening the cache.
const skipSetup = "skip-setup"

// NewRootCmd creates the root cobra command with every subcommand.
func NewRootCmd() *cobra.Command {
	var flags appctx.GlobalFlags

	cmd := &cobra.Command{
		Use:   "issuesync",
		Short: "Cache-first command-line client for an issue tracker",
		Long: `issuesync shows issues from a local cache and refreshes them from the API
in the background. Concurrent commands share in-flight fetches, and a
failed refresh never discards cached data.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if skipsSetup(cmd) {
				return nil
			}

			cfg, err := config.Load(config.FlagOverrides{
				BaseURL:  flags.BaseURL,
				CacheDir: flags.CacheDir,
			})
			if err != nil {
				return output.ErrUsage(err.Error())
			}
			resolvePreferences(cmd, cfg, &flags)

			app, err := appctx.NewApp(cfg,
				appctx.WithStdout(cmd.OutOrStdout()),
				appctx.WithStderr(cmd.ErrOrStderr()),
			)
			if err != nil {
				return err
			}
			app.Flags = flags
			if err := app.ApplyFlags(); err != nil {
				_ = app.Close()
				return err
			}

			cmd.SetContext(appctx.WithApp(cmd.Context(), app))
			return nil
		},
	}

	// Allow flags anywhere in the command line
	cmd.Flags().SetInterspersed(true)
	cmd.PersistentFlags().SetInterspersed(true)

	// Output format flags
	cmd.PersistentFlags().BoolVarP(&flags.JSON, "json", "j", false, "Output as JSON")
	cmd.PersistentFlags().BoolVar(&flags.YAML, "yaml", false, "Output as YAML")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Output data only, no envelope")
	cmd.PersistentFlags().BoolVar(&flags.Styled, "styled", false, "Force styled output (ANSI colors)")
	cmd.PersistentFlags().StringVar(&flags.JQ, "jq", "", "Filter output through a jq expression")

	// Connection flags
	cmd.PersistentFlags().StringVar(&flags.BaseURL, "base-url", "", "API base URL")
	cmd.PersistentFlags().StringVar(&flags.CacheDir, "cache-dir", "", "Cache directory")

	// Behavior flags
	cmd.PersistentFlags().CountVarP(&flags.Verbose, "verbose", "v", "Verbose output (-v for fetches, -vv for requests)")
	cmd.PersistentFlags().BoolVar(&flags.Stats, "stats", false, "Show session statistics")

	cmd.AddCommand(
		commands.NewIssueCmd(),
		commands.NewIssuesCmd(),
		commands.NewWatchCmd(),
		commands.NewSyncCmd(),
		commands.NewCacheCmd(),
		commands.NewAuthCmd(),
		commands.NewConfigCmd(),
		commands.NewCommandsCmd(),
		markSkipSetup(commands.NewVersionCmd()),
		markSkipSetup(commands.NewCompletionCmd()),
	)

	return cmd
}

func markSkipSetup(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = make(map[string]string)
	}
	cmd.Annotations[skipSetup] = "true"
	return cmd
}

func skipsSetup(cmd *cobra.Command) bool {
	if cmd.Name() == "help" || cmd.Name() == cobra.ShellCompRequestCmd || cmd.Name() == cobra.ShellCompNoDescRequestCmd {
		return true
	}
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[skipSetup] == "true" {
			return true
		}
	}
	return false
}

// resolvePreferences applies config values for flags the user did not set.
func resolvePreferences(cmd *cobra.Command, cfg *config.Config, flags *appctx.GlobalFlags) {
	if !flagChanged(cmd, "stats") && cfg.Stats != nil {
		flags.Stats = *cfg.Stats
	}
	if !flagChanged(cmd, "verbose") && cfg.Verbose != nil {
		flags.Verbose = *cfg.Verbose
	}
}

func flagChanged(cmd *cobra.Command, name string) bool {
	return cmd.Flags().Changed(name) || cmd.PersistentFlags().Changed(name) || cmd.InheritedFlags().Changed(name)
}

// Execute runs the root command and exits with its status.
func Execute() {
	os.Exit(Run(os.Args[1:], os.Stdout, os.Stderr))
}

// Run executes args and returns the process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	// Use ExecuteC to get the executed command (for correct context access)
	executedCmd, err := cmd.ExecuteContextC(ctx)

	var app *appctx.App
	if executedCmd != nil && executedCmd.Context() != nil {
		app = appctx.FromContext(executedCmd.Context())
	}
	if app != nil {
		defer func() { _ = app.Close() }()
	}

	if err == nil {
		return output.ExitOK
	}

	// The command already wrote its envelope.
	var reported *output.ReportedError
	if errors.As(err, &reported) {
		return reported.Err.ExitCode()
	}

	err = transformCobraError(err)
	apiErr := output.AsError(err)

	if app != nil {
		_ = app.Err(apiErr)
		return apiErr.ExitCode()
	}

	// Fallback: app not available, e.g. during setup
	pf := cmd.PersistentFlags()
	format := output.FormatAuto
	quiet, _ := pf.GetBool("quiet")
	jsonFlag, _ := pf.GetBool("json")
	yamlFlag, _ := pf.GetBool("yaml")
	styled, _ := pf.GetBool("styled")
	switch {
	case quiet:
		format = output.FormatQuiet
	case jsonFlag:
		format = output.FormatJSON
	case yamlFlag:
		format = output.FormatYAML
	case styled:
		format = output.FormatStyled
	}

	writer, werr := output.New(output.Options{Format: format, Writer: stdout})
	if werr == nil {
		_ = writer.Err(apiErr)
	}
	return apiErr.ExitCode()
}

var shorthandRe = regexp.MustCompile(`unknown shorthand flag: '.' in (-\w)`)

// transformCobraError turns cobra's argument and flag errors into usage errors.
func transformCobraError(err error) error {
	var oe *output.Error
	if errors.As(err, &oe) {
		return err
	}
	msg := err.Error()

	if flag, ok := strings.CutPrefix(msg, "flag needs an argument: "); ok {
		return output.ErrUsage(flag + " requires a value")
	}
	if flag, ok := strings.CutPrefix(msg, "unknown flag: "); ok {
		return output.ErrUsage("Unknown option: " + flag)
	}
	if strings.HasPrefix(msg, "unknown shorthand flag: ") {
		if matches := shorthandRe.FindStringSubmatch(msg); len(matches) > 1 {
			return output.ErrUsage("Unknown option: " + matches[1])
		}
	}
	if strings.HasPrefix(msg, "unknown command ") {
		return output.ErrUsageHint(msg, "Run: issuesync commands")
	}
	if strings.Contains(msg, "invalid argument") {
		return output.ErrUsage(msg)
	}
	if strings.Contains(msg, "arg(s), received") || strings.Contains(msg, "requires at least") {
		return output.ErrUsage(msg)
	}
	return err
}
