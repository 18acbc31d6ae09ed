package commands

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/basecamp/issuesync/internal/auth"
	"github.com/basecamp/issuesync/internal/output"
	"github.com/basecamp/issuesync/internal/tui"
)

// NewAuthCmd creates the auth command group.
func NewAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage authentication",
		Long:  "Manage the API token used for the configured host.",
	}

	cmd.AddCommand(
		newAuthLoginCmd(),
		newAuthLogoutCmd(),
		newAuthStatusCmd(),
	)

	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an API token",
		Long: `Store an API token for the configured host in the system keyring.

The token is read from --token, prompted for on a terminal, or read from
standard input when it is piped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			if token == "" {
				switch {
				case interactive(app):
					if app.Auth.IsAuthenticated() {
						replace, err := tui.Confirm("A token is already stored for "+app.Auth.Host()+". Replace it?", false)
						if err != nil {
							return err
						}
						if !replace {
							return output.ErrUsage("Canceled")
						}
					}
					token, err = tui.InputSecret("API token", "Stored for "+app.Auth.Host())
					if err != nil {
						return err
					}
				default:
					token, err = readToken(cmd.InOrStdin())
					if err != nil {
						return err
					}
				}
			}

			if err := app.Auth.Login(token); err != nil {
				return output.ErrUsage(err.Error())
			}

			st, err := app.Auth.Status()
			if err != nil {
				return err
			}
			return app.OK(st, output.WithSummary("Token stored for "+app.Auth.Host()))
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "API token (prompted for when omitted)")

	return cmd
}

// readToken reads the first line of r.
func readToken(r io.Reader) (string, error) {
	if f, ok := r.(*os.File); ok && isTerminal(f) {
		return "", output.ErrUsageHint("No token given", "Pass --token or pipe the token on stdin")
	}
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", output.ErrUsageHint("No token given", "Pass --token or pipe the token on stdin")
	}
	return line, nil
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored token",
		Long:  "Remove the stored API token for the configured host.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			if err := app.Auth.Logout(); err != nil {
				return err
			}

			summary := "Logged out of " + app.Auth.Host()
			if os.Getenv(auth.EnvToken) != "" {
				summary += " (" + auth.EnvToken + " is still set)"
			}
			return app.OK(map[string]string{
				"status": "logged_out",
				"host":   app.Auth.Host(),
			}, output.WithSummary(summary))
		},
	}
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			st, err := app.Auth.Status()
			if err != nil {
				return err
			}

			summary := "Not authenticated"
			if st.Authenticated {
				summary = "Authenticated via " + st.Source
			}
			return app.OK(st, output.WithSummary(summary))
		},
	}
}
