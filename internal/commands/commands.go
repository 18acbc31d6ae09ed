package commands

import (
	"github.com/spf13/cobra"

	"github.com/basecamp/issuesync/internal/output"
)

// CommandInfo describes a CLI command.
type CommandInfo struct {
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Actions     []string `json:"actions,omitempty"`
}

// CommandCategory groups commands by category.
type CommandCategory struct {
	Name     string        `json:"name"`
	Commands []CommandInfo `json:"commands"`
}

// commandCategories returns all command categories for the catalog.
func commandCategories() []CommandCategory {
	return []CommandCategory{
		{
			Name: "Issues",
			Commands: []CommandInfo{
				{Name: "issue", Category: "issues", Description: "Show an issue, refreshing it when stale"},
				{Name: "issues", Category: "issues", Description: "List a repository's issues"},
				{Name: "watch", Category: "issues", Description: "Follow an issue as it changes"},
				{Name: "sync", Category: "issues", Description: "Refresh several issues into the cache"},
			},
		},
		{
			Name: "Cache",
			Commands: []CommandInfo{
				{Name: "cache", Category: "cache", Description: "Inspect and clear the local cache", Actions: []string{"path", "stats", "clear"}},
			},
		},
		{
			Name: "Setup",
			Commands: []CommandInfo{
				{Name: "auth", Category: "setup", Description: "Manage the API token", Actions: []string{"login", "logout", "status"}},
				{Name: "config", Category: "setup", Description: "Manage configuration", Actions: []string{"show", "set", "unset"}},
				{Name: "version", Category: "setup", Description: "Show version information"},
				{Name: "completion", Category: "setup", Description: "Generate shell completion scripts"},
				{Name: "commands", Category: "setup", Description: "List all available commands"},
			},
		},
	}
}

// CatalogCommandNames returns all command names from the catalog.
// Used by tests to verify catalog matches registered commands.
func CatalogCommandNames() []string {
	categories := commandCategories()
	total := 0
	for _, cat := range categories {
		total += len(cat.Commands)
	}
	names := make([]string, 0, total)
	for _, cat := range categories {
		for _, cmd := range cat.Commands {
			names = append(names, cmd.Name)
		}
	}
	return names
}

// NewCommandsCmd creates the commands listing command.
func NewCommandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "commands",
		Aliases: []string{"cmds"},
		Short:   "List all available commands",
		Long:    "List all available issuesync commands organized by category.",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			return app.OK(commandCategories(), output.WithSummary("All available issuesync commands"))
		},
	}
}
