package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version information
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// NewRootCommand creates the mastobot command. Without a subcommand it
// behaves like "mastobot run".
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mastobot",
		Short: "Mastobot - scheduled posting bot for Mastodon",
		Long: `Mastobot discovers the services and modules compiled into it, configures
them from the environment and runs their scheduled functions until interrupted.

Unit options are read from PREFIX_<KIND>_<UNIT>_<OPTION> variables, a .env
file or a YAML/TOML units file. Real environment variables win.`,
		Version:       fmt.Sprintf("%s (commit: %s, built on: %s)", Version, Commit, Date),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runBot,
	}

	addSettingsFlags(cmd.PersistentFlags())
	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewUnitsCommand())

	return cmd
}
