// Package cli is the orchestra command line: the daemon lifecycle plus
// project, board and history commands against the running daemon's API.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ankittk/orchestra/internal/config"
)

// globals are the persistent flags shared by API commands.
type globals struct {
	home   string
	addr   string
	apiKey string
}

func NewRootCmd(version string) *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:          "orchestra",
		Short:        "Orchestra: a COO, team leads and workers delivering projects on git worktrees",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			home, err := config.ResolveHome(g.home)
			if err != nil {
				return err
			}
			cmd.SetContext(config.WithHome(cmd.Context(), home))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&g.home, "home", "", "Override orchestra home directory (default: ~/.orchestra, env: ORCHESTRA_HOME)")
	cmd.PersistentFlags().StringVar(&g.addr, "addr", "", "Daemon API base URL (default: read from the running daemon)")
	cmd.PersistentFlags().StringVar(&g.apiKey, "api-key", "", "API key for the daemon (env: ORCHESTRA_API_KEY)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newStatusCmd(g))
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newApikeyCmd())

	cmd.AddCommand(newProjectCmd(g))
	cmd.AddCommand(newDirectiveCmd(g))
	cmd.AddCommand(newTaskCmd(g))
	cmd.AddCommand(newBoardCmd(g))
	cmd.AddCommand(newWorktreeCmd(g))
	cmd.AddCommand(newHistoryCmd(g))
	cmd.AddCommand(newRegistryCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}

	return cmd
}
