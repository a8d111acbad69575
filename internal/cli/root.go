// Package cli wires cobra commands directly onto the core engines — no
// HTTP hop, since the REST layer is out of scope for this module. Grounded
// on the teacher's internal/cli/root.go.
package cli

import (
	"os"

	"github.com/deepampatel/foreman/internal/config"
	"github.com/spf13/cobra"
)

func NewRootCmd(version string) *cobra.Command {
	var homeOverride string

	cmd := &cobra.Command{
		Use:          "foreman",
		Short:        "foreman — governed orchestration backbone for autonomous coding agents",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			home, err := config.ResolveHome(homeOverride)
			if err != nil {
				return err
			}
			cmd.SetContext(config.WithHome(cmd.Context(), home))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&homeOverride, "home", "", "Override foreman home directory (default: ~/.foreman, env: FOREMAN_HOME)")

	cmd.AddCommand(newTeamCmd())
	cmd.AddCommand(newAgentCmd())
	cmd.AddCommand(newRepoCmd())
	cmd.AddCommand(newTaskCmd())
	cmd.AddCommand(newMessageCmd())
	cmd.AddCommand(newHumanCmd())
	cmd.AddCommand(newReviewCmd())
	cmd.AddCommand(newSessionCmd())

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
