package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/deepampatel/foreman/internal/store"
	"github.com/deepampatel/foreman/pkg/models"
	"github.com/spf13/cobra"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents",
	}
	cmd.AddCommand(newAgentAddCmd())
	cmd.AddCommand(newAgentListCmd())
	return cmd
}

func newAgentAddCmd() *cobra.Command {
	var teamID, name, role, adapterTag string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an agent with a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			if teamID == "" || name == "" {
				return errors.New("--team and --name are required")
			}
			if role == "" {
				role = models.RoleEngineer
			}
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				a, err := st.CreateAgent(ctx, models.Agent{
					TeamID:     teamID,
					Name:       name,
					Role:       role,
					AdapterTag: adapterTag,
				})
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created agent %q (%s) role=%s\n", a.Name, a.ID, a.Role)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&teamID, "team", "", "Team ID")
	cmd.Flags().StringVar(&name, "name", "", "Agent name")
	cmd.Flags().StringVar(&role, "role", "", "Agent role (engineer, manager, reviewer)")
	cmd.Flags().StringVar(&adapterTag, "adapter", "", "Adapter tag resolving to a coding-agent backend")
	return cmd
}

func newAgentListCmd() *cobra.Command {
	var teamID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents on a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			if teamID == "" {
				return errors.New("--team is required")
			}
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				agents, err := st.ListAgents(ctx, teamID)
				if err != nil {
					return err
				}
				if len(agents) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No agents.")
					return nil
				}
				for _, a := range agents {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s (%s) role=%s status=%s\n", a.Name, a.ID, a.Role, a.Status)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&teamID, "team", "", "Team ID")
	return cmd
}
