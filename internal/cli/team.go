package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/deepampatel/foreman/internal/config"
	"github.com/deepampatel/foreman/internal/store"
	"github.com/deepampatel/foreman/internal/storeopen"
	"github.com/deepampatel/foreman/pkg/models"
	"github.com/spf13/cobra"
)

func newTeamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "team",
		Short: "Manage teams",
	}
	cmd.AddCommand(newTeamAddCmd())
	cmd.AddCommand(newTeamListCmd())
	cmd.AddCommand(newTeamSetBudgetCmd())
	return cmd
}

func newTeamAddCmd() *cobra.Command {
	var name, orgID string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				t, err := st.CreateTeam(ctx, models.Team{Name: name, OrgID: orgID})
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created team %q (%s)\n", t.Name, t.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Team name")
	cmd.Flags().StringVar(&orgID, "org", "", "Organization ID")
	return cmd
}

func newTeamListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List teams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				teams, err := st.ListTeams(ctx)
				if err != nil {
					return err
				}
				if len(teams) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No teams.")
					return nil
				}
				for _, t := range teams {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s (%s)\n", t.Name, t.ID)
				}
				return nil
			})
		},
	}
	return cmd
}

func newTeamSetBudgetCmd() *cobra.Command {
	var teamID string
	var dailyUnits, perTaskUnits float64

	cmd := &cobra.Command{
		Use:   "set-budget",
		Short: "Set a team's daily and per-task spend caps (in whole currency units)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if teamID == "" {
				return errors.New("--team is required")
			}
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				team, err := st.GetTeam(ctx, teamID)
				if err != nil {
					return err
				}
				settings := team.Settings
				if daily := microsFromUnits(dailyUnits); daily != nil {
					settings.DailyBudget = daily
				}
				if perTask := microsFromUnits(perTaskUnits); perTask != nil {
					settings.PerTaskBudget = perTask
				}
				updated, err := st.UpdateTeamSettings(ctx, teamID, settings)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Updated budget for team %q\n", updated.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&teamID, "team", "", "Team ID")
	cmd.Flags().Float64Var(&dailyUnits, "daily", 0, "Daily budget in currency units")
	cmd.Flags().Float64Var(&perTaskUnits, "per-task", 0, "Per-task budget in currency units")
	return cmd
}

// withStore opens the configured Store, runs fn, and always closes it.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, st store.Store) error) error {
	home := config.MustHomeFrom(cmd.Context())
	st, err := storeopen.Open(cmd.Context(), home)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	return fn(cmd.Context(), st)
}
