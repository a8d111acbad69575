package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/deepampatel/foreman/internal/store"
	"github.com/deepampatel/foreman/pkg/models"
	"github.com/spf13/cobra"
)

func newRepoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage repositories",
	}
	cmd.AddCommand(newRepoAddCmd())
	cmd.AddCommand(newRepoListCmd())
	return cmd
}

func newRepoAddCmd() *cobra.Command {
	var teamID, name, url string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Link a repository to a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			if teamID == "" || name == "" || url == "" {
				return errors.New("--team, --name, and --url are required")
			}
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				r, err := st.CreateRepository(ctx, models.Repository{
					TeamID: teamID,
					Name:   name,
					URL:    url,
				})
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Linked repo %q (%s)\n", r.Name, r.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&teamID, "team", "", "Team ID")
	cmd.Flags().StringVar(&name, "name", "", "Repository name")
	cmd.Flags().StringVar(&url, "url", "", "Repository URL")
	return cmd
}

func newRepoListCmd() *cobra.Command {
	var teamID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List repositories linked to a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			if teamID == "" {
				return errors.New("--team is required")
			}
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				repos, err := st.ListRepositories(ctx, teamID)
				if err != nil {
					return err
				}
				if len(repos) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No repositories.")
					return nil
				}
				for _, r := range repos {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s (%s) %s\n", r.Name, r.ID, r.URL)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&teamID, "team", "", "Team ID")
	return cmd
}
