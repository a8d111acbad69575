package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deepampatel/foreman/internal/clock"
	"github.com/deepampatel/foreman/internal/humanloop"
	"github.com/deepampatel/foreman/internal/store"
	"github.com/deepampatel/foreman/pkg/models"
	"github.com/spf13/cobra"
)

func newHumanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "human",
		Short: "Manage human-in-the-loop requests",
	}
	cmd.AddCommand(newHumanAskCmd())
	cmd.AddCommand(newHumanRespondCmd())
	cmd.AddCommand(newHumanListCmd())
	return cmd
}

func newHumanAskCmd() *cobra.Command {
	var teamID, agentID, kind, question string
	var taskID int64
	var options []string
	var timeoutSeconds int

	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Create a human-in-the-loop request",
		RunE: func(cmd *cobra.Command, args []string) error {
			if teamID == "" || agentID == "" || question == "" {
				return errors.New("--team, --agent, and --question are required")
			}
			if kind == "" {
				kind = models.RequestKindQuestion
			}
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				loop := humanloop.New(st, clock.Real{})
				req := models.HumanRequest{
					TeamID:   teamID,
					AgentID:  agentID,
					Kind:     kind,
					Question: question,
					Options:  options,
				}
				if taskID != 0 {
					req.TaskID = &taskID
				}
				timeout := time.Duration(timeoutSeconds) * time.Second
				created, err := loop.CreateRequest(ctx, req, timeout)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created request #%d\n", created.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&teamID, "team", "", "Team ID")
	cmd.Flags().StringVar(&agentID, "agent", "", "Requesting agent ID")
	cmd.Flags().StringVar(&kind, "kind", "", "Request kind (question, approval, review)")
	cmd.Flags().StringVar(&question, "question", "", "Question text")
	cmd.Flags().Int64Var(&taskID, "task", 0, "Related task ID")
	cmd.Flags().StringSliceVar(&options, "option", nil, "Suggested response options")
	cmd.Flags().IntVar(&timeoutSeconds, "timeout", 3600, "Seconds until this request expires")
	return cmd
}

func newHumanRespondCmd() *cobra.Command {
	var responder, response string

	cmd := &cobra.Command{
		Use:   "respond <request-id>",
		Short: "Answer a pending human request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseInt64Arg(args[0])
			if err != nil {
				return fmt.Errorf("invalid request id %q: %w", args[0], err)
			}
			if responder == "" || response == "" {
				return errors.New("--responder and --response are required")
			}
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				loop := humanloop.New(st, clock.Real{})
				resolved, err := loop.Respond(ctx, id, response, responder)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Request #%d resolved by %s\n", resolved.ID, responder)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&responder, "responder", "", "Responder ID")
	cmd.Flags().StringVar(&response, "response", "", "Response text")
	return cmd
}

func newHumanListCmd() *cobra.Command {
	var teamID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending human requests for a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			if teamID == "" {
				return errors.New("--team is required")
			}
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				loop := humanloop.New(st, clock.Real{})
				reqs, err := loop.ListPending(ctx, teamID)
				if err != nil {
					return err
				}
				if len(reqs) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No pending requests.")
					return nil
				}
				for _, r := range reqs {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "#%d [%s] %s: %s\n", r.ID, r.Kind, r.AgentID, r.Question)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&teamID, "team", "", "Team ID")
	return cmd
}
