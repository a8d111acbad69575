package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/deepampatel/foreman/internal/clock"
	"github.com/deepampatel/foreman/internal/config"
	"github.com/deepampatel/foreman/internal/session"
	"github.com/deepampatel/foreman/internal/store"
	"github.com/deepampatel/foreman/pkg/models"
	"github.com/spf13/cobra"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Track agent sessions and cost against budgets",
	}
	cmd.AddCommand(newSessionStartCmd())
	cmd.AddCommand(newSessionUsageCmd())
	cmd.AddCommand(newSessionEndCmd())
	cmd.AddCommand(newSessionBudgetCmd())
	return cmd
}

func sessionLedger(ctx context.Context, st store.Store) (*session.Ledger, error) {
	home := config.MustHomeFrom(ctx)
	prices, err := config.LoadPrices(home)
	if err != nil {
		return nil, err
	}
	return session.New(st, prices, clock.Real{}), nil
}

func newSessionStartCmd() *cobra.Command {
	var teamID, agentID, model string
	var taskID int64

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a session for an agent, subject to team budget caps",
		RunE: func(cmd *cobra.Command, args []string) error {
			if teamID == "" || agentID == "" {
				return errors.New("--team and --agent are required")
			}
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				ledger, err := sessionLedger(ctx, st)
				if err != nil {
					return err
				}
				sess := models.Session{AgentID: agentID, Model: model}
				if taskID != 0 {
					sess.TaskID = &taskID
				}
				started, err := ledger.Start(ctx, teamID, sess)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Started session #%d for %s\n", started.ID, agentID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&teamID, "team", "", "Team ID")
	cmd.Flags().StringVar(&agentID, "agent", "", "Agent ID")
	cmd.Flags().StringVar(&model, "model", "", "Model identifier")
	cmd.Flags().Int64Var(&taskID, "task", 0, "Related task ID")
	return cmd
}

func newSessionUsageCmd() *cobra.Command {
	var model string
	var inTok, outTok, cacheRead, cacheWrite int64

	cmd := &cobra.Command{
		Use:   "usage <session-id>",
		Short: "Record token usage against a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := parseInt64Arg(args[0])
			if err != nil {
				return fmt.Errorf("invalid session id %q: %w", args[0], err)
			}
			if model == "" {
				return errors.New("--model is required")
			}
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				ledger, err := sessionLedger(ctx, st)
				if err != nil {
					return err
				}
				updated, err := ledger.RecordUsage(ctx, sessionID, model, inTok, outTok, cacheRead, cacheWrite)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Session #%d cost is now %s\n", updated.ID, updated.Cost)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "Model identifier")
	cmd.Flags().Int64Var(&inTok, "input-tokens", 0, "Input tokens")
	cmd.Flags().Int64Var(&outTok, "output-tokens", 0, "Output tokens")
	cmd.Flags().Int64Var(&cacheRead, "cache-read-tokens", 0, "Cache-read tokens")
	cmd.Flags().Int64Var(&cacheWrite, "cache-write-tokens", 0, "Cache-write tokens")
	return cmd
}

func newSessionEndCmd() *cobra.Command {
	var errMsg string

	cmd := &cobra.Command{
		Use:   "end <session-id>",
		Short: "End a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := parseInt64Arg(args[0])
			if err != nil {
				return fmt.Errorf("invalid session id %q: %w", args[0], err)
			}
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				ledger, err := sessionLedger(ctx, st)
				if err != nil {
					return err
				}
				ended, err := ledger.End(ctx, sessionID, errMsg)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Session #%d ended, total cost %s\n", ended.ID, ended.Cost)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&errMsg, "error", "", "Error message if the session ended abnormally")
	return cmd
}

func newSessionBudgetCmd() *cobra.Command {
	var teamID string
	var taskID int64

	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Show a team's (or task's) current spend against its budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			if teamID == "" {
				return errors.New("--team is required")
			}
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				ledger, err := sessionLedger(ctx, st)
				if err != nil {
					return err
				}
				var taskPtr *int64
				if taskID != 0 {
					taskPtr = &taskID
				}
				status, err := ledger.CheckBudget(ctx, teamID, taskPtr)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "daily:    %s / %s\n", status.DailySpent, status.DailyLimit)
				_, _ = fmt.Fprintf(out, "per-task: %s / %s\n", status.TaskSpent, status.TaskLimit)
				_, _ = fmt.Fprintf(out, "over budget: %v\n", status.OverBudget)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&teamID, "team", "", "Team ID")
	cmd.Flags().Int64Var(&taskID, "task", 0, "Task ID to check per-task spend for")
	return cmd
}
