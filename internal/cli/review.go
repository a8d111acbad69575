package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/deepampatel/foreman/internal/clock"
	"github.com/deepampatel/foreman/internal/humanloop"
	"github.com/deepampatel/foreman/internal/message"
	"github.com/deepampatel/foreman/internal/review"
	"github.com/deepampatel/foreman/internal/store"
	"github.com/deepampatel/foreman/internal/task"
	"github.com/spf13/cobra"
)

func newReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Drive the review and approval pipeline",
	}
	cmd.AddCommand(newReviewRequestCmd())
	cmd.AddCommand(newReviewVerdictCmd())
	cmd.AddCommand(newReviewApproveCmd())
	return cmd
}

func reviewEngine(st store.Store) *review.Engine {
	t := task.New(st, "foreman", 0)
	h := humanloop.New(st, clock.Real{})
	m := message.New(st)
	return review.New(st, t, h, m)
}

func newReviewRequestCmd() *cobra.Command {
	var reviewer, reviewerType string

	cmd := &cobra.Command{
		Use:   "request <task-id>",
		Short: "Open the next review attempt for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseInt64Arg(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id %q: %w", args[0], err)
			}
			if reviewer == "" {
				return errors.New("--reviewer is required")
			}
			if reviewerType == "" {
				reviewerType = "agent"
			}
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				r, err := reviewEngine(st).RequestReview(ctx, taskID, reviewer, reviewerType)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Opened review #%d attempt %d for task #%d\n", r.ID, r.Attempt, r.TaskID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "Reviewer ID")
	cmd.Flags().StringVar(&reviewerType, "reviewer-type", "", "Reviewer type (agent, user)")
	return cmd
}

func newReviewVerdictCmd() *cobra.Command {
	var verdict, summary, actor string

	cmd := &cobra.Command{
		Use:   "verdict <review-id>",
		Short: "Record a review verdict (approve, request_changes, reject)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reviewID, err := parseInt64Arg(args[0])
			if err != nil {
				return fmt.Errorf("invalid review id %q: %w", args[0], err)
			}
			if verdict == "" || actor == "" {
				return errors.New("--verdict and --actor are required")
			}
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				r, t, err := reviewEngine(st).SetVerdict(ctx, reviewID, verdict, summary, actor)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Review #%d verdict=%s -> task #%d is now %s\n", r.ID, verdict, t.ID, t.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&verdict, "verdict", "", "approve, request_changes, or reject")
	cmd.Flags().StringVar(&summary, "summary", "", "Verdict summary")
	cmd.Flags().StringVar(&actor, "actor", "", "Actor recording the verdict")
	return cmd
}

func newReviewApproveCmd() *cobra.Command {
	var responder string
	var approved bool

	cmd := &cobra.Command{
		Use:   "resolve-approval <request-id>",
		Short: "Resolve a pending human-approval gate for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			requestID, err := parseInt64Arg(args[0])
			if err != nil {
				return fmt.Errorf("invalid request id %q: %w", args[0], err)
			}
			if responder == "" {
				return errors.New("--responder is required")
			}
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				t, jobs, err := reviewEngine(st).ResolveApproval(ctx, requestID, approved, responder)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Task #%d is now %s, queued %d merge job(s)\n", t.ID, t.Status, len(jobs))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&responder, "responder", "", "Responder ID")
	cmd.Flags().BoolVar(&approved, "approved", false, "Whether the approval was granted")
	return cmd
}
