package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/deepampatel/foreman/internal/store"
	"github.com/deepampatel/foreman/internal/task"
	"github.com/deepampatel/foreman/pkg/models"
	"github.com/spf13/cobra"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	cmd.AddCommand(newTaskAddCmd())
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskShowCmd())
	cmd.AddCommand(newTaskAssignCmd())
	cmd.AddCommand(newTaskStatusCmd())
	cmd.AddCommand(newTaskCommentCmd())
	return cmd
}

func newTaskCommentCmd() *cobra.Command {
	var author, content string

	cmd := &cobra.Command{
		Use:   "comment <task-id>",
		Short: "Add a comment to a task's event stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q: %w", args[0], err)
			}
			if author == "" || content == "" {
				return errors.New("--author and --content are required")
			}
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				eng := task.New(st, "foreman", 0)
				evt, err := eng.AddComment(ctx, id, author, content)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Recorded comment event #%d on task #%d\n", evt.ID, id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&author, "author", "", "Comment author ID")
	cmd.Flags().StringVar(&content, "content", "", "Comment text")
	return cmd
}

func newTaskAddCmd() *cobra.Command {
	var teamID, title, description, priority, branchPrefix string
	var repoIDs, tags, dependsOn []string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if teamID == "" || title == "" {
				return errors.New("--team and --title are required")
			}
			deps, err := parseInt64s(dependsOn)
			if err != nil {
				return err
			}
			if priority == "" {
				priority = models.PriorityMedium
			}
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				eng := task.New(st, branchPrefix, 0)
				t, err := eng.Create(ctx, teamID, models.TaskCreateInput{
					Title:       title,
					Description: description,
					Priority:    priority,
					RepoIDs:     repoIDs,
					Tags:        tags,
					DependsOn:   deps,
				})
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created task #%d %q (status=%s)\n", t.ID, t.Title, t.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&teamID, "team", "", "Team ID")
	cmd.Flags().StringVar(&title, "title", "", "Task title")
	cmd.Flags().StringVar(&description, "description", "", "Task description")
	cmd.Flags().StringVar(&priority, "priority", "", "Priority (low, medium, high, critical)")
	cmd.Flags().StringSliceVar(&repoIDs, "repo", nil, "Repository IDs touched by this task")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tags")
	cmd.Flags().StringSliceVar(&dependsOn, "depends-on", nil, "Task IDs this task depends on")
	cmd.Flags().StringVar(&branchPrefix, "branch-prefix", "foreman", "Branch name prefix for the task's worktree branch")
	return cmd
}

func newTaskListCmd() *cobra.Command {
	var teamID, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if teamID == "" {
				return errors.New("--team is required")
			}
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				tasks, err := st.ListTasks(ctx, teamID, status, limit)
				if err != nil {
					return err
				}
				if len(tasks) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No tasks.")
					return nil
				}
				for _, t := range tasks {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "#%d [%s] %s\n", t.ID, t.Status, t.Title)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&teamID, "team", "", "Team ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max results")
	return cmd
}

func newTaskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q: %w", args[0], err)
			}
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				t, err := st.GetTask(ctx, id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "#%d %s\n", t.ID, t.Title)
				_, _ = fmt.Fprintf(out, "  status:      %s\n", t.Status)
				_, _ = fmt.Fprintf(out, "  priority:    %s\n", t.Priority)
				if t.Assignee != nil {
					_, _ = fmt.Fprintf(out, "  assignee:    %s\n", *t.Assignee)
				}
				if len(t.DependsOn) > 0 {
					_, _ = fmt.Fprintf(out, "  depends_on:  %v\n", t.DependsOn)
				}
				if len(t.RepoIDs) > 0 {
					_, _ = fmt.Fprintf(out, "  repos:       %s\n", strings.Join(t.RepoIDs, ", "))
				}
				return nil
			})
		},
	}
	return cmd
}

func newTaskAssignCmd() *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "assign <task-id>",
		Short: "Assign a task to an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q: %w", args[0], err)
			}
			if agentID == "" {
				return errors.New("--agent is required")
			}
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				eng := task.New(st, "foreman", 0)
				t, err := eng.Assign(ctx, id, agentID)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Assigned #%d to %s\n", t.ID, agentID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "Agent ID")
	return cmd
}

func newTaskStatusCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "status <task-id> <new-status>",
		Short: "Transition a task's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q: %w", args[0], err)
			}
			if actorID == "" {
				actorID = "cli"
			}
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				eng := task.New(st, "foreman", 0)
				t, err := eng.ChangeStatus(ctx, id, args[1], actorID)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "#%d is now %s\n", t.ID, t.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "Actor ID recorded on the transition event")
	return cmd
}

func parseInt64s(ss []string) ([]int64, error) {
	if len(ss) == 0 {
		return nil, nil
	}
	out := make([]int64, 0, len(ss))
	for _, s := range ss {
		v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid task id %q: %w", s, err)
		}
		out = append(out, v)
	}
	return out, nil
}
