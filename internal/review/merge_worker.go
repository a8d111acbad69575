package review

import (
	"context"
	"log/slog"
	"time"

	"github.com/deepampatel/foreman/internal/gitservice"
	"github.com/deepampatel/foreman/internal/store"
	"github.com/deepampatel/foreman/internal/task"
	"github.com/deepampatel/foreman/pkg/models"
)

// MergeWorker drains queued merge jobs, running rebase, tests, and merge
// for each against its repository's worktree, then advances the owning
// task to done once every repo it touches has merged cleanly, or back to
// in_progress the moment any one of them fails (spec §4.6 merge-readiness
// pipeline).
type MergeWorker struct {
	Store    store.Store
	Task     *task.Engine
	Git      gitservice.GitService
	Home     string
	Interval time.Duration
	Limit    int
}

func NewMergeWorker(s store.Store, t *task.Engine, git gitservice.GitService, home string, interval time.Duration) *MergeWorker {
	if interval <= 0 {
		interval = time.Duration(models.DefaultMergeJobTimeoutSeconds/10) * time.Second
	}
	return &MergeWorker{Store: s, Task: t, Git: git, Home: home, Interval: interval, Limit: 20}
}

// Run polls for queued merge jobs until ctx is cancelled.
func (w *MergeWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.runOnce(ctx); err != nil {
				slog.Error("merge worker: run failed", "error", err)
			}
		}
	}
}

func (w *MergeWorker) runOnce(ctx context.Context) error {
	jobs, err := w.Store.ListQueuedMergeJobs(ctx, w.Limit)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if err := w.processJob(ctx, job); err != nil {
			slog.Error("merge worker: job failed", "job_id", job.ID, "task_id", job.TaskID, "error", err)
		}
	}
	return nil
}

func (w *MergeWorker) processJob(ctx context.Context, job models.MergeJob) error {
	job, err := w.Store.StartMergeJob(ctx, job.ID)
	if err != nil {
		return err
	}
	t, err := w.Store.GetTask(ctx, job.TaskID)
	if err != nil {
		return err
	}
	worktreePath := gitservice.WorktreePath(w.Home, job.RepoID, t.BranchName)
	testCmd, _ := t.Metadata["test_cmd"].(string)

	commitHash, runErr := w.runMerge(ctx, worktreePath, t.BranchName, job.Strategy, testCmd)
	if runErr != nil {
		if _, err := w.Store.FinishMergeJob(ctx, job.ID, models.MergeFailed, nil, runErr.Error()); err != nil {
			return err
		}
		_, err := w.Task.ChangeStatus(ctx, t.ID, models.StatusInProgress, "merge-worker")
		return err
	}

	if _, err := w.Store.FinishMergeJob(ctx, job.ID, models.MergeSuccess, &commitHash, ""); err != nil {
		return err
	}
	return w.maybeComplete(ctx, t.ID)
}

func (w *MergeWorker) runMerge(ctx context.Context, worktreePath, branchName, strategy, testCmd string) (string, error) {
	if err := w.Git.Rebase(ctx, worktreePath, branchName); err != nil {
		return "", err
	}
	if err := w.Git.RunTests(ctx, worktreePath, testCmd); err != nil {
		return "", err
	}
	return w.Git.Merge(ctx, worktreePath, branchName, strategy)
}

// maybeComplete marks a task done once every merge job it queued has
// succeeded.
func (w *MergeWorker) maybeComplete(ctx context.Context, taskID int64) error {
	jobs, err := w.Store.ListMergeJobsByTask(ctx, taskID)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if j.Status != models.MergeSuccess {
			return nil
		}
	}
	_, err = w.Task.ChangeStatus(ctx, taskID, models.StatusDone, "merge-worker")
	return err
}
