// Package gitservice is the narrow external-interface contract the review
// package depends on for merge mechanics (spec: worktree/git plumbing is
// out of scope for this module beyond this contract). GitService is
// intentionally small: the merge worker only needs to rebase, merge with a
// strategy, optionally run a test command, and report a commit hash.
package gitservice

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/deepampatel/foreman/pkg/models"
)

// WorktreePath returns the merge worker's convention for where a task's
// worktree for a given repo lives under home: <home>/worktrees/<repo>/<branch>.
func WorktreePath(home, repoID, branchName string) string {
	return filepath.Join(home, "worktrees", repoID, branchName)
}

// GitService is the contract the review package's merge worker runs
// against. Implementations own worktree location and are not otherwise
// modeled by this package.
type GitService interface {
	// Rebase brings branchName up to date with the repository's default
	// branch in the given worktree.
	Rebase(ctx context.Context, worktreePath, branchName string) error
	// Merge integrates branchName into the default branch using strategy
	// (spec §3 MergeJob.strategy: rebase, merge, or squash) and returns the
	// resulting commit hash.
	Merge(ctx context.Context, worktreePath, branchName, strategy string) (commitHash string, err error)
	// RunTests runs a repository's configured test command in the worktree.
	// An empty testCmd is a no-op success.
	RunTests(ctx context.Context, worktreePath, testCmd string) error
}

// ExecGitService shells out to the system git binary, grounded on the same
// command sequences the coding-agent sandboxing layer (out of scope here)
// already uses to manage task worktrees.
type ExecGitService struct{}

var _ GitService = ExecGitService{}

func (ExecGitService) Rebase(ctx context.Context, worktreePath, branchName string) error {
	if worktreePath == "" || branchName == "" {
		return nil
	}
	if out, err := run(ctx, worktreePath, "checkout", branchName); err != nil {
		return fmt.Errorf("git checkout %s: %w: %s", branchName, err, out)
	}
	if out, err := run(ctx, worktreePath, "fetch", "origin"); err != nil {
		return fmt.Errorf("git fetch origin: %w: %s", err, out)
	}
	if out, err := run(ctx, worktreePath, "rebase", "origin/main"); err != nil {
		if out2, err2 := run(ctx, worktreePath, "rebase", "origin/master"); err2 != nil {
			return fmt.Errorf("git rebase: %w: %s", err2, out2)
		}
		_ = out
	}
	return nil
}

func (ExecGitService) Merge(ctx context.Context, worktreePath, branchName, strategy string) (string, error) {
	if worktreePath == "" || branchName == "" {
		return "", fmt.Errorf("gitservice: worktree_path and branch_name required")
	}
	if out, err := run(ctx, worktreePath, "checkout", "main"); err != nil {
		if out2, err2 := run(ctx, worktreePath, "checkout", "master"); err2 != nil {
			return "", fmt.Errorf("git checkout main/master: %w: %s", err2, out2)
		}
		_ = out
	}
	switch strategy {
	case models.StrategySquash:
		if out, err := run(ctx, worktreePath, "merge", "--squash", branchName); err != nil {
			return "", fmt.Errorf("git merge --squash %s: %w: %s", branchName, err, out)
		}
		if out, err := run(ctx, worktreePath, "commit", "-m", "squash: "+branchName); err != nil {
			return "", fmt.Errorf("git commit: %w: %s", err, out)
		}
	case models.StrategyRebase:
		if out, err := run(ctx, worktreePath, "rebase", branchName); err != nil {
			return "", fmt.Errorf("git rebase %s: %w: %s", branchName, err, out)
		}
		if out, err := run(ctx, worktreePath, "merge", "--ff-only", branchName); err != nil {
			return "", fmt.Errorf("git merge --ff-only %s: %w: %s", branchName, err, out)
		}
	default: // models.StrategyMerge
		if out, err := run(ctx, worktreePath, "merge", "--no-ff", branchName); err != nil {
			return "", fmt.Errorf("git merge %s: %w: %s", branchName, err, out)
		}
	}
	out, err := run(ctx, worktreePath, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse HEAD: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func (ExecGitService) RunTests(ctx context.Context, worktreePath, testCmd string) error {
	if worktreePath == "" || testCmd == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", testCmd)
	cmd.Dir = worktreePath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("test_cmd: %w: %s", err, string(out))
	}
	return nil
}

func run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}
