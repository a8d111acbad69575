// Package task implements the task state machine of spec §4.2: a fixed
// seven-state transition table plus DAG dependency gating. There is no
// cycle detection (an explicit non-goal) — callers are expected to build
// DAGs bottom-up, which BatchCreate's index-based dependency resolution
// enforces structurally.
package task

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/deepampatel/foreman/internal/coreerr"
	"github.com/deepampatel/foreman/internal/eventlog"
	"github.com/deepampatel/foreman/internal/store"
	"github.com/deepampatel/foreman/pkg/models"
)

// transitions is the fixed status transition table. No state outside this
// table is reachable; this is deliberately not configurable (Non-goal:
// "not a general workflow engine").
var transitions = map[string]map[string]bool{
	models.StatusTodo: {
		models.StatusInProgress: true,
		models.StatusCancelled:  true,
	},
	models.StatusInProgress: {
		models.StatusInReview:  true,
		models.StatusTodo:      true,
		models.StatusCancelled: true,
	},
	models.StatusInReview: {
		models.StatusInApproval: true,
		models.StatusInProgress: true, // changes requested
		models.StatusCancelled:  true,
	},
	models.StatusInApproval: {
		models.StatusMerging:    true,
		models.StatusInProgress: true, // changes requested at approval
		models.StatusCancelled:  true,
	},
	models.StatusMerging: {
		models.StatusDone:       true,
		models.StatusInProgress: true, // merge failed, sent back for rework
	},
	models.StatusDone:      {},
	models.StatusCancelled: {},
}

// CanTransition reports whether from -> to is a legal move in the fixed
// table.
func CanTransition(from, to string) bool {
	next, ok := transitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// IsTerminal reports whether status has no outgoing transitions.
func IsTerminal(status string) bool {
	next, ok := transitions[status]
	return ok && len(next) == 0
}

// Engine runs task operations against a Store, appending events through
// eventlog and enforcing the transition table and dependency gate.
type Engine struct {
	Store         store.Store
	Events        *eventlog.Log
	BranchPrefix  string
	SlugMaxLength int
}

func New(s store.Store, branchPrefix string, slugMaxLength int) *Engine {
	if slugMaxLength <= 0 {
		slugMaxLength = models.DefaultSlugMaxLength
	}
	return &Engine{Store: s, Events: eventlog.New(s), BranchPrefix: branchPrefix, SlugMaxLength: slugMaxLength}
}

// Create inserts a single task in the todo state (spec §4.2).
func (e *Engine) Create(ctx context.Context, teamID string, in models.TaskCreateInput) (models.Task, error) {
	if strings.TrimSpace(in.Title) == "" {
		return models.Task{}, coreerr.Validationf("task title is required")
	}
	t, err := e.Store.CreateTask(ctx, teamID, in)
	if err != nil {
		return models.Task{}, err
	}
	t.BranchName = DeriveBranchName(e.BranchPrefix, t.ID, t.Title, e.SlugMaxLength)
	return t, nil
}

// BatchCreate inserts a set of tasks in one transaction, resolving
// DependsOnIndices against the other entries of the same batch (spec §4.2
// "batch create with index-based intra-batch dependencies"). An index must
// refer to a strictly earlier entry in ins, which rules out cycles by
// construction.
func (e *Engine) BatchCreate(ctx context.Context, teamID string, ins []models.TaskCreateInput) ([]models.Task, error) {
	for i, in := range ins {
		if strings.TrimSpace(in.Title) == "" {
			return nil, coreerr.Validationf("batch task %d: title is required", i)
		}
	}
	tasks, err := e.Store.BatchCreateTasks(ctx, teamID, ins)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		tasks[i].BranchName = DeriveBranchName(e.BranchPrefix, tasks[i].ID, tasks[i].Title, e.SlugMaxLength)
	}
	return tasks, nil
}

// Assign sets a task's assignee without changing its status.
func (e *Engine) Assign(ctx context.Context, taskID int64, assignee string) (models.Task, error) {
	return e.Store.AssignTask(ctx, taskID, assignee)
}

// ChangeStatus transitions a task from its current status to `to`,
// rejecting moves the fixed table forbids (Conflict) and moves into
// in_progress when upstream dependencies are unresolved
// (DependenciesUnresolved, spec §7/§8 S2).
func (e *Engine) ChangeStatus(ctx context.Context, taskID int64, to, actorID string) (models.Task, error) {
	cur, err := e.Store.GetTask(ctx, taskID)
	if err != nil {
		return models.Task{}, err
	}
	if !CanTransition(cur.Status, to) {
		return models.Task{}, coreerr.Conflictf("task %d cannot move from %s to %s", taskID, cur.Status, to)
	}
	if to == models.StatusInProgress {
		if err := e.checkDependencies(ctx, cur); err != nil {
			return models.Task{}, err
		}
	}
	return e.Store.ChangeTaskStatus(ctx, taskID, cur.Status, to, actorID)
}

func (e *Engine) checkDependencies(ctx context.Context, t models.Task) error {
	if len(t.DependsOn) == 0 {
		return nil
	}
	deps, err := e.Store.ListTasksByIDs(ctx, t.DependsOn)
	if err != nil {
		return err
	}
	var offending []coreerr.OffendingDep
	for _, d := range deps {
		if d.Status != models.StatusDone {
			offending = append(offending, coreerr.OffendingDep{TaskID: d.ID, Status: d.Status})
		}
	}
	if len(offending) > 0 {
		return coreerr.DependenciesUnresolvedErr(t.ID, offending)
	}
	return nil
}

// NextRunnable returns the oldest todo task in teamID whose dependencies
// are all done, or nil if none is runnable right now (spec §4.2). It does
// not claim or change the task.
func (e *Engine) NextRunnable(ctx context.Context, teamID string) (*models.Task, error) {
	return e.Store.NextRunnableTask(ctx, teamID)
}

// AddComment appends a freeform comment to a task's stream. Unlike a
// status change or assignment, a comment has no Store-owned mutation to
// piggyback on, so the engine appends it directly through Events.
func (e *Engine) AddComment(ctx context.Context, taskID int64, authorID, content string) (models.Event, error) {
	if strings.TrimSpace(content) == "" {
		return models.Event{}, coreerr.Validationf("comment content is required")
	}
	data, err := json.Marshal(map[string]string{"author_id": authorID, "content": content})
	if err != nil {
		return models.Event{}, err
	}
	return e.Events.Append(ctx, models.Event{
		StreamID: fmt.Sprintf("task:%d", taskID),
		Type:     models.EventTaskCommentAdded,
		Data:     data,
		Metadata: models.EventMetadata{ActorID: authorID},
	})
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases and hyphenates a task title for branch-name use,
// trimming to at most maxLength characters (spec §4.2, configurable via
// Settings.SlugMaxLength / branching.slug_max_length, default
// models.DefaultSlugMaxLength).
func Slugify(title string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = models.DefaultSlugMaxLength
	}
	s := slugRe.ReplaceAllString(strings.ToLower(title), "-")
	s = strings.Trim(s, "-")
	if len(s) > maxLength {
		s = strings.Trim(s[:maxLength], "-")
	}
	if s == "" {
		s = "task"
	}
	return s
}

// DeriveBranchName builds the deterministic branch name for a task:
// {branch_prefix}task-{id}-{slug} (spec §3 Task.branch_name).
func DeriveBranchName(prefix string, taskID int64, title string, slugMaxLength int) string {
	return fmt.Sprintf("%stask-%d-%s", prefix, taskID, Slugify(title, slugMaxLength))
}
