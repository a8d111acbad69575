// Package review implements the review and merge-readiness pipeline of
// spec §4.5–4.6: an in_review code-review loop with attempt tracking, a
// human approval gate, and a merge worker that advances approved tasks to
// done (or sends them back for rework on failure).
package review

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/deepampatel/foreman/internal/coreerr"
	"github.com/deepampatel/foreman/internal/eventlog"
	"github.com/deepampatel/foreman/internal/humanloop"
	"github.com/deepampatel/foreman/internal/message"
	"github.com/deepampatel/foreman/internal/store"
	"github.com/deepampatel/foreman/internal/task"
	"github.com/deepampatel/foreman/pkg/models"
)

// Engine runs the review policy table against a Store and a task.Engine.
type Engine struct {
	Store     store.Store
	Task      *task.Engine
	HumanLoop *humanloop.Loop
	Messages  *message.Bus
	Events    *eventlog.Log
}

func New(s store.Store, t *task.Engine, h *humanloop.Loop, m *message.Bus) *Engine {
	return &Engine{Store: s, Task: t, HumanLoop: h, Messages: m, Events: eventlog.New(s)}
}

// RequestReview opens the next review attempt for a task, moving it into
// in_review if it is still in_progress. attempt numbers increase
// monotonically per task and are never reused, even across
// request_changes round-trips (spec §4.6 "attempt tracking").
func (e *Engine) RequestReview(ctx context.Context, taskID int64, reviewer, reviewerType string) (models.Review, error) {
	t, err := e.Store.GetTask(ctx, taskID)
	if err != nil {
		return models.Review{}, err
	}
	if t.Status == models.StatusInProgress {
		if _, err := e.Task.ChangeStatus(ctx, taskID, models.StatusInReview, reviewer); err != nil {
			return models.Review{}, err
		}
	} else if t.Status != models.StatusInReview {
		return models.Review{}, coreerr.Conflictf("task %d is %s, cannot request review", taskID, t.Status)
	}
	attempt, err := e.Store.CountReviewAttempts(ctx, taskID)
	if err != nil {
		return models.Review{}, err
	}
	return e.Store.CreateReview(ctx, models.Review{
		TaskID:       taskID,
		Attempt:      attempt + 1,
		Reviewer:     reviewer,
		ReviewerType: reviewerType,
	})
}

// AddComment anchors a review comment, optionally to a (file, line).
func (e *Engine) AddComment(ctx context.Context, comment models.ReviewComment) (models.ReviewComment, error) {
	return e.Store.AddReviewComment(ctx, comment)
}

// SetVerdict resolves a review. approve moves the task to in_approval to
// await human sign-off; request_changes and reject both send it back to
// in_progress for another round (spec §4.6) — reject differs from
// request_changes only in that it carries no automated feedback message,
// since a rejection is a reviewer's own note rather than actionable
// per-line comments.
func (e *Engine) SetVerdict(ctx context.Context, reviewID int64, verdict, summary, actorID string) (models.Review, models.Task, error) {
	rv, err := e.Store.SetReviewVerdict(ctx, reviewID, verdict, summary)
	if err != nil {
		return models.Review{}, models.Task{}, err
	}
	var to string
	switch verdict {
	case models.VerdictApprove:
		to = models.StatusInApproval
	case models.VerdictRequestChanges:
		to = models.StatusInProgress
	case models.VerdictReject:
		to = models.StatusInProgress
	default:
		return models.Review{}, models.Task{}, coreerr.Validationf("unknown verdict %q", verdict)
	}
	t, err := e.Task.ChangeStatus(ctx, rv.TaskID, to, actorID)
	if err != nil {
		return models.Review{}, models.Task{}, err
	}
	if verdict == models.VerdictRequestChanges && summary != "" {
		data, _ := json.Marshal(map[string]any{"review_id": rv.ID, "summary": summary})
		if _, err := e.Events.Append(ctx, models.Event{
			StreamID: fmt.Sprintf("task:%d", t.ID),
			Type:     models.EventReviewFeedbackSent,
			Data:     data,
			Metadata: models.EventMetadata{ActorID: actorID},
		}); err != nil {
			return models.Review{}, models.Task{}, err
		}
		if err := e.sendFeedback(ctx, rv, t, summary); err != nil {
			return models.Review{}, models.Task{}, err
		}
	}
	return rv, t, nil
}

// sendFeedback delivers a request_changes verdict's summary and anchored
// comments to the task's assignee inbox (spec §4.6 "automated feedback
// loop"). A task with no assignee has nowhere to deliver feedback, so this
// is a no-op rather than an error.
func (e *Engine) sendFeedback(ctx context.Context, rv models.Review, t models.Task, summary string) error {
	if t.Assignee == nil || *t.Assignee == "" {
		return nil
	}
	comments, err := e.Store.ListReviewComments(ctx, rv.ID)
	if err != nil {
		return err
	}
	content := summary
	for _, c := range comments {
		content += "\n" + formatReviewComment(c)
	}
	_, err = e.Messages.Send(ctx, models.Message{
		TeamID:        t.TeamID,
		SenderID:      rv.Reviewer,
		SenderType:    rv.ReviewerType,
		RecipientID:   *t.Assignee,
		RecipientType: models.PartyAgent,
		TaskID:        &t.ID,
		Content:       content,
	})
	return err
}

// formatReviewComment renders a comment as "file:line — comment", dropping
// the anchor when a comment isn't tied to a specific file or line.
func formatReviewComment(c models.ReviewComment) string {
	if c.FilePath == nil {
		return c.Content
	}
	if c.LineNumber == nil {
		return fmt.Sprintf("%s — %s", *c.FilePath, c.Content)
	}
	return fmt.Sprintf("%s:%d — %s", *c.FilePath, *c.LineNumber, c.Content)
}

// RequestApproval opens a human approval request for a task sitting in
// in_approval.
func (e *Engine) RequestApproval(ctx context.Context, taskID int64, teamID, agentID, question string) (models.HumanRequest, error) {
	t, err := e.Store.GetTask(ctx, taskID)
	if err != nil {
		return models.HumanRequest{}, err
	}
	if t.Status != models.StatusInApproval {
		return models.HumanRequest{}, coreerr.Conflictf("task %d is %s, not in_approval", taskID, t.Status)
	}
	return e.HumanLoop.CreateRequest(ctx, models.HumanRequest{
		TeamID:   teamID,
		AgentID:  agentID,
		TaskID:   &taskID,
		Kind:     models.RequestKindApproval,
		Question: question,
	}, 0)
}

// ResolveApproval acts on a human's answer to an approval request: if
// approved, the task moves to merging and a merge job is queued against
// every repo it touches; otherwise it goes back to in_progress.
func (e *Engine) ResolveApproval(ctx context.Context, requestID int64, approved bool, responder string) (models.Task, []models.MergeJob, error) {
	response := "rejected"
	if approved {
		response = "approved"
	}
	req, err := e.HumanLoop.Respond(ctx, requestID, response, responder)
	if err != nil {
		return models.Task{}, nil, err
	}
	if req.TaskID == nil {
		return models.Task{}, nil, coreerr.Validationf("human request %d is not task-scoped", requestID)
	}
	if !approved {
		t, err := e.Task.ChangeStatus(ctx, *req.TaskID, models.StatusInProgress, responder)
		return t, nil, err
	}
	t, err := e.Task.ChangeStatus(ctx, *req.TaskID, models.StatusMerging, responder)
	if err != nil {
		return models.Task{}, nil, err
	}
	var jobs []models.MergeJob
	for _, repoID := range t.RepoIDs {
		job, err := e.Store.CreateMergeJob(ctx, models.MergeJob{TaskID: t.ID, RepoID: repoID, Strategy: models.StrategyRebase})
		if err != nil {
			return models.Task{}, nil, err
		}
		jobs = append(jobs, job)
	}
	return t, jobs, nil
}
