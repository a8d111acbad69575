package review

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/deepampatel/foreman/internal/clock"
	"github.com/deepampatel/foreman/internal/coreerr"
	"github.com/deepampatel/foreman/internal/humanloop"
	"github.com/deepampatel/foreman/internal/message"
	"github.com/deepampatel/foreman/internal/store"
	"github.com/deepampatel/foreman/internal/store/sqlite"
	"github.com/deepampatel/foreman/internal/task"
	"github.com/deepampatel/foreman/pkg/models"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "home"))
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func mustTeam(t *testing.T, st store.Store) models.Team {
	t.Helper()
	team, err := st.CreateTeam(context.Background(), models.Team{Name: "acme"})
	if err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	return team
}

func newEngine(st store.Store) (*Engine, *task.Engine) {
	taskEng := task.New(st, "foreman/", models.DefaultSlugMaxLength)
	loop := humanloop.New(st, clock.Real{})
	bus := message.New(st)
	return New(st, taskEng, loop, bus), taskEng
}

func mustInReview(t *testing.T, st store.Store, taskEng *task.Engine, teamID string) models.Task {
	t.Helper()
	ctx := context.Background()
	tk, err := taskEng.Create(ctx, teamID, models.TaskCreateInput{Title: "t"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := taskEng.Assign(ctx, tk.ID, "assignee-1"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if _, err := taskEng.ChangeStatus(ctx, tk.ID, models.StatusInProgress, "actor"); err != nil {
		t.Fatalf("ChangeStatus -> in_progress: %v", err)
	}
	tk, err = st.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	return tk
}

func TestRequestReview_MovesInProgressToInReview(t *testing.T) {
	st := newTestStore(t)
	eng, taskEng := newEngine(st)
	team := mustTeam(t, st)
	tk := mustInReview(t, st, taskEng, team.ID)

	rv, err := eng.RequestReview(context.Background(), tk.ID, "reviewer-1", models.PartyAgent)
	if err != nil {
		t.Fatalf("RequestReview: %v", err)
	}
	if rv.Attempt != 1 {
		t.Fatalf("Attempt = %d, want 1", rv.Attempt)
	}
	got, err := st.GetTask(context.Background(), tk.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != models.StatusInReview {
		t.Fatalf("Status = %q, want in_review", got.Status)
	}
}

func TestRequestReview_AttemptsIncreaseAcrossRounds(t *testing.T) {
	st := newTestStore(t)
	eng, taskEng := newEngine(st)
	team := mustTeam(t, st)
	tk := mustInReview(t, st, taskEng, team.ID)

	first, err := eng.RequestReview(context.Background(), tk.ID, "reviewer-1", models.PartyAgent)
	if err != nil {
		t.Fatalf("RequestReview 1: %v", err)
	}
	if _, _, err := eng.SetVerdict(context.Background(), first.ID, models.VerdictRequestChanges, "needs more tests", "reviewer-1"); err != nil {
		t.Fatalf("SetVerdict: %v", err)
	}

	second, err := eng.RequestReview(context.Background(), tk.ID, "reviewer-1", models.PartyAgent)
	if err != nil {
		t.Fatalf("RequestReview 2: %v", err)
	}
	if second.Attempt != 2 {
		t.Fatalf("Attempt = %d, want 2", second.Attempt)
	}
}

func TestRequestReview_ConflictsWhenTaskNotInProgressOrReview(t *testing.T) {
	st := newTestStore(t)
	eng, taskEng := newEngine(st)
	team := mustTeam(t, st)
	tk, err := taskEng.Create(context.Background(), team.ID, models.TaskCreateInput{Title: "t"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := eng.RequestReview(context.Background(), tk.ID, "reviewer-1", models.PartyAgent); !errors.Is(err, coreerr.Conflict) {
		t.Fatalf("expected conflict error requesting review on a todo task, got %v", err)
	}
}

func TestSetVerdict_ApproveMovesToInApproval(t *testing.T) {
	st := newTestStore(t)
	eng, taskEng := newEngine(st)
	team := mustTeam(t, st)
	tk := mustInReview(t, st, taskEng, team.ID)

	rv, err := eng.RequestReview(context.Background(), tk.ID, "reviewer-1", models.PartyAgent)
	if err != nil {
		t.Fatalf("RequestReview: %v", err)
	}
	_, updated, err := eng.SetVerdict(context.Background(), rv.ID, models.VerdictApprove, "looks good", "reviewer-1")
	if err != nil {
		t.Fatalf("SetVerdict: %v", err)
	}
	if updated.Status != models.StatusInApproval {
		t.Fatalf("Status = %q, want in_approval", updated.Status)
	}
}

func TestSetVerdict_RequestChangesEmitsFeedbackEvent(t *testing.T) {
	st := newTestStore(t)
	eng, taskEng := newEngine(st)
	team := mustTeam(t, st)
	tk := mustInReview(t, st, taskEng, team.ID)

	rv, err := eng.RequestReview(context.Background(), tk.ID, "reviewer-1", models.PartyAgent)
	if err != nil {
		t.Fatalf("RequestReview: %v", err)
	}
	filePath := "a.py"
	line := 10
	if _, err := eng.AddComment(context.Background(), models.ReviewComment{
		ReviewID: rv.ID, Author: "reviewer-1", AuthorType: models.PartyAgent,
		Content: "rename", FilePath: &filePath, LineNumber: &line,
	}); err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	_, updated, err := eng.SetVerdict(context.Background(), rv.ID, models.VerdictRequestChanges, "fix the tests", "reviewer-1")
	if err != nil {
		t.Fatalf("SetVerdict: %v", err)
	}
	if updated.Status != models.StatusInProgress {
		t.Fatalf("Status = %q, want in_progress", updated.Status)
	}

	stream, err := eng.Events.TaskStream(context.Background(), tk.ID, 0, 20)
	if err != nil {
		t.Fatalf("TaskStream: %v", err)
	}
	found := false
	for _, e := range stream {
		if e.Type == models.EventReviewFeedbackSent {
			found = true
		}
	}
	if !found {
		t.Fatal("expected review.feedback_sent event in stream")
	}

	inbox, err := eng.Messages.Inbox(context.Background(), team.ID, "assignee-1", false, 10)
	if err != nil {
		t.Fatalf("Inbox: %v", err)
	}
	if len(inbox) != 1 {
		t.Fatalf("len(inbox) = %d, want exactly 1 new message", len(inbox))
	}
	msg := inbox[0]
	if !strings.Contains(msg.Content, "fix the tests") {
		t.Fatalf("message content = %q, want it to include the summary", msg.Content)
	}
	if !strings.Contains(msg.Content, "a.py:10 — rename") {
		t.Fatalf("message content = %q, want it to include %q", msg.Content, "a.py:10 — rename")
	}
}

func TestSetVerdict_RequestChangesWithoutAssigneeSkipsMessage(t *testing.T) {
	st := newTestStore(t)
	eng, taskEng := newEngine(st)
	team := mustTeam(t, st)
	ctx := context.Background()
	tk, err := taskEng.Create(ctx, team.ID, models.TaskCreateInput{Title: "t"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := taskEng.ChangeStatus(ctx, tk.ID, models.StatusInProgress, "actor"); err != nil {
		t.Fatalf("ChangeStatus -> in_progress: %v", err)
	}
	rv, err := eng.RequestReview(ctx, tk.ID, "reviewer-1", models.PartyAgent)
	if err != nil {
		t.Fatalf("RequestReview: %v", err)
	}
	if _, _, err := eng.SetVerdict(ctx, rv.ID, models.VerdictRequestChanges, "fix it", "reviewer-1"); err != nil {
		t.Fatalf("SetVerdict on unassigned task should not fail: %v", err)
	}
}

func TestSetVerdict_RequestChangesWithoutSummarySkipsEvent(t *testing.T) {
	st := newTestStore(t)
	eng, taskEng := newEngine(st)
	team := mustTeam(t, st)
	tk := mustInReview(t, st, taskEng, team.ID)

	rv, err := eng.RequestReview(context.Background(), tk.ID, "reviewer-1", models.PartyAgent)
	if err != nil {
		t.Fatalf("RequestReview: %v", err)
	}
	if _, _, err := eng.SetVerdict(context.Background(), rv.ID, models.VerdictRequestChanges, "", "reviewer-1"); err != nil {
		t.Fatalf("SetVerdict: %v", err)
	}
	stream, err := eng.Events.TaskStream(context.Background(), tk.ID, 0, 20)
	if err != nil {
		t.Fatalf("TaskStream: %v", err)
	}
	for _, e := range stream {
		if e.Type == models.EventReviewFeedbackSent {
			t.Fatal("did not expect review.feedback_sent event when summary is empty")
		}
	}
}

func TestSetVerdict_RejectReturnsToInProgress(t *testing.T) {
	st := newTestStore(t)
	eng, taskEng := newEngine(st)
	team := mustTeam(t, st)
	tk := mustInReview(t, st, taskEng, team.ID)

	rv, err := eng.RequestReview(context.Background(), tk.ID, "reviewer-1", models.PartyAgent)
	if err != nil {
		t.Fatalf("RequestReview: %v", err)
	}
	_, updated, err := eng.SetVerdict(context.Background(), rv.ID, models.VerdictReject, "wrong approach", "reviewer-1")
	if err != nil {
		t.Fatalf("SetVerdict: %v", err)
	}
	if updated.Status != models.StatusInProgress {
		t.Fatalf("Status = %q, want in_progress", updated.Status)
	}
}

func TestSetVerdict_UnknownVerdictIsValidationError(t *testing.T) {
	st := newTestStore(t)
	eng, taskEng := newEngine(st)
	team := mustTeam(t, st)
	tk := mustInReview(t, st, taskEng, team.ID)

	rv, err := eng.RequestReview(context.Background(), tk.ID, "reviewer-1", models.PartyAgent)
	if err != nil {
		t.Fatalf("RequestReview: %v", err)
	}
	if _, _, err := eng.SetVerdict(context.Background(), rv.ID, "maybe", "", "reviewer-1"); !errors.Is(err, coreerr.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRequestApproval_RequiresInApprovalStatus(t *testing.T) {
	st := newTestStore(t)
	eng, taskEng := newEngine(st)
	team := mustTeam(t, st)
	tk := mustInReview(t, st, taskEng, team.ID)

	if _, err := eng.RequestApproval(context.Background(), tk.ID, team.ID, "agent-1", "ship it?"); !errors.Is(err, coreerr.Conflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestResolveApproval_ApprovedQueuesMergeJobsAndMovesToMerging(t *testing.T) {
	st := newTestStore(t)
	eng, taskEng := newEngine(st)
	team := mustTeam(t, st)
	repo, err := st.CreateRepository(context.Background(), models.Repository{TeamID: team.ID, Name: "repo-1", URL: "git@example.com:repo-1.git"})
	if err != nil {
		t.Fatalf("CreateRepository: %v", err)
	}
	ctx := context.Background()
	tk, err := taskEng.Create(ctx, team.ID, models.TaskCreateInput{Title: "t", RepoIDs: []string{repo.ID}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, to := range []string{models.StatusInProgress, models.StatusInReview, models.StatusInApproval} {
		if _, err := taskEng.ChangeStatus(ctx, tk.ID, to, "actor"); err != nil {
			t.Fatalf("ChangeStatus -> %s: %v", to, err)
		}
	}
	req, err := eng.RequestApproval(ctx, tk.ID, team.ID, "agent-1", "ship it?")
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}

	updated, jobs, err := eng.ResolveApproval(ctx, req.ID, true, "human-1")
	if err != nil {
		t.Fatalf("ResolveApproval: %v", err)
	}
	if updated.Status != models.StatusMerging {
		t.Fatalf("Status = %q, want merging", updated.Status)
	}
	if len(jobs) != 1 || jobs[0].RepoID != repo.ID {
		t.Fatalf("jobs = %+v, want one job for repo %s", jobs, repo.ID)
	}
}

func TestResolveApproval_RejectedReturnsToInProgress(t *testing.T) {
	st := newTestStore(t)
	eng, taskEng := newEngine(st)
	team := mustTeam(t, st)
	ctx := context.Background()
	tk, err := taskEng.Create(ctx, team.ID, models.TaskCreateInput{Title: "t"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, to := range []string{models.StatusInProgress, models.StatusInReview, models.StatusInApproval} {
		if _, err := taskEng.ChangeStatus(ctx, tk.ID, to, "actor"); err != nil {
			t.Fatalf("ChangeStatus -> %s: %v", to, err)
		}
	}
	req, err := eng.RequestApproval(ctx, tk.ID, team.ID, "agent-1", "ship it?")
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}

	updated, jobs, err := eng.ResolveApproval(ctx, req.ID, false, "human-1")
	if err != nil {
		t.Fatalf("ResolveApproval: %v", err)
	}
	if updated.Status != models.StatusInProgress {
		t.Fatalf("Status = %q, want in_progress", updated.Status)
	}
	if jobs != nil {
		t.Fatalf("jobs = %+v, want nil on rejection", jobs)
	}
}
