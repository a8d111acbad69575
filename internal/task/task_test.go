package task

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/deepampatel/foreman/internal/coreerr"
	"github.com/deepampatel/foreman/internal/store"
	"github.com/deepampatel/foreman/internal/store/sqlite"
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
	ctx := context.Background()
	team, err := st.CreateTeam(ctx, models.Team{Name: "acme"})
	if err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	return team
}

func TestCreate_RequiresTitle(t *testing.T) {
	st := newTestStore(t)
	eng := New(st, "foreman/", models.DefaultSlugMaxLength)
	team := mustTeam(t, st)
	_, err := eng.Create(context.Background(), team.ID, models.TaskCreateInput{})
	if !errors.Is(err, coreerr.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreate_DerivesBranchName(t *testing.T) {
	st := newTestStore(t)
	eng := New(st, "foreman/", models.DefaultSlugMaxLength)
	team := mustTeam(t, st)
	got, err := eng.Create(context.Background(), team.ID, models.TaskCreateInput{Title: "Fix Login Bug!!"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	want := DeriveBranchName("foreman/", got.ID, "Fix Login Bug!!", models.DefaultSlugMaxLength)
	if got.BranchName != want {
		t.Fatalf("BranchName = %q, want %q", got.BranchName, want)
	}
	if got.Status != models.StatusTodo {
		t.Fatalf("Status = %q, want todo", got.Status)
	}
}

func TestChangeStatus_RejectsIllegalTransition(t *testing.T) {
	st := newTestStore(t)
	eng := New(st, "foreman/", models.DefaultSlugMaxLength)
	team := mustTeam(t, st)
	tk, err := eng.Create(context.Background(), team.ID, models.TaskCreateInput{Title: "t"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err = eng.ChangeStatus(context.Background(), tk.ID, models.StatusDone, "actor")
	if !errors.Is(err, coreerr.Conflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestChangeStatus_BlocksOnUnresolvedDependencies(t *testing.T) {
	st := newTestStore(t)
	eng := New(st, "foreman/", models.DefaultSlugMaxLength)
	team := mustTeam(t, st)
	dep, err := eng.Create(context.Background(), team.ID, models.TaskCreateInput{Title: "dep"})
	if err != nil {
		t.Fatalf("Create dep: %v", err)
	}
	tk, err := eng.Create(context.Background(), team.ID, models.TaskCreateInput{Title: "blocked", DependsOn: []int64{dep.ID}})
	if err != nil {
		t.Fatalf("Create blocked: %v", err)
	}
	if _, err := eng.ChangeStatus(context.Background(), tk.ID, models.StatusInProgress, "actor"); err == nil {
		t.Fatal("expected dependencies-unresolved error, got nil")
	}
	if _, err := eng.ChangeStatus(context.Background(), dep.ID, models.StatusInProgress, "actor"); err != nil {
		t.Fatalf("ChangeStatus dep -> in_progress: %v", err)
	}
	if _, err := eng.ChangeStatus(context.Background(), dep.ID, models.StatusInReview, "actor"); err != nil {
		t.Fatalf("ChangeStatus dep -> in_review: %v", err)
	}
	if _, err := eng.ChangeStatus(context.Background(), dep.ID, models.StatusInApproval, "actor"); err != nil {
		t.Fatalf("ChangeStatus dep -> in_approval: %v", err)
	}
	if _, err := eng.ChangeStatus(context.Background(), dep.ID, models.StatusMerging, "actor"); err != nil {
		t.Fatalf("ChangeStatus dep -> merging: %v", err)
	}
	if _, err := eng.ChangeStatus(context.Background(), dep.ID, models.StatusDone, "actor"); err != nil {
		t.Fatalf("ChangeStatus dep -> done: %v", err)
	}
	if _, err := eng.ChangeStatus(context.Background(), tk.ID, models.StatusInProgress, "actor"); err != nil {
		t.Fatalf("ChangeStatus blocked -> in_progress after dep done: %v", err)
	}
}

func TestBatchCreate_ResolvesIntraBatchDependencies(t *testing.T) {
	st := newTestStore(t)
	eng := New(st, "foreman/", models.DefaultSlugMaxLength)
	team := mustTeam(t, st)
	tasks, err := eng.BatchCreate(context.Background(), team.ID, []models.TaskCreateInput{
		{Title: "base"},
		{Title: "depends on base", DependsOnIndices: []int{0}},
	})
	if err != nil {
		t.Fatalf("BatchCreate: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("len(tasks) = %d, want 2", len(tasks))
	}
	if len(tasks[1].DependsOn) != 1 || tasks[1].DependsOn[0] != tasks[0].ID {
		t.Fatalf("tasks[1].DependsOn = %v, want [%d]", tasks[1].DependsOn, tasks[0].ID)
	}
}

func TestNextRunnable_SkipsBlockedTasks(t *testing.T) {
	st := newTestStore(t)
	eng := New(st, "foreman/", models.DefaultSlugMaxLength)
	team := mustTeam(t, st)
	dep, err := eng.Create(context.Background(), team.ID, models.TaskCreateInput{Title: "dep"})
	if err != nil {
		t.Fatalf("Create dep: %v", err)
	}
	blocked, err := eng.Create(context.Background(), team.ID, models.TaskCreateInput{Title: "blocked", DependsOn: []int64{dep.ID}})
	if err != nil {
		t.Fatalf("Create blocked: %v", err)
	}

	next, err := eng.NextRunnable(context.Background(), team.ID)
	if err != nil {
		t.Fatalf("NextRunnable: %v", err)
	}
	if next == nil || next.ID != dep.ID {
		t.Fatalf("NextRunnable = %+v, want dep task %d", next, dep.ID)
	}
	_ = blocked
}

func TestAddComment_AppendsEvent(t *testing.T) {
	st := newTestStore(t)
	eng := New(st, "foreman/", models.DefaultSlugMaxLength)
	team := mustTeam(t, st)
	tk, err := eng.Create(context.Background(), team.ID, models.TaskCreateInput{Title: "t"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	evt, err := eng.AddComment(context.Background(), tk.ID, "alice", "looks good")
	if err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if evt.Type != models.EventTaskCommentAdded {
		t.Fatalf("evt.Type = %q, want %q", evt.Type, models.EventTaskCommentAdded)
	}

	stream, err := eng.Events.TaskStream(context.Background(), tk.ID, 0, 10)
	if err != nil {
		t.Fatalf("TaskStream: %v", err)
	}
	found := false
	for _, e := range stream {
		if e.Type == models.EventTaskCommentAdded {
			found = true
		}
	}
	if !found {
		t.Fatal("expected task.comment_added event in stream")
	}
}

func TestAddComment_RequiresContent(t *testing.T) {
	st := newTestStore(t)
	eng := New(st, "foreman/", models.DefaultSlugMaxLength)
	team := mustTeam(t, st)
	tk, err := eng.Create(context.Background(), team.ID, models.TaskCreateInput{Title: "t"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := eng.AddComment(context.Background(), tk.ID, "alice", "  "); !errors.Is(err, coreerr.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Fix Login Bug!!": "fix-login-bug",
		"   ":              "task",
		"a-very-long-title-that-exceeds-the-fifty-character-cap-by-a-fair-margin": "a-very-long-title-that-exceeds-the-fifty-character",
	}
	for in, want := range cases {
		if got := Slugify(in, models.DefaultSlugMaxLength); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSlugify_ConfigurableMaxLength(t *testing.T) {
	got := Slugify("a very long title indeed", 10)
	if got != "a-very-lon" {
		t.Fatalf("Slugify with maxLength=10 = %q, want %q", got, "a-very-lon")
	}
}
