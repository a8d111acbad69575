package humanloop

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/deepampatel/foreman/internal/clock"
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
	team, err := st.CreateTeam(context.Background(), models.Team{Name: "acme"})
	if err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	return team
}

func TestCreateRequest_RequiresQuestion(t *testing.T) {
	loop := New(newTestStore(t), clock.Real{})
	_, err := loop.CreateRequest(context.Background(), models.HumanRequest{}, 0)
	if !errors.Is(err, coreerr.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateRequest_SetsTimeoutFromClock(t *testing.T) {
	st := newTestStore(t)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mc := clock.NewManual(start)
	loop := New(st, mc)
	team := mustTeam(t, st)

	req, err := loop.CreateRequest(context.Background(), models.HumanRequest{
		TeamID:   team.ID,
		AgentID:  "agent-1",
		Kind:     models.RequestKindQuestion,
		Question: "which approach?",
	}, 10*time.Minute)
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if req.TimeoutAt == nil {
		t.Fatal("TimeoutAt is nil, want set")
	}
	if want := start.Add(10 * time.Minute); !req.TimeoutAt.Equal(want) {
		t.Fatalf("TimeoutAt = %v, want %v", req.TimeoutAt, want)
	}
	if req.Status != models.RequestPending {
		t.Fatalf("Status = %q, want pending", req.Status)
	}
}

func TestRespond_ResolvesPendingRequest(t *testing.T) {
	st := newTestStore(t)
	loop := New(st, clock.Real{})
	team := mustTeam(t, st)

	req, err := loop.CreateRequest(context.Background(), models.HumanRequest{
		TeamID:   team.ID,
		AgentID:  "agent-1",
		Kind:     models.RequestKindQuestion,
		Question: "proceed?",
	}, 0)
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	resolved, err := loop.Respond(context.Background(), req.ID, "yes", "human-1")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if resolved.Status != models.RequestResolved {
		t.Fatalf("Status = %q, want resolved", resolved.Status)
	}
	if resolved.Response == nil || *resolved.Response != "yes" {
		t.Fatalf("Response = %v, want \"yes\"", resolved.Response)
	}
}

func TestRespond_ToResolvedRequestConflicts(t *testing.T) {
	st := newTestStore(t)
	loop := New(st, clock.Real{})
	team := mustTeam(t, st)

	req, err := loop.CreateRequest(context.Background(), models.HumanRequest{
		TeamID:   team.ID,
		AgentID:  "agent-1",
		Kind:     models.RequestKindQuestion,
		Question: "proceed?",
	}, 0)
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if _, err := loop.Respond(context.Background(), req.ID, "yes", "human-1"); err != nil {
		t.Fatalf("first Respond: %v", err)
	}
	if _, err := loop.Respond(context.Background(), req.ID, "no", "human-2"); !errors.Is(err, coreerr.Conflict) {
		t.Fatalf("expected conflict error on double-resolve, got %v", err)
	}
}

func TestListPending_ExcludesResolved(t *testing.T) {
	st := newTestStore(t)
	loop := New(st, clock.Real{})
	team := mustTeam(t, st)

	first, err := loop.CreateRequest(context.Background(), models.HumanRequest{
		TeamID: team.ID, AgentID: "agent-1", Kind: models.RequestKindQuestion, Question: "q1",
	}, 0)
	if err != nil {
		t.Fatalf("CreateRequest 1: %v", err)
	}
	if _, err := loop.CreateRequest(context.Background(), models.HumanRequest{
		TeamID: team.ID, AgentID: "agent-1", Kind: models.RequestKindQuestion, Question: "q2",
	}, 0); err != nil {
		t.Fatalf("CreateRequest 2: %v", err)
	}
	if _, err := loop.Respond(context.Background(), first.ID, "answered", "human-1"); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	pending, err := loop.ListPending(context.Background(), team.ID)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].Question != "q2" {
		t.Fatalf("ListPending = %+v, want only q2", pending)
	}
}

func TestExpirer_ExpiresOverdueRequests(t *testing.T) {
	st := newTestStore(t)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mc := clock.NewManual(start)
	loop := New(st, mc)
	team := mustTeam(t, st)

	req, err := loop.CreateRequest(context.Background(), models.HumanRequest{
		TeamID: team.ID, AgentID: "agent-1", Kind: models.RequestKindQuestion, Question: "q",
	}, 5*time.Minute)
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	expirer := NewExpirer(loop, time.Second)
	if err := expirer.tick(context.Background()); err != nil {
		t.Fatalf("tick before deadline: %v", err)
	}
	got, err := loop.GetByID(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != models.RequestPending {
		t.Fatalf("Status before deadline = %q, want pending", got.Status)
	}

	mc.Advance(6 * time.Minute)
	if err := expirer.tick(context.Background()); err != nil {
		t.Fatalf("tick after deadline: %v", err)
	}
	got, err = loop.GetByID(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != models.RequestExpired {
		t.Fatalf("Status after deadline = %q, want expired", got.Status)
	}
}

func TestNewExpirer_DefaultsInterval(t *testing.T) {
	loop := New(newTestStore(t), clock.Real{})
	e := NewExpirer(loop, 0)
	if e.Interval <= 0 {
		t.Fatalf("Interval = %v, want positive default", e.Interval)
	}
}
