package dispatcher

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/deepampatel/foreman/internal/adapter"
	"github.com/deepampatel/foreman/internal/config"
	"github.com/deepampatel/foreman/internal/message"
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

func TestCleanupStuckAgents_ResetsWorkingAgentWithNoRecentSession(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	team, err := st.CreateTeam(ctx, models.Team{Name: "acme"})
	if err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	stuck, err := st.CreateAgent(ctx, models.Agent{TeamID: team.ID, Name: "stuck", Status: models.AgentWorking})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	d := New(st, message.New(st), adapter.NewRegistry(nil), nil, config.Default())
	d.Settings.StuckAgentTimeout = 30 * time.Minute
	d.cleanupStuckAgents(ctx)

	got, err := st.GetAgent(ctx, stuck.ID)
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.Status != models.AgentIdle {
		t.Fatalf("agent status = %q, want idle after cleanup", got.Status)
	}
}

// countingAdapter simulates a slow Agent Runner: every RunTurn call sleeps
// delay and records that it ran.
type countingAdapter struct {
	delay time.Duration

	mu    sync.Mutex
	calls int
}

func (a *countingAdapter) Name() string { return "counting" }

func (a *countingAdapter) RunTurn(ctx context.Context, req adapter.TurnRequest, emit func(adapter.Event)) (adapter.TurnResult, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	select {
	case <-time.After(a.delay):
	case <-ctx.Done():
		return adapter.TurnResult{}, ctx.Err()
	}
	return adapter.TurnResult{Output: "ok"}, nil
}

func (a *countingAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// TestDispatch_CoalescesConcurrentNotifications is spec §8 scenario S5: an
// adapter that takes 200ms is sent 5 messages within 10ms. Because only one
// turn runs per agent at a time and the in-flight worker re-reads its inbox
// before exiting, the adapter should be invoked at most twice — once for
// whichever messages land before the first turn starts, optionally once
// more for stragglers that arrive mid-turn — and every message should end
// up processed regardless of which turn actually picked it up.
func TestDispatch_CoalescesConcurrentNotifications(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	team, err := st.CreateTeam(ctx, models.Team{Name: "acme"})
	if err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	agent, err := st.CreateAgent(ctx, models.Agent{ID: "E1", TeamID: team.ID, Name: "e1", AdapterTag: "counting"})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	slow := &countingAdapter{delay: 200 * time.Millisecond}
	registry := adapter.NewRegistry(nil)
	registry.Register("counting", slow)

	bus := message.New(st)
	d := New(st, bus, registry, nil, config.Default())

	var sent []models.Message
	for i := 0; i < 5; i++ {
		m, err := bus.Send(ctx, models.Message{
			TeamID: team.ID, SenderID: "human-1", SenderType: models.PartyUser,
			RecipientID: agent.ID, RecipientType: models.PartyAgent,
			Content: "do work",
		})
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
		sent = append(sent, m)
		d.dispatch(ctx, team.ID, agent.ID)
		time.Sleep(2 * time.Millisecond)
	}

	d.wg.Wait()

	if calls := slow.callCount(); calls > 2 {
		t.Fatalf("adapter invoked %d times, want at most 2", calls)
	}

	for _, m := range sent {
		got, err := st.GetMessage(ctx, m.ID)
		if err != nil {
			t.Fatalf("GetMessage(%d): %v", m.ID, err)
		}
		if got.ProcessedAt == nil {
			t.Fatalf("message %d not processed", m.ID)
		}
	}
}

func TestDispatch_DropsSecondAttemptWhileAgentInFlight(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	team, err := st.CreateTeam(ctx, models.Team{Name: "acme"})
	if err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	agent, err := st.CreateAgent(ctx, models.Agent{ID: "E1", TeamID: team.ID, Name: "e1", AdapterTag: "counting"})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	slow := &countingAdapter{delay: 100 * time.Millisecond}
	registry := adapter.NewRegistry(nil)
	registry.Register("counting", slow)
	bus := message.New(st)
	d := New(st, bus, registry, nil, config.Default())

	if _, err := bus.Send(ctx, models.Message{
		TeamID: team.ID, SenderID: "human-1", SenderType: models.PartyUser,
		RecipientID: agent.ID, RecipientType: models.PartyAgent, Content: "first",
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	d.dispatch(ctx, team.ID, agent.ID)
	// A second attempt while the first is still in flight must be coalesced,
	// not queued as a distinct turn.
	d.dispatch(ctx, team.ID, agent.ID)
	d.wg.Wait()

	if calls := slow.callCount(); calls != 1 {
		t.Fatalf("adapter invoked %d times, want exactly 1", calls)
	}
}
