package adapter

import (
	"context"
	"time"
)

// StubAdapter is a deterministic local adapter that emits plausible events
// without calling any external LLM or spawning subprocesses. It exists so
// the dispatcher and its tests can run end to end with no coding-agent
// backend configured (spec: coding-agent adapters are out of scope; the
// dispatcher still needs something to run against).
type StubAdapter struct{}

var _ Adapter = StubAdapter{}

func (StubAdapter) Name() string { return "stub" }

func (StubAdapter) RunTurn(ctx context.Context, req TurnRequest, emit func(Event)) (TurnResult, error) {
	now := time.Now().UTC()
	emit(Event{
		Type:      "turn_started",
		Team:      req.Team,
		Agent:     req.Agent,
		TaskID:    req.TaskID,
		Timestamp: now,
		Data:      map[string]any{"sender": "system"},
	})

	if err := sleep(ctx, 50*time.Millisecond); err != nil {
		return TurnResult{}, err
	}
	emit(Event{
		Type:      "agent_activity",
		Team:      req.Team,
		Agent:     req.Agent,
		TaskID:    req.TaskID,
		Timestamp: time.Now().UTC(),
		Data:      map[string]any{"tool": "think", "summary": "stub adapter simulated a turn"},
	})

	if err := sleep(ctx, 50*time.Millisecond); err != nil {
		return TurnResult{}, err
	}
	emit(Event{
		Type:      "turn_ended",
		Team:      req.Team,
		Agent:     req.Agent,
		TaskID:    req.TaskID,
		Timestamp: time.Now().UTC(),
	})

	return TurnResult{Output: "stub: ok"}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
