package adapter

import (
	"context"
	"testing"
)

func TestStubAdapter_RunTurn(t *testing.T) {
	var events []Event
	result, err := StubAdapter{}.RunTurn(context.Background(), TurnRequest{Team: "t1", Agent: "a1"}, func(e Event) {
		events = append(events, e)
	})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Output == "" {
		t.Fatal("expected non-empty output")
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Type != "turn_started" || events[len(events)-1].Type != "turn_ended" {
		t.Fatalf("unexpected event sequence: %+v", events)
	}
}

func TestStubAdapter_RunTurn_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := StubAdapter{}.RunTurn(ctx, TurnRequest{}, func(Event) {})
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestRegistry_ResolveByTag(t *testing.T) {
	reg := NewRegistry(StubAdapter{})
	custom := StubAdapter{}
	reg.Register("claude", custom)

	a, err := reg.Resolve("claude")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if a.Name() != "stub" {
		t.Fatalf("expected stub adapter, got %s", a.Name())
	}

	a, err = reg.Resolve("unregistered-tag")
	if err != nil {
		t.Fatalf("Resolve fallback: %v", err)
	}
	if a.Name() != "stub" {
		t.Fatalf("expected fallback adapter, got %s", a.Name())
	}
}

func TestRegistry_ResolveNoFallback(t *testing.T) {
	reg := NewRegistry(nil)
	if _, err := reg.Resolve("missing"); err == nil {
		t.Fatal("expected error with no fallback and unregistered tag")
	}
}
