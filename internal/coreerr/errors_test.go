package coreerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIs_MatchesByKindOnly(t *testing.T) {
	err := NotFoundf("task %d not found", 42)
	if !errors.Is(err, NotFound) {
		t.Fatalf("expected NotFoundf result to match the NotFound sentinel")
	}
	if errors.Is(err, Conflict) {
		t.Fatal("did not expect NotFoundf result to match Conflict")
	}
}

func TestIs_WrappedError(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Conflictf("task %d cannot transition", 1))
	if !errors.Is(err, Conflict) {
		t.Fatal("expected errors.Is to see through fmt.Errorf wrapping")
	}
}

func TestExternalf_UnwrapsCause(t *testing.T) {
	cause := errors.New("git exit status 1")
	err := Externalf(cause, "merge failed")
	if !errors.Is(err, External) {
		t.Fatal("expected External sentinel match")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected Externalf to unwrap to its cause")
	}
}

func TestDependenciesUnresolvedErr_CarriesOffendingDeps(t *testing.T) {
	err := DependenciesUnresolvedErr(7, []OffendingDep{{TaskID: 1, Status: "in_progress"}})
	if !errors.Is(err, DependenciesUnresolved) {
		t.Fatal("expected DependenciesUnresolved sentinel match")
	}
	offending, ok := err.Payload["offending"].([]OffendingDep)
	if !ok || len(offending) != 1 || offending[0].TaskID != 1 {
		t.Fatalf("Payload[offending] = %v", err.Payload["offending"])
	}
}

func TestBudgetExceededErr_CarriesCapName(t *testing.T) {
	err := BudgetExceededErr("daily", 100, 50)
	if !errors.Is(err, BudgetExceeded) {
		t.Fatal("expected BudgetExceeded sentinel match")
	}
	if err.Payload["cap"] != "daily" {
		t.Fatalf("Payload[cap] = %v, want daily", err.Payload["cap"])
	}
}
