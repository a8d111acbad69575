package otel

import (
	"context"
	"testing"
	"time"
)

func TestInitMetrics_RecordTaskOp(t *testing.T) {
	ctx := context.Background()
	_, err := InitMeterProvider(ctx, "metrics-test")
	if err != nil {
		t.Fatalf("InitMeterProvider: %v", err)
	}
	if err := InitMetrics(ctx); err != nil {
		t.Fatalf("InitMetrics: %v", err)
	}
	RecordTaskOp(ctx, "create", "team1", "todo")
	RecordTaskOp(ctx, "claim", "team1", "in_progress")
	RecordTaskTransition(ctx, "team1", "todo", "in_progress")
}

func TestAddSSEConnection_RemoveSSEConnection(t *testing.T) {
	AddSSEConnection()
	AddSSEConnection()
	RemoveSSEConnection()
	RemoveSSEConnection()
	RemoveSSEConnection() // should not go negative
}

func TestRecordDispatchTurn_RecordHumanRequest_RecordSSEEvent(t *testing.T) {
	ctx := context.Background()
	_, _ = InitMeterProvider(ctx, "record-test")
	_ = InitMetrics(ctx)
	RecordDispatchTurn(ctx, "t1", "a1", 100*time.Millisecond)
	RecordHumanRequest(ctx, "t1", "approval", "resolved", 5*time.Second)
	RecordReview(ctx, "t1", "approve")
	RecordMergeJob(ctx, "rebase", "success")
	RecordSessionCost(ctx, "t1", 42_000_000)
	RecordBudgetExceeded(ctx, "t1", "daily")
	RecordEventAppended(ctx, "task.created")
	RecordMessageSent(ctx, "t1")
	RecordSSEEvent(ctx)
}

func TestInitMetricsWithTaskCount(t *testing.T) {
	ctx := context.Background()
	_, _ = InitMeterProvider(ctx, "taskcount-test")
	err := InitMetricsWithTaskCount(ctx, func() map[string]int64 {
		return map[string]int64{"todo": 1, "in_progress": 2, "done": 3}
	})
	if err != nil {
		t.Fatalf("InitMetricsWithTaskCount: %v", err)
	}
}

func TestInitMetricsWithTaskCount_nilFunc(t *testing.T) {
	ctx := context.Background()
	_, _ = InitMeterProvider(ctx, "taskcount-nil-test")
	err := InitMetricsWithTaskCount(ctx, nil)
	if err != nil {
		t.Fatalf("InitMetricsWithTaskCount(nil): %v", err)
	}
}
