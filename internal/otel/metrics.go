package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce sync.Once

	taskOpsCounter        metric.Int64Counter
	taskTransitionCounter metric.Int64Counter
	dispatchTurnsCounter  metric.Int64Counter
	dispatchTurnDuration  metric.Float64Histogram
	eventsAppendedCounter metric.Int64Counter
	messagesSentCounter   metric.Int64Counter
	humanRequestsCounter  metric.Int64Counter
	humanRequestDuration  metric.Float64Histogram
	reviewsCounter        metric.Int64Counter
	mergeJobsCounter      metric.Int64Counter
	sessionCostCounter    metric.Float64Counter
	budgetExceededCounter metric.Int64Counter

	sseConnectionsGauge metric.Int64ObservableGauge
	sseEventsCounter    metric.Int64Counter
	sseConnections      int64
	sseConnectionsMu    sync.Mutex
)

// InitMetrics creates the meter instruments. Safe to call multiple times; only runs once.
// Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		taskOpsCounter, err = m.Int64Counter("foreman_task_operations_total", metric.WithDescription("Total task operations (create, assign, claim, etc.)"))
		if err != nil {
			return
		}
		taskTransitionCounter, err = m.Int64Counter("foreman_task_transitions_total", metric.WithDescription("Total task status transitions"))
		if err != nil {
			return
		}
		dispatchTurnsCounter, err = m.Int64Counter("foreman_dispatcher_turns_total", metric.WithDescription("Total dispatcher turns executed"))
		if err != nil {
			return
		}
		dispatchTurnDuration, err = m.Float64Histogram("foreman_dispatcher_turn_duration_seconds", metric.WithDescription("Dispatcher turn duration in seconds"))
		if err != nil {
			return
		}
		eventsAppendedCounter, err = m.Int64Counter("foreman_events_appended_total", metric.WithDescription("Total events appended to the log"))
		if err != nil {
			return
		}
		messagesSentCounter, err = m.Int64Counter("foreman_messages_sent_total", metric.WithDescription("Total inbox messages sent"))
		if err != nil {
			return
		}
		humanRequestsCounter, err = m.Int64Counter("foreman_human_requests_total", metric.WithDescription("Total human-in-the-loop requests by kind and outcome"))
		if err != nil {
			return
		}
		humanRequestDuration, err = m.Float64Histogram("foreman_human_request_duration_seconds", metric.WithDescription("Time from a human request being opened to its resolution"))
		if err != nil {
			return
		}
		reviewsCounter, err = m.Int64Counter("foreman_reviews_total", metric.WithDescription("Total reviews by verdict"))
		if err != nil {
			return
		}
		mergeJobsCounter, err = m.Int64Counter("foreman_merge_jobs_total", metric.WithDescription("Total merge jobs by outcome"))
		if err != nil {
			return
		}
		sessionCostCounter, err = m.Float64Counter("foreman_session_cost_micros_total", metric.WithDescription("Total session cost recorded, in currency micros"))
		if err != nil {
			return
		}
		budgetExceededCounter, err = m.Int64Counter("foreman_budget_exceeded_total", metric.WithDescription("Total session starts refused for exceeding a budget cap"))
		if err != nil {
			return
		}
		sseEventsCounter, err = m.Int64Counter("foreman_sse_events_total", metric.WithDescription("Total realtime events published"))
		if err != nil {
			return
		}
		sseConnectionsGauge, err = m.Int64ObservableGauge("foreman_sse_connections", metric.WithDescription("Current realtime subscriber count"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			sseConnectionsMu.Lock()
			n := sseConnections
			sseConnectionsMu.Unlock()
			o.ObserveInt64(sseConnectionsGauge, n)
			return nil
		}, sseConnectionsGauge)
		if err != nil {
			return
		}
	})
	return err
}

// RecordTaskOp records a task operation (create, assign, claim, etc.).
func RecordTaskOp(ctx context.Context, op string, team string, status string) {
	if taskOpsCounter == nil {
		return
	}
	taskOpsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		AttrTeam.String(team),
		AttrStatus.String(status),
	))
}

// RecordTaskTransition records one status transition.
func RecordTaskTransition(ctx context.Context, team, from, to string) {
	if taskTransitionCounter == nil {
		return
	}
	taskTransitionCounter.Add(ctx, 1, metric.WithAttributes(
		AttrTeam.String(team),
		attribute.String("from", from),
		AttrStatus.String(to),
	))
}

// RecordDispatchTurn records a dispatcher turn and its duration.
func RecordDispatchTurn(ctx context.Context, team, agent string, duration time.Duration) {
	if dispatchTurnsCounter != nil {
		dispatchTurnsCounter.Add(ctx, 1, metric.WithAttributes(AttrTeam.String(team), AttrAgent.String(agent)))
	}
	if dispatchTurnDuration != nil {
		dispatchTurnDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(AttrTeam.String(team), AttrAgent.String(agent)))
	}
}

// RecordEventAppended records one event.log append.
func RecordEventAppended(ctx context.Context, eventType string) {
	if eventsAppendedCounter != nil {
		eventsAppendedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
	}
}

// RecordMessageSent records one inbox delivery.
func RecordMessageSent(ctx context.Context, team string) {
	if messagesSentCounter != nil {
		messagesSentCounter.Add(ctx, 1, metric.WithAttributes(AttrTeam.String(team)))
	}
}

// RecordHumanRequest records a human request being opened or resolved. When
// duration is non-zero it reflects the age of the request at resolution.
func RecordHumanRequest(ctx context.Context, team, kind, outcome string, duration time.Duration) {
	if humanRequestsCounter != nil {
		humanRequestsCounter.Add(ctx, 1, metric.WithAttributes(AttrTeam.String(team), AttrKind.String(kind), AttrStatus.String(outcome)))
	}
	if duration > 0 && humanRequestDuration != nil {
		humanRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(AttrTeam.String(team), AttrKind.String(kind)))
	}
}

// RecordReview records a review verdict.
func RecordReview(ctx context.Context, team, verdict string) {
	if reviewsCounter != nil {
		reviewsCounter.Add(ctx, 1, metric.WithAttributes(AttrTeam.String(team), AttrVerdict.String(verdict)))
	}
}

// RecordMergeJob records a merge job outcome.
func RecordMergeJob(ctx context.Context, strategy, status string) {
	if mergeJobsCounter != nil {
		mergeJobsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", strategy), AttrStatus.String(status)))
	}
}

// RecordSessionCost adds costMicros to the running session cost counter.
func RecordSessionCost(ctx context.Context, team string, costMicros int64) {
	if sessionCostCounter != nil {
		sessionCostCounter.Add(ctx, float64(costMicros), metric.WithAttributes(AttrTeam.String(team)))
	}
}

// RecordBudgetExceeded records a session start refused for a budget cap.
func RecordBudgetExceeded(ctx context.Context, team, cap string) {
	if budgetExceededCounter != nil {
		budgetExceededCounter.Add(ctx, 1, metric.WithAttributes(AttrTeam.String(team), attribute.String("cap", cap)))
	}
}

// RecordSSEEvent records one realtime event published.
func RecordSSEEvent(ctx context.Context) {
	if sseEventsCounter != nil {
		sseEventsCounter.Add(ctx, 1)
	}
}

// AddSSEConnection adds 1 to the realtime connection gauge (call on subscribe).
func AddSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections++
	sseConnectionsMu.Unlock()
}

// RemoveSSEConnection subtracts 1 from the realtime connection gauge (call on unsubscribe).
func RemoveSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections--
	if sseConnections < 0 {
		sseConnections = 0
	}
	sseConnectionsMu.Unlock()
}

// TaskCountFunc returns per-status task counts. Used for the foreman_tasks_total gauge.
type TaskCountFunc func() map[string]int64

// InitMetricsWithTaskCount creates instruments and optionally registers a callback for task gauges.
// Call after InitMeterProvider. If taskCount is nil, task gauges are not reported.
func InitMetricsWithTaskCount(ctx context.Context, taskCount TaskCountFunc) error {
	if err := InitMetrics(ctx); err != nil {
		return err
	}
	if taskCount == nil {
		return nil
	}
	m := Meter()
	tasksGauge, err := m.Float64ObservableGauge("foreman_tasks_total", metric.WithDescription("Number of tasks by status"))
	if err != nil {
		return err
	}
	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		for status, count := range taskCount() {
			o.ObserveFloat64(tasksGauge, float64(count), metric.WithAttributes(AttrStatus.String(status)))
		}
		return nil
	}, tasksGauge)
	return err
}
