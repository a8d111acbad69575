// Package eventlog is a thin, typed front for the append-only event store
// (spec §4.1). It does not own persistence — store.Store already appends
// one event per state-changing call in the same transaction as that call —
// this package is the read-side: replay a stream, or scan the whole log by
// type for projections and the dashboard/webhook layers this module does
// not implement.
package eventlog

import (
	"context"
	"fmt"

	"github.com/deepampatel/foreman/internal/store"
	"github.com/deepampatel/foreman/pkg/models"
)

// Log is the read-side event log API.
type Log struct {
	Store store.Store
}

func New(s store.Store) *Log { return &Log{Store: s} }

// Stream returns every event recorded for a specific entity stream (e.g.
// "task:42"), in order, starting after afterID.
func (l *Log) Stream(ctx context.Context, streamID string, afterID int64, limit int) ([]models.Event, error) {
	return l.Store.StreamEvents(ctx, streamID, afterID, limit)
}

// TaskStream is a convenience wrapper over Stream for a task's stream id.
func (l *Log) TaskStream(ctx context.Context, taskID int64, afterID int64, limit int) ([]models.Event, error) {
	return l.Stream(ctx, fmt.Sprintf("task:%d", taskID), afterID, limit)
}

// ScanByType returns every event of a given type across all streams, in
// order, starting after afterID. Used by projections that need a global
// feed (e.g. "every merge.failed since X") rather than a single entity's
// history.
func (l *Log) ScanByType(ctx context.Context, eventType string, afterID int64, limit int) ([]models.Event, error) {
	return l.Store.ScanEventsByType(ctx, eventType, afterID, limit)
}

// Append records a standalone event not already implied by a Store mutation
// (e.g. cost.unknown_model, raised by the session package when a model has
// no price schedule entry).
func (l *Log) Append(ctx context.Context, evt models.Event) (models.Event, error) {
	return l.Store.AppendEvent(ctx, evt)
}
