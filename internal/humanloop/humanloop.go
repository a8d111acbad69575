// Package humanloop implements the human-in-the-loop request lifecycle of
// spec §4.4: an agent asks a question, approval, or review; a human (or, for
// an agent-reviewer, another agent) resolves it; unresolved requests past
// their deadline expire on their own.
package humanloop

import (
	"context"
	"log/slog"
	"time"

	"github.com/deepampatel/foreman/internal/clock"
	"github.com/deepampatel/foreman/internal/coreerr"
	"github.com/deepampatel/foreman/internal/store"
	"github.com/deepampatel/foreman/pkg/models"
)

// Loop runs the human-request lifecycle against a Store.
type Loop struct {
	Store store.Store
	Clock clock.Clock
}

func New(s store.Store, c clock.Clock) *Loop {
	if c == nil {
		c = clock.Real{}
	}
	return &Loop{Store: s, Clock: c}
}

// CreateRequest opens a pending human request, optionally with a deadline
// after which it auto-expires.
func (l *Loop) CreateRequest(ctx context.Context, req models.HumanRequest, timeout time.Duration) (models.HumanRequest, error) {
	if req.Question == "" {
		return models.HumanRequest{}, coreerr.Validationf("human request question is required")
	}
	if timeout > 0 {
		at := l.Clock.Now().Add(timeout)
		req.TimeoutAt = &at
	}
	return l.Store.CreateHumanRequest(ctx, req)
}

// Respond resolves a pending request with a response and the responder's
// identity. Responding to an already-resolved or expired request is a
// Conflict.
func (l *Loop) Respond(ctx context.Context, id int64, response, responder string) (models.HumanRequest, error) {
	return l.Store.ResolveHumanRequest(ctx, id, response, responder)
}

// GetByID fetches a single human request.
func (l *Loop) GetByID(ctx context.Context, id int64) (models.HumanRequest, error) {
	return l.Store.GetHumanRequest(ctx, id)
}

// ListPending lists a team's still-open requests.
func (l *Loop) ListPending(ctx context.Context, teamID string) ([]models.HumanRequest, error) {
	return l.Store.ListPendingHumanRequests(ctx, teamID)
}

// Expirer polls for pending requests past their timeout and marks them
// expired. It is the only component that expires requests, on every Store
// backend: the dispatcher's NOTIFY wakeups react to resolved requests, not
// to timeouts (spec §4.4, §6).
type Expirer struct {
	Loop     *Loop
	Interval time.Duration
}

func NewExpirer(l *Loop, interval time.Duration) *Expirer {
	if interval <= 0 {
		interval = time.Duration(models.DefaultHumanLoopExpiryPollSeconds) * time.Second
	}
	return &Expirer{Loop: l, Interval: interval}
}

// Run polls until ctx is cancelled, expiring overdue requests each tick.
func (e *Expirer) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.tick(ctx); err != nil {
				slog.Error("humanloop: expiry tick failed", "error", err)
			}
		}
	}
}

func (e *Expirer) tick(ctx context.Context) error {
	expired, err := e.Loop.Store.ExpirePendingHumanRequests(ctx, e.Loop.Clock.Now())
	if err != nil {
		return err
	}
	for _, req := range expired {
		slog.Info("humanloop: request expired", "request_id", req.ID, "team_id", req.TeamID, "agent_id", req.AgentID)
	}
	return nil
}
