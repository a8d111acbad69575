// Package session implements agent work-unit accounting and budget gating
// (spec §4.7): one open session per agent, usage recorded against a price
// schedule in fixed-point currency, and daily/per-task spend caps enforced
// before a new session is allowed to start.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deepampatel/foreman/internal/clock"
	"github.com/deepampatel/foreman/internal/coreerr"
	"github.com/deepampatel/foreman/internal/eventlog"
	"github.com/deepampatel/foreman/internal/money"
	"github.com/deepampatel/foreman/internal/store"
	"github.com/deepampatel/foreman/pkg/models"
)

// Ledger runs session accounting against a Store and a model price
// schedule keyed by model name.
type Ledger struct {
	Store  store.Store
	Prices map[string]models.PriceRates
	Clock  clock.Clock
	Events *eventlog.Log
}

func New(s store.Store, prices map[string]models.PriceRates, c clock.Clock) *Ledger {
	if c == nil {
		c = clock.Real{}
	}
	return &Ledger{Store: s, Prices: prices, Clock: c, Events: eventlog.New(s)}
}

// Start opens a new session for an agent, refusing if the agent already
// has one open (the Store enforces this with a unique partial index; a
// second refusal here would race) or if the team's budget is already
// exhausted for the day or the task.
func (l *Ledger) Start(ctx context.Context, teamID string, sess models.Session) (models.Session, error) {
	status, err := l.CheckBudget(ctx, teamID, sess.TaskID)
	if err != nil {
		return models.Session{}, err
	}
	if status.OverBudget {
		if status.TaskLimit > 0 && status.TaskSpent.Cmp(status.TaskLimit) >= 0 {
			return models.Session{}, coreerr.BudgetExceededErr("per_task", status.TaskSpent, status.TaskLimit)
		}
		return models.Session{}, coreerr.BudgetExceededErr("daily", status.DailySpent, status.DailyLimit)
	}
	return l.Store.StartSession(ctx, sess)
}

// RecordUsage prices a batch of token usage against the session's model
// and appends it to the session's running cost. Deltas are clamped to
// non-negative before being priced or persisted (spec §4.7): a negative
// delta from a misbehaving adapter must never decrement the running
// counters.
func (l *Ledger) RecordUsage(ctx context.Context, sessionID int64, model string, inTok, outTok, cacheRead, cacheWrite int64) (models.Session, error) {
	inTok = nonNegative(inTok)
	outTok = nonNegative(outTok)
	cacheRead = nonNegative(cacheRead)
	cacheWrite = nonNegative(cacheWrite)

	rates, ok := l.Prices[model]
	if !ok {
		rates = models.PriceRates{}
		data, _ := json.Marshal(map[string]string{"model": model})
		if _, err := l.Events.Append(ctx, models.Event{
			StreamID: fmt.Sprintf("session:%d", sessionID),
			Type:     models.EventCostUnknownModel,
			Data:     data,
		}); err != nil {
			return models.Session{}, err
		}
	}
	cost := money.PerMillionTokens(inTok, rates.InputPerMillion).
		Add(money.PerMillionTokens(outTok, rates.OutputPerMillion)).
		Add(money.PerMillionTokens(cacheRead, rates.CacheReadPerMillion)).
		Add(money.PerMillionTokens(cacheWrite, rates.CacheWritePerMillion))
	return l.Store.RecordSessionUsage(ctx, sessionID, inTok, outTok, cacheRead, cacheWrite, cost)
}

func nonNegative(x int64) int64 {
	if x < 0 {
		return 0
	}
	return x
}

// End closes a session, optionally recording the error that ended it.
func (l *Ledger) End(ctx context.Context, sessionID int64, errMsg string) (models.Session, error) {
	return l.Store.EndSession(ctx, sessionID, errMsg)
}

// CheckBudget reports current spend against a team's configured caps
// without mutating anything. A team with no configured limit is never
// over budget.
func (l *Ledger) CheckBudget(ctx context.Context, teamID string, taskID *int64) (models.BudgetStatus, error) {
	team, err := l.Store.GetTeam(ctx, teamID)
	if err != nil {
		return models.BudgetStatus{}, err
	}
	windowStart := l.Clock.Now().Add(-24 * time.Hour)
	daily, err := l.Store.SumSessionCostSince(ctx, teamID, windowStart)
	if err != nil {
		return models.BudgetStatus{}, err
	}
	status := models.BudgetStatus{DailySpent: daily}
	if team.Settings.DailyBudget != nil {
		status.DailyLimit = *team.Settings.DailyBudget
		if daily.Cmp(status.DailyLimit) >= 0 {
			status.OverBudget = true
		}
	}
	if taskID != nil {
		taskSpent, err := l.Store.SumSessionCostForTask(ctx, *taskID)
		if err != nil {
			return models.BudgetStatus{}, err
		}
		status.TaskSpent = taskSpent
		if team.Settings.PerTaskBudget != nil {
			status.TaskLimit = *team.Settings.PerTaskBudget
			if taskSpent.Cmp(status.TaskLimit) >= 0 {
				status.OverBudget = true
			}
		}
	}
	return status, nil
}
