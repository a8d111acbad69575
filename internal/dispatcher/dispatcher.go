// Package dispatcher implements the notification-driven turn loop of spec
// §4.4: agents accumulate messages in their inbox, and the Dispatcher turns
// "an agent has something to act on" into a bounded-concurrency agent turn.
// It is grounded on the teacher's internal/daemon/scheduler.go for its
// shape — a ticking loop, a bounded-concurrency semaphore, turn events
// fanned out to a publisher — generalized from the teacher's task-claim
// polling loop to a Store-notification-driven inbox dispatcher with
// per-agent coalescing.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/deepampatel/foreman/internal/adapter"
	"github.com/deepampatel/foreman/internal/config"
	"github.com/deepampatel/foreman/internal/eventlog"
	"github.com/deepampatel/foreman/internal/message"
	"github.com/deepampatel/foreman/internal/otel"
	"github.com/deepampatel/foreman/internal/realtime"
	"github.com/deepampatel/foreman/internal/store"
	"github.com/deepampatel/foreman/pkg/models"
)

// Dispatcher converts new_message/human_request_resolved/task_status_changed
// notifications into agent turns, bounding total in-flight turns and
// guaranteeing at most one turn per agent at a time.
type Dispatcher struct {
	Store    store.Store
	Messages *message.Bus
	Adapters *adapter.Registry
	Hub      realtime.Publisher
	Settings config.Settings
	Events   *eventlog.Log

	sem       chan struct{}
	agentLock sync.Map // agent ID -> *sync.Mutex
	wg        sync.WaitGroup
}

func New(s store.Store, messages *message.Bus, adapters *adapter.Registry, hub realtime.Publisher, settings config.Settings) *Dispatcher {
	max := settings.DispatcherMaxConcurrentTurns
	if max <= 0 {
		max = models.DefaultDispatcherMaxConcurrentTurns
	}
	return &Dispatcher{
		Store:    s,
		Messages: messages,
		Adapters: adapters,
		Hub:      hub,
		Settings: settings,
		Events:   eventlog.New(s),
		sem:      make(chan struct{}, max),
	}
}

// Run drives the dispatch loop until ctx is cancelled. If Store implements
// store.Notifier, notifications on new_message, human_request_resolved, and
// task_status_changed each wake an immediate dispatch attempt in addition
// to the fallback poll interval; a sqlite-backed Store has no Notifier and
// relies on the poll interval alone (spec §6 "no pub/sub").
func (d *Dispatcher) Run(ctx context.Context) error {
	interval := d.Settings.DispatcherFallbackPollSeconds
	if interval <= 0 {
		interval = models.DefaultDispatcherFallbackPollSeconds
	}
	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()

	cleanup := time.NewTicker(models.DefaultStuckAgentCleanupSeconds * time.Second)
	defer cleanup.Stop()

	newMessage, humanResolved, taskChanged := d.listenAll(ctx)

	for {
		select {
		case <-ctx.Done():
			d.awaitShutdown()
			return ctx.Err()
		case <-ticker.C:
			d.pollInboxes(ctx)
		case <-cleanup.C:
			d.cleanupStuckAgents(ctx)
		case payload, ok := <-newMessage:
			if ok {
				d.onNewMessage(ctx, payload)
			}
		case payload, ok := <-humanResolved:
			if ok {
				d.onHumanRequestResolved(ctx, payload)
			}
		case payload, ok := <-taskChanged:
			if ok {
				d.onTaskStatusChanged(ctx, payload)
			}
		}
	}
}

// listenAll subscribes to every channel §4.4 names, when the Store
// implements Notifier. A channel that fails to subscribe is left nil,
// which simply never fires in the select above.
func (d *Dispatcher) listenAll(ctx context.Context) (newMessage, humanResolved, taskChanged <-chan string) {
	n, ok := d.Store.(store.Notifier)
	if !ok {
		return nil, nil, nil
	}
	newMessage = d.listen(ctx, n, models.ChannelNewMessage)
	humanResolved = d.listen(ctx, n, models.ChannelHumanRequestResolved)
	taskChanged = d.listen(ctx, n, models.ChannelTaskStatusChanged)
	return newMessage, humanResolved, taskChanged
}

func (d *Dispatcher) listen(ctx context.Context, n store.Notifier, channel string) <-chan string {
	ch, err := n.Listen(ctx, channel)
	if err != nil {
		slog.Warn("dispatcher: listen failed, falling back to poll only", "channel", channel, "error", err)
		return nil
	}
	return ch
}

// awaitShutdown gives in-flight turns a grace period to finish (or persist
// a session.ended event) before Run returns, per spec §4.4 "Cancellation".
func (d *Dispatcher) awaitShutdown() {
	grace := time.Duration(models.DefaultDispatcherShutdownGraceSeconds) * time.Second
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		slog.Warn("dispatcher: shutdown grace period elapsed with turns still in flight")
	}
}

func (d *Dispatcher) onNewMessage(ctx context.Context, payload string) {
	id, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		slog.Error("dispatcher: malformed new_message payload", "payload", payload, "error", err)
		return
	}
	msg, err := d.Store.GetMessage(ctx, id)
	if err != nil {
		slog.Error("dispatcher: resolve new_message notification failed", "message_id", id, "error", err)
		return
	}
	if msg.RecipientType != models.PartyAgent {
		return
	}
	d.dispatch(ctx, msg.TeamID, msg.RecipientID)
}

func (d *Dispatcher) onHumanRequestResolved(ctx context.Context, payload string) {
	id, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		slog.Error("dispatcher: malformed human_request_resolved payload", "payload", payload, "error", err)
		return
	}
	req, err := d.Store.GetHumanRequest(ctx, id)
	if err != nil {
		slog.Error("dispatcher: resolve human_request_resolved notification failed", "request_id", id, "error", err)
		return
	}
	d.dispatch(ctx, req.TeamID, req.AgentID)
}

func (d *Dispatcher) onTaskStatusChanged(ctx context.Context, payload string) {
	id, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		slog.Error("dispatcher: malformed task_status_changed payload", "payload", payload, "error", err)
		return
	}
	t, err := d.Store.GetTask(ctx, id)
	if err != nil {
		slog.Error("dispatcher: resolve task_status_changed notification failed", "task_id", id, "error", err)
		return
	}
	if t.Assignee == nil || *t.Assignee == "" {
		return
	}
	d.dispatch(ctx, t.TeamID, *t.Assignee)
}

// cleanupStuckAgents resets agents whose status is "working" but who have
// no still-open session started within the last StuckAgentTimeout back to
// "idle", freeing them for the next dispatch. Grounded on the original
// backend's dispatcher cleanup loop, which does the same for agents stuck
// past 30 minutes.
func (d *Dispatcher) cleanupStuckAgents(ctx context.Context) {
	timeout := d.Settings.StuckAgentTimeout
	if timeout <= 0 {
		timeout = time.Duration(models.DefaultStuckAgentTimeoutSeconds) * time.Second
	}
	n, err := d.Store.ResetStuckAgents(ctx, timeout)
	if err != nil {
		slog.Error("dispatcher: reset stuck agents failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("dispatcher: reset stuck agents", "count", n)
	}
}

// pollInboxes is the fallback poll of spec §4.4: once per interval, scan
// every agent for an unprocessed inbox with no in-flight turn and dispatch
// it. Notification loss is non-fatal because of this.
func (d *Dispatcher) pollInboxes(ctx context.Context) {
	teams, err := d.Store.ListTeams(ctx)
	if err != nil {
		slog.Error("dispatcher: list teams failed", "error", err)
		return
	}
	for _, team := range teams {
		agents, err := d.Store.ListAgents(ctx, team.ID)
		if err != nil {
			slog.Error("dispatcher: list agents failed", "team_id", team.ID, "error", err)
			continue
		}
		for _, a := range agents {
			pending, err := d.Messages.Inbox(ctx, team.ID, a.ID, true, 1)
			if err != nil {
				slog.Error("dispatcher: poll inbox failed", "agent_id", a.ID, "error", err)
				continue
			}
			if len(pending) == 0 {
				continue
			}
			d.dispatch(ctx, team.ID, a.ID)
		}
	}
}

// dispatch attempts to start a turn for agentID. If a turn for this agent
// is already in flight, the attempt is coalesced: it is dropped, since the
// in-flight worker re-reads the inbox before exiting and will pick up
// whatever prompted this attempt (spec §4.4 "Concurrency & fairness").
func (d *Dispatcher) dispatch(ctx context.Context, teamID, agentID string) {
	lockAny, _ := d.agentLock.LoadOrStore(agentID, &sync.Mutex{})
	lock := lockAny.(*sync.Mutex)
	if !lock.TryLock() {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer lock.Unlock()
		select {
		case d.sem <- struct{}{}:
			defer func() { <-d.sem }()
		case <-ctx.Done():
			return
		}
		d.runAgentTurns(ctx, teamID, agentID)
	}()
}

// runAgentTurns drives a single agent's worker: fetch unprocessed inbox,
// run one turn against it, mark the consumed messages processed, then
// loop back and re-check the inbox before exiting. This re-check is the
// coalescing mechanism: a notification that arrived while the turn was
// running found the agent locked and was dropped, but its message is
// still sitting unprocessed and gets picked up here.
func (d *Dispatcher) runAgentTurns(ctx context.Context, teamID, agentID string) {
	for {
		msgs, err := d.Messages.Inbox(ctx, teamID, agentID, true, models.DefaultInboxListLimit)
		if err != nil {
			slog.Error("dispatcher: fetch inbox failed", "agent_id", agentID, "error", err)
			return
		}
		if len(msgs) == 0 {
			return
		}
		if err := d.runTurn(ctx, teamID, agentID, msgs); err != nil {
			slog.Error("dispatcher: turn failed", "agent_id", agentID, "error", err)
			return
		}
	}
}

func (d *Dispatcher) runTurn(ctx context.Context, teamID, agentID string, msgs []models.Message) error {
	agent, err := d.Store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	ad, err := d.Adapters.Resolve(agent.AdapterTag)
	if err != nil {
		return err
	}

	if err := d.Store.UpdateAgentStatus(ctx, agentID, models.AgentWorking); err != nil {
		return err
	}
	defer func() {
		if err := d.Store.UpdateAgentStatus(context.WithoutCancel(ctx), agentID, models.AgentIdle); err != nil {
			slog.Error("dispatcher: reset agent to idle failed", "agent_id", agentID, "error", err)
		}
	}()

	timeout := d.Settings.DispatcherTurnTimeout
	if timeout <= 0 {
		timeout = time.Duration(models.DefaultDispatcherTurnTimeoutSeconds) * time.Second
	}
	turnCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	_, runErr := ad.RunTurn(turnCtx, adapter.TurnRequest{
		Team:   teamID,
		Agent:  agentID,
		TaskID: firstTaskID(msgs),
		Input:  formatInbox(msgs),
	}, func(ev adapter.Event) {
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now().UTC()
		}
		realtime.Publish(d.Hub, "agent_activity", teamID, ev)
	})
	otel.RecordDispatchTurn(ctx, teamID, agentID, time.Since(start))

	if runErr != nil {
		d.logSessionEnded(context.WithoutCancel(ctx), agentID, runErr)
		realtime.Publish(d.Hub, "agent_activity", teamID, map[string]any{
			"agent": agentID, "tool": "error", "error": runErr.Error(),
		})
		return runErr
	}

	for _, m := range msgs {
		if err := d.Messages.MarkProcessed(ctx, m.ID); err != nil {
			return err
		}
	}
	return nil
}

// logSessionEnded records the session.ended event spec §4.4 requires a
// failed worker to persist, on the agent's own stream since a turn spans
// no single task. ctx should not carry the dispatcher's own cancellation,
// so this still gets written during shutdown.
func (d *Dispatcher) logSessionEnded(ctx context.Context, agentID string, cause error) {
	data, _ := json.Marshal(map[string]string{"error": cause.Error()})
	if _, err := d.Events.Append(ctx, models.Event{
		StreamID: fmt.Sprintf("agent:%s", agentID),
		Type:     models.EventSessionEnded,
		Data:     data,
	}); err != nil {
		slog.Error("dispatcher: append session.ended failed", "agent_id", agentID, "error", err)
	}
}

func firstTaskID(msgs []models.Message) *int64 {
	for _, m := range msgs {
		if m.TaskID != nil {
			return m.TaskID
		}
	}
	return nil
}

// formatInbox renders a batch of inbox messages as the Agent Runner's turn
// input: one line per message, oldest first (Inbox is already FIFO-ordered
// by message id per spec §4.3).
func formatInbox(msgs []models.Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s] %s", m.SenderID, m.Content)
	}
	return b.String()
}
