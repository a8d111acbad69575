package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/deepampatel/foreman/internal/coreerr"
	"github.com/deepampatel/foreman/internal/money"
	"github.com/deepampatel/foreman/pkg/models"
)

func newID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// --- Teams ---

func (s *Store) CreateTeam(ctx context.Context, team models.Team) (models.Team, error) {
	if team.ID == "" {
		team.ID = newID("team")
	}
	team.CreatedAt = time.Now().UTC()
	settingsJSON, err := json.Marshal(team.Settings)
	if err != nil {
		return models.Team{}, err
	}
	_, err = s.Pool.Exec(ctx, `INSERT INTO teams(id, org_id, name, settings, created_at) VALUES($1,$2,$3,$4,$5)`,
		team.ID, team.OrgID, team.Name, settingsJSON, team.CreatedAt)
	if err != nil {
		return models.Team{}, fmt.Errorf("postgres: create team: %w", err)
	}
	return team, nil
}

func (s *Store) GetTeam(ctx context.Context, id string) (models.Team, error) {
	var t models.Team
	var settingsJSON []byte
	err := s.Pool.QueryRow(ctx, `SELECT id, org_id, name, settings, created_at FROM teams WHERE id=$1`, id).
		Scan(&t.ID, &t.OrgID, &t.Name, &settingsJSON, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Team{}, coreerr.NotFoundf("team %s not found", id)
	}
	if err != nil {
		return models.Team{}, err
	}
	_ = json.Unmarshal(settingsJSON, &t.Settings)
	return t, nil
}

func (s *Store) ListTeams(ctx context.Context) ([]models.Team, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, org_id, name, settings, created_at FROM teams ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Team
	for rows.Next() {
		var t models.Team
		var settingsJSON []byte
		if err := rows.Scan(&t.ID, &t.OrgID, &t.Name, &settingsJSON, &t.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(settingsJSON, &t.Settings)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) UpdateTeamSettings(ctx context.Context, teamID string, settings models.TeamSettings) (models.Team, error) {
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return models.Team{}, err
	}
	tag, err := s.Pool.Exec(ctx, `UPDATE teams SET settings=$1 WHERE id=$2`, settingsJSON, teamID)
	if err != nil {
		return models.Team{}, err
	}
	if tag.RowsAffected() == 0 {
		return models.Team{}, coreerr.NotFoundf("team %s not found", teamID)
	}
	if _, err := s.AppendEvent(ctx, models.Event{StreamID: "team:" + teamID, Type: models.EventSettingsUpdated, Data: settingsJSON}); err != nil {
		return models.Team{}, err
	}
	return s.GetTeam(ctx, teamID)
}

// --- Agents ---

func (s *Store) CreateAgent(ctx context.Context, agent models.Agent) (models.Agent, error) {
	if agent.ID == "" {
		agent.ID = newID("agent")
	}
	agent.CreatedAt = time.Now().UTC()
	if agent.Status == "" {
		agent.Status = models.AgentIdle
	}
	_, err := s.Pool.Exec(ctx, `INSERT INTO agents(id, team_id, name, role, status, adapter_tag, created_at) VALUES($1,$2,$3,$4,$5,$6,$7)`,
		agent.ID, agent.TeamID, agent.Name, agent.Role, agent.Status, agent.AdapterTag, agent.CreatedAt)
	if err != nil {
		return models.Agent{}, fmt.Errorf("postgres: create agent: %w", err)
	}
	return agent, nil
}

func (s *Store) GetAgent(ctx context.Context, id string) (models.Agent, error) {
	var a models.Agent
	err := s.Pool.QueryRow(ctx, `SELECT id, team_id, name, role, status, adapter_tag, created_at FROM agents WHERE id=$1`, id).
		Scan(&a.ID, &a.TeamID, &a.Name, &a.Role, &a.Status, &a.AdapterTag, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Agent{}, coreerr.NotFoundf("agent %s not found", id)
	}
	return a, err
}

func (s *Store) ListAgents(ctx context.Context, teamID string) ([]models.Agent, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, team_id, name, role, status, adapter_tag, created_at FROM agents WHERE team_id=$1 ORDER BY created_at ASC`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Agent
	for rows.Next() {
		var a models.Agent
		if err := rows.Scan(&a.ID, &a.TeamID, &a.Name, &a.Role, &a.Status, &a.AdapterTag, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) UpdateAgentStatus(ctx context.Context, agentID, status string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE agents SET status=$1 WHERE id=$2`, status, agentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return coreerr.NotFoundf("agent %s not found", agentID)
	}
	return nil
}

// ResetStuckAgents resets agents stuck in "working" status with no still-open
// session started in the last olderThan duration back to "idle" (grounded on the
// original backend's dispatcher cleanup loop, which resets agents stuck in
// "working" for more than 30 minutes).
func (s *Store) ResetStuckAgents(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := s.Pool.Exec(ctx, `UPDATE agents SET status=$1 WHERE status=$2 AND id NOT IN (
		SELECT agent_id FROM sessions WHERE ended_at IS NULL AND started_at > $3
	)`, models.AgentIdle, models.AgentWorking, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// --- Repositories ---

func (s *Store) CreateRepository(ctx context.Context, repo models.Repository) (models.Repository, error) {
	if repo.ID == "" {
		repo.ID = newID("repo")
	}
	repo.CreatedAt = time.Now().UTC()
	_, err := s.Pool.Exec(ctx, `INSERT INTO repositories(id, team_id, name, url, created_at) VALUES($1,$2,$3,$4,$5)`,
		repo.ID, repo.TeamID, repo.Name, repo.URL, repo.CreatedAt)
	if err != nil {
		return models.Repository{}, fmt.Errorf("postgres: create repository: %w", err)
	}
	return repo, nil
}

func (s *Store) GetRepository(ctx context.Context, id string) (models.Repository, error) {
	var r models.Repository
	err := s.Pool.QueryRow(ctx, `SELECT id, team_id, name, url, created_at FROM repositories WHERE id=$1`, id).
		Scan(&r.ID, &r.TeamID, &r.Name, &r.URL, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Repository{}, coreerr.NotFoundf("repository %s not found", id)
	}
	return r, err
}

func (s *Store) ListRepositories(ctx context.Context, teamID string) ([]models.Repository, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, team_id, name, url, created_at FROM repositories WHERE team_id=$1 ORDER BY created_at ASC`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Repository
	for rows.Next() {
		var r models.Repository
		if err := rows.Scan(&r.ID, &r.TeamID, &r.Name, &r.URL, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Tasks ---

func scanTask(row pgx.Row) (models.Task, error) {
	var t models.Task
	var repoIDs, tags, metadata []byte
	err := row.Scan(&t.ID, &t.TeamID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.DRI, &t.Assignee,
		&repoIDs, &tags, &t.BranchName, &metadata, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt)
	if err != nil {
		return models.Task{}, err
	}
	_ = json.Unmarshal(repoIDs, &t.RepoIDs)
	_ = json.Unmarshal(tags, &t.Tags)
	_ = json.Unmarshal(metadata, &t.Metadata)
	return t, nil
}

const taskColumns = `id, team_id, title, description, status, priority, dri, assignee, repo_ids, tags, branch_name, metadata, created_at, updated_at, completed_at`

func (s *Store) createTaskTx(ctx context.Context, tx pgx.Tx, teamID string, in models.TaskCreateInput) (models.Task, error) {
	now := time.Now().UTC()
	repoIDs, _ := json.Marshal(in.RepoIDs)
	tags, _ := json.Marshal(in.Tags)
	metadata, _ := json.Marshal(in.Metadata)
	priority := in.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	var id int64
	err := tx.QueryRow(ctx, `INSERT INTO tasks(team_id, title, description, status, priority, repo_ids, tags, metadata, created_at, updated_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$9) RETURNING id`,
		teamID, in.Title, in.Description, models.StatusTodo, priority, repoIDs, tags, metadata, now).Scan(&id)
	if err != nil {
		return models.Task{}, err
	}
	for _, dep := range in.DependsOn {
		if _, err := tx.Exec(ctx, `INSERT INTO task_dependencies(task_id, depends_on_task_id) VALUES($1,$2)`, id, dep); err != nil {
			return models.Task{}, err
		}
	}
	t, err := scanTask(tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, id))
	if err != nil {
		return models.Task{}, err
	}
	t.DependsOn = in.DependsOn
	data, _ := json.Marshal(t)
	if _, err := tx.Exec(ctx, `INSERT INTO events(stream_id, type, data, metadata, created_at) VALUES($1,$2,$3,'{}',$4)`,
		"task:"+fmt.Sprint(id), models.EventTaskCreated, data, now); err != nil {
		return models.Task{}, err
	}
	return t, nil
}

func (s *Store) CreateTask(ctx context.Context, teamID string, in models.TaskCreateInput) (models.Task, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return models.Task{}, err
	}
	defer tx.Rollback(ctx)
	t, err := s.createTaskTx(ctx, tx, teamID, in)
	if err != nil {
		return models.Task{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Task{}, err
	}
	return t, nil
}

func (s *Store) BatchCreateTasks(ctx context.Context, teamID string, ins []models.TaskCreateInput) ([]models.Task, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	out := make([]models.Task, len(ins))
	for i, in := range ins {
		resolved := make([]int64, 0, len(in.DependsOn)+len(in.DependsOnIndices))
		resolved = append(resolved, in.DependsOn...)
		for _, idx := range in.DependsOnIndices {
			if idx < 0 || idx >= len(out) || idx >= i {
				return nil, coreerr.Validationf("batch task %d depends_on_index %d is not an earlier task in the batch", i, idx)
			}
			resolved = append(resolved, out[idx].ID)
		}
		in.DependsOn = resolved
		t, err := s.createTaskTx(ctx, tx, teamID, in)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) getTaskWithDeps(ctx context.Context, id int64) (models.Task, error) {
	t, err := scanTask(s.Pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Task{}, coreerr.NotFoundf("task %d not found", id)
	}
	if err != nil {
		return models.Task{}, err
	}
	rows, err := s.Pool.Query(ctx, `SELECT depends_on_task_id FROM task_dependencies WHERE task_id=$1`, id)
	if err != nil {
		return models.Task{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var dep int64
		if err := rows.Scan(&dep); err != nil {
			return models.Task{}, err
		}
		t.DependsOn = append(t.DependsOn, dep)
	}
	return t, rows.Err()
}

func (s *Store) GetTask(ctx context.Context, id int64) (models.Task, error) {
	return s.getTaskWithDeps(ctx, id)
}

func (s *Store) ListTasksByIDs(ctx context.Context, ids []int64) ([]models.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.Pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ListTasks(ctx context.Context, teamID, status string, limit int) ([]models.Task, error) {
	if limit <= 0 {
		limit = models.DefaultTaskListLimit
	}
	var rows pgx.Rows
	var err error
	if status != "" {
		rows, err = s.Pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE team_id=$1 AND status=$2 ORDER BY created_at ASC LIMIT $3`, teamID, status, limit)
	} else {
		rows, err = s.Pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE team_id=$1 ORDER BY created_at ASC LIMIT $2`, teamID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) AssignTask(ctx context.Context, taskID int64, assignee string) (models.Task, error) {
	now := time.Now().UTC()
	tag, err := s.Pool.Exec(ctx, `UPDATE tasks SET assignee=$1, updated_at=$2 WHERE id=$3`, assignee, now, taskID)
	if err != nil {
		return models.Task{}, err
	}
	if tag.RowsAffected() == 0 {
		return models.Task{}, coreerr.NotFoundf("task %d not found", taskID)
	}
	data, _ := json.Marshal(map[string]any{"assignee": assignee})
	if _, err := s.AppendEvent(ctx, models.Event{StreamID: fmt.Sprintf("task:%d", taskID), Type: models.EventTaskAssigned, Data: data}); err != nil {
		return models.Task{}, err
	}
	return s.getTaskWithDeps(ctx, taskID)
}

func (s *Store) ChangeTaskStatus(ctx context.Context, taskID int64, from, to, actorID string) (models.Task, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return models.Task{}, err
	}
	defer tx.Rollback(ctx)

	var current string
	if err := tx.QueryRow(ctx, `SELECT status FROM tasks WHERE id=$1 FOR UPDATE`, taskID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Task{}, coreerr.NotFoundf("task %d not found", taskID)
		}
		return models.Task{}, err
	}
	if current != from {
		return models.Task{}, coreerr.Conflictf("task %d is %s, not %s", taskID, current, from)
	}
	now := time.Now().UTC()
	var completedAt *time.Time
	if to == models.StatusDone || to == models.StatusCancelled {
		completedAt = &now
	}
	if _, err := tx.Exec(ctx, `UPDATE tasks SET status=$1, updated_at=$2, completed_at=$3 WHERE id=$4`, to, now, completedAt, taskID); err != nil {
		return models.Task{}, err
	}
	data, _ := json.Marshal(map[string]any{"from": from, "to": to, "actor_id": actorID})
	meta, _ := json.Marshal(models.EventMetadata{ActorID: actorID})
	if _, err := tx.Exec(ctx, `INSERT INTO events(stream_id, type, data, metadata, created_at) VALUES($1,$2,$3,$4,$5)`,
		fmt.Sprintf("task:%d", taskID), models.EventTaskStatusChanged, data, meta, now); err != nil {
		return models.Task{}, err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, models.ChannelTaskStatusChanged, fmt.Sprintf("%d", taskID)); err != nil {
		return models.Task{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Task{}, err
	}
	return s.getTaskWithDeps(ctx, taskID)
}

func (s *Store) NextRunnableTask(ctx context.Context, teamID string) (*models.Task, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT `+taskColumns+` FROM tasks
WHERE team_id=$1 AND status=$2
ORDER BY created_at ASC FOR UPDATE SKIP LOCKED`, teamID, models.StatusTodo)
	if err != nil {
		return nil, err
	}
	var candidates []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range candidates {
		deps, err := tx.Query(ctx, `SELECT dt.status FROM task_dependencies td JOIN tasks dt ON dt.id=td.depends_on_task_id WHERE td.task_id=$1`, candidates[i].ID)
		if err != nil {
			return nil, err
		}
		runnable := true
		for deps.Next() {
			var status string
			if err := deps.Scan(&status); err != nil {
				deps.Close()
				return nil, err
			}
			if status != models.StatusDone {
				runnable = false
			}
		}
		deps.Close()
		if runnable {
			if err := tx.Commit(ctx); err != nil {
				return nil, err
			}
			out := candidates[i]
			return &out, nil
		}
	}
	return nil, nil
}

// --- Messages ---

func (s *Store) SendMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	msg.DeliveredAt = time.Now().UTC()
	err := s.Pool.QueryRow(ctx, `INSERT INTO messages(team_id, sender_id, sender_type, recipient_id, recipient_type, task_id, content, delivered_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		msg.TeamID, msg.SenderID, msg.SenderType, msg.RecipientID, msg.RecipientType, msg.TaskID, msg.Content, msg.DeliveredAt).Scan(&msg.ID)
	if err != nil {
		return models.Message{}, fmt.Errorf("postgres: send message: %w", err)
	}
	data, _ := json.Marshal(msg)
	if _, err := s.AppendEvent(ctx, models.Event{StreamID: "team:" + msg.TeamID, Type: models.EventMessageSent, Data: data}); err != nil {
		return models.Message{}, err
	}
	if _, err := s.Pool.Exec(ctx, `SELECT pg_notify($1, $2)`, models.ChannelNewMessage, fmt.Sprintf("%d", msg.ID)); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

func (s *Store) GetMessage(ctx context.Context, id int64) (models.Message, error) {
	m, err := scanMessage(s.Pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Message{}, coreerr.NotFoundf("message %d not found", id)
	}
	return m, err
}

func scanMessage(row pgx.Row) (models.Message, error) {
	var m models.Message
	err := row.Scan(&m.ID, &m.TeamID, &m.SenderID, &m.SenderType, &m.RecipientID, &m.RecipientType, &m.TaskID, &m.Content, &m.DeliveredAt, &m.SeenAt, &m.ProcessedAt)
	return m, err
}

const messageColumns = `id, team_id, sender_id, sender_type, recipient_id, recipient_type, task_id, content, delivered_at, seen_at, processed_at`

func (s *Store) ListInbox(ctx context.Context, teamID, recipientID string, onlyUnprocessed bool, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = models.DefaultInboxListLimit
	}
	q := `SELECT ` + messageColumns + ` FROM messages WHERE team_id=$1 AND recipient_id=$2`
	if onlyUnprocessed {
		q += ` AND processed_at IS NULL`
	}
	q += ` ORDER BY delivered_at ASC LIMIT $3`
	rows, err := s.Pool.Query(ctx, q, teamID, recipientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) MarkMessageSeen(ctx context.Context, id int64) error {
	_, err := s.Pool.Exec(ctx, `UPDATE messages SET seen_at=$1 WHERE id=$2 AND seen_at IS NULL`, time.Now().UTC(), id)
	return err
}

func (s *Store) MarkMessageProcessed(ctx context.Context, id int64) error {
	_, err := s.Pool.Exec(ctx, `UPDATE messages SET processed_at=$1 WHERE id=$2 AND processed_at IS NULL`, time.Now().UTC(), id)
	return err
}

// --- Human requests ---

func (s *Store) CreateHumanRequest(ctx context.Context, req models.HumanRequest) (models.HumanRequest, error) {
	req.Status = models.RequestPending
	req.CreatedAt = time.Now().UTC()
	options, _ := json.Marshal(req.Options)
	err := s.Pool.QueryRow(ctx, `INSERT INTO human_requests(team_id, agent_id, task_id, kind, question, options, status, timeout_at, created_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		req.TeamID, req.AgentID, req.TaskID, req.Kind, req.Question, options, req.Status, req.TimeoutAt, req.CreatedAt).Scan(&req.ID)
	if err != nil {
		return models.HumanRequest{}, fmt.Errorf("postgres: create human request: %w", err)
	}
	data, _ := json.Marshal(req)
	if _, err := s.AppendEvent(ctx, models.Event{StreamID: fmt.Sprintf("human_request:%d", req.ID), Type: models.EventHumanRequestCreated, Data: data}); err != nil {
		return models.HumanRequest{}, err
	}
	return req, nil
}

func scanHumanRequest(row pgx.Row) (models.HumanRequest, error) {
	var r models.HumanRequest
	var options []byte
	err := row.Scan(&r.ID, &r.TeamID, &r.AgentID, &r.TaskID, &r.Kind, &r.Question, &options, &r.Status, &r.Response, &r.Responder, &r.TimeoutAt, &r.CreatedAt, &r.ResolvedAt)
	if err != nil {
		return models.HumanRequest{}, err
	}
	_ = json.Unmarshal(options, &r.Options)
	return r, nil
}

const humanRequestColumns = `id, team_id, agent_id, task_id, kind, question, options, status, response, responder, timeout_at, created_at, resolved_at`

func (s *Store) GetHumanRequest(ctx context.Context, id int64) (models.HumanRequest, error) {
	r, err := scanHumanRequest(s.Pool.QueryRow(ctx, `SELECT `+humanRequestColumns+` FROM human_requests WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.HumanRequest{}, coreerr.NotFoundf("human request %d not found", id)
	}
	return r, err
}

func (s *Store) ResolveHumanRequest(ctx context.Context, id int64, response, responder string) (models.HumanRequest, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return models.HumanRequest{}, err
	}
	defer tx.Rollback(ctx)

	var status string
	if err := tx.QueryRow(ctx, `SELECT status FROM human_requests WHERE id=$1 FOR UPDATE`, id).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.HumanRequest{}, coreerr.NotFoundf("human request %d not found", id)
		}
		return models.HumanRequest{}, err
	}
	if status != models.RequestPending {
		return models.HumanRequest{}, coreerr.Conflictf("human request %d is %s, not pending", id, status)
	}
	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `UPDATE human_requests SET status=$1, response=$2, responder=$3, resolved_at=$4 WHERE id=$5`,
		models.RequestResolved, response, responder, now, id); err != nil {
		return models.HumanRequest{}, err
	}
	data, _ := json.Marshal(map[string]any{"response": response, "responder": responder})
	if _, err := tx.Exec(ctx, `INSERT INTO events(stream_id, type, data, metadata, created_at) VALUES($1,$2,$3,'{}',$4)`,
		fmt.Sprintf("human_request:%d", id), models.EventHumanRequestResolved, data, now); err != nil {
		return models.HumanRequest{}, err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, models.ChannelHumanRequestResolved, fmt.Sprintf("%d", id)); err != nil {
		return models.HumanRequest{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.HumanRequest{}, err
	}
	return s.GetHumanRequest(ctx, id)
}

func (s *Store) ExpirePendingHumanRequests(ctx context.Context, now time.Time) ([]models.HumanRequest, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT id FROM human_requests WHERE status=$1 AND timeout_at IS NOT NULL AND timeout_at <= $2 FOR UPDATE`, models.RequestPending, now)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	var out []models.HumanRequest
	for _, id := range ids {
		if _, err := tx.Exec(ctx, `UPDATE human_requests SET status=$1, resolved_at=$2 WHERE id=$3`, models.RequestExpired, now, id); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO events(stream_id, type, data, metadata, created_at) VALUES($1,$2,'{}','{}',$3)`,
			fmt.Sprintf("human_request:%d", id), models.EventHumanRequestExpired, now); err != nil {
			return nil, err
		}
		r, err := scanHumanRequest(tx.QueryRow(ctx, `SELECT `+humanRequestColumns+` FROM human_requests WHERE id=$1`, id))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListPendingHumanRequests(ctx context.Context, teamID string) ([]models.HumanRequest, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+humanRequestColumns+` FROM human_requests WHERE team_id=$1 AND status=$2 ORDER BY created_at ASC`, teamID, models.RequestPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.HumanRequest
	for rows.Next() {
		r, err := scanHumanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Sessions ---

func (s *Store) StartSession(ctx context.Context, sess models.Session) (models.Session, error) {
	sess.StartedAt = time.Now().UTC()
	err := s.Pool.QueryRow(ctx, `INSERT INTO sessions(agent_id, task_id, model, started_at) VALUES($1,$2,$3,$4) RETURNING id`,
		sess.AgentID, sess.TaskID, sess.Model, sess.StartedAt).Scan(&sess.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Session{}, coreerr.Conflictf("agent %s already has an open session", sess.AgentID)
		}
		return models.Session{}, fmt.Errorf("postgres: start session: %w", err)
	}
	data, _ := json.Marshal(sess)
	if _, err := s.AppendEvent(ctx, models.Event{StreamID: fmt.Sprintf("session:%d", sess.ID), Type: models.EventSessionStarted, Data: data}); err != nil {
		return models.Session{}, err
	}
	return sess, nil
}

func scanSession(row pgx.Row) (models.Session, error) {
	var sess models.Session
	var cost int64
	err := row.Scan(&sess.ID, &sess.AgentID, &sess.TaskID, &sess.Model, &sess.StartedAt, &sess.EndedAt,
		&sess.InputTokens, &sess.OutputTokens, &sess.CacheRead, &sess.CacheWrite, &cost, &sess.Error)
	sess.Cost = money.Micros(cost)
	return sess, err
}

const sessionColumns = `id, agent_id, task_id, model, started_at, ended_at, input_tokens, output_tokens, cache_read_tokens, cache_write_tokens, cost_micros, error`

func (s *Store) GetOpenSession(ctx context.Context, agentID string) (*models.Session, error) {
	sess, err := scanSession(s.Pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE agent_id=$1 AND ended_at IS NULL`, agentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) RecordSessionUsage(ctx context.Context, sessionID int64, inTok, outTok, cacheRead, cacheWrite int64, cost money.Micros) (models.Session, error) {
	tag, err := s.Pool.Exec(ctx, `UPDATE sessions SET input_tokens=input_tokens+$1, output_tokens=output_tokens+$2,
cache_read_tokens=cache_read_tokens+$3, cache_write_tokens=cache_write_tokens+$4, cost_micros=cost_micros+$5 WHERE id=$6`,
		inTok, outTok, cacheRead, cacheWrite, int64(cost), sessionID)
	if err != nil {
		return models.Session{}, err
	}
	if tag.RowsAffected() == 0 {
		return models.Session{}, coreerr.NotFoundf("session %d not found", sessionID)
	}
	data, _ := json.Marshal(map[string]any{"input_tokens": inTok, "output_tokens": outTok, "cache_read_tokens": cacheRead, "cache_write_tokens": cacheWrite, "cost_micros": int64(cost)})
	if _, err := s.AppendEvent(ctx, models.Event{StreamID: fmt.Sprintf("session:%d", sessionID), Type: models.EventSessionUsage, Data: data}); err != nil {
		return models.Session{}, err
	}
	return scanSession(s.Pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=$1`, sessionID))
}

func (s *Store) EndSession(ctx context.Context, sessionID int64, errMsg string) (models.Session, error) {
	now := time.Now().UTC()
	tag, err := s.Pool.Exec(ctx, `UPDATE sessions SET ended_at=$1, error=$2 WHERE id=$3 AND ended_at IS NULL`, now, errMsg, sessionID)
	if err != nil {
		return models.Session{}, err
	}
	if tag.RowsAffected() == 0 {
		return models.Session{}, coreerr.Conflictf("session %d already ended or does not exist", sessionID)
	}
	data, _ := json.Marshal(map[string]any{"error": errMsg})
	if _, err := s.AppendEvent(ctx, models.Event{StreamID: fmt.Sprintf("session:%d", sessionID), Type: models.EventSessionEnded, Data: data}); err != nil {
		return models.Session{}, err
	}
	return scanSession(s.Pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=$1`, sessionID))
}

func (s *Store) SumSessionCostSince(ctx context.Context, teamID string, since time.Time) (money.Micros, error) {
	var total int64
	err := s.Pool.QueryRow(ctx, `SELECT COALESCE(SUM(s.cost_micros),0) FROM sessions s
JOIN agents a ON a.id = s.agent_id WHERE a.team_id=$1 AND s.started_at >= $2`, teamID, since).Scan(&total)
	return money.Micros(total), err
}

func (s *Store) SumSessionCostForTask(ctx context.Context, taskID int64) (money.Micros, error) {
	var total int64
	err := s.Pool.QueryRow(ctx, `SELECT COALESCE(SUM(cost_micros),0) FROM sessions WHERE task_id=$1`, taskID).Scan(&total)
	return money.Micros(total), err
}

// --- Reviews ---

func (s *Store) CreateReview(ctx context.Context, review models.Review) (models.Review, error) {
	review.CreatedAt = time.Now().UTC()
	err := s.Pool.QueryRow(ctx, `INSERT INTO reviews(task_id, attempt, reviewer, reviewer_type, summary, created_at) VALUES($1,$2,$3,$4,$5,$6) RETURNING id`,
		review.TaskID, review.Attempt, review.Reviewer, review.ReviewerType, review.Summary, review.CreatedAt).Scan(&review.ID)
	if err != nil {
		return models.Review{}, fmt.Errorf("postgres: create review: %w", err)
	}
	data, _ := json.Marshal(review)
	if _, err := s.AppendEvent(ctx, models.Event{StreamID: fmt.Sprintf("task:%d", review.TaskID), Type: models.EventReviewCreated, Data: data}); err != nil {
		return models.Review{}, err
	}
	return review, nil
}

func scanReview(row pgx.Row) (models.Review, error) {
	var r models.Review
	err := row.Scan(&r.ID, &r.TaskID, &r.Attempt, &r.Reviewer, &r.ReviewerType, &r.Verdict, &r.Summary, &r.CreatedAt, &r.ResolvedAt)
	return r, err
}

const reviewColumns = `id, task_id, attempt, reviewer, reviewer_type, verdict, summary, created_at, resolved_at`

func (s *Store) AddReviewComment(ctx context.Context, comment models.ReviewComment) (models.ReviewComment, error) {
	comment.CreatedAt = time.Now().UTC()
	err := s.Pool.QueryRow(ctx, `INSERT INTO review_comments(review_id, author, author_type, content, file_path, line_number, created_at)
VALUES($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		comment.ReviewID, comment.Author, comment.AuthorType, comment.Content, comment.FilePath, comment.LineNumber, comment.CreatedAt).Scan(&comment.ID)
	if err != nil {
		return models.ReviewComment{}, fmt.Errorf("postgres: add review comment: %w", err)
	}
	data, _ := json.Marshal(comment)
	if _, err := s.AppendEvent(ctx, models.Event{StreamID: fmt.Sprintf("review:%d", comment.ReviewID), Type: models.EventReviewCommentAdded, Data: data}); err != nil {
		return models.ReviewComment{}, err
	}
	return comment, nil
}

func (s *Store) SetReviewVerdict(ctx context.Context, reviewID int64, verdict, summary string) (models.Review, error) {
	now := time.Now().UTC()
	tag, err := s.Pool.Exec(ctx, `UPDATE reviews SET verdict=$1, summary=$2, resolved_at=$3 WHERE id=$4 AND resolved_at IS NULL`, verdict, summary, now, reviewID)
	if err != nil {
		return models.Review{}, err
	}
	if tag.RowsAffected() == 0 {
		return models.Review{}, coreerr.Conflictf("review %d already has a verdict or does not exist", reviewID)
	}
	r, err := scanReview(s.Pool.QueryRow(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id=$1`, reviewID))
	if err != nil {
		return models.Review{}, err
	}
	data, _ := json.Marshal(r)
	if _, err := s.AppendEvent(ctx, models.Event{StreamID: fmt.Sprintf("task:%d", r.TaskID), Type: models.EventReviewVerdict, Data: data}); err != nil {
		return models.Review{}, err
	}
	return r, nil
}

func (s *Store) GetLatestReview(ctx context.Context, taskID int64) (*models.Review, error) {
	r, err := scanReview(s.Pool.QueryRow(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE task_id=$1 ORDER BY attempt DESC LIMIT 1`, taskID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) CountReviewAttempts(ctx context.Context, taskID int64) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM reviews WHERE task_id=$1`, taskID).Scan(&n)
	return n, err
}

func (s *Store) ListReviewComments(ctx context.Context, reviewID int64) ([]models.ReviewComment, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, review_id, author, author_type, content, file_path, line_number, created_at FROM review_comments WHERE review_id=$1 ORDER BY created_at ASC`, reviewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ReviewComment
	for rows.Next() {
		var c models.ReviewComment
		if err := rows.Scan(&c.ID, &c.ReviewID, &c.Author, &c.AuthorType, &c.Content, &c.FilePath, &c.LineNumber, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Merge jobs ---

func (s *Store) CreateMergeJob(ctx context.Context, job models.MergeJob) (models.MergeJob, error) {
	job.Status = models.MergeQueued
	job.CreatedAt = time.Now().UTC()
	err := s.Pool.QueryRow(ctx, `INSERT INTO merge_jobs(task_id, repo_id, status, strategy, created_at) VALUES($1,$2,$3,$4,$5) RETURNING id`,
		job.TaskID, job.RepoID, job.Status, job.Strategy, job.CreatedAt).Scan(&job.ID)
	if err != nil {
		return models.MergeJob{}, fmt.Errorf("postgres: create merge job: %w", err)
	}
	data, _ := json.Marshal(job)
	if _, err := s.AppendEvent(ctx, models.Event{StreamID: fmt.Sprintf("task:%d", job.TaskID), Type: models.EventMergeQueued, Data: data}); err != nil {
		return models.MergeJob{}, err
	}
	return job, nil
}

func scanMergeJob(row pgx.Row) (models.MergeJob, error) {
	var j models.MergeJob
	err := row.Scan(&j.ID, &j.TaskID, &j.RepoID, &j.Status, &j.Strategy, &j.CommitHash, &j.Error, &j.CreatedAt, &j.StartedAt, &j.FinishedAt)
	return j, err
}

const mergeJobColumns = `id, task_id, repo_id, status, strategy, commit_hash, error, created_at, started_at, finished_at`

func (s *Store) GetMergeJob(ctx context.Context, id int64) (models.MergeJob, error) {
	j, err := scanMergeJob(s.Pool.QueryRow(ctx, `SELECT `+mergeJobColumns+` FROM merge_jobs WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.MergeJob{}, coreerr.NotFoundf("merge job %d not found", id)
	}
	return j, err
}

func (s *Store) ListQueuedMergeJobs(ctx context.Context, limit int) ([]models.MergeJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Pool.Query(ctx, `SELECT `+mergeJobColumns+` FROM merge_jobs WHERE status=$1 ORDER BY created_at ASC LIMIT $2`, models.MergeQueued, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.MergeJob
	for rows.Next() {
		j, err := scanMergeJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) ListMergeJobsByTask(ctx context.Context, taskID int64) ([]models.MergeJob, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+mergeJobColumns+` FROM merge_jobs WHERE task_id=$1 ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.MergeJob
	for rows.Next() {
		j, err := scanMergeJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) StartMergeJob(ctx context.Context, id int64) (models.MergeJob, error) {
	now := time.Now().UTC()
	tag, err := s.Pool.Exec(ctx, `UPDATE merge_jobs SET status=$1, started_at=$2 WHERE id=$3 AND status=$4`, models.MergeRunning, now, id, models.MergeQueued)
	if err != nil {
		return models.MergeJob{}, err
	}
	if tag.RowsAffected() == 0 {
		return models.MergeJob{}, coreerr.Conflictf("merge job %d is not queued", id)
	}
	if _, err := s.AppendEvent(ctx, models.Event{StreamID: fmt.Sprintf("merge_job:%d", id), Type: models.EventMergeStarted}); err != nil {
		return models.MergeJob{}, err
	}
	return s.GetMergeJob(ctx, id)
}

func (s *Store) FinishMergeJob(ctx context.Context, id int64, status string, commitHash *string, errMsg string) (models.MergeJob, error) {
	now := time.Now().UTC()
	tag, err := s.Pool.Exec(ctx, `UPDATE merge_jobs SET status=$1, commit_hash=$2, error=$3, finished_at=$4 WHERE id=$5`, status, commitHash, errMsg, now, id)
	if err != nil {
		return models.MergeJob{}, err
	}
	if tag.RowsAffected() == 0 {
		return models.MergeJob{}, coreerr.NotFoundf("merge job %d not found", id)
	}
	evtType := models.EventMergeCompleted
	if status == models.MergeFailed {
		evtType = models.EventMergeFailed
	}
	data, _ := json.Marshal(map[string]any{"status": status, "commit_hash": commitHash, "error": errMsg})
	if _, err := s.AppendEvent(ctx, models.Event{StreamID: fmt.Sprintf("merge_job:%d", id), Type: evtType, Data: data}); err != nil {
		return models.MergeJob{}, err
	}
	return s.GetMergeJob(ctx, id)
}

// --- Event log ---

func (s *Store) AppendEvent(ctx context.Context, evt models.Event) (models.Event, error) {
	evt.CreatedAt = time.Now().UTC()
	if evt.Data == nil {
		evt.Data = json.RawMessage("{}")
	}
	meta, err := json.Marshal(evt.Metadata)
	if err != nil {
		return models.Event{}, err
	}
	err = s.Pool.QueryRow(ctx, `INSERT INTO events(stream_id, type, data, metadata, created_at) VALUES($1,$2,$3,$4,$5) RETURNING id`,
		evt.StreamID, evt.Type, evt.Data, meta, evt.CreatedAt).Scan(&evt.ID)
	if err != nil {
		return models.Event{}, fmt.Errorf("postgres: append event: %w", err)
	}
	return evt, nil
}

func scanEvent(row pgx.Row) (models.Event, error) {
	var e models.Event
	var meta []byte
	err := row.Scan(&e.ID, &e.StreamID, &e.Type, &e.Data, &meta, &e.CreatedAt)
	if err != nil {
		return models.Event{}, err
	}
	_ = json.Unmarshal(meta, &e.Metadata)
	return e, nil
}

func (s *Store) StreamEvents(ctx context.Context, streamID string, afterID int64, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.Pool.Query(ctx, `SELECT id, stream_id, type, data, metadata, created_at FROM events WHERE stream_id=$1 AND id > $2 ORDER BY id ASC LIMIT $3`, streamID, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ScanEventsByType(ctx context.Context, eventType string, afterID int64, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.Pool.Query(ctx, `SELECT id, stream_id, type, data, metadata, created_at FROM events WHERE type=$1 AND id > $2 ORDER BY id ASC LIMIT $3`, eventType, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
