package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deepampatel/foreman/internal/coreerr"
	"github.com/deepampatel/foreman/internal/money"
	"github.com/deepampatel/foreman/pkg/models"
)

func newID(prefix string) string { return prefix + "_" + uuid.NewString() }

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s.String)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func timeStr(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func timeStrPtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: timeStr(*t), Valid: true}
}

// --- Teams ---

func (s *Store) CreateTeam(ctx context.Context, team models.Team) (models.Team, error) {
	if team.ID == "" {
		team.ID = newID("team")
	}
	team.CreatedAt = time.Now().UTC()
	settingsJSON, _ := json.Marshal(team.Settings)
	_, err := s.DB.ExecContext(ctx, `INSERT INTO teams(id, org_id, name, settings, created_at) VALUES(?,?,?,?,?)`,
		team.ID, team.OrgID, team.Name, string(settingsJSON), timeStr(team.CreatedAt))
	if err != nil {
		return models.Team{}, fmt.Errorf("sqlite: create team: %w", err)
	}
	return team, nil
}

func (s *Store) GetTeam(ctx context.Context, id string) (models.Team, error) {
	var t models.Team
	var settingsJSON, createdAt string
	err := s.DB.QueryRowContext(ctx, `SELECT id, org_id, name, settings, created_at FROM teams WHERE id=?`, id).
		Scan(&t.ID, &t.OrgID, &t.Name, &settingsJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Team{}, coreerr.NotFoundf("team %s not found", id)
	}
	if err != nil {
		return models.Team{}, err
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	_ = json.Unmarshal([]byte(settingsJSON), &t.Settings)
	return t, nil
}

func (s *Store) ListTeams(ctx context.Context) ([]models.Team, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, org_id, name, settings, created_at FROM teams ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Team
	for rows.Next() {
		var t models.Team
		var settingsJSON, createdAt string
		if err := rows.Scan(&t.ID, &t.OrgID, &t.Name, &settingsJSON, &createdAt); err != nil {
			return nil, err
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		_ = json.Unmarshal([]byte(settingsJSON), &t.Settings)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) UpdateTeamSettings(ctx context.Context, teamID string, settings models.TeamSettings) (models.Team, error) {
	settingsJSON, _ := json.Marshal(settings)
	res, err := s.DB.ExecContext(ctx, `UPDATE teams SET settings=? WHERE id=?`, string(settingsJSON), teamID)
	if err != nil {
		return models.Team{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
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
	_, err := s.DB.ExecContext(ctx, `INSERT INTO agents(id, team_id, name, role, status, adapter_tag, created_at) VALUES(?,?,?,?,?,?,?)`,
		agent.ID, agent.TeamID, agent.Name, agent.Role, agent.Status, agent.AdapterTag, timeStr(agent.CreatedAt))
	if err != nil {
		return models.Agent{}, fmt.Errorf("sqlite: create agent: %w", err)
	}
	return agent, nil
}

func (s *Store) GetAgent(ctx context.Context, id string) (models.Agent, error) {
	var a models.Agent
	var createdAt string
	err := s.DB.QueryRowContext(ctx, `SELECT id, team_id, name, role, status, adapter_tag, created_at FROM agents WHERE id=?`, id).
		Scan(&a.ID, &a.TeamID, &a.Name, &a.Role, &a.Status, &a.AdapterTag, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Agent{}, coreerr.NotFoundf("agent %s not found", id)
	}
	if err != nil {
		return models.Agent{}, err
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return a, nil
}

func (s *Store) ListAgents(ctx context.Context, teamID string) ([]models.Agent, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, team_id, name, role, status, adapter_tag, created_at FROM agents WHERE team_id=? ORDER BY created_at ASC`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Agent
	for rows.Next() {
		var a models.Agent
		var createdAt string
		if err := rows.Scan(&a.ID, &a.TeamID, &a.Name, &a.Role, &a.Status, &a.AdapterTag, &createdAt); err != nil {
			return nil, err
		}
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) UpdateAgentStatus(ctx context.Context, agentID, status string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE agents SET status=? WHERE id=?`, status, agentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return coreerr.NotFoundf("agent %s not found", agentID)
	}
	return nil
}

// ResetStuckAgents resets agents stuck in "working" status with no still-open
// session started in the last olderThan duration back to "idle" (grounded on the
// original backend's dispatcher cleanup loop, which resets agents stuck in
// "working" for more than 30 minutes).
func (s *Store) ResetStuckAgents(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := timeStr(time.Now().UTC().Add(-olderThan))
	res, err := s.DB.ExecContext(ctx, `UPDATE agents SET status=? WHERE status=? AND id NOT IN (
		SELECT agent_id FROM sessions WHERE ended_at IS NULL AND started_at > ?
	)`, models.AgentIdle, models.AgentWorking, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlite: reset stuck agents: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// --- Repositories ---

func (s *Store) CreateRepository(ctx context.Context, repo models.Repository) (models.Repository, error) {
	if repo.ID == "" {
		repo.ID = newID("repo")
	}
	repo.CreatedAt = time.Now().UTC()
	_, err := s.DB.ExecContext(ctx, `INSERT INTO repositories(id, team_id, name, url, created_at) VALUES(?,?,?,?,?)`,
		repo.ID, repo.TeamID, repo.Name, repo.URL, timeStr(repo.CreatedAt))
	if err != nil {
		return models.Repository{}, fmt.Errorf("sqlite: create repository: %w", err)
	}
	return repo, nil
}

func (s *Store) GetRepository(ctx context.Context, id string) (models.Repository, error) {
	var r models.Repository
	var createdAt string
	err := s.DB.QueryRowContext(ctx, `SELECT id, team_id, name, url, created_at FROM repositories WHERE id=?`, id).
		Scan(&r.ID, &r.TeamID, &r.Name, &r.URL, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Repository{}, coreerr.NotFoundf("repository %s not found", id)
	}
	if err != nil {
		return models.Repository{}, err
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return r, nil
}

func (s *Store) ListRepositories(ctx context.Context, teamID string) ([]models.Repository, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, team_id, name, url, created_at FROM repositories WHERE team_id=? ORDER BY created_at ASC`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Repository
	for rows.Next() {
		var r models.Repository
		var createdAt string
		if err := rows.Scan(&r.ID, &r.TeamID, &r.Name, &r.URL, &createdAt); err != nil {
			return nil, err
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Tasks ---

func scanTaskRow(scan func(...any) error) (models.Task, error) {
	var id int64
	var teamID, title, description, status, priority, branchName string
	var dri, assignee sql.NullString
	var repoIDs, tags, metadata string
	var createdAt, updatedAt string
	var completedAt sql.NullString
	if err := scan(&id, &teamID, &title, &description, &status, &priority, &dri, &assignee,
		&repoIDs, &tags, &branchName, &metadata, &createdAt, &updatedAt, &completedAt); err != nil {
		return models.Task{}, err
	}
	t := models.Task{
		ID: id, TeamID: teamID, Title: title, Description: description, Status: status, Priority: priority,
		BranchName: branchName,
	}
	if dri.Valid {
		t.DRI = &dri.String
	}
	if assignee.Valid {
		t.Assignee = &assignee.String
	}
	_ = json.Unmarshal([]byte(repoIDs), &t.RepoIDs)
	_ = json.Unmarshal([]byte(tags), &t.Tags)
	_ = json.Unmarshal([]byte(metadata), &t.Metadata)
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	t.CompletedAt = parseTimePtr(completedAt)
	return t, nil
}

const taskColumns = `id, team_id, title, description, status, priority, dri, assignee, repo_ids, tags, branch_name, metadata, created_at, updated_at, completed_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) createTaskTx(ctx context.Context, tx execer, teamID string, in models.TaskCreateInput) (models.Task, error) {
	now := time.Now().UTC()
	repoIDs, _ := json.Marshal(in.RepoIDs)
	tags, _ := json.Marshal(in.Tags)
	metadata, _ := json.Marshal(in.Metadata)
	priority := in.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO tasks(team_id, title, description, status, priority, repo_ids, tags, metadata, created_at, updated_at)
VALUES(?,?,?,?,?,?,?,?,?,?)`, teamID, in.Title, in.Description, models.StatusTodo, priority, string(repoIDs), string(tags), string(metadata), timeStr(now), timeStr(now))
	if err != nil {
		return models.Task{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Task{}, err
	}
	for _, dep := range in.DependsOn {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_dependencies(task_id, depends_on_task_id) VALUES(?,?)`, id, dep); err != nil {
			return models.Task{}, err
		}
	}
	t, err := scanTaskRow(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id).Scan)
	if err != nil {
		return models.Task{}, err
	}
	t.DependsOn = in.DependsOn
	data, _ := json.Marshal(t)
	if _, err := tx.ExecContext(ctx, `INSERT INTO events(stream_id, type, data, metadata, created_at) VALUES(?,?,?,'{}',?)`,
		fmt.Sprintf("task:%d", id), models.EventTaskCreated, string(data), timeStr(now)); err != nil {
		return models.Task{}, err
	}
	return t, nil
}

func (s *Store) CreateTask(ctx context.Context, teamID string, in models.TaskCreateInput) (models.Task, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.Task{}, err
	}
	defer tx.Rollback()
	t, err := s.createTaskTx(ctx, tx, teamID, in)
	if err != nil {
		return models.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Task{}, err
	}
	return t, nil
}

func (s *Store) BatchCreateTasks(ctx context.Context, teamID string, ins []models.TaskCreateInput) ([]models.Task, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	out := make([]models.Task, len(ins))
	for i, in := range ins {
		resolved := append([]int64{}, in.DependsOn...)
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
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) getTaskWithDeps(ctx context.Context, id int64) (models.Task, error) {
	t, err := scanTaskRow(s.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Task{}, coreerr.NotFoundf("task %d not found", id)
	}
	if err != nil {
		return models.Task{}, err
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT depends_on_task_id FROM task_dependencies WHERE task_id=?`, id)
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
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE id IN (` + strings.Join(placeholders, ",") + `)`
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Task
	for rows.Next() {
		t, err := scanTaskRow(rows.Scan)
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
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = s.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE team_id=? AND status=? ORDER BY created_at ASC LIMIT ?`, teamID, status, limit)
	} else {
		rows, err = s.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE team_id=? ORDER BY created_at ASC LIMIT ?`, teamID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Task
	for rows.Next() {
		t, err := scanTaskRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) AssignTask(ctx context.Context, taskID int64, assignee string) (models.Task, error) {
	now := time.Now().UTC()
	res, err := s.DB.ExecContext(ctx, `UPDATE tasks SET assignee=?, updated_at=? WHERE id=?`, assignee, timeStr(now), taskID)
	if err != nil {
		return models.Task{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Task{}, coreerr.NotFoundf("task %d not found", taskID)
	}
	data, _ := json.Marshal(map[string]any{"assignee": assignee})
	if _, err := s.AppendEvent(ctx, models.Event{StreamID: fmt.Sprintf("task:%d", taskID), Type: models.EventTaskAssigned, Data: data}); err != nil {
		return models.Task{}, err
	}
	return s.getTaskWithDeps(ctx, taskID)
}

func (s *Store) ChangeTaskStatus(ctx context.Context, taskID int64, from, to, actorID string) (models.Task, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.Task{}, err
	}
	defer tx.Rollback()

	var current string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id=?`, taskID).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Task{}, coreerr.NotFoundf("task %d not found", taskID)
		}
		return models.Task{}, err
	}
	if current != from {
		return models.Task{}, coreerr.Conflictf("task %d is %s, not %s", taskID, current, from)
	}
	now := time.Now().UTC()
	var completedAt sql.NullString
	if to == models.StatusDone || to == models.StatusCancelled {
		completedAt = sql.NullString{String: timeStr(now), Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status=?, updated_at=?, completed_at=? WHERE id=?`, to, timeStr(now), completedAt, taskID); err != nil {
		return models.Task{}, err
	}
	data, _ := json.Marshal(map[string]any{"from": from, "to": to, "actor_id": actorID})
	meta, _ := json.Marshal(models.EventMetadata{ActorID: actorID})
	if _, err := tx.ExecContext(ctx, `INSERT INTO events(stream_id, type, data, metadata, created_at) VALUES(?,?,?,?,?)`,
		fmt.Sprintf("task:%d", taskID), models.EventTaskStatusChanged, string(data), string(meta), timeStr(now)); err != nil {
		return models.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Task{}, err
	}
	return s.getTaskWithDeps(ctx, taskID)
}

// NextRunnableTask has no SELECT ... FOR UPDATE SKIP LOCKED equivalent here;
// sqlite's single-writer transaction already serializes this against other
// callers on the same Store; the dispatcher is still expected to poll.
func (s *Store) NextRunnableTask(ctx context.Context, teamID string) (*models.Task, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE team_id=? AND status=? ORDER BY created_at ASC`, teamID, models.StatusTodo)
	if err != nil {
		return nil, err
	}
	var candidates []models.Task
	for rows.Next() {
		t, err := scanTaskRow(rows.Scan)
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
		deps, err := tx.QueryContext(ctx, `SELECT dt.status FROM task_dependencies td JOIN tasks dt ON dt.id=td.depends_on_task_id WHERE td.task_id=?`, candidates[i].ID)
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
			if err := tx.Commit(); err != nil {
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
	res, err := s.DB.ExecContext(ctx, `INSERT INTO messages(team_id, sender_id, sender_type, recipient_id, recipient_type, task_id, content, delivered_at)
VALUES(?,?,?,?,?,?,?,?)`, msg.TeamID, msg.SenderID, msg.SenderType, msg.RecipientID, msg.RecipientType, msg.TaskID, msg.Content, timeStr(msg.DeliveredAt))
	if err != nil {
		return models.Message{}, fmt.Errorf("sqlite: send message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Message{}, err
	}
	msg.ID = id
	data, _ := json.Marshal(msg)
	if _, err := s.AppendEvent(ctx, models.Event{StreamID: "team:" + msg.TeamID, Type: models.EventMessageSent, Data: data}); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

func (s *Store) GetMessage(ctx context.Context, id int64) (models.Message, error) {
	m, err := scanMessageRow(s.DB.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id=?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, coreerr.NotFoundf("message %d not found", id)
	}
	return m, err
}

func scanMessageRow(scan func(...any) error) (models.Message, error) {
	var m models.Message
	var taskID sql.NullInt64
	var deliveredAt string
	var seenAt, processedAt sql.NullString
	if err := scan(&m.ID, &m.TeamID, &m.SenderID, &m.SenderType, &m.RecipientID, &m.RecipientType, &taskID, &m.Content, &deliveredAt, &seenAt, &processedAt); err != nil {
		return models.Message{}, err
	}
	if taskID.Valid {
		m.TaskID = &taskID.Int64
	}
	m.DeliveredAt, _ = time.Parse(time.RFC3339Nano, deliveredAt)
	m.SeenAt = parseTimePtr(seenAt)
	m.ProcessedAt = parseTimePtr(processedAt)
	return m, nil
}

const messageColumns = `id, team_id, sender_id, sender_type, recipient_id, recipient_type, task_id, content, delivered_at, seen_at, processed_at`

func (s *Store) ListInbox(ctx context.Context, teamID, recipientID string, onlyUnprocessed bool, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = models.DefaultInboxListLimit
	}
	q := `SELECT ` + messageColumns + ` FROM messages WHERE team_id=? AND recipient_id=?`
	if onlyUnprocessed {
		q += ` AND processed_at IS NULL`
	}
	q += ` ORDER BY delivered_at ASC LIMIT ?`
	rows, err := s.DB.QueryContext(ctx, q, teamID, recipientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Message
	for rows.Next() {
		m, err := scanMessageRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) MarkMessageSeen(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE messages SET seen_at=? WHERE id=? AND seen_at IS NULL`, nowStr(), id)
	return err
}

func (s *Store) MarkMessageProcessed(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE messages SET processed_at=? WHERE id=? AND processed_at IS NULL`, nowStr(), id)
	return err
}

// --- Human requests ---

func (s *Store) CreateHumanRequest(ctx context.Context, req models.HumanRequest) (models.HumanRequest, error) {
	req.Status = models.RequestPending
	req.CreatedAt = time.Now().UTC()
	options, _ := json.Marshal(req.Options)
	res, err := s.DB.ExecContext(ctx, `INSERT INTO human_requests(team_id, agent_id, task_id, kind, question, options, status, timeout_at, created_at)
VALUES(?,?,?,?,?,?,?,?,?)`, req.TeamID, req.AgentID, req.TaskID, req.Kind, req.Question, string(options), req.Status, timeStrPtr(req.TimeoutAt), timeStr(req.CreatedAt))
	if err != nil {
		return models.HumanRequest{}, fmt.Errorf("sqlite: create human request: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.HumanRequest{}, err
	}
	req.ID = id
	data, _ := json.Marshal(req)
	if _, err := s.AppendEvent(ctx, models.Event{StreamID: fmt.Sprintf("human_request:%d", req.ID), Type: models.EventHumanRequestCreated, Data: data}); err != nil {
		return models.HumanRequest{}, err
	}
	return req, nil
}

func scanHumanRequestRow(scan func(...any) error) (models.HumanRequest, error) {
	var r models.HumanRequest
	var taskID sql.NullInt64
	var options string
	var response, responder, timeoutAt, resolvedAt sql.NullString
	var createdAt string
	if err := scan(&r.ID, &r.TeamID, &r.AgentID, &taskID, &r.Kind, &r.Question, &options, &r.Status, &response, &responder, &timeoutAt, &createdAt, &resolvedAt); err != nil {
		return models.HumanRequest{}, err
	}
	if taskID.Valid {
		r.TaskID = &taskID.Int64
	}
	_ = json.Unmarshal([]byte(options), &r.Options)
	if response.Valid {
		r.Response = &response.String
	}
	if responder.Valid {
		r.Responder = &responder.String
	}
	r.TimeoutAt = parseTimePtr(timeoutAt)
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	r.ResolvedAt = parseTimePtr(resolvedAt)
	return r, nil
}

const humanRequestColumns = `id, team_id, agent_id, task_id, kind, question, options, status, response, responder, timeout_at, created_at, resolved_at`

func (s *Store) GetHumanRequest(ctx context.Context, id int64) (models.HumanRequest, error) {
	r, err := scanHumanRequestRow(s.DB.QueryRowContext(ctx, `SELECT `+humanRequestColumns+` FROM human_requests WHERE id=?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return models.HumanRequest{}, coreerr.NotFoundf("human request %d not found", id)
	}
	return r, err
}

func (s *Store) ResolveHumanRequest(ctx context.Context, id int64, response, responder string) (models.HumanRequest, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.HumanRequest{}, err
	}
	defer tx.Rollback()

	var status string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM human_requests WHERE id=?`, id).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.HumanRequest{}, coreerr.NotFoundf("human request %d not found", id)
		}
		return models.HumanRequest{}, err
	}
	if status != models.RequestPending {
		return models.HumanRequest{}, coreerr.Conflictf("human request %d is %s, not pending", id, status)
	}
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE human_requests SET status=?, response=?, responder=?, resolved_at=? WHERE id=?`,
		models.RequestResolved, response, responder, timeStr(now), id); err != nil {
		return models.HumanRequest{}, err
	}
	data, _ := json.Marshal(map[string]any{"response": response, "responder": responder})
	if _, err := tx.ExecContext(ctx, `INSERT INTO events(stream_id, type, data, metadata, created_at) VALUES(?,?,?,'{}',?)`,
		fmt.Sprintf("human_request:%d", id), models.EventHumanRequestResolved, string(data), timeStr(now)); err != nil {
		return models.HumanRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.HumanRequest{}, err
	}
	return s.GetHumanRequest(ctx, id)
}

func (s *Store) ExpirePendingHumanRequests(ctx context.Context, now time.Time) ([]models.HumanRequest, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM human_requests WHERE status=? AND timeout_at IS NOT NULL AND timeout_at <= ?`, models.RequestPending, timeStr(now))
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
		if _, err := tx.ExecContext(ctx, `UPDATE human_requests SET status=?, resolved_at=? WHERE id=?`, models.RequestExpired, timeStr(now), id); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO events(stream_id, type, data, metadata, created_at) VALUES(?,?,'{}','{}',?)`,
			fmt.Sprintf("human_request:%d", id), models.EventHumanRequestExpired, timeStr(now)); err != nil {
			return nil, err
		}
		r, err := scanHumanRequestRow(tx.QueryRowContext(ctx, `SELECT `+humanRequestColumns+` FROM human_requests WHERE id=?`, id).Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListPendingHumanRequests(ctx context.Context, teamID string) ([]models.HumanRequest, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+humanRequestColumns+` FROM human_requests WHERE team_id=? AND status=? ORDER BY created_at ASC`, teamID, models.RequestPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.HumanRequest
	for rows.Next() {
		r, err := scanHumanRequestRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Sessions ---

func (s *Store) StartSession(ctx context.Context, sess models.Session) (models.Session, error) {
	if open, err := s.GetOpenSession(ctx, sess.AgentID); err != nil {
		return models.Session{}, err
	} else if open != nil {
		return models.Session{}, coreerr.Conflictf("agent %s already has an open session", sess.AgentID)
	}
	sess.StartedAt = time.Now().UTC()
	res, err := s.DB.ExecContext(ctx, `INSERT INTO sessions(agent_id, task_id, model, started_at) VALUES(?,?,?,?)`,
		sess.AgentID, sess.TaskID, sess.Model, timeStr(sess.StartedAt))
	if err != nil {
		return models.Session{}, fmt.Errorf("sqlite: start session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Session{}, err
	}
	sess.ID = id
	data, _ := json.Marshal(sess)
	if _, err := s.AppendEvent(ctx, models.Event{StreamID: fmt.Sprintf("session:%d", sess.ID), Type: models.EventSessionStarted, Data: data}); err != nil {
		return models.Session{}, err
	}
	return sess, nil
}

func scanSessionRow(scan func(...any) error) (models.Session, error) {
	var sess models.Session
	var taskID sql.NullInt64
	var startedAt string
	var endedAt sql.NullString
	var cost int64
	if err := scan(&sess.ID, &sess.AgentID, &taskID, &sess.Model, &startedAt, &endedAt,
		&sess.InputTokens, &sess.OutputTokens, &sess.CacheRead, &sess.CacheWrite, &cost, &sess.Error); err != nil {
		return models.Session{}, err
	}
	if taskID.Valid {
		sess.TaskID = &taskID.Int64
	}
	sess.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	sess.EndedAt = parseTimePtr(endedAt)
	sess.Cost = money.Micros(cost)
	return sess, nil
}

const sessionColumns = `id, agent_id, task_id, model, started_at, ended_at, input_tokens, output_tokens, cache_read_tokens, cache_write_tokens, cost_micros, error`

func (s *Store) GetOpenSession(ctx context.Context, agentID string) (*models.Session, error) {
	sess, err := scanSessionRow(s.DB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE agent_id=? AND ended_at IS NULL`, agentID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) RecordSessionUsage(ctx context.Context, sessionID int64, inTok, outTok, cacheRead, cacheWrite int64, cost money.Micros) (models.Session, error) {
	res, err := s.DB.ExecContext(ctx, `UPDATE sessions SET input_tokens=input_tokens+?, output_tokens=output_tokens+?,
cache_read_tokens=cache_read_tokens+?, cache_write_tokens=cache_write_tokens+?, cost_micros=cost_micros+? WHERE id=?`,
		inTok, outTok, cacheRead, cacheWrite, int64(cost), sessionID)
	if err != nil {
		return models.Session{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Session{}, coreerr.NotFoundf("session %d not found", sessionID)
	}
	data, _ := json.Marshal(map[string]any{"input_tokens": inTok, "output_tokens": outTok, "cache_read_tokens": cacheRead, "cache_write_tokens": cacheWrite, "cost_micros": int64(cost)})
	if _, err := s.AppendEvent(ctx, models.Event{StreamID: fmt.Sprintf("session:%d", sessionID), Type: models.EventSessionUsage, Data: data}); err != nil {
		return models.Session{}, err
	}
	return scanSessionRow(s.DB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=?`, sessionID).Scan)
}

func (s *Store) EndSession(ctx context.Context, sessionID int64, errMsg string) (models.Session, error) {
	now := time.Now().UTC()
	res, err := s.DB.ExecContext(ctx, `UPDATE sessions SET ended_at=?, error=? WHERE id=? AND ended_at IS NULL`, timeStr(now), errMsg, sessionID)
	if err != nil {
		return models.Session{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Session{}, coreerr.Conflictf("session %d already ended or does not exist", sessionID)
	}
	data, _ := json.Marshal(map[string]any{"error": errMsg})
	if _, err := s.AppendEvent(ctx, models.Event{StreamID: fmt.Sprintf("session:%d", sessionID), Type: models.EventSessionEnded, Data: data}); err != nil {
		return models.Session{}, err
	}
	return scanSessionRow(s.DB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=?`, sessionID).Scan)
}

func (s *Store) SumSessionCostSince(ctx context.Context, teamID string, since time.Time) (money.Micros, error) {
	var total int64
	err := s.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(s.cost_micros),0) FROM sessions s
JOIN agents a ON a.id = s.agent_id WHERE a.team_id=? AND s.started_at >= ?`, teamID, timeStr(since)).Scan(&total)
	return money.Micros(total), err
}

func (s *Store) SumSessionCostForTask(ctx context.Context, taskID int64) (money.Micros, error) {
	var total int64
	err := s.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(cost_micros),0) FROM sessions WHERE task_id=?`, taskID).Scan(&total)
	return money.Micros(total), err
}

// --- Reviews ---

func (s *Store) CreateReview(ctx context.Context, review models.Review) (models.Review, error) {
	review.CreatedAt = time.Now().UTC()
	res, err := s.DB.ExecContext(ctx, `INSERT INTO reviews(task_id, attempt, reviewer, reviewer_type, summary, created_at) VALUES(?,?,?,?,?,?)`,
		review.TaskID, review.Attempt, review.Reviewer, review.ReviewerType, review.Summary, timeStr(review.CreatedAt))
	if err != nil {
		return models.Review{}, fmt.Errorf("sqlite: create review: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Review{}, err
	}
	review.ID = id
	data, _ := json.Marshal(review)
	if _, err := s.AppendEvent(ctx, models.Event{StreamID: fmt.Sprintf("task:%d", review.TaskID), Type: models.EventReviewCreated, Data: data}); err != nil {
		return models.Review{}, err
	}
	return review, nil
}

func scanReviewRow(scan func(...any) error) (models.Review, error) {
	var r models.Review
	var verdict sql.NullString
	var createdAt string
	var resolvedAt sql.NullString
	if err := scan(&r.ID, &r.TaskID, &r.Attempt, &r.Reviewer, &r.ReviewerType, &verdict, &r.Summary, &createdAt, &resolvedAt); err != nil {
		return models.Review{}, err
	}
	if verdict.Valid {
		r.Verdict = &verdict.String
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	r.ResolvedAt = parseTimePtr(resolvedAt)
	return r, nil
}

const reviewColumns = `id, task_id, attempt, reviewer, reviewer_type, verdict, summary, created_at, resolved_at`

func (s *Store) AddReviewComment(ctx context.Context, comment models.ReviewComment) (models.ReviewComment, error) {
	comment.CreatedAt = time.Now().UTC()
	res, err := s.DB.ExecContext(ctx, `INSERT INTO review_comments(review_id, author, author_type, content, file_path, line_number, created_at)
VALUES(?,?,?,?,?,?,?)`, comment.ReviewID, comment.Author, comment.AuthorType, comment.Content, comment.FilePath, comment.LineNumber, timeStr(comment.CreatedAt))
	if err != nil {
		return models.ReviewComment{}, fmt.Errorf("sqlite: add review comment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.ReviewComment{}, err
	}
	comment.ID = id
	data, _ := json.Marshal(comment)
	if _, err := s.AppendEvent(ctx, models.Event{StreamID: fmt.Sprintf("review:%d", comment.ReviewID), Type: models.EventReviewCommentAdded, Data: data}); err != nil {
		return models.ReviewComment{}, err
	}
	return comment, nil
}

func (s *Store) SetReviewVerdict(ctx context.Context, reviewID int64, verdict, summary string) (models.Review, error) {
	now := time.Now().UTC()
	res, err := s.DB.ExecContext(ctx, `UPDATE reviews SET verdict=?, summary=?, resolved_at=? WHERE id=? AND resolved_at IS NULL`, verdict, summary, timeStr(now), reviewID)
	if err != nil {
		return models.Review{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Review{}, coreerr.Conflictf("review %d already has a verdict or does not exist", reviewID)
	}
	r, err := scanReviewRow(s.DB.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id=?`, reviewID).Scan)
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
	r, err := scanReviewRow(s.DB.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE task_id=? ORDER BY attempt DESC LIMIT 1`, taskID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) CountReviewAttempts(ctx context.Context, taskID int64) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM reviews WHERE task_id=?`, taskID).Scan(&n)
	return n, err
}

func (s *Store) ListReviewComments(ctx context.Context, reviewID int64) ([]models.ReviewComment, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, review_id, author, author_type, content, file_path, line_number, created_at FROM review_comments WHERE review_id=? ORDER BY created_at ASC`, reviewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ReviewComment
	for rows.Next() {
		var c models.ReviewComment
		var filePath sql.NullString
		var lineNumber sql.NullInt64
		var createdAt string
		if err := rows.Scan(&c.ID, &c.ReviewID, &c.Author, &c.AuthorType, &c.Content, &filePath, &lineNumber, &createdAt); err != nil {
			return nil, err
		}
		if filePath.Valid {
			c.FilePath = &filePath.String
		}
		if lineNumber.Valid {
			n := int(lineNumber.Int64)
			c.LineNumber = &n
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Merge jobs ---

func (s *Store) CreateMergeJob(ctx context.Context, job models.MergeJob) (models.MergeJob, error) {
	job.Status = models.MergeQueued
	job.CreatedAt = time.Now().UTC()
	res, err := s.DB.ExecContext(ctx, `INSERT INTO merge_jobs(task_id, repo_id, status, strategy, created_at) VALUES(?,?,?,?,?)`,
		job.TaskID, job.RepoID, job.Status, job.Strategy, timeStr(job.CreatedAt))
	if err != nil {
		return models.MergeJob{}, fmt.Errorf("sqlite: create merge job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.MergeJob{}, err
	}
	job.ID = id
	data, _ := json.Marshal(job)
	if _, err := s.AppendEvent(ctx, models.Event{StreamID: fmt.Sprintf("task:%d", job.TaskID), Type: models.EventMergeQueued, Data: data}); err != nil {
		return models.MergeJob{}, err
	}
	return job, nil
}

func scanMergeJobRow(scan func(...any) error) (models.MergeJob, error) {
	var j models.MergeJob
	var commitHash sql.NullString
	var createdAt string
	var startedAt, finishedAt sql.NullString
	if err := scan(&j.ID, &j.TaskID, &j.RepoID, &j.Status, &j.Strategy, &commitHash, &j.Error, &createdAt, &startedAt, &finishedAt); err != nil {
		return models.MergeJob{}, err
	}
	if commitHash.Valid {
		j.CommitHash = &commitHash.String
	}
	j.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	j.StartedAt = parseTimePtr(startedAt)
	j.FinishedAt = parseTimePtr(finishedAt)
	return j, nil
}

const mergeJobColumns = `id, task_id, repo_id, status, strategy, commit_hash, error, created_at, started_at, finished_at`

func (s *Store) GetMergeJob(ctx context.Context, id int64) (models.MergeJob, error) {
	j, err := scanMergeJobRow(s.DB.QueryRowContext(ctx, `SELECT `+mergeJobColumns+` FROM merge_jobs WHERE id=?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MergeJob{}, coreerr.NotFoundf("merge job %d not found", id)
	}
	return j, err
}

func (s *Store) ListQueuedMergeJobs(ctx context.Context, limit int) ([]models.MergeJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+mergeJobColumns+` FROM merge_jobs WHERE status=? ORDER BY created_at ASC LIMIT ?`, models.MergeQueued, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.MergeJob
	for rows.Next() {
		j, err := scanMergeJobRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) ListMergeJobsByTask(ctx context.Context, taskID int64) ([]models.MergeJob, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+mergeJobColumns+` FROM merge_jobs WHERE task_id=? ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.MergeJob
	for rows.Next() {
		j, err := scanMergeJobRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) StartMergeJob(ctx context.Context, id int64) (models.MergeJob, error) {
	now := time.Now().UTC()
	res, err := s.DB.ExecContext(ctx, `UPDATE merge_jobs SET status=?, started_at=? WHERE id=? AND status=?`, models.MergeRunning, timeStr(now), id, models.MergeQueued)
	if err != nil {
		return models.MergeJob{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.MergeJob{}, coreerr.Conflictf("merge job %d is not queued", id)
	}
	if _, err := s.AppendEvent(ctx, models.Event{StreamID: fmt.Sprintf("merge_job:%d", id), Type: models.EventMergeStarted}); err != nil {
		return models.MergeJob{}, err
	}
	return s.GetMergeJob(ctx, id)
}

func (s *Store) FinishMergeJob(ctx context.Context, id int64, status string, commitHash *string, errMsg string) (models.MergeJob, error) {
	now := time.Now().UTC()
	res, err := s.DB.ExecContext(ctx, `UPDATE merge_jobs SET status=?, commit_hash=?, error=?, finished_at=? WHERE id=?`, status, commitHash, errMsg, timeStr(now), id)
	if err != nil {
		return models.MergeJob{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
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
	res, err := s.DB.ExecContext(ctx, `INSERT INTO events(stream_id, type, data, metadata, created_at) VALUES(?,?,?,?,?)`,
		evt.StreamID, evt.Type, string(evt.Data), string(meta), timeStr(evt.CreatedAt))
	if err != nil {
		return models.Event{}, fmt.Errorf("sqlite: append event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Event{}, err
	}
	evt.ID = id
	return evt, nil
}

func scanEventRow(scan func(...any) error) (models.Event, error) {
	var e models.Event
	var data, meta, createdAt string
	if err := scan(&e.ID, &e.StreamID, &e.Type, &data, &meta, &createdAt); err != nil {
		return models.Event{}, err
	}
	e.Data = json.RawMessage(data)
	_ = json.Unmarshal([]byte(meta), &e.Metadata)
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return e, nil
}

func (s *Store) StreamEvents(ctx context.Context, streamID string, afterID int64, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, stream_id, type, data, metadata, created_at FROM events WHERE stream_id=? AND id > ? ORDER BY id ASC LIMIT ?`, streamID, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Event
	for rows.Next() {
		e, err := scanEventRow(rows.Scan)
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
	rows, err := s.DB.QueryContext(ctx, `SELECT id, stream_id, type, data, metadata, created_at FROM events WHERE type=? AND id > ? ORDER BY id ASC LIMIT ?`, eventType, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Event
	for rows.Next() {
		e, err := scanEventRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
