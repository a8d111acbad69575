// Package store defines the persistence interface the orchestration core
// runs against. Two implementations exist: postgres (LISTEN/NOTIFY-backed,
// preferred) and sqlite (fallback-poll only, spec §6 "no pub/sub").
//
// Most methods that change task/message/human-request/session/review/merge
// state also append the corresponding event. CreateTask, BatchCreateTasks,
// ChangeTaskStatus, ResolveHumanRequest and ExpirePendingHumanRequests do it
// in the same transaction as the change; the others append it in a separate
// write after the change. MarkMessageSeen, MarkMessageProcessed,
// UpdateAgentStatus and ResetStuckAgents append no event, and neither do
// the team, agent and repository creates.
package store

import (
	"context"
	"time"

	"github.com/deepampatel/foreman/internal/money"
	"github.com/deepampatel/foreman/pkg/models"
)

// Store is the persistence interface for the orchestration core.
type Store interface {
	Migrate(ctx context.Context) error
	Close() error

	// Teams
	CreateTeam(ctx context.Context, team models.Team) (models.Team, error)
	GetTeam(ctx context.Context, id string) (models.Team, error)
	ListTeams(ctx context.Context) ([]models.Team, error)
	UpdateTeamSettings(ctx context.Context, teamID string, settings models.TeamSettings) (models.Team, error)

	// Agents
	CreateAgent(ctx context.Context, agent models.Agent) (models.Agent, error)
	GetAgent(ctx context.Context, id string) (models.Agent, error)
	ListAgents(ctx context.Context, teamID string) ([]models.Agent, error)
	UpdateAgentStatus(ctx context.Context, agentID, status string) error
	// ResetStuckAgents resets every agent stuck in "working" status back to
	// "idle" when it has no still-open session started within the last
	// olderThan duration. It returns the number of agents reset.
	ResetStuckAgents(ctx context.Context, olderThan time.Duration) (int, error)

	// Repositories
	CreateRepository(ctx context.Context, repo models.Repository) (models.Repository, error)
	GetRepository(ctx context.Context, id string) (models.Repository, error)
	ListRepositories(ctx context.Context, teamID string) ([]models.Repository, error)

	// Tasks
	CreateTask(ctx context.Context, teamID string, in models.TaskCreateInput) (models.Task, error)
	BatchCreateTasks(ctx context.Context, teamID string, ins []models.TaskCreateInput) ([]models.Task, error)
	GetTask(ctx context.Context, id int64) (models.Task, error)
	ListTasksByIDs(ctx context.Context, ids []int64) ([]models.Task, error)
	ListTasks(ctx context.Context, teamID, status string, limit int) ([]models.Task, error)
	AssignTask(ctx context.Context, taskID int64, assignee string) (models.Task, error)
	// ChangeTaskStatus performs a locked read-check-write: it fails with a
	// Conflict if the task's current status is not `from`. actorID and the
	// event payload are recorded on the resulting task.status_changed event.
	ChangeTaskStatus(ctx context.Context, taskID int64, from, to, actorID string) (models.Task, error)
	// NextRunnableTask returns the oldest todo task in teamID with every
	// dependency done, or nil if none is runnable. It does not claim the
	// task: any row lock taken while reading is released when the call
	// returns, so two callers can be handed the same task.
	NextRunnableTask(ctx context.Context, teamID string) (*models.Task, error)

	// Messages
	SendMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, id int64) (models.Message, error)
	ListInbox(ctx context.Context, teamID, recipientID string, onlyUnprocessed bool, limit int) ([]models.Message, error)
	MarkMessageSeen(ctx context.Context, id int64) error
	MarkMessageProcessed(ctx context.Context, id int64) error

	// Human-in-the-loop requests
	CreateHumanRequest(ctx context.Context, req models.HumanRequest) (models.HumanRequest, error)
	GetHumanRequest(ctx context.Context, id int64) (models.HumanRequest, error)
	ResolveHumanRequest(ctx context.Context, id int64, response, responder string) (models.HumanRequest, error)
	ExpirePendingHumanRequests(ctx context.Context, now time.Time) ([]models.HumanRequest, error)
	ListPendingHumanRequests(ctx context.Context, teamID string) ([]models.HumanRequest, error)

	// Sessions
	StartSession(ctx context.Context, sess models.Session) (models.Session, error)
	GetOpenSession(ctx context.Context, agentID string) (*models.Session, error)
	RecordSessionUsage(ctx context.Context, sessionID int64, inTok, outTok, cacheRead, cacheWrite int64, cost money.Micros) (models.Session, error)
	EndSession(ctx context.Context, sessionID int64, errMsg string) (models.Session, error)
	SumSessionCostSince(ctx context.Context, teamID string, since time.Time) (money.Micros, error)
	SumSessionCostForTask(ctx context.Context, taskID int64) (money.Micros, error)

	// Reviews
	CreateReview(ctx context.Context, review models.Review) (models.Review, error)
	AddReviewComment(ctx context.Context, comment models.ReviewComment) (models.ReviewComment, error)
	SetReviewVerdict(ctx context.Context, reviewID int64, verdict, summary string) (models.Review, error)
	GetLatestReview(ctx context.Context, taskID int64) (*models.Review, error)
	CountReviewAttempts(ctx context.Context, taskID int64) (int, error)
	ListReviewComments(ctx context.Context, reviewID int64) ([]models.ReviewComment, error)

	// Merge jobs
	CreateMergeJob(ctx context.Context, job models.MergeJob) (models.MergeJob, error)
	GetMergeJob(ctx context.Context, id int64) (models.MergeJob, error)
	ListQueuedMergeJobs(ctx context.Context, limit int) ([]models.MergeJob, error)
	ListMergeJobsByTask(ctx context.Context, taskID int64) ([]models.MergeJob, error)
	StartMergeJob(ctx context.Context, id int64) (models.MergeJob, error)
	FinishMergeJob(ctx context.Context, id int64, status string, commitHash *string, errMsg string) (models.MergeJob, error)

	// Event log
	AppendEvent(ctx context.Context, evt models.Event) (models.Event, error)
	StreamEvents(ctx context.Context, streamID string, afterID int64, limit int) ([]models.Event, error)
	ScanEventsByType(ctx context.Context, eventType string, afterID int64, limit int) ([]models.Event, error)
}

// Notifier is implemented by stores that can push commit-bound notifications
// (postgres LISTEN/NOTIFY). The dispatcher subscribes through it when the
// underlying Store supports it and otherwise relies on its fallback poll;
// the human-loop expirer and the merge worker always poll.
type Notifier interface {
	Listen(ctx context.Context, channel string) (<-chan string, error)
}
