// Package models holds the shared entity types of the orchestration core
// (spec §3). They are the wire/storage shape used by every internal
// package; the out-of-scope HTTP layer would marshal these directly.
package models

import (
	"encoding/json"
	"time"

	"github.com/deepampatel/foreman/internal/money"
)

// Organization is the top of the static tenant hierarchy.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// TeamSettings holds per-team policy: budgets, default model, auto-merge,
// branch prefix, and free-form conventions (spec §3).
type TeamSettings struct {
	DailyBudget     *money.Micros     `json:"daily_budget_micros,omitempty"`
	PerTaskBudget   *money.Micros     `json:"per_task_budget_micros,omitempty"`
	DefaultModel    string            `json:"default_model,omitempty"`
	AutoMerge       bool              `json:"auto_merge"`
	BranchPrefix    string            `json:"branch_prefix,omitempty"`
	PreferAgentRevs bool              `json:"prefer_agent_reviewers"`
	Conventions     map[string]string `json:"conventions,omitempty"`
}

// Team belongs to exactly one organization.
type Team struct {
	ID        string       `json:"id"`
	OrgID     string       `json:"org_id"`
	Name      string       `json:"name"`
	Settings  TeamSettings `json:"settings"`
	CreatedAt time.Time    `json:"created_at"`
}

// Agent is a named actor with a role, status, and adapter tag.
type Agent struct {
	ID         string    `json:"id"`
	TeamID     string    `json:"team_id"`
	Name       string    `json:"name"`
	Role       string    `json:"role"`
	Status     string    `json:"status"`
	AdapterTag string    `json:"adapter_tag,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Repository is a git repository linked to a team.
type Repository struct {
	ID        string    `json:"id"`
	TeamID    string    `json:"team_id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// Task is the central work item (spec §3).
type Task struct {
	ID           int64          `json:"id"`
	TeamID       string         `json:"team_id"`
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	Status       string         `json:"status"`
	Priority     string         `json:"priority"`
	DRI          *string        `json:"dri,omitempty"`
	Assignee     *string        `json:"assignee,omitempty"`
	DependsOn    []int64        `json:"depends_on,omitempty"`
	RepoIDs      []string       `json:"repo_ids,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	BranchName   string         `json:"branch_name,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// TaskCreateInput is the input shape for Create and each entry of a batch
// create (spec §4.2). DependsOnIndices resolves to real ids at batch-commit
// time; DependsOn is used for standalone creates.
type TaskCreateInput struct {
	Title            string
	Description      string
	Priority         string
	RepoIDs          []string
	Tags             []string
	Metadata         map[string]any
	DependsOn        []int64
	DependsOnIndices []int
}

// EventMetadata carries causal/attribution context for an event (spec §3).
type EventMetadata struct {
	ActorID       string `json:"actor_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	CausationID   string `json:"causation_id,omitempty"`
}

// Event is one immutable record in the append-only log (spec §4.1).
type Event struct {
	ID        int64           `json:"id"`
	StreamID  string          `json:"stream_id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Metadata  EventMetadata   `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
}

// Message is a durable, recipient-keyed mailbox entry (spec §3).
type Message struct {
	ID            int64      `json:"id"`
	TeamID        string     `json:"team_id"`
	SenderID      string     `json:"sender_id"`
	SenderType    string     `json:"sender_type"`
	RecipientID   string     `json:"recipient_id"`
	RecipientType string     `json:"recipient_type"`
	TaskID        *int64     `json:"task_id,omitempty"`
	Content       string     `json:"content"`
	DeliveredAt   time.Time  `json:"delivered_at"`
	SeenAt        *time.Time `json:"seen_at,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}

// HumanRequest is an agent-originated request for human input (spec §3).
type HumanRequest struct {
	ID         int64      `json:"id"`
	TeamID     string     `json:"team_id"`
	AgentID    string     `json:"agent_id"`
	TaskID     *int64     `json:"task_id,omitempty"`
	Kind       string     `json:"kind"`
	Question   string     `json:"question"`
	Options    []string   `json:"options,omitempty"`
	Status     string     `json:"status"`
	Response   *string    `json:"response,omitempty"`
	Responder  *string    `json:"responder,omitempty"`
	TimeoutAt  *time.Time `json:"timeout_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Session is one agent work-unit accounting window (spec §3).
type Session struct {
	ID          int64      `json:"id"`
	AgentID     string     `json:"agent_id"`
	TaskID      *int64     `json:"task_id,omitempty"`
	Model       string     `json:"model,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	InputTokens int64      `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	CacheRead   int64        `json:"cache_read_tokens"`
	CacheWrite  int64        `json:"cache_write_tokens"`
	Cost        money.Micros `json:"cost_micros"`
	Error       string       `json:"error,omitempty"`
}

// Review is one attempt at reviewing a task (spec §3, §4.6).
type Review struct {
	ID            int64      `json:"id"`
	TaskID        int64      `json:"task_id"`
	Attempt       int        `json:"attempt"`
	Reviewer      string     `json:"reviewer"`
	ReviewerType  string     `json:"reviewer_type"`
	Verdict       *string    `json:"verdict,omitempty"`
	Summary       string     `json:"summary,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// ReviewComment anchors an optional (file, line) on a review (spec §3).
type ReviewComment struct {
	ID         int64     `json:"id"`
	ReviewID   int64     `json:"review_id"`
	Author     string    `json:"author"`
	AuthorType string    `json:"author_type"`
	Content    string    `json:"content"`
	FilePath   *string   `json:"file_path,omitempty"`
	LineNumber *int      `json:"line_number,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// MergeJob is one merge attempt for a task against a repository (spec §3).
type MergeJob struct {
	ID         int64      `json:"id"`
	TaskID     int64      `json:"task_id"`
	RepoID     string     `json:"repo_id"`
	Status     string     `json:"status"`
	Strategy   string     `json:"strategy"`
	CommitHash *string    `json:"commit_hash,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// PriceRates is the per-model price schedule entry: currency per million
// tokens for each usage category (spec §6 prices.{model}.*).
type PriceRates struct {
	InputPerMillion      money.Micros `yaml:"input"`
	OutputPerMillion     money.Micros `yaml:"output"`
	CacheReadPerMillion  money.Micros `yaml:"cache_read"`
	CacheWritePerMillion money.Micros `yaml:"cache_write"`
}

// BudgetStatus is the non-mutating result of CheckBudget (spec §4.7).
type BudgetStatus struct {
	DailySpent money.Micros `json:"daily_spent_micros"`
	DailyLimit money.Micros `json:"daily_limit_micros"`
	TaskSpent  money.Micros `json:"task_spent_micros"`
	TaskLimit  money.Micros `json:"task_limit_micros"`
	OverBudget bool         `json:"over_budget"`
}
