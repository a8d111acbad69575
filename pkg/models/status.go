package models

// Task statuses (spec §4.2). The transition table lives in internal/task.
const (
	StatusTodo       = "todo"
	StatusInProgress = "in_progress"
	StatusInReview   = "in_review"
	StatusInApproval = "in_approval"
	StatusMerging    = "merging"
	StatusDone       = "done"
	StatusCancelled  = "cancelled"
)

// Task priorities (spec §3).
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Agent roles (spec §3).
const (
	RoleManager  = "manager"
	RoleEngineer = "engineer"
	RoleReviewer = "reviewer"
)

// Agent statuses (spec §3).
const (
	AgentIdle    = "idle"
	AgentWorking = "working"
	AgentPaused  = "paused"
	AgentError   = "error"
)

// Human-request kinds and statuses (spec §3).
const (
	RequestKindQuestion = "question"
	RequestKindApproval = "approval"
	RequestKindReview   = "review"

	RequestPending  = "pending"
	RequestResolved = "resolved"
	RequestExpired  = "expired"
)

// Message party types (spec §3).
const (
	PartyAgent = "agent"
	PartyUser  = "user"
)

// Review reviewer types and verdicts (spec §3, §4.6).
const (
	ReviewerTypeUser  = "user"
	ReviewerTypeAgent = "agent"

	VerdictApprove        = "approve"
	VerdictRequestChanges = "request_changes"
	VerdictReject         = "reject"
)

// Merge job status and strategy (spec §3).
const (
	MergeQueued  = "queued"
	MergeRunning = "running"
	MergeSuccess = "success"
	MergeFailed  = "failed"

	StrategyRebase = "rebase"
	StrategyMerge  = "merge"
	StrategySquash = "squash"
)

// Session-relevant defaults (spec §6).
const (
	DefaultDispatcherMaxConcurrentTurns    = 32
	DefaultDispatcherFallbackPollSeconds   = 30
	DefaultDispatcherTurnTimeoutSeconds    = 3600
	DefaultDispatcherShutdownGraceSeconds  = 30
	DefaultStuckAgentTimeoutSeconds        = 1800
	DefaultStuckAgentCleanupSeconds        = 60
	DefaultHumanLoopExpiryPollSeconds      = 60
	DefaultMergeJobTimeoutSeconds          = 600
	DefaultTaskListLimit                   = 1000
	DefaultInboxListLimit                  = 500
	DefaultSlugMaxLength                   = 50
)

// Notification channels the store's publish/subscribe primitive carries
// (spec §6).
const (
	ChannelNewMessage           = "new_message"
	ChannelHumanRequestResolved = "human_request_resolved"
	ChannelTaskStatusChanged    = "task_status_changed"
)

// Event type taxonomy (spec §6).
const (
	EventTaskCreated         = "task.created"
	EventTaskUpdated         = "task.updated"
	EventTaskAssigned        = "task.assigned"
	EventTaskStatusChanged   = "task.status_changed"
	EventTaskCommentAdded    = "task.comment_added"
	EventMessageSent         = "message.sent"
	EventSessionStarted      = "session.started"
	EventSessionUsage        = "session.usage_recorded"
	EventSessionEnded        = "session.ended"
	EventAgentBudgetExceeded = "agent.budget_exceeded"
	EventCostUnknownModel    = "cost.unknown_model"
	EventHumanRequestCreated  = "human_request.created"
	EventHumanRequestResolved = "human_request.resolved"
	EventHumanRequestExpired  = "human_request.expired"
	EventReviewCreated       = "review.created"
	EventReviewVerdict       = "review.verdict"
	EventReviewCommentAdded  = "review.comment_added"
	EventReviewFeedbackSent  = "review.feedback_sent"
	EventMergeQueued         = "merge.queued"
	EventMergeStarted        = "merge.started"
	EventMergeCompleted      = "merge.completed"
	EventMergeFailed         = "merge.failed"
	EventSettingsUpdated     = "settings.updated"
)
