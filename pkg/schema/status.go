package schema

// Audit event type constants. Events are append-only and fire-and-forget;
// the executor never blocks on the audit sink.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"
	EventRunCancelled = "run_cancelled"
	EventRunScheduled = "run_scheduled"

	EventStepRouted       = "step_routed"
	EventStepBudgeted     = "step_budgeted"
	EventStepStarted      = "step_started"
	EventStepCompleted    = "step_completed"
	EventStepFailed       = "step_failed"
	EventStepSkipped      = "step_skipped"
	EventStepRetrying     = "step_retrying"
	EventStepRetryAttempt = "step_retry_attempt"

	EventBranchSelected       = "branch_selected"
	EventScatterStarted       = "scatter_started"
	EventScatterItemCompleted = "scatter_item_completed"
	EventGatherCompleted      = "gather_completed"

	EventBudgetExhausted = "budget_exhausted"
	EventAliasResolved   = "alias_resolved"
)

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusActive    RunStatus = "active"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// StepStatus represents the lifecycle state of a step.
// Routing and budgeting happen before execution, so a step passes through
// routed and budgeted before it runs.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRouted    StepStatus = "routed"
	StepStatusBudgeted  StepStatus = "budgeted"
	StepStatusRunning   StepStatus = "running"
	StepStatusRetrying  StepStatus = "retrying"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)
