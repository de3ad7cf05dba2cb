package store

import (
	"context"

	"github.com/weftlabs/weft/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Compiled workflows
	SaveWorkflow(ctx context.Context, wf *StoredWorkflow) error
	GetWorkflow(ctx context.Context, name string) (*StoredWorkflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*StoredWorkflow, error)
	DeleteWorkflow(ctx context.Context, name string) error

	// Runs
	CreateRun(ctx context.Context, run *schema.Run) error
	GetRun(ctx context.Context, id string) (*schema.Run, error)
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*schema.Run, error)

	// Audit events (append-only)
	AppendEvent(ctx context.Context, event *schema.Event) error
	GetEvents(ctx context.Context, runID string, since int64) ([]*schema.Event, error)
	GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*schema.Event, error)

	// Step state (materialized view)
	UpsertStepState(ctx context.Context, state *schema.StepState) error
	GetStepState(ctx context.Context, runID, stepID string) (*schema.StepState, error)
	ListStepStates(ctx context.Context, runID string) ([]*schema.StepState, error)

	// Token usage history
	RecordTokenUsage(ctx context.Context, usage *schema.TokenUsage, bucket int) error
	QueryUsageStats(ctx context.Context, intent string, tier schema.Tier, bucket int) (*schema.UsageStats, error)

	// Schedules
	CreateSchedule(ctx context.Context, sched *schema.Schedule) error
	GetSchedule(ctx context.Context, id string) (*schema.Schedule, error)
	UpdateSchedule(ctx context.Context, id string, update ScheduleUpdate) error
	ListSchedules(ctx context.Context, enabledOnly bool) ([]*schema.Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error

	// Secrets (ciphertext only; encryption lives in internal/secrets)
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
