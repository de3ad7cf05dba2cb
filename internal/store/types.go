package store

import (
	"encoding/json"
	"time"

	"github.com/weftlabs/weft/pkg/schema"
)

// StoredWorkflow is a compiled workflow persisted under its name, together
// with the IR it was compiled from.
type StoredWorkflow struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Definition  schema.Workflow `json:"definition"`
	IR          json.RawMessage `json:"ir,omitempty"`
	Confidence  float64         `json:"confidence"`
	Schedule    string          `json:"schedule,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// WorkflowFilter specifies criteria for listing stored workflows.
type WorkflowFilter struct {
	NamePrefix string `json:"name_prefix,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	WorkflowName string            `json:"workflow_name,omitempty"`
	Status       *schema.RunStatus `json:"status,omitempty"`
	Since        *time.Time        `json:"since,omitempty"`
	Limit        int               `json:"limit,omitempty"`
	Offset       int               `json:"offset,omitempty"`
}

// RunUpdate specifies mutable fields of a run. Nil fields are untouched.
type RunUpdate struct {
	Status     *schema.RunStatus `json:"status,omitempty"`
	Output     any               `json:"output,omitempty"`
	Error      *string           `json:"error,omitempty"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// EventFilter specifies criteria for listing events by type.
type EventFilter struct {
	RunID  string     `json:"run_id,omitempty"`
	StepID string     `json:"step_id,omitempty"`
	Since  *time.Time `json:"since,omitempty"`
	Limit  int        `json:"limit,omitempty"`
}

// ScheduleUpdate specifies mutable fields of a schedule.
type ScheduleUpdate struct {
	Enabled   *bool      `json:"enabled,omitempty"`
	Cron      *string    `json:"cron,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
}
