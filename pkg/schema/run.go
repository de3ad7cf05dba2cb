package schema

import "time"

// Run is one execution of a compiled workflow.
type Run struct {
	ID           string         `json:"id"`
	WorkflowName string         `json:"workflow_name"`
	Status       RunStatus      `json:"status"`
	Inputs       map[string]any `json:"inputs,omitempty"`
	Output       any            `json:"output,omitempty"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
}

// StepState is the persisted record of one step within a run.
type StepState struct {
	RunID      string     `json:"run_id"`
	StepID     string     `json:"step_id"`
	Status     StepStatus `json:"status"`
	Tier       Tier       `json:"tier,omitempty"`
	Allocated  int        `json:"allocated,omitempty"`
	Attempts   int        `json:"attempts"`
	Output     any        `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Event is one append-only audit record. Sequence is monotonic per run.
type Event struct {
	ID        int64          `json:"id,omitempty"`
	RunID     string         `json:"run_id"`
	StepID    string         `json:"step_id,omitempty"`
	Type      string         `json:"type"`
	Sequence  int64          `json:"sequence"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Schedule binds a stored workflow to a cron expression.
type Schedule struct {
	ID           string     `json:"id"`
	WorkflowName string     `json:"workflow_name"`
	Cron         string     `json:"cron"`
	Enabled      bool       `json:"enabled"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
