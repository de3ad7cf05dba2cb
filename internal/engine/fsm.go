package engine

import (
	"github.com/weftlabs/weft/pkg/schema"
)

// EventEmitter is satisfied by the audit sink. Emitting is
// fire-and-forget; FSM transitions never fail on audit problems.
type EventEmitter interface {
	Emit(runID, stepID, eventType string, data map[string]any)
}

// ValidRunTransitions defines the allowed run lifecycle transitions.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusPending:   {schema.RunStatusActive, schema.RunStatusCancelled},
	schema.RunStatusActive:    {schema.RunStatusCompleted, schema.RunStatusFailed, schema.RunStatusCancelled},
	schema.RunStatusCompleted: {},
	schema.RunStatusFailed:    {},
	schema.RunStatusCancelled: {},
}

// ValidStepTransitions defines the allowed step lifecycle transitions.
// Routing and budgeting precede execution; a model-backed step passes
// through routed and budgeted before it runs, a non-model step goes
// straight from routed to running.
var ValidStepTransitions = map[schema.StepStatus][]schema.StepStatus{
	schema.StepStatusPending:   {schema.StepStatusRouted, schema.StepStatusSkipped},
	schema.StepStatusRouted:    {schema.StepStatusBudgeted, schema.StepStatusRunning, schema.StepStatusSkipped},
	schema.StepStatusBudgeted:  {schema.StepStatusRunning, schema.StepStatusSkipped},
	schema.StepStatusRunning:   {schema.StepStatusCompleted, schema.StepStatusFailed, schema.StepStatusRetrying},
	schema.StepStatusRetrying:  {schema.StepStatusRunning, schema.StepStatusFailed},
	schema.StepStatusCompleted: {},
	schema.StepStatusFailed:    {},
	schema.StepStatusSkipped:   {},
}

// RunFSM validates run lifecycle transitions and emits the matching
// audit event.
type RunFSM struct {
	emitter EventEmitter
}

// NewRunFSM creates a RunFSM emitting through the given sink.
func NewRunFSM(emitter EventEmitter) *RunFSM {
	return &RunFSM{emitter: emitter}
}

// Transition validates a run transition and emits its event. Data is
// attached to the event verbatim.
func (f *RunFSM) Transition(runID string, from, to schema.RunStatus, data map[string]any) error {
	if !contains(ValidRunTransitions[from], to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}
	if eventType := runEventType(to); eventType != "" {
		f.emitter.Emit(runID, "", eventType, data)
	}
	return nil
}

// StepFSM validates step lifecycle transitions and emits the matching
// audit event.
type StepFSM struct {
	emitter EventEmitter
}

// NewStepFSM creates a StepFSM emitting through the given sink.
func NewStepFSM(emitter EventEmitter) *StepFSM {
	return &StepFSM{emitter: emitter}
}

// Transition validates a step transition and emits its event.
func (f *StepFSM) Transition(runID, stepID string, from, to schema.StepStatus, data map[string]any) error {
	if !contains(ValidStepTransitions[from], to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid step transition: %s -> %s", from, to).
			WithStep(stepID).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}
	if eventType := stepEventType(to); eventType != "" {
		f.emitter.Emit(runID, stepID, eventType, data)
	}
	return nil
}

// CanSkip reports whether a step in the given state may still be
// skipped. Terminal states cannot.
func CanSkip(s schema.StepStatus) bool {
	return contains(ValidStepTransitions[s], schema.StepStatusSkipped)
}

func runEventType(to schema.RunStatus) string {
	switch to {
	case schema.RunStatusActive:
		return schema.EventRunStarted
	case schema.RunStatusCompleted:
		return schema.EventRunCompleted
	case schema.RunStatusFailed:
		return schema.EventRunFailed
	case schema.RunStatusCancelled:
		return schema.EventRunCancelled
	default:
		return ""
	}
}

func stepEventType(to schema.StepStatus) string {
	switch to {
	case schema.StepStatusRouted:
		return schema.EventStepRouted
	case schema.StepStatusBudgeted:
		return schema.EventStepBudgeted
	case schema.StepStatusRunning:
		return schema.EventStepStarted
	case schema.StepStatusCompleted:
		return schema.EventStepCompleted
	case schema.StepStatusFailed:
		return schema.EventStepFailed
	case schema.StepStatusSkipped:
		return schema.EventStepSkipped
	case schema.StepStatusRetrying:
		return schema.EventStepRetrying
	default:
		return ""
	}
}

func contains[T comparable](allowed []T, to T) bool {
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}
