package store

import (
	"context"
	"fmt"

	"github.com/weftlabs/weft/pkg/schema"
)

// EventLog provides append and replay operations over the audit stream of a
// LibSQLStore.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps a LibSQLStore.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// Append appends an event with a monotonically increasing per-run sequence.
func (el *EventLog) Append(ctx context.Context, event *schema.Event) error {
	return el.store.AppendEvent(ctx, event)
}

// Events returns events for a run with sequence > since, ordered ascending.
func (el *EventLog) Events(ctx context.Context, runID string, since int64) ([]*schema.Event, error) {
	return el.store.GetEvents(ctx, runID, since)
}

// Replay reconstructs per-step states from a run's audit stream. It is used
// to answer status queries for runs whose materialized state rows are
// missing, and it verifies the stream has no sequence gaps.
func (el *EventLog) Replay(ctx context.Context, runID string) (map[string]*schema.StepState, error) {
	events, err := el.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	states := make(map[string]*schema.StepState)
	if len(events) == 0 {
		return states, nil
	}

	for i, e := range events {
		if expected := int64(i + 1); e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}
	}

	for _, e := range events {
		if e.StepID == "" {
			continue
		}

		st, ok := states[e.StepID]
		if !ok {
			st = &schema.StepState{
				RunID:  runID,
				StepID: e.StepID,
				Status: schema.StepStatusPending,
			}
			states[e.StepID] = st
		}

		switch e.Type {
		case schema.EventStepRouted:
			st.Status = schema.StepStatusRouted
			if tier, ok := e.Data["tier"].(string); ok {
				st.Tier = schema.Tier(tier)
			}

		case schema.EventStepBudgeted:
			st.Status = schema.StepStatusBudgeted
			if allocated, ok := e.Data["allocated"].(float64); ok {
				st.Allocated = int(allocated)
			}

		case schema.EventStepStarted:
			st.Status = schema.StepStatusRunning
			ts := e.CreatedAt
			st.StartedAt = &ts

		case schema.EventStepCompleted:
			st.Status = schema.StepStatusCompleted
			ts := e.CreatedAt
			st.FinishedAt = &ts
			if out, ok := e.Data["output"]; ok {
				st.Output = out
			}

		case schema.EventStepFailed:
			st.Status = schema.StepStatusFailed
			ts := e.CreatedAt
			st.FinishedAt = &ts
			if msg, ok := e.Data["error"].(string); ok {
				st.Error = msg
			}

		case schema.EventStepSkipped:
			st.Status = schema.StepStatusSkipped

		case schema.EventStepRetrying:
			st.Status = schema.StepStatusRetrying
			st.Attempts++
		}
	}

	return states, nil
}
