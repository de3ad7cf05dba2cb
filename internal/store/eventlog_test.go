package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weftlabs/weft/pkg/schema"
)

func TestReplay_ReconstructsStepStates(t *testing.T) {
	s := newTestStore(t)
	el := NewEventLog(s)
	ctx := context.Background()

	stream := []*schema.Event{
		{RunID: "r", Type: schema.EventRunStarted},
		{RunID: "r", StepID: "fetch", Type: schema.EventStepRouted, Data: map[string]any{"tier": "fast"}},
		{RunID: "r", StepID: "fetch", Type: schema.EventStepBudgeted, Data: map[string]any{"allocated": float64(1200)}},
		{RunID: "r", StepID: "fetch", Type: schema.EventStepStarted},
		{RunID: "r", StepID: "fetch", Type: schema.EventStepCompleted, Data: map[string]any{"output": map[string]any{"rows": float64(3)}}},
		{RunID: "r", StepID: "summarize", Type: schema.EventStepStarted},
		{RunID: "r", StepID: "summarize", Type: schema.EventStepRetrying},
		{RunID: "r", StepID: "summarize", Type: schema.EventStepFailed, Data: map[string]any{"error": "budget exhausted"}},
	}
	for _, e := range stream {
		require.NoError(t, el.Append(ctx, e))
	}

	states, err := el.Replay(ctx, "r")
	require.NoError(t, err)
	require.Len(t, states, 2)

	fetch := states["fetch"]
	require.NotNil(t, fetch)
	assert.Equal(t, schema.StepStatusCompleted, fetch.Status)
	assert.Equal(t, schema.TierFast, fetch.Tier)
	assert.Equal(t, 1200, fetch.Allocated)
	require.NotNil(t, fetch.StartedAt)
	require.NotNil(t, fetch.FinishedAt)

	out, ok := fetch.Output.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 3, out["rows"])

	summarize := states["summarize"]
	require.NotNil(t, summarize)
	assert.Equal(t, schema.StepStatusFailed, summarize.Status)
	assert.Equal(t, "budget exhausted", summarize.Error)
	assert.Equal(t, 1, summarize.Attempts)
}

func TestReplay_EmptyStream(t *testing.T) {
	s := newTestStore(t)
	el := NewEventLog(s)

	states, err := el.Replay(context.Background(), "no-such-run")
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestReplay_DetectsSequenceGap(t *testing.T) {
	s := newTestStore(t)
	el := NewEventLog(s)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, el.Append(ctx, &schema.Event{
			RunID: "r", StepID: "fetch", Type: schema.EventStepStarted,
		}))
	}
	// Punch a hole in the stream.
	_, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE run_id = 'r' AND sequence = 2`)
	require.NoError(t, err)

	_, err = el.Replay(ctx, "r")
	require.Error(t, err)
	var werr *schema.WeftError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, schema.ErrCodeStore, werr.Code)
}

func TestEvents_SinceCursor(t *testing.T) {
	s := newTestStore(t)
	el := NewEventLog(s)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, el.Append(ctx, &schema.Event{
			RunID: "r", StepID: "fetch", Type: schema.EventStepStarted,
		}))
	}

	tail, err := el.Events(ctx, "r", 3)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, int64(4), tail[0].Sequence)
	assert.Equal(t, int64(5), tail[1].Sequence)
}
