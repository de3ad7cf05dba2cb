package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weftlabs/weft/internal/expressions"
	"github.com/weftlabs/weft/internal/plugins"
	"github.com/weftlabs/weft/pkg/schema"
)

func aiStep(id string, intent schema.AIOpType, source string, outputSchema map[string]string) *schema.WorkflowStep {
	return &schema.WorkflowStep{
		ID:     id,
		Type:   schema.StepAIProcessing,
		Intent: string(intent),
		AI: &schema.AISpec{
			Intent:       intent,
			Prompt:       "Summarize the open deals.",
			InputSource:  source,
			OutputSchema: outputSchema,
		},
	}
}

func scopeWith(steps map[string]any) *expressions.InterpolationScope {
	return &expressions.InterpolationScope{Steps: steps}
}

func TestActionHandler_Success(t *testing.T) {
	reg := plugins.NewRegistry(nil)
	reg.Register(plugins.NewMemoryConnector("mailbox").Handle("send_message",
		func(_ context.Context, params map[string]any) (any, error) {
			return map[string]any{"id": "msg-1", "to": params["to"]}, nil
		}))
	h := NewActionHandler(reg, nil)

	out, err := h.Execute(context.Background(), &schema.ActionSpec{Plugin: "mailbox", Action: "send_message"},
		map[string]any{"to": "ops@corp.test"})
	require.NoError(t, err)

	data, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "msg-1", data["id"])
}

func TestActionHandler_SoftFailureBecomesStepError(t *testing.T) {
	reg := plugins.NewRegistry(nil)
	reg.Register(plugins.NewMemoryConnector("http"))
	h := NewActionHandler(reg, nil)

	_, err := h.Execute(context.Background(), &schema.ActionSpec{Plugin: "http", Action: "request"}, nil)
	require.Error(t, err)
	var werr *schema.WeftError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, schema.ErrCodeStepFailed, werr.Code)
}

func TestActionHandler_MissingPlugin(t *testing.T) {
	h := NewActionHandler(plugins.NewRegistry(nil), nil)

	_, err := h.Execute(context.Background(), &schema.ActionSpec{Plugin: "ghost", Action: "x"}, nil)
	require.Error(t, err)
	var werr *schema.WeftError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, schema.ErrCodeConnectorUnavailable, werr.Code)
}

func TestAIHandler_ResolvesInputAndFrames(t *testing.T) {
	client := NewFakeModelClient().EnqueueOutput(map[string]any{"summary": "three stale deals"})
	h := NewAIHandler(client, nil)

	step := aiStep("summarize_deals", schema.AISummarize, "stage_filter.items",
		map[string]string{"summary": "string"})
	scope := scopeWith(map[string]any{
		"stage_filter": map[string]any{
			"items": []any{map[string]any{"name": "acme"}},
			"count": float64(1),
		},
	})

	result, err := h.Process(context.Background(), step,
		&schema.RoutingDecision{Tier: schema.TierBalanced, Model: "sonnet"},
		schema.TokenBudget{Allocated: 1000}, scope)
	require.NoError(t, err)

	out, ok := result.Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "three stale deals", out["summary"])

	calls := client.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "sonnet", calls[0].Model)
	assert.Equal(t, 1000, calls[0].MaxTokens)
	assert.Contains(t, calls[0].System, "Summarize")

	items, ok := calls[0].Input.([]any)
	require.True(t, ok)
	assert.Len(t, items, 1)

	assert.Positive(t, result.Usage.Total())
	assert.False(t, result.BudgetExhausted)
}

func TestAIHandler_SchemaMismatchIsRetryableProviderError(t *testing.T) {
	client := NewFakeModelClient().EnqueueOutput(map[string]any{"wrong_field": 1})
	h := NewAIHandler(client, nil)

	step := aiStep("classify", schema.AIClassify, "", map[string]string{"category": "string"})

	_, err := h.Process(context.Background(), step, nil, schema.TokenBudget{}, scopeWith(nil))
	require.Error(t, err)
	var werr *schema.WeftError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, schema.ErrCodeProvider, werr.Code)
	assert.True(t, werr.IsRetryable())
}

func TestAIHandler_BudgetExhaustedFlagged(t *testing.T) {
	client := NewFakeModelClient().Enqueue(func(ModelRequest) (*ModelResponse, error) {
		return &ModelResponse{
			Output:       map[string]any{"summary": "long"},
			InputTokens:  400,
			OutputTokens: 300,
		}, nil
	})
	h := NewAIHandler(client, nil)

	step := aiStep("summarize", schema.AISummarize, "", map[string]string{"summary": "string"})
	result, err := h.Process(context.Background(), step, nil, schema.TokenBudget{Allocated: 500}, scopeWith(nil))
	require.NoError(t, err)
	assert.True(t, result.BudgetExhausted)
	assert.Equal(t, 700, result.Usage.Total())
}

func TestAIHandler_MissingInputSource(t *testing.T) {
	h := NewAIHandler(NewFakeModelClient(), nil)
	step := aiStep("summarize", schema.AISummarize, "ghost", nil)

	_, err := h.Process(context.Background(), step, nil, schema.TokenBudget{}, scopeWith(nil))
	require.Error(t, err)
	var werr *schema.WeftError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, schema.ErrCodeReference, werr.Code)
}

func TestFraming_IncludesConstraints(t *testing.T) {
	s := framing("generate", map[string]any{"tone": "formal", "max_words": 100})
	assert.Contains(t, s, "Generate")
	assert.Contains(t, s, "max_words=100")
	assert.Contains(t, s, "tone=formal")
}
