package e2e

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/internal/audit"
	"github.com/weftlabs/weft/internal/budget"
	"github.com/weftlabs/weft/internal/compiler"
	"github.com/weftlabs/weft/internal/engine"
	"github.com/weftlabs/weft/internal/expressions"
	"github.com/weftlabs/weft/internal/handlers"
	"github.com/weftlabs/weft/internal/plugins"
	"github.com/weftlabs/weft/internal/routing"
	"github.com/weftlabs/weft/internal/store"
	"github.com/weftlabs/weft/internal/tokens"
	"github.com/weftlabs/weft/internal/transform"
	"github.com/weftlabs/weft/pkg/schema"
)

// --- Test harness ---

type harness struct {
	t       *testing.T
	store   *store.LibSQLStore
	sink    *audit.Sink
	exec    *engine.Executor
	client  *handlers.FakeModelClient
	sheets  *plugins.MemoryConnector
	mailbox *plugins.MemoryConnector
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "e2e.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	sink := audit.NewSink(st, 256, nil)

	sheets := plugins.NewMemoryConnector("sheets")
	sheets.Handle("read_rows", func(_ context.Context, _ map[string]any) (any, error) {
		return []any{
			map[string]any{"name": "acme", "stage": 4, "owner": "ana"},
			map[string]any{"name": "globex", "stage": 2, "owner": "bo"},
			map[string]any{"name": "initech", "stage": 4, "owner": "cy"},
		}, nil
	})
	mailbox := plugins.NewMemoryConnector("mailbox")
	mailbox.Handle("send_message", func(_ context.Context, params map[string]any) (any, error) {
		return map[string]any{"delivered": true, "payload": params["payload"]}, nil
	})

	reg := plugins.NewRegistry(nil)
	reg.Register(sheets)
	reg.Register(mailbox)
	reg.Register(plugins.NewSystemConnector(nil))

	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)
	conditions := expressions.NewConditionEvaluator(cel)

	rcfg := routing.DefaultConfig()
	router := routing.NewService(rcfg, tokens.NewEstimator(), nil)
	budgets := budget.NewManager(st, budget.DefaultConfig(), nil)
	client := handlers.NewFakeModelClient()

	exec := engine.NewExecutor(st, sink, router, budgets,
		engine.Handlers{
			Action:    handlers.NewActionHandler(reg, nil),
			Transform: transform.NewEngine(conditions, expressions.NewExprEngine(), expressions.NewGoJQEngine()),
			AI:        handlers.NewAIHandler(client, nil),
		},
		conditions, nil,
		engine.Config{
			MaxConcurrency:  2,
			AgentComplexity: 3.0,
			Strategy:        schema.BudgetProportional,
			LevelBudget:     4000,
			StepTimeout:     30 * time.Second,
		})

	return &harness{t: t, store: st, sink: sink, exec: exec, client: client, sheets: sheets, mailbox: mailbox}
}

func (h *harness) compile(ir *schema.AutomationIR) *schema.Workflow {
	h.t.Helper()
	comp, err := compiler.New(nil)
	require.NoError(h.t, err)
	res, err := comp.Compile(context.Background(), ir)
	require.NoError(h.t, err)
	require.True(h.t, res.Succeeded(), "compile errors: %v", res.Errors)
	return res.Workflow
}

func (h *harness) execute(wf *schema.Workflow) *schema.Run {
	h.t.Helper()
	run, err := h.exec.Execute(context.Background(), wf, uuid.New().String(), nil)
	require.NoError(h.t, err)
	h.sink.Close()
	return run
}

func (h *harness) events(runID, eventType string) []*schema.Event {
	h.t.Helper()
	events, err := h.store.GetEventsByType(context.Background(), eventType, store.EventFilter{RunID: runID})
	require.NoError(h.t, err)
	return events
}

// --- Tests ---

// Plan to delivery: tabular fetch, deterministic filter, email delivery.
func TestE2E_CompileAndExecute(t *testing.T) {
	h := newHarness(t)

	wf := h.compile(&schema.AutomationIR{
		Name: "stale-deal-alerts",
		Goal: "email stage 4 deals",
		DataSources: []schema.DataSource{
			{ID: "deals", Type: schema.SourceTabular, PluginKey: "sheets", Location: "crm/deals"},
		},
		Transforms: []schema.Transform{
			{
				ID:        "stage_filter",
				Operation: schema.TransformFilter,
				Input:     "deals",
				Config:    json.RawMessage(`{"condition":{"field":"stage","operator":"equals","value":4}}`),
			},
		},
		DeliveryRules: []schema.DeliveryRule{
			{ID: "notify", Method: schema.DeliverEmail, Input: "stage_filter"},
		},
	})

	run := h.execute(wf)

	assert.Equal(t, schema.RunStatusCompleted, run.Status)

	// The mailbox received the filtered payload.
	calls := h.mailbox.Calls()
	require.Len(t, calls, 1)
	payload, ok := calls[0].Params["payload"].(map[string]any)
	require.True(t, ok, "payload: %#v", calls[0].Params["payload"])
	assert.EqualValues(t, 2, payload["count"])

	// Every step settled and the audit trail is complete.
	states, err := h.store.ListStepStates(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, states, 3)
	for _, s := range states {
		assert.Equal(t, schema.StepStatusCompleted, s.Status, s.StepID)
	}
	assert.Len(t, h.events(run.ID, schema.EventRunStarted), 1)
	assert.Len(t, h.events(run.ID, schema.EventRunCompleted), 1)
	assert.Len(t, h.events(run.ID, schema.EventStepCompleted), 3)
}

// An AI summarize stage runs through routing, budgeting, and usage
// recording before delivery.
func TestE2E_AIStageRoutedAndBudgeted(t *testing.T) {
	h := newHarness(t)

	h.client.Enqueue(func(req handlers.ModelRequest) (*handlers.ModelResponse, error) {
		return &handlers.ModelResponse{
			Output:       map[string]any{"summary": "two deals are stuck in stage 4"},
			InputTokens:  90,
			OutputTokens: 30,
		}, nil
	})

	wf := h.compile(&schema.AutomationIR{
		Name: "deal-digest",
		Goal: "summarize and email stuck deals",
		DataSources: []schema.DataSource{
			{ID: "deals", Type: schema.SourceTabular, PluginKey: "sheets", Location: "crm/deals"},
		},
		AIOperations: []schema.AIOperation{
			{
				ID:           "digest",
				Type:         schema.AISummarize,
				Instruction:  "Summarize the open deals",
				InputSource:  "deals",
				OutputSchema: map[string]string{"summary": "string"},
			},
		},
		DeliveryRules: []schema.DeliveryRule{
			{ID: "notify", Method: schema.DeliverEmail, Input: "digest"},
		},
	})

	run := h.execute(wf)
	require.Equal(t, schema.RunStatusCompleted, run.Status, "run error: %s", run.Error)

	// Exactly one model call, at a tier the router chose.
	calls := h.client.Calls()
	require.Len(t, calls, 1)
	assert.NotEmpty(t, calls[0].Model)
	assert.Positive(t, calls[0].MaxTokens)

	// The summary reached the mailbox.
	mails := h.mailbox.Calls()
	require.Len(t, mails, 1)
	payload, ok := mails[0].Params["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "two deals are stuck in stage 4", payload["summary"])

	// Usage was recorded for the predictive strategy's history.
	state, err := h.store.GetStepState(context.Background(), run.ID, "digest")
	require.NoError(t, err)
	assert.Equal(t, schema.StepStatusCompleted, state.Status)
	assert.NotEmpty(t, state.Tier)

	assert.Len(t, h.events(run.ID, schema.EventStepRouted), 1)
	assert.Len(t, h.events(run.ID, schema.EventStepBudgeted), 1)
}

// A conditional plan takes the then branch and delivers once.
func TestE2E_ConditionalDelivery(t *testing.T) {
	h := newHarness(t)

	wf := h.compile(&schema.AutomationIR{
		Name: "escalation",
		Goal: "alert only when stale deals exist",
		DataSources: []schema.DataSource{
			{ID: "deals", Type: schema.SourceTabular, PluginKey: "sheets", Location: "crm/deals"},
		},
		Transforms: []schema.Transform{
			{
				ID:        "stage_filter",
				Operation: schema.TransformFilter,
				Input:     "deals",
				Config:    json.RawMessage(`{"condition":{"field":"stage","operator":"equals","value":4}}`),
			},
		},
		Conditionals: []schema.Conditional{
			{
				ID:   "escalate",
				When: schema.Condition{Field: "stage_filter.count", Operator: schema.OpGreaterThan, Value: 0},
				Then: []schema.Intent{
					{Kind: schema.IntentDelivery, Delivery: &schema.DeliveryRule{
						ID: "alert", Method: schema.DeliverEmail, Input: "stage_filter",
					}},
				},
			},
		},
	})

	run := h.execute(wf)
	require.Equal(t, schema.RunStatusCompleted, run.Status, "run error: %s", run.Error)

	require.Len(t, h.mailbox.Calls(), 1)

	branches := h.events(run.ID, schema.EventBranchSelected)
	require.Len(t, branches, 1)
	assert.Equal(t, "then", branches[0].Data["branch"])
}
