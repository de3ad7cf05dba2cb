package compiler

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weftlabs/weft/pkg/schema"
)

// dealsIR is a small IR: fetch deals, filter on stage, email the result.
func dealsIR() *schema.AutomationIR {
	return &schema.AutomationIR{
		Name: "stale-deals",
		Goal: "notify about stage 4 deals",
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
	}
}

func newCompiler(t *testing.T) *Compiler {
	t.Helper()
	c, err := New(nil)
	require.NoError(t, err)
	return c
}

func compileOK(t *testing.T, ir *schema.AutomationIR) *Result {
	t.Helper()
	c := newCompiler(t)
	res, err := c.Compile(context.Background(), ir)
	require.NoError(t, err)
	require.True(t, res.Succeeded(), "errors: %v", res.Errors)
	return res
}

func findStep(t *testing.T, wf *schema.Workflow, id string) *schema.WorkflowStep {
	t.Helper()
	for i := range wf.Steps {
		if wf.Steps[i].ID == id {
			return &wf.Steps[i]
		}
	}
	t.Fatalf("step %q not found in %d-step workflow", id, len(wf.Steps))
	return nil
}

func TestCompile_MinimalIR(t *testing.T) {
	res := compileOK(t, dealsIR())
	wf := res.Workflow

	require.Len(t, wf.Steps, 3)

	fetch := findStep(t, wf, "deals")
	assert.Equal(t, schema.StepAction, fetch.Type)
	assert.Equal(t, "fetch", fetch.Intent)
	assert.Equal(t, schema.ContractArray, fetch.OutputContract)
	require.NotNil(t, fetch.Action)
	assert.Equal(t, "sheets", fetch.Action.Plugin)
	assert.Equal(t, "read_rows", fetch.Action.Action)

	filter := findStep(t, wf, "stage_filter")
	assert.Equal(t, schema.StepTransform, filter.Type)
	assert.Equal(t, schema.TransformFilter, filter.Transform.Operation)
	assert.Equal(t, schema.ContractItems, filter.OutputContract)
	assert.Equal(t, []string{"deals"}, filter.DependsOn)

	notify := findStep(t, wf, "notify")
	assert.Equal(t, schema.StepAction, notify.Type)
	assert.Equal(t, "deliver", notify.Intent)
	assert.Equal(t, []string{"stage_filter"}, notify.DependsOn)
	assert.Equal(t, "${{steps.stage_filter.output}}", notify.Action.Params["payload"])

	assert.Equal(t, "notify", wf.PrimaryOutput)
	assert.InDelta(t, 0.95, res.Confidence, 1e-9)
	assert.Empty(t, res.Warnings)
	assert.Empty(t, res.FallbacksUsed)
}

func TestCompile_Deterministic(t *testing.T) {
	c := newCompiler(t)

	first, err := c.Compile(context.Background(), dealsIR())
	require.NoError(t, err)
	second, err := c.Compile(context.Background(), dealsIR())
	require.NoError(t, err)

	assert.Equal(t, first.Workflow, second.Workflow)
	assert.Equal(t, first.Confidence, second.Confidence)
}

func TestCompile_NilIR(t *testing.T) {
	c := newCompiler(t)

	_, err := c.Compile(context.Background(), nil)
	require.Error(t, err)
	var werr *schema.WeftError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, schema.ErrCodeCompile, werr.Code)
}

func TestCompile_StructuralErrorFatal(t *testing.T) {
	c := newCompiler(t)

	ir := dealsIR()
	ir.DataSources[0].Type = "telepathy"

	res, err := c.Compile(context.Background(), ir)
	require.NoError(t, err)
	assert.False(t, res.Succeeded())
	assert.NotEmpty(t, res.Errors)
	assert.Nil(t, res.Workflow)
}

func TestCompile_PerGroupDeliverySynthesizesScatter(t *testing.T) {
	ir := dealsIR()
	ir.Transforms = append(ir.Transforms, schema.Transform{
		ID:        "by_owner",
		Operation: schema.TransformGroup,
		Input:     "stage_filter",
		Config:    json.RawMessage(`{"by":"owner"}`),
	})
	ir.DeliveryRules = []schema.DeliveryRule{
		{ID: "owner_mail", Method: schema.DeliverEmail, Mode: schema.DeliverPerGroup, Input: "by_owner"},
	}

	res := compileOK(t, ir)
	wf := res.Workflow

	var scatters []*schema.WorkflowStep
	for i := range wf.Steps {
		if wf.Steps[i].Type == schema.StepScatterGather {
			scatters = append(scatters, &wf.Steps[i])
		}
	}
	require.Len(t, scatters, 1, "exactly one synthesized scatter-gather expected")

	sg := scatters[0]
	assert.Equal(t, "owner_mail_each", sg.ID)
	assert.Equal(t, []string{"by_owner"}, sg.DependsOn)
	assert.Equal(t, "by_owner", sg.ScatterGather.Scatter.Input)
	assert.Equal(t, "group", sg.ScatterGather.Scatter.ItemVariable)
	assert.Equal(t, schema.GatherCollect, sg.ScatterGather.Gather.Operation)
	assert.Equal(t, "owner_mail", sg.ScatterGather.Gather.OutputKey)

	require.Len(t, sg.ScatterGather.Scatter.Steps, 1)
	inner := sg.ScatterGather.Scatter.Steps[0]
	assert.Equal(t, "owner_mail", inner.ID)
	assert.Equal(t, schema.StepAction, inner.Type)
	assert.Equal(t, "${{item.value}}", inner.Action.Params["payload"])
	assert.Empty(t, inner.DependsOn, "nested steps carry no top-level dependencies")

	// The synthesized step exists only once at the top level.
	for _, s := range wf.Steps {
		assert.NotEqual(t, "owner_mail", s.ID, "delivery must live inside the scatter body")
	}
}

func TestCompile_PerGroupOverNonKeyedWarns(t *testing.T) {
	ir := dealsIR()
	ir.DeliveryRules = []schema.DeliveryRule{
		{ID: "row_mail", Method: schema.DeliverEmail, Mode: schema.DeliverPerGroup, Input: "stage_filter"},
	}

	res := compileOK(t, ir)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0].Message, "not a keyed producer")
}

func TestCompile_ExplicitLoopCoversDelivery(t *testing.T) {
	ir := dealsIR()
	ir.Loops = []schema.Loop{{
		ID:            "per_deal",
		ForEach:       "stage_filter",
		ItemVariable:  "deal",
		MaxIterations: 100,
		Do: []schema.Intent{{
			Kind: schema.IntentDelivery,
			Delivery: &schema.DeliveryRule{
				ID: "deal_mail", Method: schema.DeliverEmail,
			},
		}},
	}}
	ir.DeliveryRules = []schema.DeliveryRule{
		{ID: "deal_mail", Method: schema.DeliverEmail, Mode: schema.DeliverPerItem, Input: "stage_filter"},
	}

	res := compileOK(t, ir)
	wf := res.Workflow

	loop := findStep(t, wf, "per_deal")
	require.NotNil(t, loop.ScatterGather)
	assert.Equal(t, "deal", loop.ScatterGather.Scatter.ItemVariable)
	assert.Equal(t, 100, loop.ScatterGather.Scatter.MaxIterations)
	assert.Equal(t, defaultScatterConcurrency, loop.ScatterGather.Scatter.MaxConcurrency)
	require.Len(t, loop.ScatterGather.Scatter.Steps, 1)
	assert.Equal(t, "deal_mail", loop.ScatterGather.Scatter.Steps[0].ID)

	// No second, synthesized scatter for the same delivery rule.
	for _, s := range wf.Steps {
		assert.NotEqual(t, "deal_mail_each", s.ID)
	}
}

func TestCompile_LLMSuffixDegradesToAIProcessing(t *testing.T) {
	ir := dealsIR()
	ir.Transforms = append(ir.Transforms, schema.Transform{
		ID:        "triage",
		Operation: "classify_with_llm",
		Input:     "stage_filter",
	})
	ir.DeliveryRules[0].Input = "triage"

	res := compileOK(t, ir)

	step := findStep(t, res.Workflow, "triage")
	assert.Equal(t, schema.StepAIProcessing, step.Type)
	assert.Equal(t, "classify", step.Intent)
	require.NotNil(t, step.AI)
	assert.Equal(t, schema.AIClassify, step.AI.Intent)
	assert.Equal(t, "stage_filter.items", step.AI.InputSource)

	assert.NotEmpty(t, res.FallbacksUsed)
	// One validator warning plus one fallback off the 0.95 baseline.
	assert.InDelta(t, 0.95-0.01-0.005, res.Confidence, 1e-9)
}

func TestCompile_EmptyConfigDegrades(t *testing.T) {
	ir := dealsIR()
	ir.Transforms[0].Config = nil

	res := compileOK(t, ir)

	step := findStep(t, res.Workflow, "stage_filter")
	assert.Equal(t, schema.StepAIProcessing, step.Type)
	assert.NotEmpty(t, res.Warnings)
	assert.NotEmpty(t, res.FallbacksUsed)
}

func TestCompile_UnresolvableReferenceDegrades(t *testing.T) {
	ir := dealsIR()
	ir.Transforms[0].Input = "ghost"

	res := compileOK(t, ir)

	step := findStep(t, res.Workflow, "stage_filter")
	assert.Equal(t, schema.StepAIProcessing, step.Type)
	assert.Empty(t, step.DependsOn)

	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0].Message, "degraded to ai_processing")
	assert.Empty(t, res.Errors)
}

func TestCompile_FieldReferenceStaysDeterministic(t *testing.T) {
	ir := dealsIR()
	ir.Transforms = append(ir.Transforms, schema.Transform{
		ID:        "by_stage",
		Operation: schema.TransformSort,
		Input:     "stage_filter.items",
		Config:    json.RawMessage(`{"field":"stage"}`),
	})
	ir.DeliveryRules[0].Input = "by_stage"

	res := compileOK(t, ir)

	sorted := findStep(t, res.Workflow, "by_stage")
	assert.Equal(t, schema.StepTransform, sorted.Type)
	require.NotNil(t, sorted.Transform)
	assert.Equal(t, "stage_filter.items", sorted.Transform.Input)
	assert.Equal(t, []string{"stage_filter"}, sorted.DependsOn)

	assert.Empty(t, res.Warnings)
	assert.Empty(t, res.FallbacksUsed)
	assert.InDelta(t, 0.95, res.Confidence, 1e-9)
}

func TestCompile_BareFilterReferenceRewritten(t *testing.T) {
	ir := dealsIR()
	ir.Transforms = append(ir.Transforms, schema.Transform{
		ID:        "by_stage",
		Operation: schema.TransformSort,
		Input:     "stage_filter",
		Config:    json.RawMessage(`{"field":"stage"}`),
	})
	ir.DeliveryRules[0].Input = "by_stage"

	res := compileOK(t, ir)

	sorted := findStep(t, res.Workflow, "by_stage")
	assert.Equal(t, schema.StepTransform, sorted.Type)
	assert.Equal(t, "stage_filter.items", sorted.Transform.Input,
		"bare filter reference resolves to its items path")
	assert.Equal(t, []string{"stage_filter"}, sorted.DependsOn)
}

func TestCompile_FieldReferencesPerStepKind(t *testing.T) {
	ir := dealsIR()
	ir.Transforms = append(ir.Transforms, schema.Transform{
		ID:        "stats",
		Operation: schema.TransformAggregate,
		Input:     "stage_filter.items",
		Config:    json.RawMessage(`{"aggregations":[{"op":"count","as":"total"}]}`),
	})
	ir.AIOperations = []schema.AIOperation{{
		ID:           "summary",
		Type:         schema.AISummarize,
		Instruction:  "summarize the totals",
		InputSource:  "stats.total",
		OutputSchema: map[string]string{"text": "string"},
	}}
	ir.Loops = []schema.Loop{{
		ID:            "per_deal",
		ForEach:       "stage_filter.items",
		ItemVariable:  "deal",
		MaxIterations: 50,
		Do: []schema.Intent{{
			Kind:     schema.IntentDelivery,
			Delivery: &schema.DeliveryRule{ID: "deal_mail", Method: schema.DeliverEmail},
		}},
	}}
	ir.DeliveryRules = []schema.DeliveryRule{
		{ID: "notify", Method: schema.DeliverEmail, Input: "summary.text"},
	}

	res := compileOK(t, ir)
	wf := res.Workflow

	stats := findStep(t, wf, "stats")
	assert.Equal(t, schema.StepTransform, stats.Type)
	assert.Equal(t, "stage_filter.items", stats.Transform.Input)
	assert.Equal(t, []string{"stage_filter"}, stats.DependsOn)

	summary := findStep(t, wf, "summary")
	assert.Equal(t, "stats.total", summary.AI.InputSource)
	assert.Equal(t, []string{"stats"}, summary.DependsOn)

	loop := findStep(t, wf, "per_deal")
	require.NotNil(t, loop.ScatterGather)
	assert.Equal(t, "stage_filter.items", loop.ScatterGather.Scatter.Input)
	assert.Equal(t, []string{"stage_filter"}, loop.DependsOn)

	notify := findStep(t, wf, "notify")
	assert.Equal(t, []string{"summary"}, notify.DependsOn)
	assert.Equal(t, "${{steps.summary.output.text}}", notify.Action.Params["payload"])

	assert.Empty(t, res.Warnings)
	assert.Empty(t, res.FallbacksUsed)
}

func TestCompile_ContractViolationDegrades(t *testing.T) {
	// A filter exposes only "items"; selecting any other field cannot be
	// executed deterministically.
	ir := dealsIR()
	ir.Transforms = append(ir.Transforms, schema.Transform{
		ID:        "by_stage",
		Operation: schema.TransformSort,
		Input:     "stage_filter.count",
		Config:    json.RawMessage(`{"field":"stage"}`),
	})
	ir.DeliveryRules[0].Input = "by_stage"

	res := compileOK(t, ir)

	step := findStep(t, res.Workflow, "by_stage")
	assert.Equal(t, schema.StepAIProcessing, step.Type)
	require.NotNil(t, step.AI)
	assert.Equal(t, "stage_filter", step.AI.InputSource,
		"fallback reads the producer's raw output")
	assert.Equal(t, []string{"stage_filter"}, step.DependsOn)

	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0].Message, "degraded to ai_processing")
	assert.NotEmpty(t, res.FallbacksUsed)
	assert.Empty(t, res.Errors)
}

func TestCompile_AIOperationIntentPinned(t *testing.T) {
	ir := dealsIR()
	ir.AIOperations = []schema.AIOperation{{
		ID:           "summary",
		Type:         schema.AISummarize,
		Instruction:  "summarize the stale deals",
		InputSource:  "stage_filter",
		OutputSchema: map[string]string{"text": "string"},
	}}
	ir.DeliveryRules[0].Input = "summary"

	res := compileOK(t, ir)

	step := findStep(t, res.Workflow, "summary")
	assert.Equal(t, schema.StepAIProcessing, step.Type)
	assert.Equal(t, "summarize", step.Intent)
	assert.Equal(t, schema.ContractObject, step.OutputContract)
	assert.Equal(t, []string{"stage_filter"}, step.DependsOn)
}

func TestCompile_ConditionalLowering(t *testing.T) {
	ir := dealsIR()
	ir.Conditionals = []schema.Conditional{{
		ID:   "gate",
		When: schema.Condition{Field: "stage_filter.count", Operator: schema.OpGreaterThan, Value: 0},
		Then: []schema.Intent{{
			Kind: schema.IntentDelivery,
			Delivery: &schema.DeliveryRule{
				ID: "gate_mail", Method: schema.DeliverSlack, Input: "stage_filter",
			},
		}},
		Else: []schema.Intent{{
			Kind: schema.IntentDelivery,
			Delivery: &schema.DeliveryRule{
				ID: "gate_noop", Method: schema.DeliverWebhook, Input: "stage_filter",
			},
		}},
	}}

	res := compileOK(t, ir)

	step := findStep(t, res.Workflow, "gate")
	assert.Equal(t, schema.StepConditional, step.Type)
	require.NotNil(t, step.Conditional)
	assert.Equal(t, []string{"stage_filter"}, step.DependsOn)
	require.Len(t, step.Conditional.Then.Steps, 1)
	assert.Equal(t, "gate_mail", step.Conditional.Then.Steps[0].ID)
	require.NotNil(t, step.Conditional.Else)
	assert.Equal(t, "gate_noop", step.Conditional.Else.Steps[0].ID)
}

func TestCompile_GuardedDelivery(t *testing.T) {
	ir := dealsIR()
	ir.DeliveryRules[0].When = &schema.Condition{
		Field: "stage_filter", Operator: schema.OpIsNotEmpty,
	}

	res := compileOK(t, ir)
	wf := res.Workflow

	guard := findStep(t, wf, "notify_guard")
	assert.Equal(t, schema.StepConditional, guard.Type)
	require.Len(t, guard.Conditional.Then.Steps, 1)
	assert.Equal(t, "notify", guard.Conditional.Then.Steps[0].ID)
	assert.Nil(t, guard.Conditional.Else)

	for _, s := range wf.Steps {
		assert.NotEqual(t, "notify", s.ID, "guarded delivery lives inside the conditional")
	}
}

func TestCompile_EdgeCaseLowering(t *testing.T) {
	ir := dealsIR()
	ir.EdgeCases = []schema.EdgeCase{
		{Condition: schema.EdgeNoRowsAfterFilter, Action: schema.EdgeSendEmptyResult},
	}

	res := compileOK(t, ir)

	check := findStep(t, res.Workflow, "no_rows_after_filter_check")
	assert.Equal(t, schema.StepConditional, check.Type)
	assert.Equal(t, []string{"stage_filter"}, check.DependsOn)
	assert.Equal(t, schema.OpIsEmpty, check.Conditional.Condition.Operator)
	require.Len(t, check.Conditional.Then.Steps, 1)
	assert.Equal(t, "system", check.Conditional.Then.Steps[0].Action.Plugin)
}

func TestCompile_InfeasibleBaseline(t *testing.T) {
	ir := dealsIR()
	ir.Infeasible = true

	res := compileOK(t, ir)
	assert.InDelta(t, 0.70, res.Confidence, 1e-9)
}

func TestConfidenceScore(t *testing.T) {
	tests := []struct {
		name       string
		infeasible bool
		warnings   int
		errors     int
		fallbacks  int
		want       float64
	}{
		{name: "clean", want: 0.95},
		{name: "infeasible baseline", infeasible: true, want: 0.70},
		{name: "one warning", warnings: 1, want: 0.94},
		{name: "one error", errors: 1, want: 0.93},
		{name: "one fallback", fallbacks: 1, want: 0.945},
		{name: "mixed", warnings: 2, errors: 1, fallbacks: 2, want: 0.95 - 0.02 - 0.02 - 0.01},
		{name: "clamped at floor", warnings: 100, want: 0.5},
		{name: "infeasible clamped", infeasible: true, errors: 50, want: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := confidenceScore(tt.infeasible, tt.warnings, tt.errors, tt.fallbacks)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestParseEntityPath(t *testing.T) {
	kind, idx, ok := parseEntityPath("transforms[2].input")
	require.True(t, ok)
	assert.Equal(t, "transforms", kind)
	assert.Equal(t, 2, idx)

	_, _, ok = parseEntityPath("no_index_here")
	assert.False(t, ok)
}
