package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weftlabs/weft/pkg/schema"
)

func dealWorkflow() *schema.Workflow {
	return &schema.Workflow{
		Name: "stale-deal-alerts",
		Steps: []schema.WorkflowStep{
			{
				ID:             "fetch_deals",
				Type:           schema.StepAction,
				OutputContract: schema.ContractArray,
				Action:         &schema.ActionSpec{Plugin: "crm", Action: "list_deals"},
			},
			{
				ID:             "stage_filter",
				Type:           schema.StepTransform,
				DependsOn:      []string{"fetch_deals"},
				OutputContract: schema.ContractItems,
				Transform: &schema.TransformSpec{
					Operation: schema.TransformFilter,
					Input:     "fetch_deals",
				},
			},
			{
				ID:             "escalation",
				Type:           schema.StepConditional,
				DependsOn:      []string{"stage_filter"},
				OutputContract: schema.ContractObject,
				Conditional: &schema.ConditionalSpec{
					Condition: schema.Condition{
						Field:    "stage_filter.count",
						Operator: schema.OpGreaterThan,
						Value:    0,
					},
					Then: schema.BranchSpec{Steps: []schema.WorkflowStep{
						{
							ID:             "notify",
							Type:           schema.StepAction,
							OutputContract: schema.ContractObject,
							Action:         &schema.ActionSpec{Plugin: "mail", Action: "send_message"},
						},
					}},
				},
			},
		},
	}
}

func TestBuild_TopologyAndKinds(t *testing.T) {
	model, err := Build(dealWorkflow(), nil)
	require.NoError(t, err)

	assert.Equal(t, "stale-deal-alerts", model.Title)

	// Start, three steps, end.
	require.Len(t, model.Nodes, 5)
	assert.Equal(t, NodeKindStart, model.Nodes[0].Kind)
	assert.Equal(t, NodeKindAction, model.Nodes[1].Kind)
	assert.Equal(t, NodeKindTransform, model.Nodes[2].Kind)
	assert.Equal(t, NodeKindCondition, model.Nodes[3].Kind)
	assert.Equal(t, NodeKindEnd, model.Nodes[4].Kind)

	assert.Equal(t, "fetch_deals (crm.list_deals)", model.Nodes[1].Label)
	assert.Equal(t, "stage_filter (filter)", model.Nodes[2].Label)

	// Virtual levels wrap the DAG levels.
	assert.Equal(t, [][]string{
		{"__start__"},
		{"fetch_deals"},
		{"stage_filter"},
		{"escalation"},
		{"__end__"},
	}, model.Levels)

	assert.Contains(t, model.Edges, Edge{From: "__start__", To: "fetch_deals"})
	assert.Contains(t, model.Edges, Edge{From: "fetch_deals", To: "stage_filter"})
	assert.Contains(t, model.Edges, Edge{From: "escalation", To: "__end__"})
}

func TestBuild_ConditionalBranchSubGraph(t *testing.T) {
	model, err := Build(dealWorkflow(), nil)
	require.NoError(t, err)

	cond := findNode(model.Nodes, "escalation")
	require.NotNil(t, cond)
	require.Len(t, cond.Children, 1)

	sg := cond.Children[0]
	assert.Equal(t, "then", sg.Label)
	require.Len(t, sg.Nodes, 1)
	assert.Equal(t, "escalation.then.notify", sg.Nodes[0].ID)
	assert.Equal(t, "notify (mail.send_message)", sg.Nodes[0].Label)
}

func TestBuild_StatusOverlay(t *testing.T) {
	states := []*schema.StepState{
		{StepID: "fetch_deals", Status: schema.StepStatusCompleted},
		{StepID: "stage_filter", Status: schema.StepStatusFailed, Error: "boom", Attempts: 2},
	}

	model, err := Build(dealWorkflow(), states)
	require.NoError(t, err)

	fetch := findNode(model.Nodes, "fetch_deals")
	require.NotNil(t, fetch.Status)
	assert.Equal(t, "completed", fetch.Status.Status)

	filter := findNode(model.Nodes, "stage_filter")
	require.NotNil(t, filter.Status)
	assert.Equal(t, "failed", filter.Status.Status)
	assert.Equal(t, 2, filter.Status.Attempts)

	// No state recorded for the conditional.
	assert.Nil(t, findNode(model.Nodes, "escalation").Status)
}

func TestBuild_InvalidWorkflow(t *testing.T) {
	wf := &schema.Workflow{
		Name: "broken",
		Steps: []schema.WorkflowStep{
			{
				ID:             "a",
				Type:           schema.StepAction,
				DependsOn:      []string{"a"},
				OutputContract: schema.ContractObject,
				Action:         &schema.ActionSpec{Plugin: "crm", Action: "list_deals"},
			},
		},
	}

	_, err := Build(wf, nil)
	assert.Error(t, err)
}

func TestRenderASCII(t *testing.T) {
	states := []*schema.StepState{
		{StepID: "fetch_deals", Status: schema.StepStatusCompleted, Tier: schema.TierFast},
	}
	model, err := Build(dealWorkflow(), states)
	require.NoError(t, err)

	out := RenderASCII(model)

	assert.Contains(t, out, "=== stale-deal-alerts ===")
	assert.Contains(t, out, "fetch_deals (crm.list_deals)")
	assert.Contains(t, out, "[OK]")
	assert.Contains(t, out, "tier: fast")
	assert.Contains(t, out, "--- escalation sub-steps ---")
	assert.Contains(t, out, "[then]")
}

func TestRenderMermaid(t *testing.T) {
	states := []*schema.StepState{
		{StepID: "fetch_deals", Status: schema.StepStatusCompleted},
		{StepID: "stage_filter", Status: schema.StepStatusSkipped},
	}
	model, err := Build(dealWorkflow(), states)
	require.NoError(t, err)

	out := RenderMermaid(model)

	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, "%% stale-deal-alerts")
	// Conditional gets the diamond shape.
	assert.Contains(t, out, `escalation{"escalation"}`)
	// Subgraph for the then branch.
	assert.Contains(t, out, `subgraph escalation_then["escalation: then"]`)
	assert.Contains(t, out, "__start__ --> fetch_deals")
	assert.Contains(t, out, "class fetch_deals completed")
	assert.Contains(t, out, "class stage_filter skipped")
}
