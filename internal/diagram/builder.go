package diagram

import (
	"fmt"

	"github.com/weftlabs/weft/internal/engine"
	"github.com/weftlabs/weft/pkg/schema"
)

// Build constructs a Model from a workflow and optional step states. It
// uses engine.BuildDAG for topology, so an invalid workflow fails here
// the same way it would fail at execution time.
func Build(wf *schema.Workflow, states []*schema.StepState) (*Model, error) {
	dag, err := engine.BuildDAG(wf)
	if err != nil {
		return nil, fmt.Errorf("diagram: %w", err)
	}

	stateMap := make(map[string]*schema.StepState, len(states))
	for _, s := range states {
		stateMap[s.StepID] = s
	}

	nodes := make([]*Node, 0, len(dag.Steps)+2)
	nodes = append(nodes, &Node{ID: "__start__", Label: "Start", Kind: NodeKindStart})

	for _, stepID := range dag.Sorted {
		step := dag.Steps[stepID]
		node := &Node{
			ID:    step.ID,
			Label: nodeLabel(step),
			Kind:  stepKind(step.Type),
		}
		node.Status = overlayFor(step.ID, stateMap)
		buildChildren(node, step, stateMap)
		nodes = append(nodes, node)
	}

	nodes = append(nodes, &Node{ID: "__end__", Label: "End", Kind: NodeKindEnd})

	title := wf.Name
	if title == "" {
		title = "Workflow"
	}

	return &Model{
		Title:  title,
		Nodes:  nodes,
		Edges:  buildEdges(dag),
		Levels: buildLevels(dag),
	}, nil
}

func stepKind(st schema.StepType) NodeKind {
	switch st {
	case schema.StepTransform:
		return NodeKindTransform
	case schema.StepAIProcessing:
		return NodeKindAI
	case schema.StepConditional:
		return NodeKindCondition
	case schema.StepScatterGather:
		return NodeKindScatter
	default:
		return NodeKindAction
	}
}

// nodeLabel names a node by its step ID plus the most telling detail of
// its spec.
func nodeLabel(step *schema.WorkflowStep) string {
	switch {
	case step.Action != nil:
		return fmt.Sprintf("%s (%s.%s)", step.ID, step.Action.Plugin, step.Action.Action)
	case step.Transform != nil:
		return fmt.Sprintf("%s (%s)", step.ID, step.Transform.Operation)
	case step.AI != nil:
		return fmt.Sprintf("%s (%s)", step.ID, step.AI.Intent)
	default:
		return step.ID
	}
}

func overlayFor(stepID string, stateMap map[string]*schema.StepState) *StatusOverlay {
	ss, ok := stateMap[stepID]
	if !ok {
		return nil
	}
	return &StatusOverlay{
		Status:   string(ss.Status),
		Tier:     string(ss.Tier),
		Attempts: ss.Attempts,
		Error:    ss.Error,
	}
}

// buildChildren expands conditional branches and scatter bodies into
// subgraphs. Nested step IDs follow executor naming, parent.branch.id.
func buildChildren(node *Node, step *schema.WorkflowStep, stateMap map[string]*schema.StepState) {
	switch step.Type {
	case schema.StepConditional:
		if step.Conditional == nil {
			return
		}
		node.Children = append(node.Children,
			buildSubGraph("then", step.ID, step.Conditional.Then.Steps, stateMap))
		if step.Conditional.Else != nil {
			node.Children = append(node.Children,
				buildSubGraph("else", step.ID, step.Conditional.Else.Steps, stateMap))
		}

	case schema.StepScatterGather:
		if step.ScatterGather == nil {
			return
		}
		node.Children = append(node.Children,
			buildSubGraph("body", step.ID, step.ScatterGather.Scatter.Steps, stateMap))
	}
}

func buildSubGraph(label, parentID string, steps []schema.WorkflowStep, stateMap map[string]*schema.StepState) *SubGraph {
	sg := &SubGraph{Label: label}
	local := make(map[string]bool, len(steps))

	for i := range steps {
		sub := &steps[i]
		qualified := fmt.Sprintf("%s.%s.%s", parentID, label, sub.ID)
		sg.Nodes = append(sg.Nodes, &Node{
			ID:     qualified,
			Label:  nodeLabel(sub),
			Kind:   stepKind(sub.Type),
			Status: overlayFor(qualified, stateMap),
		})
		local[sub.ID] = true
	}

	for i := range steps {
		sub := &steps[i]
		for _, dep := range sub.DependsOn {
			if local[dep] {
				sg.Edges = append(sg.Edges, Edge{
					From: fmt.Sprintf("%s.%s.%s", parentID, label, dep),
					To:   fmt.Sprintf("%s.%s.%s", parentID, label, sub.ID),
				})
			}
		}
	}

	return sg
}

// buildEdges emits dependency edges plus virtual start and end edges.
func buildEdges(dag *engine.DAG) []Edge {
	var edges []Edge

	for _, root := range dag.Roots {
		edges = append(edges, Edge{From: "__start__", To: root})
	}

	for _, stepID := range dag.Sorted {
		for _, dep := range dag.Edges[stepID] {
			edges = append(edges, Edge{From: dep, To: stepID})
		}
	}

	for _, stepID := range dag.Sorted {
		if len(dag.Reverse[stepID]) == 0 {
			edges = append(edges, Edge{From: stepID, To: "__end__"})
		}
	}

	return edges
}

func buildLevels(dag *engine.DAG) [][]string {
	levels := make([][]string, 0, len(dag.Levels)+2)
	levels = append(levels, []string{"__start__"})
	levels = append(levels, dag.Levels...)
	levels = append(levels, []string{"__end__"})
	return levels
}
