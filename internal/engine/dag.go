package engine

import (
	"sort"

	"github.com/weftlabs/weft/pkg/schema"
)

// DAG is the in-memory directed acyclic graph of a compiled workflow.
// The Executor walks Levels: all steps in one level have every
// dependency satisfied by earlier levels and may run concurrently.
type DAG struct {
	Steps   map[string]*schema.WorkflowStep // step ID -> step
	Edges   map[string][]string             // step ID -> dependencies
	Reverse map[string][]string             // step ID -> dependents
	Sorted  []string                        // topological order
	Roots   []string                        // steps with no dependencies
	Levels  [][]string                      // parallel execution levels
}

var validStepTypes = map[schema.StepType]bool{
	schema.StepAction:        true,
	schema.StepTransform:     true,
	schema.StepAIProcessing:  true,
	schema.StepConditional:   true,
	schema.StepScatterGather: true,
}

// BuildDAG turns a compiled workflow into an executable DAG. It checks
// for duplicate or dangling references, verifies each step carries the
// spec block its type requires, topologically sorts with Kahn's
// algorithm to detect cycles, and computes parallel levels.
func BuildDAG(wf *schema.Workflow) (*DAG, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}
	if len(wf.Steps) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow has no steps")
	}

	dag := &DAG{
		Steps:   make(map[string]*schema.WorkflowStep, len(wf.Steps)),
		Edges:   make(map[string][]string, len(wf.Steps)),
		Reverse: make(map[string][]string, len(wf.Steps)),
	}

	// First pass: register steps and check for duplicates.
	for i := range wf.Steps {
		step := &wf.Steps[i]
		if step.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "step at index %d has empty ID", i)
		}
		if _, exists := dag.Steps[step.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate step ID: %s", step.ID)
		}
		if !validStepTypes[step.Type] {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "step %s has unknown type: %s", step.ID, step.Type)
		}
		dag.Steps[step.ID] = step
	}

	// Second pass: each step must carry the spec block its type names.
	for _, step := range dag.Steps {
		if err := validateStepSpec(step); err != nil {
			return nil, err
		}
	}

	// Third pass: adjacency lists and dependency validation.
	for id, step := range dag.Steps {
		seen := make(map[string]bool, len(step.DependsOn))
		deps := make([]string, 0, len(step.DependsOn))
		for _, dep := range step.DependsOn {
			if _, exists := dag.Steps[dep]; !exists {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "step %s depends on non-existent step: %s", id, dep)
			}
			if dep == id {
				return nil, schema.NewErrorf(schema.ErrCodeCycle, "step %s depends on itself", id)
			}
			if seen[dep] {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "step %s has duplicate dependency: %s", id, dep)
			}
			seen[dep] = true
			deps = append(deps, dep)
			dag.Reverse[dep] = append(dag.Reverse[dep], id)
		}
		dag.Edges[id] = deps
	}

	// Kahn's algorithm: topological sort plus cycle detection.
	inDegree := make(map[string]int, len(dag.Steps))
	for id := range dag.Steps {
		inDegree[id] = len(dag.Edges[id])
	}

	queue := make([]string, 0)
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	// Sort roots for deterministic ordering.
	sort.Strings(queue)
	dag.Roots = make([]string, len(queue))
	copy(dag.Roots, queue)

	sorted := make([]string, 0, len(dag.Steps))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		dependents := make([]string, len(dag.Reverse[node]))
		copy(dependents, dag.Reverse[node])
		sort.Strings(dependents)

		for _, dep := range dependents {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(sorted) != len(dag.Steps) {
		return nil, schema.NewError(schema.ErrCodeCycle, "workflow contains a cycle")
	}
	dag.Sorted = sorted
	dag.Levels = computeLevels(dag)
	return dag, nil
}

// Dependents returns the transitive closure of steps that depend on id.
// The Executor skips this whole subgraph when id fails or is skipped.
func (d *DAG) Dependents(id string) []string {
	var out []string
	seen := map[string]bool{id: true}
	frontier := append([]string(nil), d.Reverse[id]...)
	for len(frontier) > 0 {
		node := frontier[0]
		frontier = frontier[1:]
		if seen[node] {
			continue
		}
		seen[node] = true
		out = append(out, node)
		frontier = append(frontier, d.Reverse[node]...)
	}
	sort.Strings(out)
	return out
}

// computeLevels groups steps by topological depth: a step's level is
// one past the deepest of its dependencies.
func computeLevels(dag *DAG) [][]string {
	depth := make(map[string]int, len(dag.Steps))
	for _, id := range dag.Sorted {
		maxDep := -1
		for _, dep := range dag.Edges[id] {
			if depth[dep] > maxDep {
				maxDep = depth[dep]
			}
		}
		depth[id] = maxDep + 1
	}

	maxLevel := 0
	for _, d := range depth {
		if d > maxLevel {
			maxLevel = d
		}
	}

	levels := make([][]string, maxLevel+1)
	for _, id := range dag.Sorted {
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	return levels
}

// validateStepSpec checks that the type-specific spec block is present
// and internally coherent.
func validateStepSpec(step *schema.WorkflowStep) error {
	switch step.Type {
	case schema.StepAction:
		if step.Action == nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "action step %s has no action spec", step.ID)
		}
		if step.Action.Plugin == "" || step.Action.Action == "" {
			return schema.NewErrorf(schema.ErrCodeValidation, "action step %s must name a plugin and an action", step.ID)
		}

	case schema.StepTransform:
		if step.Transform == nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "transform step %s has no transform spec", step.ID)
		}
		if step.Transform.Input == "" {
			return schema.NewErrorf(schema.ErrCodeValidation, "transform step %s has no input reference", step.ID)
		}

	case schema.StepAIProcessing:
		if step.AI == nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "ai step %s has no ai spec", step.ID)
		}
		if step.AI.Prompt == "" {
			return schema.NewErrorf(schema.ErrCodeValidation, "ai step %s has an empty prompt", step.ID)
		}

	case schema.StepConditional:
		if step.Conditional == nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "conditional step %s has no conditional spec", step.ID)
		}
		if len(step.Conditional.Then.Steps) == 0 {
			return schema.NewErrorf(schema.ErrCodeValidation, "conditional step %s has an empty then branch", step.ID)
		}

	case schema.StepScatterGather:
		if step.ScatterGather == nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "scatter_gather step %s has no scatter_gather spec", step.ID)
		}
		sg := step.ScatterGather
		if sg.Scatter.Input == "" {
			return schema.NewErrorf(schema.ErrCodeValidation, "scatter_gather step %s has no scatter input", step.ID)
		}
		if len(sg.Scatter.Steps) == 0 {
			return schema.NewErrorf(schema.ErrCodeValidation, "scatter_gather step %s has an empty scatter body", step.ID)
		}
		if sg.Scatter.MaxIterations <= 0 {
			return schema.NewErrorf(schema.ErrCodeValidation, "scatter_gather step %s must bound iterations", step.ID)
		}
		if sg.Gather.Operation != schema.GatherCollect {
			return schema.NewErrorf(schema.ErrCodeValidation, "scatter_gather step %s has unsupported gather operation %q", step.ID, sg.Gather.Operation)
		}
	}
	return nil
}
