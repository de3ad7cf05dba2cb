package validation

import (
	"fmt"
	"sort"

	"github.com/weftlabs/weft/pkg/schema"
)

// ValidateStepGraph performs graph analysis on a compiled step list:
// duplicate IDs, dangling dependencies, cycle detection (Kahn's algorithm),
// and dead-step reachability (BFS from roots).
func ValidateStepGraph(steps []schema.WorkflowStep) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	stepIDs := make(map[string]bool, len(steps))
	for _, s := range steps {
		if stepIDs[s.ID] {
			result.AddError(fmt.Sprintf("steps[%s]", s.ID), schema.ErrCodeCompile,
				fmt.Sprintf("duplicate step id %q", s.ID))
		}
		stepIDs[s.ID] = true
	}
	if !result.Valid() {
		return result
	}

	// edges[id] = dependencies of step id, reverse[id] = dependents of step id.
	edges := make(map[string][]string, len(steps))
	reverse := make(map[string][]string, len(steps))

	for _, s := range steps {
		seen := make(map[string]bool, len(s.DependsOn))
		for _, dep := range s.DependsOn {
			if !stepIDs[dep] {
				result.AddError(fmt.Sprintf("steps[%s].depends_on", s.ID),
					schema.ErrCodeReference,
					fmt.Sprintf("depends on unknown step %q", dep))
				continue
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			edges[s.ID] = append(edges[s.ID], dep)
			reverse[dep] = append(reverse[dep], s.ID)
		}
	}
	if !result.Valid() {
		return result
	}

	// Kahn's algorithm for cycle detection.
	inDegree := make(map[string]int, len(steps))
	for id := range stepIDs {
		inDegree[id] = len(edges[id])
	}

	queue := make([]string, 0, len(steps))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	// Sort roots for deterministic output.
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, dep := range reverse[node] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if visited != len(stepIDs) {
		result.AddError("steps", schema.ErrCodeCycle, "step graph contains a dependency cycle")
		return result // cycle makes reachability analysis meaningless
	}

	// Reachability: BFS from root steps (no dependencies) through reverse edges.
	roots := make([]string, 0)
	for id := range stepIDs {
		if len(edges[id]) == 0 {
			roots = append(roots, id)
		}
	}

	reachable := make(map[string]bool, len(stepIDs))
	bfsQueue := make([]string, len(roots))
	copy(bfsQueue, roots)
	for _, r := range roots {
		reachable[r] = true
	}

	for len(bfsQueue) > 0 {
		node := bfsQueue[0]
		bfsQueue = bfsQueue[1:]
		for _, dep := range reverse[node] {
			if !reachable[dep] {
				reachable[dep] = true
				bfsQueue = append(bfsQueue, dep)
			}
		}
	}

	for _, s := range steps {
		if !reachable[s.ID] {
			result.AddWarning(fmt.Sprintf("steps[%s]", s.ID),
				schema.ErrCodeValidation,
				fmt.Sprintf("step %q is unreachable from any root step", s.ID))
		}
	}

	return result
}
