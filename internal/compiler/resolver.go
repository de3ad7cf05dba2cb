package compiler

import (
	"fmt"
	"strings"

	"github.com/weftlabs/weft/pkg/schema"
)

// Resolver maps symbolic references like "stepId.fieldName" to concrete
// runtime access paths based on the producing step's output contract.
// Different step kinds store results differently at runtime; this table is
// the single place that mapping lives so it cannot drift between kinds.
type Resolver struct {
	registry map[string]*schema.WorkflowStep
}

// NewResolver builds a Resolver over a compiled step registry.
func NewResolver(steps []schema.WorkflowStep) *Resolver {
	registry := make(map[string]*schema.WorkflowStep, len(steps))
	for i := range steps {
		registerStep(registry, &steps[i])
	}
	return &Resolver{registry: registry}
}

// registerStep indexes a step and its nested branch/scatter steps.
func registerStep(registry map[string]*schema.WorkflowStep, s *schema.WorkflowStep) {
	registry[s.ID] = s
	if s.Conditional != nil {
		for i := range s.Conditional.Then.Steps {
			registerStep(registry, &s.Conditional.Then.Steps[i])
		}
		if s.Conditional.Else != nil {
			for i := range s.Conditional.Else.Steps {
				registerStep(registry, &s.Conditional.Else.Steps[i])
			}
		}
	}
	if s.ScatterGather != nil {
		for i := range s.ScatterGather.Scatter.Steps {
			registerStep(registry, &s.ScatterGather.Scatter.Steps[i])
		}
	}
}

// Lookup returns the step producing the given ID.
func (r *Resolver) Lookup(stepID string) (*schema.WorkflowStep, bool) {
	s, ok := r.registry[stepID]
	return s, ok
}

// Resolve turns a reference into the runtime access path for the referenced
// value. The reference is either a bare step ID or "stepId.fieldName".
//
// Contract table:
//   - array (map, sort, split, flatten, deduplicate, merge, scatter_gather,
//     source fetches): the step's bare output; field suffixes are invalid.
//   - items (filter): matching rows live under the "items" sub-field.
//   - keyed (group): buckets keyed by group value; a field suffix selects
//     one bucket.
//   - object (aggregate, convert, reduce, action, ai_processing): a field
//     suffix selects the named field, a bare reference the whole object.
//   - scalar (format): the bare output; field suffixes are invalid.
func (r *Resolver) Resolve(ref string) (string, error) {
	stepID, field := splitRef(ref)

	step, ok := r.registry[stepID]
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeReference,
			"reference %q does not resolve to any compiled step", ref)
	}

	switch step.OutputContract {
	case schema.ContractArray, schema.ContractScalar:
		if field != "" {
			return "", schema.NewErrorf(schema.ErrCodeReference,
				"reference %q selects field %q from a %s-contract step", ref, field, step.OutputContract)
		}
		return stepID, nil

	case schema.ContractItems:
		if field != "" && field != "items" {
			return "", schema.NewErrorf(schema.ErrCodeReference,
				"reference %q selects field %q; filter steps expose only \"items\"", ref, field)
		}
		return stepID + ".items", nil

	case schema.ContractKeyed:
		if field == "" {
			return stepID, nil
		}
		return stepID + "." + field, nil

	case schema.ContractObject:
		if field == "" {
			return stepID, nil
		}
		return stepID + "." + field, nil

	default:
		return "", schema.NewErrorf(schema.ErrCodeCompile,
			"step %q has no output contract", stepID)
	}
}

// splitRef splits "stepId.fieldName" into its parts. A bare step ID has an
// empty field.
func splitRef(ref string) (stepID, field string) {
	if i := strings.IndexByte(ref, '.'); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}

// resolveReferences is the second lowering pass. Every symbolic input
// reference is mapped onto the producing step's output contract and rewritten
// to the runtime access path, so a bare reference to a filter becomes
// "id.items" and the executor never guesses at output shapes. References the
// contract table rejects degrade the consuming step to ai_processing in
// place; the registry holds pointers into the step slice, so later
// resolutions see the degraded producer's object contract.
func (lw *lowering) resolveReferences() {
	r := NewResolver(lw.steps)
	for i := range lw.steps {
		lw.resolveStep(r, &lw.steps[i], nil)
	}
}

// resolveStep rewrites one step's references and recurses into branch and
// scatter bodies. bound carries item variables that only exist inside the
// enclosing scatter body; their references pass through untouched.
func (lw *lowering) resolveStep(r *Resolver, step *schema.WorkflowStep, bound map[string]bool) {
	switch {
	case step.Transform != nil:
		resolved, err := resolveRef(r, step.Transform.Input, bound)
		if err != nil {
			lw.degradeStep(step, step.Transform.Input, step.Transform.Operation, err)
			return
		}
		step.Transform.Input = resolved

	case step.AI != nil:
		// AI steps tolerate any input shape, so a contract violation falls
		// back to the producer's raw output with a warning.
		resolved, err := resolveRef(r, step.AI.InputSource, bound)
		if err != nil {
			root, _ := splitRef(step.AI.InputSource)
			lw.res.Warnings = append(lw.res.Warnings, schema.ValidationIssue{
				Path:     "steps." + step.ID,
				Code:     schema.ErrCodeReference,
				Message:  err.Error() + " (reading the producer's raw output)",
				Severity: schema.SeverityWarning,
			})
			step.AI.InputSource = root
			return
		}
		step.AI.InputSource = resolved

	case step.Conditional != nil:
		// Condition fields address raw step outputs directly and are not
		// contract references.
		for i := range step.Conditional.Then.Steps {
			lw.resolveStep(r, &step.Conditional.Then.Steps[i], bound)
		}
		if step.Conditional.Else != nil {
			for i := range step.Conditional.Else.Steps {
				lw.resolveStep(r, &step.Conditional.Else.Steps[i], bound)
			}
		}

	case step.ScatterGather != nil:
		sc := &step.ScatterGather.Scatter
		resolved, err := resolveRef(r, sc.Input, bound)
		if err != nil {
			lw.degradeStep(step, sc.Input, schema.TransformMap, err)
			return
		}
		sc.Input = resolved

		inner := make(map[string]bool, len(bound)+2)
		for k := range bound {
			inner[k] = true
		}
		if sc.ItemVariable != "" {
			inner[sc.ItemVariable] = true
		}
		inner["item"] = true
		for i := range sc.Steps {
			lw.resolveStep(r, &sc.Steps[i], inner)
		}
	}
}

// resolveRef resolves one reference against the registry. Empty references,
// scatter-bound item variables, and roots the registry does not know (runtime
// aliases) pass through as written.
func resolveRef(r *Resolver, ref string, bound map[string]bool) (string, error) {
	if ref == "" {
		return "", nil
	}
	root, _ := splitRef(ref)
	if bound[root] {
		return ref, nil
	}
	if _, ok := r.Lookup(root); !ok {
		return ref, nil
	}
	return r.Resolve(ref)
}

// degradeStep replaces a step whose reference violates the producer's output
// contract with a model-assisted step reading the producer's raw output. The
// original dependency edges survive the swap.
func (lw *lowering) degradeStep(step *schema.WorkflowStep, ref string, op schema.TransformOp, err error) {
	lw.res.Warnings = append(lw.res.Warnings, schema.ValidationIssue{
		Path:     "steps." + step.ID,
		Code:     schema.ErrCodeReference,
		Message:  err.Error() + " (degraded to ai_processing)",
		Severity: schema.SeverityWarning,
	})

	root, _ := splitRef(ref)
	fb := lw.aiFallback(step.ID, root, op,
		func(string) bool { return false },
		fmt.Sprintf("reference %q violates the producer's output contract", ref))
	fb.DependsOn = step.DependsOn
	*step = fb
}
