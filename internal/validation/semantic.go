package validation

import (
	"fmt"
	"strings"

	"github.com/weftlabs/weft/pkg/schema"
)

// validOperators is the closed operator vocabulary for filters and simple
// conditions. Anything outside this set is rejected before compilation.
var validOperators = map[schema.Operator]bool{
	schema.OpEquals:             true,
	schema.OpNotEquals:          true,
	schema.OpGreaterThan:        true,
	schema.OpGreaterThanOrEqual: true,
	schema.OpLessThan:           true,
	schema.OpLessThanOrEqual:    true,
	schema.OpContains:           true,
	schema.OpNotContains:        true,
	schema.OpIn:                 true,
	schema.OpNotIn:              true,
	schema.OpIsEmpty:            true,
	schema.OpIsNotEmpty:         true,
	schema.OpStartsWith:         true,
	schema.OpEndsWith:           true,
	schema.OpMatches:            true,
	schema.OpExists:             true,
	schema.OpNotExists:          true,
}

// deterministicOps is the set of transform operations the engine can execute
// without a model call.
var deterministicOps = map[schema.TransformOp]bool{
	schema.TransformMap:         true,
	schema.TransformFilter:      true,
	schema.TransformSort:        true,
	schema.TransformGroup:       true,
	schema.TransformAggregate:   true,
	schema.TransformReduce:      true,
	schema.TransformDeduplicate: true,
	schema.TransformFlatten:     true,
	schema.TransformFormat:      true,
	schema.TransformSplit:       true,
	schema.TransformConvert:     true,
	schema.TransformMerge:       true,
}

// validateSemantic performs semantic analysis on the IR after the structural
// pass succeeds. Checks: unique IDs, upward-only references, concrete AI
// output schemas, known operators, bounded loops over array producers.
func validateSemantic(ir *schema.AutomationIR) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	ids := collectIDs(ir, result)

	// visible accumulates IDs as they become referenceable in declaration
	// order: data sources first, then transforms one by one.
	visible := make(map[string]bool, len(ids))
	for _, ds := range ir.DataSources {
		visible[ds.ID] = true
	}

	for i := range ir.DataSources {
		path := fmt.Sprintf("data_sources[%d]", i)
		for j := range ir.DataSources[i].Filters {
			validateFilter(&ir.DataSources[i].Filters[j], fmt.Sprintf("%s.filters[%d]", path, j), result)
		}
	}

	for i := range ir.Transforms {
		path := fmt.Sprintf("transforms[%d]", i)
		validateTransform(&ir.Transforms[i], path, visible, result)
		visible[ir.Transforms[i].ID] = true
	}

	// AI operations may consume any data source or transform output.
	for i := range ir.AIOperations {
		path := fmt.Sprintf("ai_operations[%d]", i)
		validateAIOperation(&ir.AIOperations[i], path, visible, result)
		visible[ir.AIOperations[i].ID] = true
	}

	for i := range ir.Conditionals {
		path := fmt.Sprintf("conditionals[%d]", i)
		validateCondition(&ir.Conditionals[i].When, path+".when", result)

		// Branch intents may reference siblings within the same branch.
		thenVisible := copyVisible(visible)
		addIntentIDs(ir.Conditionals[i].Then, thenVisible)
		validateIntents(ir.Conditionals[i].Then, path+".then", thenVisible, result)

		elseVisible := copyVisible(visible)
		addIntentIDs(ir.Conditionals[i].Else, elseVisible)
		validateIntents(ir.Conditionals[i].Else, path+".else", elseVisible, result)

		visible[ir.Conditionals[i].ID] = true
	}

	for i := range ir.Loops {
		path := fmt.Sprintf("loops[%d]", i)
		validateLoop(&ir.Loops[i], path, visible, result)
		visible[ir.Loops[i].ID] = true
	}

	for i := range ir.DeliveryRules {
		path := fmt.Sprintf("delivery_rules[%d]", i)
		validateDelivery(&ir.DeliveryRules[i], path, visible, result)
	}

	return result
}

// collectIDs registers all declared entity IDs and reports duplicates.
func collectIDs(ir *schema.AutomationIR, result *schema.ValidationResult) map[string]bool {
	ids := make(map[string]bool)
	add := func(id, path string) {
		if id == "" {
			return
		}
		if ids[id] {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("duplicate entity id %q", id))
			return
		}
		ids[id] = true
	}

	for i, ds := range ir.DataSources {
		add(ds.ID, fmt.Sprintf("data_sources[%d].id", i))
	}
	for i, tr := range ir.Transforms {
		add(tr.ID, fmt.Sprintf("transforms[%d].id", i))
	}
	for i, op := range ir.AIOperations {
		add(op.ID, fmt.Sprintf("ai_operations[%d].id", i))
	}
	for i, c := range ir.Conditionals {
		add(c.ID, fmt.Sprintf("conditionals[%d].id", i))
	}
	for i, l := range ir.Loops {
		add(l.ID, fmt.Sprintf("loops[%d].id", i))
	}
	for i, d := range ir.DeliveryRules {
		add(d.ID, fmt.Sprintf("delivery_rules[%d].id", i))
	}
	return ids
}

func validateFilter(f *schema.Filter, path string, result *schema.ValidationResult) {
	if !validOperators[f.Operator] {
		result.AddError(path+".operator", schema.ErrCodeValidation,
			fmt.Sprintf("unknown operator %q", f.Operator))
	}
}

func validateTransform(tr *schema.Transform, path string, visible map[string]bool, result *schema.ValidationResult) {
	op := tr.Operation
	if strings.HasSuffix(string(op), "_with_llm") {
		// Non-deterministic variant: compiles to an ai_processing step with
		// a confidence penalty.
		result.AddWarning(path+".operation", schema.ErrCodeValidation,
			fmt.Sprintf("operation %q is not deterministic and degrades to ai_processing", op))
	} else if !deterministicOps[op] {
		result.AddError(path+".operation", schema.ErrCodeValidation,
			fmt.Sprintf("unknown transform operation %q", op))
	}

	if tr.Input != "" && !visible[refRoot(tr.Input)] {
		result.AddError(path+".input", schema.ErrCodeReference,
			fmt.Sprintf("references %q, which is not declared earlier", tr.Input))
	}
}

// refRoot returns the producing step's ID from a reference like
// "stepId.fieldName". Field suffixes are checked against the producer's
// output contract during lowering; the semantic pass only verifies that the
// root is declared earlier.
func refRoot(ref string) string {
	if i := strings.IndexByte(ref, '.'); i >= 0 {
		return ref[:i]
	}
	return ref
}

func validateAIOperation(op *schema.AIOperation, path string, visible map[string]bool, result *schema.ValidationResult) {
	if op.InputSource != "" && !visible[refRoot(op.InputSource)] {
		result.AddError(path+".input_source", schema.ErrCodeReference,
			fmt.Sprintf("references %q, which is not declared earlier", op.InputSource))
	}

	for field, typ := range op.OutputSchema {
		if typ == "object" || typ == "" {
			result.AddError(fmt.Sprintf("%s.output_schema.%s", path, field),
				schema.ErrCodeValidation,
				fmt.Sprintf("field %q must declare a concrete type, got %q", field, typ))
		}
	}
}

func validateCondition(c *schema.Condition, path string, result *schema.ValidationResult) {
	if c == nil {
		return
	}

	switch {
	case c.IsExpression():
		if c.Field != "" || c.ConditionType != "" {
			result.AddError(path, schema.ErrCodeValidation,
				"condition must be exactly one of: simple predicate, composite, expression")
		}

	case c.IsComposite():
		if len(c.Conditions) == 0 {
			result.AddError(path+".conditions", schema.ErrCodeValidation,
				"composite condition requires at least one sub-condition")
		}
		if c.ConditionType == schema.ConditionNot && len(c.Conditions) != 1 {
			result.AddError(path+".conditions", schema.ErrCodeValidation,
				fmt.Sprintf("complex_not requires exactly one sub-condition, got %d", len(c.Conditions)))
		}
		for i := range c.Conditions {
			validateCondition(&c.Conditions[i], fmt.Sprintf("%s.conditions[%d]", path, i), result)
		}

	default:
		if c.Field == "" {
			result.AddError(path+".field", schema.ErrCodeValidation,
				"simple condition requires a field")
		}
		if !validOperators[c.Operator] {
			result.AddError(path+".operator", schema.ErrCodeValidation,
				fmt.Sprintf("unknown operator %q", c.Operator))
		}
	}
}

func validateIntents(intents []schema.Intent, path string, visible map[string]bool, result *schema.ValidationResult) {
	for i := range intents {
		ipath := fmt.Sprintf("%s[%d]", path, i)
		intent := &intents[i]

		switch intent.Kind {
		case schema.IntentTransform:
			if intent.Transform == nil {
				result.AddError(ipath, schema.ErrCodeValidation, "transform intent missing transform body")
				continue
			}
			validateTransform(intent.Transform, ipath+".transform", visible, result)
		case schema.IntentAIOperation:
			if intent.AIOperation == nil {
				result.AddError(ipath, schema.ErrCodeValidation, "ai_operation intent missing body")
				continue
			}
			validateAIOperation(intent.AIOperation, ipath+".ai_operation", visible, result)
		case schema.IntentDelivery:
			if intent.Delivery == nil {
				result.AddError(ipath, schema.ErrCodeValidation, "delivery intent missing body")
				continue
			}
			validateDelivery(intent.Delivery, ipath+".delivery", visible, result)
		default:
			result.AddError(ipath+".kind", schema.ErrCodeValidation,
				fmt.Sprintf("unknown intent kind %q", intent.Kind))
		}
	}
}

func validateLoop(l *schema.Loop, path string, visible map[string]bool, result *schema.ValidationResult) {
	if l.ForEach != "" && !visible[refRoot(l.ForEach)] {
		result.AddError(path+".for_each", schema.ErrCodeReference,
			fmt.Sprintf("references %q, which is not declared earlier", l.ForEach))
	}
	if l.MaxIterations <= 0 {
		result.AddError(path+".max_iterations", schema.ErrCodeValidation,
			"loops must declare a positive max_iterations bound")
	}
	if l.MaxConcurrency < 0 {
		result.AddError(path+".max_concurrency", schema.ErrCodeValidation,
			"max_concurrency cannot be negative")
	}

	// Loop bodies see the loop's item variable in addition to earlier IDs.
	bodyVisible := copyVisible(visible)
	if l.ItemVariable != "" {
		bodyVisible[l.ItemVariable] = true
	}
	bodyVisible["item"] = true

	addIntentIDs(l.Do, bodyVisible)
	validateIntents(l.Do, path+".do", bodyVisible, result)
}

func copyVisible(visible map[string]bool) map[string]bool {
	cp := make(map[string]bool, len(visible)+1)
	for k := range visible {
		cp[k] = true
	}
	return cp
}

// addIntentIDs makes intents in a body referenceable by their siblings.
func addIntentIDs(intents []schema.Intent, visible map[string]bool) {
	for _, intent := range intents {
		switch {
		case intent.Transform != nil:
			visible[intent.Transform.ID] = true
		case intent.AIOperation != nil:
			visible[intent.AIOperation.ID] = true
		case intent.Delivery != nil:
			visible[intent.Delivery.ID] = true
		}
	}
}

func validateDelivery(d *schema.DeliveryRule, path string, visible map[string]bool, result *schema.ValidationResult) {
	if d.Input != "" && !visible[refRoot(d.Input)] {
		result.AddError(path+".input", schema.ErrCodeReference,
			fmt.Sprintf("references %q, which is not declared earlier", d.Input))
	}
	if d.When != nil {
		validateCondition(d.When, path+".when", result)
	}
	switch d.Mode {
	case "", schema.DeliverAlways, schema.DeliverPerGroup, schema.DeliverPerItem:
	default:
		result.AddError(path+".mode", schema.ErrCodeValidation,
			fmt.Sprintf("unknown delivery mode %q", d.Mode))
	}
}
