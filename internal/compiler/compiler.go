package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/weftlabs/weft/internal/validation"
	"github.com/weftlabs/weft/pkg/schema"
)

const (
	baseConfidence       = 0.95
	infeasibleConfidence = 0.70
	warningPenalty       = 0.01
	errorPenalty         = 0.02
	fallbackPenalty      = 0.005
	minConfidence        = 0.5
	maxConfidence        = 1.0

	// defaultScatterConcurrency bounds synthesized scatter-gather steps that
	// have no explicit max_concurrency.
	defaultScatterConcurrency = 4

	// defaultScatterIterations bounds synthesized scatter-gather steps.
	// Exceeding it at runtime is fatal, never a silent truncation.
	defaultScatterIterations = 1000
)

// Result is the outcome of one compilation.
type Result struct {
	Workflow      *schema.Workflow         `json:"workflow,omitempty"`
	Errors        []schema.ValidationIssue `json:"errors,omitempty"`
	Warnings      []schema.ValidationIssue `json:"warnings,omitempty"`
	FallbacksUsed []string                 `json:"fallbacks_used,omitempty"`
	Confidence    float64                  `json:"confidence"`
}

// Succeeded reports whether a workflow was produced.
func (r *Result) Succeeded() bool { return r.Workflow != nil }

// Compiler lowers a validated AutomationIR into a typed workflow step graph.
// Compilation is deterministic: the same IR always yields the same graph.
type Compiler struct {
	validator *validation.IRValidator
	logger    *slog.Logger
}

// New creates a Compiler.
func New(logger *slog.Logger) (*Compiler, error) {
	v, err := validation.NewIRValidator()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{validator: v, logger: logger}, nil
}

// Compile validates and lowers the IR. Structural violations are fatal and
// yield a Result without a workflow. Unresolvable references and
// non-deterministic transforms degrade to ai_processing steps with a warning,
// favoring an executable-but-model-assisted step over a hard compile error.
func (c *Compiler) Compile(ctx context.Context, ir *schema.AutomationIR) (*Result, error) {
	if ir == nil {
		return nil, schema.NewError(schema.ErrCodeCompile, "automation IR is nil")
	}

	res := &Result{}

	vres := c.validator.Validate(ir)
	degraded := make(map[string]bool)

	for _, issue := range vres.Errors {
		if issue.Code == schema.ErrCodeReference {
			// Reference errors degrade the owning entity instead of failing
			// compilation outright.
			if id := entityIDForPath(ir, issue.Path); id != "" {
				degraded[id] = true
				res.Warnings = append(res.Warnings, schema.ValidationIssue{
					Path:     issue.Path,
					Code:     issue.Code,
					Message:  issue.Message + " (degraded to ai_processing)",
					Severity: schema.SeverityWarning,
				})
				continue
			}
		}
		res.Errors = append(res.Errors, issue)
	}
	res.Warnings = append(res.Warnings, vres.Warnings...)

	if len(res.Errors) > 0 {
		res.Confidence = confidenceScore(ir.Infeasible, len(res.Warnings), len(res.Errors), len(res.FallbacksUsed))
		c.logger.WarnContext(ctx, "compilation failed",
			slog.Int("errors", len(res.Errors)),
			slog.Int("warnings", len(res.Warnings)))
		return res, nil
	}

	lw := &lowering{
		ir:       ir,
		res:      res,
		degraded: degraded,
		byID:     make(map[string]*schema.WorkflowStep),
	}

	lw.lowerDataSources()
	lw.lowerTransforms()
	lw.lowerAIOperations()
	lw.lowerConditionals()
	lw.lowerLoops()
	lw.lowerDeliveries()
	lw.lowerEdgeCases()

	// Second pass: map every symbolic input reference onto the producing
	// step's output contract and rewrite it to the runtime access path.
	// References the contract table rejects degrade in place.
	lw.resolveReferences()

	// The compiler verifies its own output: a cycle or dangling dependency
	// here is a lowering bug, not a user error, but it must never escape.
	graphResult := validation.ValidateStepGraph(lw.steps)
	res.Errors = append(res.Errors, graphResult.Errors...)
	res.Warnings = append(res.Warnings, graphResult.Warnings...)

	res.Confidence = confidenceScore(ir.Infeasible, len(res.Warnings), len(res.Errors), len(res.FallbacksUsed))

	if len(res.Errors) > 0 {
		return res, nil
	}

	name := ir.Name
	if name == "" {
		name = "automation"
	}
	res.Workflow = &schema.Workflow{
		Name:          name,
		Description:   ir.Goal,
		Steps:         lw.steps,
		Confidence:    res.Confidence,
		PrimaryOutput: lw.primaryOutput(),
	}

	c.logger.InfoContext(ctx, "compilation succeeded",
		slog.String("workflow", name),
		slog.Int("steps", len(lw.steps)),
		slog.Int("warnings", len(res.Warnings)),
		slog.Int("fallbacks", len(res.FallbacksUsed)),
		slog.Float64("confidence", res.Confidence))

	return res, nil
}

// confidenceScore computes the compile confidence in [0.5, 1.0].
// Monotonically non-increasing in warnings, errors, and fallbacks.
func confidenceScore(infeasible bool, warnings, errors, fallbacks int) float64 {
	c := baseConfidence
	if infeasible {
		c = infeasibleConfidence
	}
	c -= warningPenalty*float64(warnings) + errorPenalty*float64(errors) + fallbackPenalty*float64(fallbacks)
	if c < minConfidence {
		c = minConfidence
	}
	if c > maxConfidence {
		c = maxConfidence
	}
	return c
}

// entityIDForPath maps a validation path like "transforms[2].input" back to
// the owning entity's ID so the entity can be degraded.
func entityIDForPath(ir *schema.AutomationIR, path string) string {
	kind, idx, ok := parseEntityPath(path)
	if !ok {
		return ""
	}
	switch kind {
	case "transforms":
		if idx < len(ir.Transforms) {
			return ir.Transforms[idx].ID
		}
	case "ai_operations":
		if idx < len(ir.AIOperations) {
			return ir.AIOperations[idx].ID
		}
	case "loops":
		if idx < len(ir.Loops) {
			return ir.Loops[idx].ID
		}
	case "delivery_rules":
		if idx < len(ir.DeliveryRules) {
			return ir.DeliveryRules[idx].ID
		}
	case "conditionals":
		if idx < len(ir.Conditionals) {
			return ir.Conditionals[idx].ID
		}
	}
	return ""
}

func parseEntityPath(path string) (kind string, idx int, ok bool) {
	open := strings.IndexByte(path, '[')
	closing := strings.IndexByte(path, ']')
	if open <= 0 || closing <= open {
		return "", 0, false
	}
	kind = path[:open]
	if _, err := fmt.Sscanf(path[open+1:closing], "%d", &idx); err != nil {
		return "", 0, false
	}
	return kind, idx, true
}

// --- Lowering ---

// lowering accumulates compiled steps for one IR, in declaration order.
type lowering struct {
	ir       *schema.AutomationIR
	res      *Result
	degraded map[string]bool

	steps []schema.WorkflowStep
	byID  map[string]*schema.WorkflowStep
}

func (lw *lowering) append(step schema.WorkflowStep) {
	lw.steps = append(lw.steps, step)
	lw.byID[step.ID] = &lw.steps[len(lw.steps)-1]
}

func (lw *lowering) visible(id string) bool {
	_, ok := lw.byID[id]
	return ok
}

func (lw *lowering) fallback(id, reason string) {
	lw.res.FallbacksUsed = append(lw.res.FallbacksUsed, fmt.Sprintf("%s: %s", id, reason))
}

// refDeps builds the dependency edge for a reference. The edge always points
// at the producing step's ID, even when the reference selects a field.
func refDeps(ref string, visible func(string) bool) []string {
	root, _ := splitRef(ref)
	if root == "" || !visible(root) {
		return nil
	}
	return []string{root}
}

// primaryOutput is the last top-level step, the natural terminal of the
// declaration order.
func (lw *lowering) primaryOutput() string {
	if len(lw.steps) == 0 {
		return ""
	}
	return lw.steps[len(lw.steps)-1].ID
}

// sourceActions maps data source types to connector action names.
var sourceActions = map[schema.SourceType]string{
	schema.SourceTabular:  "read_rows",
	schema.SourceAPI:      "request",
	schema.SourceWebhook:  "receive",
	schema.SourceDatabase: "query",
	schema.SourceFile:     "read",
	schema.SourceStream:   "consume",
}

func (lw *lowering) lowerDataSources() {
	for i := range lw.ir.DataSources {
		ds := &lw.ir.DataSources[i]

		params := map[string]any{}
		if ds.Location != "" {
			params["location"] = ds.Location
		}
		if ds.Role != "" {
			params["role"] = ds.Role
		}
		if len(ds.Filters) > 0 {
			filters := make([]any, 0, len(ds.Filters))
			for _, f := range ds.Filters {
				filters = append(filters, map[string]any{
					"field":    f.Field,
					"operator": string(f.Operator),
					"value":    f.Value,
				})
			}
			params["filters"] = filters
		}

		action := sourceActions[ds.Type]
		if action == "" {
			action = "read"
		}

		lw.append(schema.WorkflowStep{
			ID:     ds.ID,
			Name:   fmt.Sprintf("fetch %s", ds.ID),
			Type:   schema.StepAction,
			Intent: "fetch",
			Action: &schema.ActionSpec{
				Plugin: ds.PluginKey,
				Action: action,
				Params: params,
			},
			// Source fetches produce row arrays, unlike side-effecting
			// delivery actions.
			OutputContract: schema.ContractArray,
		})
	}
}

// configRequired lists operations that cannot run with an empty config.
var configRequired = map[schema.TransformOp]bool{
	schema.TransformMap:       true,
	schema.TransformFilter:    true,
	schema.TransformSort:      true,
	schema.TransformGroup:     true,
	schema.TransformAggregate: true,
	schema.TransformReduce:    true,
	schema.TransformFormat:    true,
	schema.TransformSplit:     true,
	schema.TransformConvert:   true,
	schema.TransformMerge:     true,
}

func (lw *lowering) lowerTransforms() {
	for i := range lw.ir.Transforms {
		step := lw.lowerTransform(&lw.ir.Transforms[i], lw.visible)
		lw.append(step)
	}
}

// lowerTransform produces either a deterministic transform step or an
// ai_processing fallback. The compiler never emits a TransformStep it cannot
// guarantee is executable deterministically.
func (lw *lowering) lowerTransform(tr *schema.Transform, visible func(string) bool) schema.WorkflowStep {
	op := tr.Operation

	switch {
	case lw.degraded[tr.ID]:
		return lw.aiFallback(tr.ID, tr.Input, op, visible, "unresolvable reference")

	case strings.HasSuffix(string(op), "_with_llm"):
		lw.fallback(tr.ID, fmt.Sprintf("operation %q requires a model call", op))
		return lw.aiFallback(tr.ID, tr.Input, op, visible, "")

	case configRequired[op] && len(tr.Config) == 0:
		lw.res.Warnings = append(lw.res.Warnings, schema.ValidationIssue{
			Path:     "transforms",
			Code:     schema.ErrCodeCompile,
			Message:  fmt.Sprintf("transform %q has no config for operation %q; degraded to ai_processing", tr.ID, op),
			Severity: schema.SeverityWarning,
		})
		return lw.aiFallback(tr.ID, tr.Input, op, visible, "empty config")
	}

	return schema.WorkflowStep{
		ID:        tr.ID,
		Name:      fmt.Sprintf("%s %s", op, tr.Input),
		Type:      schema.StepTransform,
		Intent:    "transform",
		DependsOn: refDeps(tr.Input, visible),
		Transform: &schema.TransformSpec{
			Operation: op,
			Input:     tr.Input,
			Config:    []byte(tr.Config),
		},
		OutputContract: schema.OutputContractFor(schema.StepTransform, op),
	}
}

// aiFallback builds the ai_processing step a degraded transform becomes.
// The intent is pinned here, never left to runtime classification.
func (lw *lowering) aiFallback(id, input string, op schema.TransformOp, visible func(string) bool, reason string) schema.WorkflowStep {
	if reason != "" {
		lw.fallback(id, reason)
	}

	base := strings.TrimSuffix(string(op), "_with_llm")
	intent := schema.AIGenerate
	switch schema.AIOpType(base) {
	case schema.AISummarize, schema.AIExtract, schema.AIClassify, schema.AISentiment, schema.AIGenerate, schema.AIDecide:
		intent = schema.AIOpType(base)
	}

	return schema.WorkflowStep{
		ID:        id,
		Name:      fmt.Sprintf("%s %s (model-assisted)", base, input),
		Type:      schema.StepAIProcessing,
		Intent:    string(intent),
		DependsOn: refDeps(input, visible),
		AI: &schema.AISpec{
			Intent:       intent,
			Prompt:       fmt.Sprintf("Apply the %s operation to the input data and return the result.", base),
			InputSource:  input,
			OutputSchema: map[string]string{"result": "array"},
		},
		OutputContract: schema.ContractObject,
	}
}

func (lw *lowering) lowerAIOperations() {
	for i := range lw.ir.AIOperations {
		step := lw.lowerAIOperation(&lw.ir.AIOperations[i], lw.visible)
		lw.append(step)
	}
}

func (lw *lowering) lowerAIOperation(op *schema.AIOperation, visible func(string) bool) schema.WorkflowStep {
	return schema.WorkflowStep{
		ID:        op.ID,
		Name:      fmt.Sprintf("%s %s", op.Type, op.InputSource),
		Type:      schema.StepAIProcessing,
		Intent:    string(op.Type),
		DependsOn: refDeps(op.InputSource, visible),
		AI: &schema.AISpec{
			Intent:       op.Type,
			Prompt:       op.Instruction,
			InputSource:  op.InputSource,
			OutputSchema: op.OutputSchema,
			Constraints:  op.Constraints,
		},
		OutputContract: schema.ContractObject,
	}
}

func (lw *lowering) lowerConditionals() {
	for i := range lw.ir.Conditionals {
		cond := &lw.ir.Conditionals[i]

		if lw.degraded[cond.ID] {
			lw.append(lw.aiFallback(cond.ID, "", "decide", lw.visible, "unresolvable branch reference"))
			continue
		}

		thenSteps := lw.lowerIntents(cond.Then, false)
		var elseBranch *schema.BranchSpec
		if len(cond.Else) > 0 {
			elseBranch = &schema.BranchSpec{Steps: lw.lowerIntents(cond.Else, false)}
		}

		deps := lw.branchDeps(cond.Then, cond.Else, &cond.When)

		lw.append(schema.WorkflowStep{
			ID:        cond.ID,
			Name:      fmt.Sprintf("branch %s", cond.ID),
			Type:      schema.StepConditional,
			Intent:    "conditional",
			DependsOn: deps,
			Conditional: &schema.ConditionalSpec{
				Condition: cond.When,
				Then:      schema.BranchSpec{Steps: thenSteps},
				Else:      elseBranch,
			},
			OutputContract: schema.ContractObject,
		})
	}
}

func (lw *lowering) lowerLoops() {
	for i := range lw.ir.Loops {
		loop := &lw.ir.Loops[i]

		if lw.degraded[loop.ID] {
			lw.append(lw.aiFallback(loop.ID, loop.ForEach, "map", lw.visible, "unresolvable scatter source"))
			continue
		}

		itemVar := loop.ItemVariable
		if itemVar == "" {
			itemVar = "item"
		}
		concurrency := loop.MaxConcurrency
		if concurrency <= 0 {
			concurrency = defaultScatterConcurrency
		}

		lw.append(schema.WorkflowStep{
			ID:        loop.ID,
			Name:      fmt.Sprintf("for each %s in %s", itemVar, loop.ForEach),
			Type:      schema.StepScatterGather,
			Intent:    "scatter",
			DependsOn: refDeps(loop.ForEach, lw.visible),
			ScatterGather: &schema.ScatterGatherSpec{
				Scatter: schema.ScatterSpec{
					Input:          loop.ForEach,
					ItemVariable:   itemVar,
					Steps:          lw.lowerIntents(loop.Do, true),
					MaxIterations:  loop.MaxIterations,
					MaxConcurrency: concurrency,
				},
				Gather: schema.GatherSpec{
					Operation: schema.GatherCollect,
					OutputKey: loop.ID,
				},
			},
			OutputContract: schema.ContractArray,
		})
	}
}

// lowerIntents lowers a nested intent list into branch/scatter body steps.
// Nested steps run sequentially in declaration order and carry no top-level
// dependency edges. Only scatter bodies bind an item variable, so branch
// deliveries keep their input reference while loop deliveries receive the
// bound item.
func (lw *lowering) lowerIntents(intents []schema.Intent, inScatter bool) []schema.WorkflowStep {
	steps := make([]schema.WorkflowStep, 0, len(intents))
	for i := range intents {
		intent := &intents[i]
		switch {
		case intent.Transform != nil:
			steps = append(steps, lw.lowerTransform(intent.Transform, lw.visible))
		case intent.AIOperation != nil:
			steps = append(steps, lw.lowerAIOperation(intent.AIOperation, lw.visible))
		case intent.Delivery != nil:
			step := lw.deliveryStep(intent.Delivery, inScatter)
			step.DependsOn = nil
			steps = append(steps, step)
		}
	}
	return steps
}

// branchDeps collects top-level steps a conditional depends on: anything its
// condition or branch intents read.
func (lw *lowering) branchDeps(then, els []schema.Intent, when *schema.Condition) []string {
	seen := make(map[string]bool)
	var deps []string
	add := func(id string) {
		if id == "" || seen[id] || !lw.visible(id) {
			return
		}
		seen[id] = true
		deps = append(deps, id)
	}

	var addCondition func(c *schema.Condition)
	addCondition = func(c *schema.Condition) {
		if c == nil {
			return
		}
		if c.Field != "" {
			root, _ := splitRef(c.Field)
			add(root)
		}
		for i := range c.Conditions {
			addCondition(&c.Conditions[i])
		}
	}
	addCondition(when)

	addRef := func(ref string) {
		root, _ := splitRef(ref)
		add(root)
	}
	addIntents := func(intents []schema.Intent) {
		for i := range intents {
			switch {
			case intents[i].Transform != nil:
				addRef(intents[i].Transform.Input)
			case intents[i].AIOperation != nil:
				addRef(intents[i].AIOperation.InputSource)
			case intents[i].Delivery != nil:
				addRef(intents[i].Delivery.Input)
			}
		}
	}
	addIntents(then)
	addIntents(els)

	return deps
}

// deliveryPlugins maps delivery methods to default connector bindings.
var deliveryPlugins = map[schema.DeliveryMethod]struct{ plugin, action string }{
	schema.DeliverEmail:    {"mailbox", "send_message"},
	schema.DeliverSlack:    {"chat", "post_message"},
	schema.DeliverWebhook:  {"http", "post"},
	schema.DeliverDatabase: {"database", "insert"},
	schema.DeliverAPICall:  {"http", "request"},
	schema.DeliverFile:     {"storage", "write"},
	schema.DeliverSMS:      {"sms", "send"},
}

func (lw *lowering) lowerDeliveries() {
	for i := range lw.ir.DeliveryRules {
		rule := &lw.ir.DeliveryRules[i]

		if lw.degraded[rule.ID] {
			lw.append(lw.aiFallback(rule.ID, rule.Input, "format", lw.visible, "unresolvable delivery input"))
			continue
		}

		mode := rule.Mode
		if mode == "" {
			mode = schema.DeliverAlways
		}

		switch mode {
		case schema.DeliverPerGroup, schema.DeliverPerItem:
			if lw.coveredByExplicitLoop(rule.ID) {
				// An explicit loop already wraps this delivery; the loop
				// lowering emitted it inside the scatter body.
				continue
			}
			lw.append(lw.synthesizeScatter(rule, mode))

		default:
			step := lw.deliveryStep(rule, false)
			if rule.When != nil {
				step = lw.guardStep(rule.ID, *rule.When, step)
			}
			lw.append(step)
		}
	}
}

// coveredByExplicitLoop reports whether any explicit loop body already
// contains this delivery rule.
func (lw *lowering) coveredByExplicitLoop(deliveryID string) bool {
	for _, loop := range lw.ir.Loops {
		for _, intent := range loop.Do {
			if intent.Delivery != nil && intent.Delivery.ID == deliveryID {
				return true
			}
		}
	}
	return false
}

// synthesizeScatter wraps a per-group/per-item delivery in an implicit
// scatter-gather when the IR declared no explicit loop for it.
func (lw *lowering) synthesizeScatter(rule *schema.DeliveryRule, mode schema.DeliveryMode) schema.WorkflowStep {
	itemVar := "item"
	if mode == schema.DeliverPerGroup {
		itemVar = "group"
		inputRoot, _ := splitRef(rule.Input)
		if src, ok := lw.byID[inputRoot]; ok && src.OutputContract != schema.ContractKeyed {
			lw.res.Warnings = append(lw.res.Warnings, schema.ValidationIssue{
				Path:     "delivery_rules",
				Code:     schema.ErrCodeCompile,
				Message:  fmt.Sprintf("per_group delivery %q scatters over %q, which is not a keyed producer", rule.ID, rule.Input),
				Severity: schema.SeverityWarning,
			})
		}
	}

	inner := lw.deliveryStep(rule, true)

	return schema.WorkflowStep{
		ID:        rule.ID + "_each",
		Name:      fmt.Sprintf("deliver %s per %s", rule.ID, itemVar),
		Type:      schema.StepScatterGather,
		Intent:    "scatter",
		DependsOn: refDeps(rule.Input, lw.visible),
		ScatterGather: &schema.ScatterGatherSpec{
			Scatter: schema.ScatterSpec{
				Input:          rule.Input,
				ItemVariable:   itemVar,
				Steps:          []schema.WorkflowStep{inner},
				MaxIterations:  defaultScatterIterations,
				MaxConcurrency: defaultScatterConcurrency,
			},
			Gather: schema.GatherSpec{
				Operation: schema.GatherCollect,
				OutputKey: rule.ID,
			},
		},
		OutputContract: schema.ContractArray,
	}
}

// deliveryStep lowers one delivery rule to an action step. Inside a scatter
// body the payload is the bound item; otherwise it references the input
// step's output.
func (lw *lowering) deliveryStep(rule *schema.DeliveryRule, nested bool) schema.WorkflowStep {
	binding, ok := deliveryPlugins[rule.Method]
	if !ok {
		binding = struct{ plugin, action string }{"http", "post"}
	}
	plugin := rule.PluginKey
	if plugin == "" {
		plugin = binding.plugin
	}

	params := map[string]any{}
	if len(rule.Config) > 0 {
		if err := json.Unmarshal(rule.Config, &params); err != nil {
			lw.res.Warnings = append(lw.res.Warnings, schema.ValidationIssue{
				Path:     "delivery_rules",
				Code:     schema.ErrCodeValidation,
				Message:  fmt.Sprintf("delivery %q config is not a JSON object: %s", rule.ID, err),
				Severity: schema.SeverityWarning,
			})
			params = map[string]any{}
		}
	}

	if _, exists := params["payload"]; !exists {
		if nested {
			params["payload"] = "${{item.value}}"
		} else if rule.Input != "" {
			root, field := splitRef(rule.Input)
			ref := fmt.Sprintf("steps.%s.output", root)
			if field != "" {
				ref += "." + field
			}
			params["payload"] = fmt.Sprintf("${{%s}}", ref)
		}
	}

	var deps []string
	if !nested {
		deps = refDeps(rule.Input, lw.visible)
	}

	return schema.WorkflowStep{
		ID:        rule.ID,
		Name:      fmt.Sprintf("deliver via %s", rule.Method),
		Type:      schema.StepAction,
		Intent:    "deliver",
		DependsOn: deps,
		Action: &schema.ActionSpec{
			Plugin: plugin,
			Action: binding.action,
			Params: params,
		},
		OutputContract: schema.ContractObject,
	}
}

// guardStep wraps a delivery in a conditional so the rule's when clause is
// evaluated exactly once at runtime.
func (lw *lowering) guardStep(id string, when schema.Condition, inner schema.WorkflowStep) schema.WorkflowStep {
	return schema.WorkflowStep{
		ID:        id + "_guard",
		Name:      fmt.Sprintf("guard %s", id),
		Type:      schema.StepConditional,
		Intent:    "conditional",
		DependsOn: inner.DependsOn,
		Conditional: &schema.ConditionalSpec{
			Condition: when,
			Then:      schema.BranchSpec{Steps: []schema.WorkflowStep{inner}},
		},
		OutputContract: schema.ContractObject,
	}
}

// lowerEdgeCases synthesizes guard steps for declared degenerate situations.
// retry is covered by the runtime retry policy and skip_execution by natural
// empty-input propagation, so only the notifying actions produce steps.
func (lw *lowering) lowerEdgeCases() {
	for _, ec := range lw.ir.EdgeCases {
		var watch string
		switch ec.Condition {
		case schema.EdgeNoRowsAfterFilter:
			watch = lw.lastFilterStep()
		case schema.EdgeEmptyDataSource:
			if len(lw.ir.DataSources) > 0 {
				watch = lw.ir.DataSources[0].ID
			}
		default:
			continue
		}
		if watch == "" {
			continue
		}

		var action schema.WorkflowStep
		switch ec.Action {
		case schema.EdgeSendEmptyResult:
			action = schema.WorkflowStep{
				ID:     string(ec.Condition) + "_notify",
				Name:   "send empty result message",
				Type:   schema.StepAction,
				Intent: "deliver",
				Action: &schema.ActionSpec{
					Plugin: "system",
					Action: "notify",
					Params: map[string]any{"message": "no matching rows"},
				},
				OutputContract: schema.ContractObject,
			}
		case schema.EdgeAlertAdmin:
			action = schema.WorkflowStep{
				ID:     string(ec.Condition) + "_alert",
				Name:   "alert admin",
				Type:   schema.StepAction,
				Intent: "deliver",
				Action: &schema.ActionSpec{
					Plugin: "system",
					Action: "alert",
					Params: map[string]any{"reason": string(ec.Condition)},
				},
				OutputContract: schema.ContractObject,
			}
		default:
			continue
		}

		lw.append(schema.WorkflowStep{
			ID:        string(ec.Condition) + "_check",
			Name:      fmt.Sprintf("handle %s", ec.Condition),
			Type:      schema.StepConditional,
			Intent:    "conditional",
			DependsOn: []string{watch},
			Conditional: &schema.ConditionalSpec{
				Condition: schema.Condition{Field: watch, Operator: schema.OpIsEmpty},
				Then:      schema.BranchSpec{Steps: []schema.WorkflowStep{action}},
			},
			OutputContract: schema.ContractObject,
		})
	}
}

// lastFilterStep returns the ID of the last top-level filter transform.
func (lw *lowering) lastFilterStep() string {
	for i := len(lw.steps) - 1; i >= 0; i-- {
		if lw.steps[i].Transform != nil && lw.steps[i].Transform.Operation == schema.TransformFilter {
			return lw.steps[i].ID
		}
	}
	return ""
}
