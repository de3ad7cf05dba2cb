package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/weftlabs/weft/internal/engine"
	"github.com/weftlabs/weft/internal/expressions"
	"github.com/weftlabs/weft/internal/tokens"
	"github.com/weftlabs/weft/pkg/schema"
)

// ModelRequest is one completion request at a routed tier.
type ModelRequest struct {
	Model        string
	Tier         schema.Tier
	System       string
	Prompt       string
	Input        any
	OutputSchema map[string]string
	MaxTokens    int
}

// ModelResponse carries the structured output and reported token
// consumption. Zero token counts are filled in by estimation.
type ModelResponse struct {
	Output       any
	InputTokens  int
	OutputTokens int
}

// ModelClient completes prompts against a provider. Implementations
// surface transient provider problems as WeftErrors with retryable
// codes so the executor can escalate tiers.
type ModelClient interface {
	Complete(ctx context.Context, req ModelRequest) (*ModelResponse, error)
}

// intentFraming is the system framing per pinned intent.
var intentFraming = map[string]string{
	"summarize": "Summarize the input data faithfully. Return only the requested fields.",
	"extract":   "Extract the requested fields from the input data. Do not invent values.",
	"classify":  "Classify the input into exactly one of the expected categories.",
	"sentiment": "Judge the sentiment of the input. Return only the requested fields.",
	"generate":  "Generate the requested content from the input data.",
	"decide":    "Make the requested decision from the input data and state it directly.",
}

// AIHandler runs model-backed steps: it resolves the input, frames the
// prompt by intent, enforces the token budget as a completion cap, and
// validates the output against the step's declared schema.
type AIHandler struct {
	client ModelClient
	est    *tokens.Estimator
	logger *slog.Logger
}

// NewAIHandler creates an AIHandler.
func NewAIHandler(client ModelClient, logger *slog.Logger) *AIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AIHandler{client: client, est: tokens.NewEstimator(), logger: logger}
}

// Process implements engine.AIHandler.
func (h *AIHandler) Process(ctx context.Context, step *schema.WorkflowStep, decision *schema.RoutingDecision, budget schema.TokenBudget, scope *expressions.InterpolationScope) (*engine.AIResult, error) {
	spec := step.AI
	if spec == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "ai spec is nil").WithStep(step.ID)
	}

	input, err := resolveSource(spec.InputSource, scope)
	if err != nil {
		return nil, err
	}

	req := ModelRequest{
		System:       framing(step.Intent, spec.Constraints),
		Prompt:       spec.Prompt,
		Input:        input,
		OutputSchema: spec.OutputSchema,
		MaxTokens:    budget.Allocated,
	}
	if decision != nil {
		req.Model = decision.Model
		req.Tier = decision.Tier
	}

	resp, err := h.client.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := validateOutput(resp.Output, spec.OutputSchema); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeProvider,
			"model output does not match declared schema: %s", err.Error()).WithStep(step.ID).WithCause(err)
	}

	usage := schema.TokenUsage{
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}
	if usage.InputTokens == 0 {
		usage.InputTokens = h.est.Count(spec.Prompt) + h.est.CountValue(input)
	}
	if usage.OutputTokens == 0 {
		usage.OutputTokens = h.est.CountValue(resp.Output)
	}

	exhausted := budget.Allocated > 0 && usage.Total() > budget.Allocated
	if exhausted {
		h.logger.Warn("token budget exceeded",
			slog.String("step", step.ID),
			slog.Int("allocated", budget.Allocated),
			slog.Int("consumed", usage.Total()))
	}

	return &engine.AIResult{
		Output:          resp.Output,
		Usage:           usage,
		BudgetExhausted: exhausted,
	}, nil
}

// framing builds the system prompt from the pinned intent plus any
// compile-time constraints.
func framing(intent string, constraints map[string]any) string {
	base, ok := intentFraming[intent]
	if !ok {
		base = "Apply the requested operation to the input data."
	}
	if len(constraints) == 0 {
		return base
	}
	var b strings.Builder
	b.WriteString(base)
	b.WriteString(" Constraints:")
	for _, k := range sortedKeys(constraints) {
		fmt.Fprintf(&b, " %s=%v;", k, constraints[k])
	}
	return b.String()
}

// resolveSource resolves a compiled input reference against the scope.
// An empty source means the step works from the prompt alone.
func resolveSource(ref string, scope *expressions.InterpolationScope) (any, error) {
	if ref == "" || scope == nil {
		return nil, nil
	}
	root, field, _ := strings.Cut(ref, ".")
	output, ok := scope.Steps[root]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeReference, "input source %q: step %q has no output", ref, root)
	}
	if field == "" {
		return output, nil
	}
	current := output
	for _, seg := range strings.Split(field, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeReference,
				"input source %q: cannot traverse %q in non-object output", ref, seg)
		}
		val, ok := obj[seg]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeReference,
				"input source %q: field %q not found", ref, seg)
		}
		current = val
	}
	return current, nil
}

// validateOutput checks the model output against the declared field
// type map using JSON Schema. An empty declaration accepts anything.
func validateOutput(output any, declared map[string]string) error {
	if len(declared) == 0 {
		return nil
	}

	properties := make(map[string]any, len(declared))
	required := make([]any, 0, len(declared))
	for _, field := range sortedKeys(stringAnyMap(declared)) {
		if t, ok := jsonSchemaType(declared[field]); ok {
			properties[field] = map[string]any{"type": t}
		} else {
			properties[field] = map[string]any{}
		}
		required = append(required, field)
	}
	doc := map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("output.json", doc); err != nil {
		return err
	}
	sch, err := compiler.Compile("output.json")
	if err != nil {
		return err
	}
	return sch.Validate(output)
}

func jsonSchemaType(t string) (string, bool) {
	switch t {
	case "string", "number", "boolean", "array", "object", "integer", "null":
		return t, true
	default:
		return "", false
	}
}

func stringAnyMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
