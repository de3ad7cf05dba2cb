package schema

// StepType enumerates the kinds of steps the compiler emits.
type StepType string

const (
	StepAction        StepType = "action"
	StepTransform     StepType = "transform"
	StepAIProcessing  StepType = "ai_processing"
	StepConditional   StepType = "conditional"
	StepScatterGather StepType = "scatter_gather"
)

// OutputContract declares the shape category of a step's output.
// Downstream steps rely on it when references are resolved.
type OutputContract string

const (
	ContractArray  OutputContract = "array"
	ContractItems  OutputContract = "items"
	ContractKeyed  OutputContract = "keyed"
	ContractObject OutputContract = "object"
	ContractScalar OutputContract = "scalar"
)

// GatherOperation enumerates how scattered results are recombined.
// Only collect is currently supported; anything else fails compilation.
type GatherOperation string

const (
	GatherCollect GatherOperation = "collect"
)

// ActionSpec configures an action step: a named operation on a connector.
type ActionSpec struct {
	Plugin string         `json:"plugin"`
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// TransformSpec configures a transform step. Config is the
// operation-specific block (FilterConfig, SortConfig, ...) from the IR.
type TransformSpec struct {
	Operation TransformOp `json:"operation"`
	Input     string      `json:"input"`
	Config    []byte      `json:"config,omitempty"`
}

// AISpec configures an ai_processing step.
type AISpec struct {
	Intent       AIOpType          `json:"intent"`
	Prompt       string            `json:"prompt"`
	InputSource  string            `json:"input_source"`
	OutputSchema map[string]string `json:"output_schema"`
	Constraints  map[string]any    `json:"constraints,omitempty"`
}

// BranchSpec is one arm of a conditional.
type BranchSpec struct {
	Steps []WorkflowStep `json:"steps"`
}

// ConditionalSpec configures a conditional step. The condition is
// evaluated exactly once per run; nested steps of the selected branch
// execute in declaration order and the last step's output becomes the
// conditional's output.
type ConditionalSpec struct {
	Condition Condition   `json:"condition"`
	Then      BranchSpec  `json:"then"`
	Else      *BranchSpec `json:"else,omitempty"`
}

// ScatterSpec configures the fan-out half of a scatter_gather step.
type ScatterSpec struct {
	Input          string         `json:"input"`
	ItemVariable   string         `json:"item_variable"`
	Steps          []WorkflowStep `json:"steps"`
	MaxIterations  int            `json:"max_iterations"`
	MaxConcurrency int            `json:"max_concurrency"`
}

// GatherSpec configures the fan-in half of a scatter_gather step.
type GatherSpec struct {
	Operation GatherOperation `json:"operation"`
	OutputKey string          `json:"output_key,omitempty"`
}

// ScatterGatherSpec pairs fan-out with fan-in.
type ScatterGatherSpec struct {
	Scatter ScatterSpec `json:"scatter"`
	Gather  GatherSpec  `json:"gather"`
}

// WorkflowStep is one node of the compiled step graph. Exactly one of
// the type-specific spec pointers matching Type is populated.
type WorkflowStep struct {
	ID             string         `json:"id"`
	Name           string         `json:"name,omitempty"`
	Type           StepType       `json:"type"`
	DependsOn      []string       `json:"depends_on,omitempty"`
	OutputContract OutputContract `json:"output_contract"`

	// Intent is the pinned semantic label used by the router. It is set
	// at compile time and never changes afterwards.
	Intent string `json:"intent,omitempty"`

	// Priority weights budget allocation under the priority strategy.
	Priority float64 `json:"priority,omitempty"`

	Action        *ActionSpec        `json:"action,omitempty"`
	Transform     *TransformSpec     `json:"transform,omitempty"`
	AI            *AISpec            `json:"ai,omitempty"`
	Conditional   *ConditionalSpec   `json:"conditional,omitempty"`
	ScatterGather *ScatterGatherSpec `json:"scatter_gather,omitempty"`
}

// IsModelBacked reports whether executing the step consumes model tokens.
func (s *WorkflowStep) IsModelBacked() bool {
	return s.Type == StepAIProcessing
}

// Workflow is a compiled step graph with its run-level metadata.
type Workflow struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Steps       []WorkflowStep `json:"steps"`

	// Confidence is the compiler's score for how faithfully the graph
	// captures the declared intent, in [0.5, 1.0].
	Confidence float64 `json:"confidence"`

	// PrimaryOutput names the step whose output is the run's designated
	// result. Set at compile time to the last delivery or terminal step.
	PrimaryOutput string `json:"primary_output,omitempty"`

	Schedule string `json:"schedule,omitempty"` // cron expression, optional
}

// OutputContractFor returns the declared output shape for a step kind and,
// for transforms, its operation. This table is the single source of truth
// for contract assignment at compile time.
func OutputContractFor(t StepType, op TransformOp) OutputContract {
	switch t {
	case StepAction, StepAIProcessing:
		return ContractObject
	case StepScatterGather:
		return ContractArray
	case StepTransform:
		switch op {
		case TransformFilter:
			return ContractItems
		case TransformGroup:
			return ContractKeyed
		case TransformAggregate, TransformConvert, TransformReduce:
			return ContractObject
		case TransformFormat:
			return ContractScalar
		default:
			// map, sort, split, flatten, deduplicate, merge
			return ContractArray
		}
	default:
		return ContractObject
	}
}
