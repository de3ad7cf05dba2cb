package schema

import "encoding/json"

// AutomationIR is the declarative, plugin-agnostic description of an
// automation's intent, produced by the external understanding/grounding
// layer. It is the compiler's input and is immutable once validated.
type AutomationIR struct {
	Name          string            `json:"name,omitempty"`
	Goal          string            `json:"goal,omitempty"`
	GroundedFacts map[string]string `json:"grounded_facts,omitempty"`
	Inputs        map[string]any    `json:"inputs,omitempty"`
	DataSources   []DataSource      `json:"data_sources"`
	Transforms    []Transform       `json:"transforms,omitempty"`
	AIOperations  []AIOperation     `json:"ai_operations,omitempty"`
	Conditionals  []Conditional     `json:"conditionals,omitempty"`
	Loops         []Loop            `json:"loops,omitempty"`
	DeliveryRules []DeliveryRule    `json:"delivery_rules,omitempty"`
	EdgeCases     []EdgeCase        `json:"edge_cases,omitempty"`

	// Infeasible is set by the grounding layer when field-name assumptions
	// could not be verified against sample data. Compilation proceeds but
	// starts from a lower confidence baseline.
	Infeasible bool `json:"infeasible,omitempty"`
}

// SourceType enumerates where data originates.
type SourceType string

const (
	SourceTabular  SourceType = "tabular"
	SourceAPI      SourceType = "api"
	SourceWebhook  SourceType = "webhook"
	SourceDatabase SourceType = "database"
	SourceFile     SourceType = "file"
	SourceStream   SourceType = "stream"
)

// DataSource declares an external origin of data.
type DataSource struct {
	ID        string     `json:"id"`
	Type      SourceType `json:"type"`
	PluginKey string     `json:"plugin_key"`
	Location  string     `json:"location,omitempty"`
	Role      string     `json:"role,omitempty"`
	Filters   []Filter   `json:"filters,omitempty"`
}

// Operator enumerates comparison operators usable in filters and conditions.
type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "not_equals"
	OpGreaterThan        Operator = "greater_than"
	OpGreaterThanOrEqual Operator = "greater_than_or_equal"
	OpLessThan           Operator = "less_than"
	OpLessThanOrEqual    Operator = "less_than_or_equal"
	OpContains           Operator = "contains"
	OpNotContains        Operator = "not_contains"
	OpIn                 Operator = "in"
	OpNotIn              Operator = "not_in"
	OpIsEmpty            Operator = "is_empty"
	OpIsNotEmpty         Operator = "is_not_empty"
	OpStartsWith         Operator = "starts_with"
	OpEndsWith           Operator = "ends_with"
	OpMatches            Operator = "matches"
	OpExists             Operator = "exists"
	OpNotExists          Operator = "not_exists"
)

// Filter is a single field predicate.
type Filter struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
}

// TransformOp enumerates deterministic data reshaping operations.
// Operation names carrying a "_with_llm" suffix are not deterministic and
// degrade to ai_processing at compile time.
type TransformOp string

const (
	TransformMap         TransformOp = "map"
	TransformFilter      TransformOp = "filter"
	TransformSort        TransformOp = "sort"
	TransformGroup       TransformOp = "group"
	TransformAggregate   TransformOp = "aggregate"
	TransformReduce      TransformOp = "reduce"
	TransformDeduplicate TransformOp = "deduplicate"
	TransformFlatten     TransformOp = "flatten"
	TransformFormat      TransformOp = "format"
	TransformSplit       TransformOp = "split"
	TransformConvert     TransformOp = "convert"
	TransformMerge       TransformOp = "merge"
)

// Transform declares a deterministic reshaping of upstream data.
// Config shape is operation-specific (see the *Config types below).
type Transform struct {
	ID        string          `json:"id"`
	Operation TransformOp     `json:"operation"`
	Input     string          `json:"input"` // upstream step/source reference
	Config    json.RawMessage `json:"config,omitempty"`
}

// AIOpType enumerates operations that require a language-model call.
type AIOpType string

const (
	AISummarize AIOpType = "summarize"
	AIExtract   AIOpType = "extract"
	AIClassify  AIOpType = "classify"
	AISentiment AIOpType = "sentiment"
	AIGenerate  AIOpType = "generate"
	AIDecide    AIOpType = "decide"
)

// AIOperation declares a step requiring a language-model call.
// OutputSchema is mandatory and must map field names to concrete types
// (never a bare "object"); this is enforced before compilation.
type AIOperation struct {
	ID           string            `json:"id"`
	Type         AIOpType          `json:"type"`
	Instruction  string            `json:"instruction"`
	InputSource  string            `json:"input_source"`
	OutputSchema map[string]string `json:"output_schema"`
	Constraints  map[string]any    `json:"constraints,omitempty"`
}

// ConditionType distinguishes composite condition forms.
type ConditionType string

const (
	ConditionAnd ConditionType = "complex_and"
	ConditionOr  ConditionType = "complex_or"
	ConditionNot ConditionType = "complex_not"
)

// Condition is either a simple field predicate, a boolean composition of
// sub-conditions, or a string expression evaluated by the CEL engine.
// Exactly one form must be populated.
type Condition struct {
	Field    string   `json:"field,omitempty"`
	Operator Operator `json:"operator,omitempty"`
	Value    any      `json:"value,omitempty"`

	ConditionType ConditionType `json:"condition_type,omitempty"`
	Conditions    []Condition   `json:"conditions,omitempty"`

	Expression string `json:"expression,omitempty"`
}

// IsComposite reports whether the condition is a boolean composition.
func (c *Condition) IsComposite() bool { return c.ConditionType != "" }

// IsExpression reports whether the condition is a string expression.
func (c *Condition) IsExpression() bool { return c.Expression != "" }

// IntentKind tags the variant held by an Intent.
type IntentKind string

const (
	IntentTransform   IntentKind = "transform"
	IntentAIOperation IntentKind = "ai_operation"
	IntentDelivery    IntentKind = "delivery"
)

// Intent is one nested operation inside a conditional branch or loop body.
// Exactly one of the pointers matching Kind is populated.
type Intent struct {
	Kind        IntentKind    `json:"kind"`
	Transform   *Transform    `json:"transform,omitempty"`
	AIOperation *AIOperation  `json:"ai_operation,omitempty"`
	Delivery    *DeliveryRule `json:"delivery,omitempty"`
}

// Conditional declares branching on a condition.
type Conditional struct {
	ID   string    `json:"id"`
	When Condition `json:"when"`
	Then []Intent  `json:"then"`
	Else []Intent  `json:"else,omitempty"`
}

// Loop declares bounded per-item execution of a nested intent list.
// MaxIterations and MaxConcurrency must be positive finite bounds.
type Loop struct {
	ID             string   `json:"id"`
	ForEach        string   `json:"for_each"`
	ItemVariable   string   `json:"item_variable"`
	Do             []Intent `json:"do"`
	MaxIterations  int      `json:"max_iterations"`
	MaxConcurrency int      `json:"max_concurrency"`
}

// DeliveryMethod enumerates result delivery channels.
type DeliveryMethod string

const (
	DeliverEmail    DeliveryMethod = "email"
	DeliverSlack    DeliveryMethod = "slack"
	DeliverWebhook  DeliveryMethod = "webhook"
	DeliverDatabase DeliveryMethod = "database"
	DeliverAPICall  DeliveryMethod = "api_call"
	DeliverFile     DeliveryMethod = "file"
	DeliverSMS      DeliveryMethod = "sms"
)

// DeliveryMode determines delivery cardinality. Per-group and per-item
// modes make the compiler synthesize a scatter-gather loop when the IR
// contains no explicit one.
type DeliveryMode string

const (
	DeliverAlways   DeliveryMode = "always"
	DeliverPerGroup DeliveryMode = "per_group"
	DeliverPerItem  DeliveryMode = "per_item"
)

// DeliveryRule declares how (and how often) results leave the workflow.
type DeliveryRule struct {
	ID        string          `json:"id"`
	Method    DeliveryMethod  `json:"method"`
	Mode      DeliveryMode    `json:"mode,omitempty"` // default: always
	Input     string          `json:"input,omitempty"`
	PluginKey string          `json:"plugin_key,omitempty"`
	Config    json.RawMessage `json:"config,omitempty"`
	When      *Condition      `json:"when,omitempty"`
}

// EdgeCondition enumerates recognized degenerate situations.
type EdgeCondition string

const (
	EdgeNoRowsAfterFilter EdgeCondition = "no_rows_after_filter"
	EdgeEmptyDataSource   EdgeCondition = "empty_data_source"
	EdgeSourceUnavailable EdgeCondition = "source_unavailable"
)

// EdgeAction enumerates responses to an edge condition.
type EdgeAction string

const (
	EdgeSendEmptyResult EdgeAction = "send_empty_result_message"
	EdgeSkipExecution   EdgeAction = "skip_execution"
	EdgeRetry           EdgeAction = "retry"
	EdgeAlertAdmin      EdgeAction = "alert_admin"
)

// EdgeCase binds a degenerate situation to its handling action.
type EdgeCase struct {
	Condition EdgeCondition `json:"condition"`
	Action    EdgeAction    `json:"action"`
}

// --- Operation-specific transform configs ---

// FilterConfig configures a filter transform.
type FilterConfig struct {
	Condition *Condition `json:"condition"`
}

// MapConfig configures a map transform. Expression is an expr-lang
// expression evaluated per item with the item bound as `item`.
type MapConfig struct {
	Expression string `json:"expression,omitempty"`
	Field      string `json:"field,omitempty"` // shorthand: project a single field
}

// SortConfig configures a sort transform.
type SortConfig struct {
	Field string `json:"field"`
	Order string `json:"order,omitempty"` // asc (default) | desc
}

// GroupConfig configures a group transform.
type GroupConfig struct {
	By string `json:"by"`
}

// Aggregation is one aggregate computation.
type Aggregation struct {
	Op    string `json:"op"` // sum | avg | min | max | count
	Field string `json:"field,omitempty"`
	As    string `json:"as"`
}

// AggregateConfig configures an aggregate transform.
type AggregateConfig struct {
	Aggregations []Aggregation `json:"aggregations"`
}

// ReduceConfig configures a reduce transform. Expression is evaluated per
// item with `acc` and `item` bound.
type ReduceConfig struct {
	Expression string `json:"expression"`
	Initial    any    `json:"initial,omitempty"`
}

// DeduplicateConfig configures a deduplicate transform.
type DeduplicateConfig struct {
	Field string `json:"field,omitempty"` // empty: whole-value identity
}

// FormatConfig configures a format transform. Template uses {field}
// placeholders resolved against the input value.
type FormatConfig struct {
	Template string `json:"template"`
}

// SplitConfig configures a split transform.
type SplitConfig struct {
	Field     string `json:"field,omitempty"`
	Separator string `json:"separator"`
}

// ConvertConfig configures a convert transform. Query is a jq program.
type ConvertConfig struct {
	Query string `json:"query"`
}

// MergeConfig configures a merge transform with another step's output.
type MergeConfig struct {
	With string `json:"with"`
}
