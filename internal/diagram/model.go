// Package diagram renders workflow step graphs as ASCII art or Mermaid
// flowchart syntax, optionally overlaying per-step run state.
package diagram

// NodeKind classifies a diagram node by its workflow step type.
type NodeKind string

const (
	NodeKindAction    NodeKind = "action"
	NodeKindTransform NodeKind = "transform"
	NodeKindAI        NodeKind = "ai"
	NodeKindCondition NodeKind = "condition"
	NodeKindScatter   NodeKind = "scatter"
	NodeKindStart     NodeKind = "start"
	NodeKindEnd       NodeKind = "end"
)

// Model is the intermediate representation shared by all renderers.
type Model struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node represents a single step in the diagram.
type Node struct {
	ID       string
	Label    string
	Kind     NodeKind
	Status   *StatusOverlay
	Children []*SubGraph // conditional branches, scatter body
}

// SubGraph holds nested steps for conditional branches and scatter bodies.
type SubGraph struct {
	Label string
	Nodes []*Node
	Edges []Edge
}

// StatusOverlay carries runtime state for a node.
type StatusOverlay struct {
	Status   string // from schema.StepStatus
	Tier     string
	Attempts int
	Error    string
}

// Edge is a dependency between two nodes, pointing producer to consumer.
type Edge struct {
	From  string
	To    string
	Label string
}
