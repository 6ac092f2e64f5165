package diagram

import "github.com/solweave/chainflow/pkg/schema"

// Model is the intermediate representation used by all renderers.
type Model struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string // node IDs grouped by depth from the roots
}

// Node represents a single pipeline step in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   schema.NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries runtime state for a node.
type StatusOverlay struct {
	Status     schema.NodeStatus
	DurationMs int64
	Error      string
}

// Edge represents a connection between two nodes.
type Edge struct {
	From string
	To   string
}
