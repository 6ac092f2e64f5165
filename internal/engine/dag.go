package engine

import (
	"fmt"

	"github.com/solweave/chainflow/pkg/schema"
)

// DAG is the in-memory directed acyclic graph representation of a pipeline.
// Built from a Graph, used by the Runner to determine execution order.
type DAG struct {
	Nodes    map[string]*schema.Node // node ID → definition
	Upstream map[string][]string     // node ID → direct upstream node IDs (edge sources)
	Down     map[string][]string     // node ID → direct downstream node IDs (edge targets)
	Order    []string                // topological execution order
	Roots    []string                // nodes with no incoming edges

	nodeEdges map[string][]*schema.Edge // node ID → edges touching the node
}

// ParseGraph parses a canvas graph into an executable DAG.
// It validates the graph, builds adjacency lists, performs topological
// sorting using Kahn's algorithm, and detects cycles before any node runs.
func ParseGraph(graph *schema.Graph) (*DAG, error) {
	if graph == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "graph is nil")
	}

	if len(graph.Nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "graph has no nodes")
	}

	dag := &DAG{
		Nodes:     make(map[string]*schema.Node, len(graph.Nodes)),
		Upstream:  make(map[string][]string, len(graph.Nodes)),
		Down:      make(map[string][]string, len(graph.Nodes)),
		nodeEdges: make(map[string][]*schema.Edge, len(graph.Nodes)),
	}

	// First pass: register all nodes and check for duplicates.
	order := make([]string, 0, len(graph.Nodes))
	for i := range graph.Nodes {
		node := &graph.Nodes[i]

		if node.ID == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, fmt.Sprintf("node at index %d has empty ID", i))
		}

		if _, exists := dag.Nodes[node.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate node ID: %s", node.ID)
		}

		if !schema.ValidKind(node.Kind) {
			return nil, schema.NewErrorf(schema.ErrCodeUnknownKind, "node %s has unknown kind: %s", node.ID, node.Kind).WithNode(node.ID)
		}

		dag.Nodes[node.ID] = node
		order = append(order, node.ID)
	}

	// Second pass: build adjacency lists and validate edges.
	seen := make(map[string]bool, len(graph.Edges))
	for i := range graph.Edges {
		edge := &graph.Edges[i]

		if _, exists := dag.Nodes[edge.Source]; !exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge %s references non-existent source node: %s", edge.ID, edge.Source)
		}
		if _, exists := dag.Nodes[edge.Target]; !exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge %s references non-existent target node: %s", edge.ID, edge.Target)
		}
		if edge.Source == edge.Target {
			return nil, schema.NewErrorf(schema.ErrCodeCycleDetected, "edge %s connects node %s to itself", edge.ID, edge.Source)
		}

		pair := edge.Source + "\x00" + edge.Target
		if seen[pair] {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate edge from %s to %s", edge.Source, edge.Target)
		}
		seen[pair] = true

		dag.Upstream[edge.Target] = append(dag.Upstream[edge.Target], edge.Source)
		dag.Down[edge.Source] = append(dag.Down[edge.Source], edge.Target)
		dag.nodeEdges[edge.Source] = append(dag.nodeEdges[edge.Source], edge)
		dag.nodeEdges[edge.Target] = append(dag.nodeEdges[edge.Target], edge)
	}

	// Kahn's algorithm: topological sort + cycle detection.
	// The queue is seeded and drained in node-declaration order so the same
	// graph always yields the same execution order.
	inDegree := make(map[string]int, len(dag.Nodes))
	for _, id := range order {
		inDegree[id] = len(dag.Upstream[id])
	}

	queue := make([]string, 0, len(order))
	for _, id := range order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	dag.Roots = make([]string, len(queue))
	copy(dag.Roots, queue)

	sorted := make([]string, 0, len(dag.Nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		for _, next := range dag.Down[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(sorted) != len(dag.Nodes) {
		return nil, schema.NewError(schema.ErrCodeCycleDetected, "graph contains a cycle")
	}

	dag.Order = sorted

	return dag, nil
}

// EdgesOf returns all edges touching the given node, in declaration order.
func (d *DAG) EdgesOf(nodeID string) []*schema.Edge {
	return d.nodeEdges[nodeID]
}

// Node returns the node definition for the given ID, or nil.
func (d *DAG) Node(nodeID string) *schema.Node {
	return d.Nodes[nodeID]
}
