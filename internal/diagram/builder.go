package diagram

import (
	"encoding/json"
	"fmt"

	"github.com/solweave/chainflow/internal/engine"
	"github.com/solweave/chainflow/internal/store"
	"github.com/solweave/chainflow/pkg/schema"
)

// Build constructs a diagram Model from a pipeline graph and optional node
// states. Topology comes from the engine's graph parser, so an invalid graph
// fails here the same way it would fail at run time.
func Build(graph *schema.Graph, states []*store.NodeState) (*Model, error) {
	dag, err := engine.ParseGraph(graph)
	if err != nil {
		return nil, fmt.Errorf("diagram: parse graph: %w", err)
	}

	stateMap := make(map[string]*store.NodeState, len(states))
	for _, s := range states {
		stateMap[s.NodeID] = s
	}

	nodes := make([]*Node, 0, len(dag.Order))
	for _, nodeID := range dag.Order {
		def := dag.Node(nodeID)
		node := &Node{
			ID:    nodeID,
			Label: def.DisplayLabel(),
			Kind:  def.Kind,
		}
		if state, ok := stateMap[nodeID]; ok {
			node.Status = overlayFrom(state)
		}
		nodes = append(nodes, node)
	}

	edges := make([]Edge, 0, len(graph.Edges))
	for _, e := range graph.Edges {
		edges = append(edges, Edge{From: e.Source, To: e.Target})
	}

	return &Model{
		Title:  titleFrom(graph, dag),
		Nodes:  nodes,
		Edges:  edges,
		Levels: buildLevels(dag),
	}, nil
}

func overlayFrom(state *store.NodeState) *StatusOverlay {
	overlay := &StatusOverlay{
		Status:     state.Status,
		DurationMs: state.DurationMs,
	}
	if len(state.Error) > 0 {
		var ferr schema.FlowError
		if json.Unmarshal(state.Error, &ferr) == nil {
			overlay.Error = ferr.Message
		}
	}
	return overlay
}

// titleFrom pulls the project title from the projectInit payload when one
// exists; otherwise the diagram is untitled.
func titleFrom(graph *schema.Graph, dag *engine.DAG) string {
	for _, nodeID := range dag.Order {
		def := dag.Node(nodeID)
		if def.Kind != schema.KindProjectInit {
			continue
		}
		var payload schema.ProjectInitPayload
		if len(def.Payload) > 0 && json.Unmarshal(def.Payload, &payload) == nil && payload.Title != "" {
			return payload.Title
		}
		return def.DisplayLabel()
	}
	return ""
}

// buildLevels groups node IDs by their longest-path depth from the roots.
// Walking dag.Order guarantees every upstream depth is already known.
func buildLevels(dag *engine.DAG) [][]string {
	depth := make(map[string]int, len(dag.Order))
	maxDepth := 0
	for _, nodeID := range dag.Order {
		d := 0
		for _, up := range dag.Upstream[nodeID] {
			if depth[up]+1 > d {
				d = depth[up] + 1
			}
		}
		depth[nodeID] = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	levels := make([][]string, maxDepth+1)
	for _, nodeID := range dag.Order {
		d := depth[nodeID]
		levels[d] = append(levels[d], nodeID)
	}
	return levels
}
