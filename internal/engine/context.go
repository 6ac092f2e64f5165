package engine

import (
	"encoding/json"
	"sync"

	"github.com/solweave/chainflow/pkg/schema"
)

// RunContext is the shared data bus for a single pipeline run. Each node
// records its output exactly once; downstream nodes read upstream outputs
// through the DAG's edges. Entries are never mutated or removed once written.
type RunContext struct {
	mu      sync.RWMutex
	dag     *DAG
	outputs map[string]json.RawMessage // node ID → recorded output
}

// NewRunContext creates an empty run context bound to the given DAG.
func NewRunContext(dag *DAG) *RunContext {
	return &RunContext{
		dag:     dag,
		outputs: make(map[string]json.RawMessage, len(dag.Nodes)),
	}
}

// Record stores a node's output. Recording twice for the same node is a
// conflict: outputs are append-only for the lifetime of the run.
func (rc *RunContext) Record(nodeID string, output json.RawMessage) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if _, exists := rc.outputs[nodeID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "output for node %s already recorded", nodeID).WithNode(nodeID)
	}
	rc.outputs[nodeID] = output
	return nil
}

// Output returns the recorded output for a node, or false if the node has
// not produced one yet.
func (rc *RunContext) Output(nodeID string) (json.RawMessage, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	out, ok := rc.outputs[nodeID]
	return out, ok
}

// UpstreamOutput finds the output of the nearest upstream node of the given
// kind, walking incoming edges breadth-first from the requesting node. Direct
// parents are checked before grandparents, in edge-declaration order, so the
// closest producer always wins. Returns UPSTREAM_MISSING when no ancestor of
// that kind has recorded an output.
func (rc *RunContext) UpstreamOutput(nodeID string, kind schema.NodeKind) (json.RawMessage, error) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	visited := map[string]bool{nodeID: true}
	frontier := append([]string(nil), rc.dag.Upstream[nodeID]...)

	for len(frontier) > 0 {
		next := make([]string, 0, len(frontier))
		for _, id := range frontier {
			if visited[id] {
				continue
			}
			visited[id] = true

			node := rc.dag.Nodes[id]
			if node != nil && node.Kind == kind {
				if out, ok := rc.outputs[id]; ok {
					return out, nil
				}
			}
			next = append(next, rc.dag.Upstream[id]...)
		}
		frontier = next
	}

	return nil, schema.NewErrorf(schema.ErrCodeUpstreamMissing,
		"no upstream %s output found for node %s", kind, nodeID).WithNode(nodeID)
}

// FirstOfKind returns the first recorded output among nodes of the given
// kind in topological order, or false when none exists. Used by the summary
// renderer, which reads the whole run rather than one node's ancestry.
func (rc *RunContext) FirstOfKind(kind schema.NodeKind) (json.RawMessage, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	for _, id := range rc.dag.Order {
		node := rc.dag.Nodes[id]
		if node.Kind != kind {
			continue
		}
		if out, ok := rc.outputs[id]; ok {
			return out, true
		}
	}
	return nil, false
}

// Snapshot returns a copy of all recorded outputs keyed by node ID.
func (rc *RunContext) Snapshot() map[string]json.RawMessage {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	snap := make(map[string]json.RawMessage, len(rc.outputs))
	for id, out := range rc.outputs {
		snap[id] = out
	}
	return snap
}
