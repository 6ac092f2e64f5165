package expressions

import (
	"encoding/json"
	"sync"

	"github.com/solweave/chainflow/pkg/schema"
)

// ScopeBuilder accumulates the variables visible to ${{...}} references in
// node payloads. It enforces:
//   - Node outputs are immutable after completion (frozen on insert).
//   - Append-only: an output is added exactly once, when its node succeeds.
//   - Run metadata and caller inputs are frozen at construction.
type ScopeBuilder struct {
	mu     sync.RWMutex
	nodes  map[string]any // node ID -> frozen output (deep-copied on insert)
	inputs map[string]any // caller-supplied run inputs (immutable after init)
	run    map[string]any // run metadata: run_id, pipeline (immutable after init)
}

// NewScopeBuilder creates a ScopeBuilder initialized with run-level data.
// inputs and run are deep-copied to prevent external mutation.
func NewScopeBuilder(inputs, run map[string]any) *ScopeBuilder {
	return &ScopeBuilder{
		nodes:  make(map[string]any),
		inputs: deepCopyMap(inputs),
		run:    deepCopyMap(run),
	}
}

// AddNodeOutput registers a completed node's output. The output is frozen
// (deep-copied) at the time of insertion. Subsequent calls with the same
// nodeID are rejected: node outputs are immutable after completion.
func (sb *ScopeBuilder) AddNodeOutput(nodeID string, output json.RawMessage) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if _, exists := sb.nodes[nodeID]; exists {
		return schema.NewErrorf(schema.ErrCodeInterpolation,
			"node %q output already registered; node outputs are immutable after completion", nodeID)
	}

	if len(output) == 0 {
		sb.nodes[nodeID] = nil
		return nil
	}

	var parsed any
	if err := json.Unmarshal(output, &parsed); err != nil {
		return schema.NewErrorf(schema.ErrCodeInterpolation,
			"cannot parse node %q output: %s", nodeID, err.Error())
	}

	// Deep-copy to freeze the value.
	sb.nodes[nodeID] = deepCopyAny(parsed)
	return nil
}

// Build creates an InterpolationScope snapshot. The returned scope is safe
// for concurrent use (node outputs are copied).
func (sb *ScopeBuilder) Build() *InterpolationScope {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	return &InterpolationScope{
		Nodes:  deepCopyMap(sb.nodes),
		Inputs: sb.inputs, // already frozen at init
		Run:    sb.run,    // already frozen at init
	}
}

// NodeOutputs returns a read-only copy of the currently registered outputs.
func (sb *ScopeBuilder) NodeOutputs() map[string]any {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	return deepCopyMap(sb.nodes)
}

// --- Deep copy utilities ---

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively deep-copies a value.
// Handles maps, slices, and primitives (which are inherently immutable).
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}
