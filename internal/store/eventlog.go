package store

import (
	"github.com/solweave/chainflow/pkg/schema"
)

// ReplayNodeStates folds a run's event log into the per-node states it
// implies. Used to audit drift between the log and the materialized
// node_states view, and by the status surface when only events are at hand.
// Returns an error if the sequence is not contiguous from 1.
func ReplayNodeStates(runID string, events []*Event) (map[string]*NodeState, error) {
	states := make(map[string]*NodeState)

	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}

		if e.NodeID == "" {
			continue
		}

		ns, ok := states[e.NodeID]
		if !ok {
			ns = &NodeState{
				RunID:  runID,
				NodeID: e.NodeID,
				Status: schema.NodeStatusIdle,
			}
			states[e.NodeID] = ns
		}

		switch e.Type {
		case schema.EventNodeStarted:
			ns.Status = schema.NodeStatusRunning
			ts := e.Timestamp
			ns.StartedAt = &ts

		case schema.EventNodeSucceeded:
			ns.Status = schema.NodeStatusSuccess
			ts := e.Timestamp
			ns.CompletedAt = &ts
			ns.Output = e.Payload
			if ns.StartedAt != nil {
				ns.DurationMs = ts.Sub(*ns.StartedAt).Milliseconds()
			}

		case schema.EventNodeFailed:
			ns.Status = schema.NodeStatusError
			ns.Error = e.Payload
		}
	}

	return states, nil
}
