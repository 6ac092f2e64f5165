package streaming

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solweave/chainflow/pkg/schema"
)

// recordingReporter captures reporter callbacks for assertions.
type recordingReporter struct {
	mu       sync.Mutex
	statuses []string
	outputs  []string
	edges    []string
}

func (r *recordingReporter) OnNodeStatus(nodeID string, status schema.NodeStatus, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, nodeID+":"+string(status))
}

func (r *recordingReporter) OnNodeOutput(nodeID string, _ json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs = append(r.outputs, nodeID)
}

func (r *recordingReporter) OnEdgeStatus(edgeID string, src, dst schema.NodeStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edges = append(r.edges, edgeID+":"+string(src)+"->"+string(dst))
}

func (r *recordingReporter) snapshot() ([]string, []string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.statuses...), append([]string(nil), r.outputs...), append([]string(nil), r.edges...)
}

func TestCanvasBridge_DispatchesCallbacks(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub()
	rep := &recordingReporter{}

	bridge := NewCanvasBridge(hub, rep)
	cancel, err := bridge.Attach(ctx, "r1")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, RunEvent{RunID: "r1", NodeID: "a", Type: schema.EventNodeStarted}))
	require.NoError(t, hub.Publish(ctx, RunEvent{
		RunID: "r1", NodeID: "a", Type: schema.EventNodeSucceeded,
		Payload: json.RawMessage(`{"title":"T"}`),
	}))
	require.NoError(t, hub.Publish(ctx, RunEvent{
		RunID: "r1", EdgeID: "e1", Type: schema.EventEdgeStatus,
		Payload: EdgeStatus{EdgeID: "e1", SourceStatus: schema.NodeStatusSuccess, TargetStatus: schema.NodeStatusIdle},
	}))
	require.NoError(t, hub.Publish(ctx, RunEvent{
		RunID: "r1", NodeID: "b", Type: schema.EventNodeFailed,
		Payload: NodeFailure{Code: schema.ErrCodeValidation, Message: "missing title"},
	}))

	require.Eventually(t, func() bool {
		statuses, outputs, edges := rep.snapshot()
		return len(statuses) == 3 && len(outputs) == 1 && len(edges) == 1
	}, time.Second, 10*time.Millisecond)

	statuses, outputs, edges := rep.snapshot()
	assert.Equal(t, []string{"a:running", "a:success", "b:error"}, statuses)
	assert.Equal(t, []string{"a"}, outputs)
	assert.Equal(t, []string{"e1:success->idle"}, edges)
}
