package streaming

import (
	"context"
	"encoding/json"

	"github.com/solweave/chainflow/pkg/schema"
)

// EdgeStatus annotates a connection with the statuses of its endpoints.
// Published on every node transition for each edge touching that node so
// the canvas can animate connections without tracking node state itself.
type EdgeStatus struct {
	EdgeID       string            `json:"edge_id"`
	SourceStatus schema.NodeStatus `json:"source_status"`
	TargetStatus schema.NodeStatus `json:"target_status"`
}

// NodeFailure is the payload of a node_failed event.
type NodeFailure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Reporter receives status transitions for the editor canvas.
// It has no effect on control flow.
type Reporter interface {
	OnNodeStatus(nodeID string, status schema.NodeStatus, message string)
	OnNodeOutput(nodeID string, output json.RawMessage)
	OnEdgeStatus(edgeID string, sourceStatus, targetStatus schema.NodeStatus)
}

// CanvasBridge adapts the typed event stream back to Reporter callbacks
// for canvas integrations that want push-style notifications.
type CanvasBridge struct {
	hub      EventHub
	reporter Reporter
}

// NewCanvasBridge creates a bridge from hub to reporter.
func NewCanvasBridge(hub EventHub, reporter Reporter) *CanvasBridge {
	return &CanvasBridge{hub: hub, reporter: reporter}
}

// Attach subscribes to the given run's events and dispatches reporter
// callbacks from a background goroutine until the returned cancel
// function is called or ctx is done.
func (b *CanvasBridge) Attach(ctx context.Context, runID string) (func(), error) {
	ch, cancel, err := b.hub.Subscribe(ctx, EventFilter{RunID: runID})
	if err != nil {
		return nil, err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-ch:
				if !ok {
					return
				}
				b.dispatch(event)
			}
		}
	}()

	return cancel, nil
}

func (b *CanvasBridge) dispatch(event RunEvent) {
	switch event.Type {
	case schema.EventNodeStarted:
		b.reporter.OnNodeStatus(event.NodeID, schema.NodeStatusRunning, "")

	case schema.EventNodeSucceeded:
		b.reporter.OnNodeStatus(event.NodeID, schema.NodeStatusSuccess, "")
		if raw, ok := event.Payload.(json.RawMessage); ok {
			b.reporter.OnNodeOutput(event.NodeID, raw)
		}

	case schema.EventNodeFailed:
		msg := ""
		if failure, ok := event.Payload.(NodeFailure); ok {
			msg = failure.Message
		}
		b.reporter.OnNodeStatus(event.NodeID, schema.NodeStatusError, msg)

	case schema.EventEdgeStatus:
		if es, ok := event.Payload.(EdgeStatus); ok {
			b.reporter.OnEdgeStatus(es.EdgeID, es.SourceStatus, es.TargetStatus)
		}
	}
}
