package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/solweave/chainflow/internal/streaming"
)

// RunNotifier pushes live run events to the MCP session that launched the run.
type RunNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewRunNotifier creates a notifier that pushes via MCP notifications.
func NewRunNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *RunNotifier {
	return &RunNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notification to the run's session.
// Best-effort: returns nil if no session is connected for the run.
func (n *RunNotifier) Notify(_ context.Context, runID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(runID)
	if !ok {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session expired between lookup and send — not an error.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

// StreamRun subscribes to the hub for one run and forwards each event to the
// run's session until the subscription is cancelled. The returned func stops
// the forwarding goroutine.
func (n *RunNotifier) StreamRun(ctx context.Context, hub streaming.EventHub, runID string) (func(), error) {
	events, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{RunID: runID})
	if err != nil {
		return nil, err
	}

	go func() {
		for ev := range events {
			payload := map[string]any{
				"run_id":     ev.RunID,
				"event_type": ev.Type,
			}
			if ev.NodeID != "" {
				payload["node_id"] = ev.NodeID
			}
			if ev.EdgeID != "" {
				payload["edge_id"] = ev.EdgeID
			}
			if ev.Payload != nil {
				payload["payload"] = ev.Payload
			}
			_ = n.Notify(ctx, runID, payload)
		}
	}()
	return cancel, nil
}
