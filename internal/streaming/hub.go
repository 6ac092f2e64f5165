package streaming

import "context"

// RunEvent is a typed real-time event emitted during pipeline execution.
// The event stream is the engine's sole outward observability channel;
// consumers (canvas, MCP clients, tests) subscribe rather than being
// called back into.
type RunEvent struct {
	RunID   string `json:"run_id"`
	NodeID  string `json:"node_id,omitempty"`
	EdgeID  string `json:"edge_id,omitempty"`
	Type    string `json:"event_type"`
	Payload any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	RunID      string   `json:"run_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time run events.
type EventHub interface {
	Publish(ctx context.Context, event RunEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan RunEvent, func(), error)
}
