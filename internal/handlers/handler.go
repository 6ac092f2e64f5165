// Package handlers implements the per-kind node executors. Each handler
// consumes its node's payload plus upstream outputs and produces the output
// recorded on the run context.
package handlers

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/solweave/chainflow/pkg/schema"
)

// UpstreamLookup resolves the output of the nearest upstream node of a given
// kind, from the perspective of the executing node. Satisfied by the engine's
// run context.
type UpstreamLookup interface {
	UpstreamOutput(nodeID string, kind schema.NodeKind) (json.RawMessage, error)
}

// Input is the data provided to a handler at execution time.
type Input struct {
	Node    *schema.Node
	Payload json.RawMessage // interpolated payload
	Lookup  UpstreamLookup

	// Summarize renders the run report from everything recorded so far.
	// Set by the runner; only the completion handler reads it.
	Summarize func() string
}

// Output is the result of a handler execution, recorded on the run context.
type Output struct {
	Data json.RawMessage `json:"data,omitempty"`
}

// Handler executes one node kind.
type Handler interface {
	Kind() schema.NodeKind
	Describe() string
	Execute(ctx context.Context, in Input) (*Output, error)
}

// HandlerInfo is a summary of a registered handler for listing.
type HandlerInfo struct {
	Kind        schema.NodeKind `json:"kind"`
	Description string          `json:"description,omitempty"`
}

// Registry is the thread-safe handler lookup table the runner dispatches
// through. The kind set is closed, so a fully wired registry covers every
// kind exactly once.
type Registry struct {
	mu       sync.RWMutex
	handlers map[schema.NodeKind]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[schema.NodeKind]Handler),
	}
}

// Register adds a handler to the registry. Returns error on duplicate kind.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return schema.NewError(schema.ErrCodeValidation, "handler is nil")
	}
	kind := h.Kind()
	if !schema.ValidKind(kind) {
		return schema.NewErrorf(schema.ErrCodeUnknownKind, "handler kind %q is not recognized", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[kind]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "handler for kind %q already registered", kind)
	}

	r.handlers[kind] = h
	return nil
}

// Get retrieves a handler by node kind.
func (r *Registry) Get(kind schema.NodeKind) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[kind]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnknownKind, "no handler registered for kind %q", kind)
	}
	return h, nil
}

// List returns info for all registered handlers, sorted by kind.
func (r *Registry) List() []HandlerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]HandlerInfo, 0, len(r.handlers))
	for _, h := range r.handlers {
		infos = append(infos, HandlerInfo{
			Kind:        h.Kind(),
			Description: h.Describe(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Kind < infos[j].Kind
	})
	return infos
}

// marshalOutput wraps a handler result into an Output, treating marshal
// failures as internal errors.
func marshalOutput(v any) (*Output, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "marshal handler output").WithCause(err)
	}
	return &Output{Data: data}, nil
}

// unmarshalPayload decodes a node payload into the kind-specific struct.
// An absent payload decodes into the zero value so per-field validation can
// produce precise errors.
func unmarshalPayload(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "malformed payload: %s", err.Error()).WithCause(err)
	}
	return nil
}
