package handlers

import (
	"context"
	"encoding/json"

	"github.com/solweave/chainflow/internal/expressions"
	"github.com/solweave/chainflow/pkg/schema"
)

// ExtractHandler plucks one field out of the nearest upstream compile
// artifact with a jq query. Two instances cover extractAbi and
// extractBytecode.
type ExtractHandler struct {
	kind  schema.NodeKind
	field string
	query string
	jq    *expressions.GoJQEngine
}

// NewExtractABIHandler creates the extractAbi handler.
func NewExtractABIHandler(jq *expressions.GoJQEngine) *ExtractHandler {
	return &ExtractHandler{kind: schema.KindExtractABI, field: "abi", query: ".abi", jq: jq}
}

// NewExtractBytecodeHandler creates the extractBytecode handler.
func NewExtractBytecodeHandler(jq *expressions.GoJQEngine) *ExtractHandler {
	return &ExtractHandler{kind: schema.KindExtractBytecode, field: "bytecode", query: ".bytecode", jq: jq}
}

func (h *ExtractHandler) Kind() schema.NodeKind {
	return h.kind
}

func (h *ExtractHandler) Describe() string {
	return "Extracts the " + h.field + " from the upstream compile artifact"
}

func (h *ExtractHandler) Execute(ctx context.Context, in Input) (*Output, error) {
	raw, err := in.Lookup.UpstreamOutput(in.Node.ID, schema.KindCompile)
	if err != nil {
		return nil, err
	}

	var artifact map[string]any
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "upstream compile output is malformed").WithCause(err)
	}

	val, err := h.jq.Evaluate(ctx, h.query, artifact)
	if err != nil {
		return nil, err
	}
	if val == nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"compile artifact has no %q field", h.field)
	}

	return marshalOutput(map[string]any{h.field: val})
}

var _ Handler = (*ExtractHandler)(nil)
