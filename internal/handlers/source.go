package handlers

import (
	"context"
	"regexp"

	"github.com/solweave/chainflow/internal/services"
	"github.com/solweave/chainflow/pkg/schema"
)

var contractNameRe = regexp.MustCompile(`\bcontract\s+([A-Za-z_][A-Za-z0-9_]*)`)

// SourceHandler accepts contract source text and runs the local syntax check
// before the source enters the pipeline.
type SourceHandler struct {
	syntax services.Syntax
}

// NewSourceHandler creates the sourceInput handler.
func NewSourceHandler(syntax services.Syntax) *SourceHandler {
	return &SourceHandler{syntax: syntax}
}

func (h *SourceHandler) Kind() schema.NodeKind {
	return schema.KindSourceInput
}

func (h *SourceHandler) Describe() string {
	return "Accepts and sanity-checks contract source"
}

func (h *SourceHandler) Execute(_ context.Context, in Input) (*Output, error) {
	var payload schema.SourceInputPayload
	if err := unmarshalPayload(in.Payload, &payload); err != nil {
		return nil, err
	}

	if payload.Source == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "source is required")
	}

	if h.syntax != nil {
		if err := h.syntax.Check(payload.Source); err != nil {
			return nil, err
		}
	}

	name := payload.Name
	if name == "" {
		name = deriveSourceName(payload.Source)
	}

	return marshalOutput(schema.SourceArtifact{
		Source: payload.Source,
		Name:   name,
	})
}

// deriveSourceName names the artifact after the first contract declaration,
// falling back to "Contract.sol".
func deriveSourceName(source string) string {
	if m := contractNameRe.FindStringSubmatch(source); m != nil {
		return m[1] + ".sol"
	}
	return "Contract.sol"
}

var _ Handler = (*SourceHandler)(nil)
