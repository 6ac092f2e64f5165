package handlers

import (
	"context"
	"encoding/json"

	"github.com/solweave/chainflow/internal/services"
	"github.com/solweave/chainflow/pkg/schema"
)

// CompileHandler compiles the nearest upstream source through the delegated
// compiler service.
type CompileHandler struct {
	compiler services.Compiler
}

// NewCompileHandler creates the compile handler.
func NewCompileHandler(compiler services.Compiler) *CompileHandler {
	return &CompileHandler{compiler: compiler}
}

func (h *CompileHandler) Kind() schema.NodeKind {
	return schema.KindCompile
}

func (h *CompileHandler) Describe() string {
	return "Compiles upstream contract source into ABI and bytecode"
}

func (h *CompileHandler) Execute(ctx context.Context, in Input) (*Output, error) {
	var payload schema.CompilePayload
	if err := unmarshalPayload(in.Payload, &payload); err != nil {
		return nil, err
	}

	raw, err := in.Lookup.UpstreamOutput(in.Node.ID, schema.KindSourceInput)
	if err != nil {
		return nil, err
	}

	var source schema.SourceArtifact
	if err := json.Unmarshal(raw, &source); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "upstream source output is malformed").WithCause(err)
	}

	result, err := h.compiler.Compile(ctx, services.CompileRequest{
		Source:  source.Source,
		Name:    source.Name,
		Version: payload.Version,
	})
	if err != nil {
		return nil, err
	}

	version := result.Version
	if version == "" {
		version = payload.Version
	}

	return marshalOutput(schema.CompileArtifact{
		ABI:      result.ABI,
		Bytecode: result.Bytecode,
		Version:  version,
	})
}

var _ Handler = (*CompileHandler)(nil)
