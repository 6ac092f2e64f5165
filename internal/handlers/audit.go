package handlers

import (
	"context"
	"encoding/json"

	"github.com/solweave/chainflow/internal/services"
	"github.com/solweave/chainflow/pkg/schema"
)

// DefaultAuditPrompt is used when an aiAudit node carries no prompt.
const DefaultAuditPrompt = "Perform a security review of this smart contract. List potential vulnerabilities, gas concerns, and deviations from common Solidity practice."

// AuditHandler runs the upstream source through the delegated AI analyzer.
type AuditHandler struct {
	auditor services.Auditor
}

// NewAuditHandler creates the aiAudit handler.
func NewAuditHandler(auditor services.Auditor) *AuditHandler {
	return &AuditHandler{auditor: auditor}
}

func (h *AuditHandler) Kind() schema.NodeKind {
	return schema.KindAIAudit
}

func (h *AuditHandler) Describe() string {
	return "Requests an AI security analysis of the upstream source"
}

func (h *AuditHandler) Execute(ctx context.Context, in Input) (*Output, error) {
	var payload schema.AuditPayload
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

	prompt := payload.Prompt
	if prompt == "" {
		prompt = DefaultAuditPrompt
	}

	result, err := h.auditor.Analyze(ctx, services.AuditRequest{
		Source: source.Source,
		Prompt: prompt,
	})
	if err != nil {
		return nil, err
	}

	return marshalOutput(schema.AuditReport{
		Analysis: result.Analysis,
		Prompt:   prompt,
	})
}

var _ Handler = (*AuditHandler)(nil)
