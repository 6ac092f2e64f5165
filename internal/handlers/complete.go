package handlers

import (
	"context"

	"github.com/solweave/chainflow/pkg/schema"
)

// CompletionOutput is the terminal node's recorded output.
type CompletionOutput struct {
	Summary string `json:"summary"`
}

// CompletionHandler closes the pipeline by rendering the run report. It never
// fails on its own: an unavailable renderer just yields an empty summary.
type CompletionHandler struct{}

// NewCompletionHandler creates the completion handler.
func NewCompletionHandler() *CompletionHandler {
	return &CompletionHandler{}
}

func (h *CompletionHandler) Kind() schema.NodeKind {
	return schema.KindCompletion
}

func (h *CompletionHandler) Describe() string {
	return "Renders the final run summary"
}

func (h *CompletionHandler) Execute(_ context.Context, in Input) (*Output, error) {
	summary := ""
	if in.Summarize != nil {
		summary = in.Summarize()
	}
	return marshalOutput(CompletionOutput{Summary: summary})
}

var _ Handler = (*CompletionHandler)(nil)
