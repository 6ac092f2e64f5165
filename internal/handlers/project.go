package handlers

import (
	"context"
	"time"

	"github.com/solweave/chainflow/pkg/schema"
)

// ProjectHandler initializes the pipeline's project metadata.
type ProjectHandler struct{}

// NewProjectHandler creates the projectInit handler.
func NewProjectHandler() *ProjectHandler {
	return &ProjectHandler{}
}

func (h *ProjectHandler) Kind() schema.NodeKind {
	return schema.KindProjectInit
}

func (h *ProjectHandler) Describe() string {
	return "Records project title and description for the run"
}

func (h *ProjectHandler) Execute(_ context.Context, in Input) (*Output, error) {
	var payload schema.ProjectInitPayload
	if err := unmarshalPayload(in.Payload, &payload); err != nil {
		return nil, err
	}

	if payload.Title == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "project title is required")
	}

	return marshalOutput(schema.ProjectInfo{
		Title:       payload.Title,
		Description: payload.Description,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	})
}

var _ Handler = (*ProjectHandler)(nil)
