package diagram

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solweave/chainflow/internal/store"
	"github.com/solweave/chainflow/pkg/schema"
)

func pipelineGraph() *schema.Graph {
	return &schema.Graph{
		Nodes: []schema.Node{
			{ID: "init", Kind: schema.KindProjectInit, Payload: json.RawMessage(`{"title":"Token Pipeline"}`)},
			{ID: "src", Kind: schema.KindSourceInput},
			{ID: "build", Kind: schema.KindCompile},
			{ID: "abi", Kind: schema.KindExtractABI},
			{ID: "bytecode", Kind: schema.KindExtractBytecode},
			{ID: "ship", Kind: schema.KindDeploy},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "init", Target: "src"},
			{ID: "e2", Source: "src", Target: "build"},
			{ID: "e3", Source: "build", Target: "abi"},
			{ID: "e4", Source: "build", Target: "bytecode"},
			{ID: "e5", Source: "abi", Target: "ship"},
			{ID: "e6", Source: "bytecode", Target: "ship"},
		},
	}
}

func TestBuildModel(t *testing.T) {
	model, err := Build(pipelineGraph(), nil)
	require.NoError(t, err)

	assert.Equal(t, "Token Pipeline", model.Title)
	require.Len(t, model.Nodes, 6)
	require.Len(t, model.Edges, 6)

	// Execution order is preserved.
	assert.Equal(t, "init", model.Nodes[0].ID)
	assert.Equal(t, "ship", model.Nodes[5].ID)

	// Fan-out nodes share a level; deploy sits below both.
	require.Len(t, model.Levels, 5)
	assert.Equal(t, []string{"init"}, model.Levels[0])
	assert.Equal(t, []string{"abi", "bytecode"}, model.Levels[3])
	assert.Equal(t, []string{"ship"}, model.Levels[4])
}

func TestBuildModelStatusOverlay(t *testing.T) {
	states := []*store.NodeState{
		{NodeID: "init", Status: schema.NodeStatusSuccess, DurationMs: 12},
		{NodeID: "src", Status: schema.NodeStatusError, Error: json.RawMessage(`{"code":"VALIDATION_ERROR","message":"source is empty"}`)},
	}

	model, err := Build(pipelineGraph(), states)
	require.NoError(t, err)

	init := findNode(model.Nodes, "init")
	require.NotNil(t, init.Status)
	assert.Equal(t, schema.NodeStatusSuccess, init.Status.Status)
	assert.Equal(t, int64(12), init.Status.DurationMs)

	src := findNode(model.Nodes, "src")
	require.NotNil(t, src.Status)
	assert.Equal(t, "source is empty", src.Status.Error)

	build := findNode(model.Nodes, "build")
	assert.Nil(t, build.Status)
}

func TestBuildModelRejectsCycle(t *testing.T) {
	g := &schema.Graph{
		Nodes: []schema.Node{
			{ID: "a", Kind: schema.KindProjectInit},
			{ID: "b", Kind: schema.KindCompletion},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "a", Target: "b"},
			{ID: "e2", Source: "b", Target: "a"},
		},
	}

	_, err := Build(g, nil)
	require.Error(t, err)
}

func TestBuildModelUntitled(t *testing.T) {
	g := &schema.Graph{
		Nodes: []schema.Node{{ID: "done", Kind: schema.KindCompletion}},
	}

	model, err := Build(g, nil)
	require.NoError(t, err)
	assert.Empty(t, model.Title)
}
