package expressions

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solweave/chainflow/pkg/schema"
)

func testScope(t *testing.T) *InterpolationScope {
	t.Helper()
	sb := NewScopeBuilder(
		map[string]any{"network": "sepolia"},
		map[string]any{"run_id": "r-1", "pipeline": "deploy-counter"},
	)
	require.NoError(t, sb.AddNodeOutput("compile-1", json.RawMessage(`{"bytecode":"0x6001","abi":[{"type":"constructor"}]}`)))
	return sb.Build()
}

func TestInterpolator_Resolve(t *testing.T) {
	interp := NewInterpolator()
	ctx := context.Background()
	scope := testScope(t)

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"no references", `{"a":1}`, `{"a":1}`},
		{"node output field", `{"code":"${{nodes.compile-1.output.bytecode}}"}`, `{"code":"0x6001"}`},
		{"inputs", `{"net":"${{inputs.network}}"}`, `{"net":"sepolia"}`},
		{"run metadata", `{"id":"${{run.run_id}}"}`, `{"id":"r-1"}`},
		{"whole output inline", `{"out":${{nodes.compile-1.output}}}`, `{"out":{"abi":[{"type":"constructor"}],"bytecode":"0x6001"}}`},
		{"expr expression", `{"net":"${{inputs.network ?? "localnet"}}"}`, `{"net":"sepolia"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := interp.Resolve(ctx, json.RawMessage(tt.raw), scope)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestInterpolator_Errors(t *testing.T) {
	interp := NewInterpolator()
	ctx := context.Background()
	scope := testScope(t)

	tests := []struct {
		name string
		raw  string
	}{
		{"unclosed", `{"a":"${{inputs.network"}`},
		{"empty", `{"a":"${{  }}"}`},
		{"unknown namespace", `{"a":"${{steps.x.output}}"}`},
		{"missing node", `{"a":"${{nodes.ghost.output}}"}`},
		{"missing field", `{"a":"${{nodes.compile-1.output.gas}}"}`},
		{"non-output property", `{"a":"${{nodes.compile-1.payload}}"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := interp.Resolve(ctx, json.RawMessage(tt.raw), scope)
			require.Error(t, err)
			var ferr *schema.FlowError
			require.ErrorAs(t, err, &ferr)
			assert.Equal(t, schema.ErrCodeInterpolation, ferr.Code)
		})
	}
}

func TestScopeBuilder_WriteOnce(t *testing.T) {
	sb := NewScopeBuilder(nil, nil)
	require.NoError(t, sb.AddNodeOutput("a", json.RawMessage(`{"x":1}`)))

	err := sb.AddNodeOutput("a", json.RawMessage(`{"x":2}`))
	require.Error(t, err)

	outputs := sb.NodeOutputs()
	assert.Equal(t, map[string]any{"x": float64(1)}, outputs["a"])
}

func TestScopeBuilder_FrozenSnapshot(t *testing.T) {
	sb := NewScopeBuilder(nil, nil)
	require.NoError(t, sb.AddNodeOutput("a", json.RawMessage(`{"x":1}`)))

	scope := sb.Build()
	scope.Nodes["a"].(map[string]any)["x"] = float64(99)

	// Mutating the snapshot must not leak back into the builder.
	fresh := sb.Build()
	assert.Equal(t, float64(1), fresh.Nodes["a"].(map[string]any)["x"])
}
