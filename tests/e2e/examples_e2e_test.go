package e2e

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solweave/chainflow/internal/store"
	"github.com/solweave/chainflow/internal/validation"
	"github.com/solweave/chainflow/pkg/schema"
)

// examplePath resolves a file under the repository's examples/ directory.
func examplePath(t *testing.T, parts ...string) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	require.True(t, ok)
	root := filepath.Dir(filepath.Dir(filepath.Dir(thisFile)))
	return filepath.Join(append([]string{root, "examples"}, parts...)...)
}

// The shipped ERC-20 example validates and runs end to end.
func TestERC20Example(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	raw, err := os.ReadFile(examplePath(t, "erc20-pipeline", "pipeline.json"))
	require.NoError(t, err)

	validator, err := validation.NewGraphValidator()
	require.NoError(t, err)
	graph, err := validator.ValidateGraphJSON(raw)
	require.NoError(t, err)
	require.Len(t, graph.Nodes, 8)

	run := &store.Run{
		ID:        uuid.NewString(),
		Graph:     *graph,
		Status:    schema.RunStatusPending,
		Inputs:    map[string]any{"network": "localnet"},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, h.store.CreateRun(ctx, run))

	result, err := h.runner.Run(ctx, run)
	require.NoError(t, err)
	require.True(t, result.Success, "message: %s", result.Message)

	receipt := nodeOutput[schema.DeployReceipt](t, result, "ship")
	assert.NotEmpty(t, receipt.ContractAddress)
	assert.Equal(t, "localnet", receipt.Network)

	report := nodeOutput[schema.AuditReport](t, result, "audit")
	assert.Contains(t, report.Prompt, "ERC-20")
	assert.Contains(t, result.Summary, "Project: WeaveToken")
}
