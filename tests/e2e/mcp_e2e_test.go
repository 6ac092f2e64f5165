package e2e

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solweave/chainflow/internal/scheduler"
	"github.com/solweave/chainflow/internal/store"
	"github.com/solweave/chainflow/internal/validation"
	"github.com/solweave/chainflow/pkg/mcp"
	"github.com/solweave/chainflow/pkg/schema"
)

// newMCPServer assembles the MCP layer over the harness stack, the same
// wiring cmd/chainflow performs.
func newMCPServer(t *testing.T, h *harness) *mcp.ChainflowServer {
	t.Helper()
	validator, err := validation.NewGraphValidator()
	require.NoError(t, err)
	return mcp.NewChainflowServer(mcp.ChainflowServerDeps{
		Runner:    h.runner,
		Store:     h.store,
		Validator: validator,
		Hub:       h.hub,
		Cron:      scheduler.NewScheduler(h.store, h.runner, h.logger),
		Logger:    h.logger,
	})
}

// callTool invokes a tool through the MCP server's HandleMessage, a full
// JSON-RPC round-trip including session initialization.
func callTool(t *testing.T, srv *mcp.ChainflowServer, toolName string, args map[string]any) *mcpgo.CallToolResult {
	t.Helper()
	ctx := context.Background()
	mcpSrv := srv.MCPServer()

	rawInit, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      0,
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]any{},
			"clientInfo": map[string]any{
				"name":    "e2e-test",
				"version": "1.0.0",
			},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, mcpSrv.HandleMessage(ctx, rawInit))

	rawReq, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      toolName,
			"arguments": args,
		},
	})
	require.NoError(t, err)

	resp := mcpSrv.HandleMessage(ctx, rawReq)
	require.NotNil(t, resp)

	respBytes, err := json.Marshal(resp)
	require.NoError(t, err)

	var rpcResp struct {
		Result *mcpgo.CallToolResult `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &rpcResp))
	if rpcResp.Error != nil {
		t.Fatalf("JSON-RPC error: code=%d, msg=%s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	require.NotNil(t, rpcResp.Result)
	return rpcResp.Result
}

func toolText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcpgo.TextContent)
	require.True(t, ok, "content is not text: %T", result.Content[0])
	return text.Text
}

func toolJSON(t *testing.T, result *mcpgo.CallToolResult) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &out))
	return out
}

func graphArg(t *testing.T) map[string]any {
	t.Helper()
	raw, err := json.Marshal(fullPipeline(t))
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

// Define a pipeline, run it by name, then inspect status and events —
// everything through MCP tool calls against the on-disk store.
func TestMCPDefineRunInspect(t *testing.T) {
	h := newHarness(t)
	srv := newMCPServer(t, h)

	result := callTool(t, srv, "chainflow.define", map[string]any{
		"name":        "erc20-deploy",
		"description": "Compile, audit, and deploy",
		"graph":       graphArg(t),
	})
	require.False(t, result.IsError, "define: %s", toolText(t, result))

	result = callTool(t, srv, "chainflow.run", map[string]any{
		"pipeline": "erc20-deploy",
	})
	require.False(t, result.IsError, "run: %s", toolText(t, result))

	out := toolJSON(t, result)
	assert.Equal(t, true, out["success"])
	runID, ok := out["run_id"].(string)
	require.True(t, ok)

	result = callTool(t, srv, "chainflow.status", map[string]any{"run_id": runID})
	require.False(t, result.IsError)
	assert.Equal(t, string(schema.RunStatusCompleted), toolJSON(t, result)["status"])

	result = callTool(t, srv, "chainflow.events", map[string]any{"run_id": runID})
	require.False(t, result.IsError)
	events, ok := toolJSON(t, result)["events"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, events)
}

// Define with a cron expression registers a schedule with a future fire time.
func TestMCPDefineWithCron(t *testing.T) {
	h := newHarness(t)
	srv := newMCPServer(t, h)
	ctx := context.Background()

	result := callTool(t, srv, "chainflow.define", map[string]any{
		"name":  "nightly-audit",
		"graph": graphArg(t),
		"cron":  "0 3 * * *",
	})
	require.False(t, result.IsError, "define: %s", toolText(t, result))

	scheduleID, ok := toolJSON(t, result)["schedule_id"].(string)
	require.True(t, ok)

	sched, err := h.store.GetSchedule(ctx, scheduleID)
	require.NoError(t, err)
	assert.Equal(t, "nightly-audit", sched.PipelineName)
	require.NotNil(t, sched.NextRunAt)
	assert.True(t, sched.NextRunAt.After(time.Now()))
}

// An inline graph run executes without a stored pipeline.
func TestMCPInlineGraphRun(t *testing.T) {
	h := newHarness(t)
	srv := newMCPServer(t, h)

	result := callTool(t, srv, "chainflow.run", map[string]any{
		"graph":  graphArg(t),
		"inputs": map[string]any{"concern": "overflow"},
	})
	require.False(t, result.IsError, "run: %s", toolText(t, result))
	assert.Equal(t, true, toolJSON(t, result)["success"])
}

// An invalid graph is rejected before anything executes.
func TestMCPRunRejectsInvalidGraph(t *testing.T) {
	h := newHarness(t)
	srv := newMCPServer(t, h)

	result := callTool(t, srv, "chainflow.run", map[string]any{
		"graph": map[string]any{
			"nodes": []any{map[string]any{"id": "x", "kind": "teleport"}},
		},
	})
	assert.True(t, result.IsError)

	// Nothing was persisted.
	runs, err := h.store.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

// The diagram tool renders the completed run with status markers.
func TestMCPDiagramAfterRun(t *testing.T) {
	h := newHarness(t)
	srv := newMCPServer(t, h)

	runResult := h.run(fullPipeline(t), nil)
	require.True(t, runResult.Success)

	result := callTool(t, srv, "chainflow.diagram", map[string]any{
		"run_id": runResult.RunID,
		"format": "ascii",
	})
	require.False(t, result.IsError, "diagram: %s", toolText(t, result))
	assert.Contains(t, toolText(t, result), "[OK]")

	result = callTool(t, srv, "chainflow.diagram", map[string]any{
		"pipeline": "ghost",
		"format":   "mermaid",
	})
	assert.True(t, result.IsError)
}

// Stopping a run that is not active reports an error result.
func TestMCPStopInactiveRun(t *testing.T) {
	h := newHarness(t)
	srv := newMCPServer(t, h)

	result := callTool(t, srv, "chainflow.stop", map[string]any{
		"run_id": "no-such-run",
	})
	assert.True(t, result.IsError)
}
