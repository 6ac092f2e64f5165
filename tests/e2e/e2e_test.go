package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solweave/chainflow/internal/engine"
	"github.com/solweave/chainflow/internal/handlers"
	"github.com/solweave/chainflow/internal/scheduler"
	"github.com/solweave/chainflow/internal/services"
	"github.com/solweave/chainflow/internal/store"
	"github.com/solweave/chainflow/internal/streaming"
	"github.com/solweave/chainflow/pkg/schema"
)

const counterSource = "pragma solidity ^0.8.0;\ncontract Counter { uint256 public n; }"

// --- Test harness ---

// harness wires the full stack the way cmd/chainflow does: a libSQL store
// on disk, the in-memory hub, and the runner with simulated services.
type harness struct {
	t      *testing.T
	dbPath string
	store  *store.LibSQLStore
	hub    *streaming.MemoryHub
	runner engine.Runner
	logger *slog.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dbPath := "file:" + filepath.Join(t.TempDir(), "e2e.db")
	s, err := store.NewLibSQLStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	reg := handlers.NewRegistry()
	require.NoError(t, handlers.RegisterDefaults(reg, handlers.Services{
		Compiler: services.NewSimulatedCompiler(),
		Deployer: services.NewSimulatedDeployer("localnet"),
		Auditor:  services.NewSimulatedAuditor(),
		Syntax:   services.NewLocalSyntax(),
	}))

	hub := streaming.NewMemoryHub()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &harness{
		t:      t,
		dbPath: dbPath,
		store:  s,
		hub:    hub,
		runner: engine.NewRunner(s, hub, reg, logger),
		logger: logger,
	}
}

func (h *harness) run(g *schema.Graph, inputs map[string]any) *engine.RunResult {
	h.t.Helper()
	ctx := context.Background()
	run := &store.Run{
		ID:        uuid.NewString(),
		Graph:     *g,
		Status:    schema.RunStatusPending,
		Inputs:    inputs,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(h.t, h.store.CreateRun(ctx, run))
	result, err := h.runner.Run(ctx, run)
	require.NoError(h.t, err)
	return result
}

func rawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func edge(id, source, target string) schema.Edge {
	return schema.Edge{ID: id, Source: source, Target: target}
}

func fullPipeline(t *testing.T) *schema.Graph {
	t.Helper()
	return &schema.Graph{
		Nodes: []schema.Node{
			{ID: "init", Kind: schema.KindProjectInit, Payload: rawJSON(t, schema.ProjectInitPayload{Title: "Counter"})},
			{ID: "src", Kind: schema.KindSourceInput, Payload: rawJSON(t, schema.SourceInputPayload{Source: counterSource})},
			{ID: "build", Kind: schema.KindCompile},
			{ID: "abi", Kind: schema.KindExtractABI},
			{ID: "bytecode", Kind: schema.KindExtractBytecode},
			{ID: "ship", Kind: schema.KindDeploy},
			{ID: "audit", Kind: schema.KindAIAudit},
			{ID: "done", Kind: schema.KindCompletion},
		},
		Edges: []schema.Edge{
			edge("e1", "init", "src"),
			edge("e2", "src", "build"),
			edge("e3", "build", "abi"),
			edge("e4", "build", "bytecode"),
			edge("e5", "abi", "ship"),
			edge("e6", "bytecode", "ship"),
			edge("e7", "src", "audit"),
			edge("e8", "ship", "done"),
			edge("e9", "audit", "done"),
		},
	}
}

func nodeOutput[T any](t *testing.T, result *engine.RunResult, nodeID string) T {
	t.Helper()
	state, ok := result.Nodes[nodeID]
	require.True(t, ok, "no state for node %s", nodeID)
	var out T
	require.NoError(t, json.Unmarshal(state.Output, &out))
	return out
}

// --- Scenarios ---

// Full eight-kind pipeline against the on-disk store.
func TestFullPipeline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	result := h.run(fullPipeline(t), nil)
	require.True(t, result.Success, "message: %s", result.Message)
	assert.Contains(t, result.Summary, "Project: Counter")
	assert.Contains(t, result.Summary, "Compilation: success")

	receipt := nodeOutput[schema.DeployReceipt](t, result, "ship")
	assert.NotEmpty(t, receipt.ContractAddress)
	assert.NotEmpty(t, receipt.TransactionHash)

	report := nodeOutput[schema.AuditReport](t, result, "audit")
	assert.Contains(t, report.Analysis, "lines")

	stored, err := h.store.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, stored.Status)

	states, err := h.store.ListNodeStates(ctx, result.RunID)
	require.NoError(t, err)
	require.Len(t, states, 8)
	for _, state := range states {
		assert.Equal(t, schema.NodeStatusSuccess, state.Status, "node %s", state.NodeID)
	}
}

// Deterministic artifacts: same source, same bytecode and address.
func TestDeterministicRuns(t *testing.T) {
	h := newHarness(t)

	first := h.run(fullPipeline(t), nil)
	second := h.run(fullPipeline(t), nil)
	require.True(t, first.Success)
	require.True(t, second.Success)

	a := nodeOutput[schema.DeployReceipt](t, first, "ship")
	b := nodeOutput[schema.DeployReceipt](t, second, "ship")
	assert.Equal(t, a.ContractAddress, b.ContractAddress)
}

// A failing node stops the run before downstream nodes start.
func TestFailFast(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	g := &schema.Graph{
		Nodes: []schema.Node{
			{ID: "src", Kind: schema.KindSourceInput, Payload: rawJSON(t, schema.SourceInputPayload{Source: ""})},
			{ID: "build", Kind: schema.KindCompile},
		},
		Edges: []schema.Edge{edge("e1", "src", "build")},
	}
	result := h.run(g, nil)
	require.False(t, result.Success)

	stored, err := h.store.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, stored.Status)

	buildState, err := h.store.GetNodeState(ctx, result.RunID, "build")
	require.NoError(t, err)
	assert.Equal(t, schema.NodeStatusIdle, buildState.Status)
}

// A compile node with no sourceInput ancestor fails upstream resolution.
func TestMissingUpstream(t *testing.T) {
	h := newHarness(t)

	g := &schema.Graph{
		Nodes: []schema.Node{
			{ID: "init", Kind: schema.KindProjectInit, Payload: rawJSON(t, schema.ProjectInitPayload{Title: "Broken"})},
			{ID: "build", Kind: schema.KindCompile},
		},
		Edges: []schema.Edge{edge("e1", "init", "build")},
	}
	result := h.run(g, nil)
	require.False(t, result.Success)

	state := result.Nodes["build"]
	require.NotNil(t, state)
	var ferr schema.FlowError
	require.NoError(t, json.Unmarshal(state.Error, &ferr))
	assert.Equal(t, schema.ErrCodeUpstreamMissing, ferr.Code)
}

// Inputs flow into payload interpolation.
func TestInputInterpolation(t *testing.T) {
	h := newHarness(t)

	g := &schema.Graph{
		Nodes: []schema.Node{
			{ID: "src", Kind: schema.KindSourceInput, Payload: rawJSON(t, schema.SourceInputPayload{Source: counterSource})},
			{ID: "audit", Kind: schema.KindAIAudit, Payload: json.RawMessage(`{"prompt":"Focus on ${{inputs.concern}}"}`)},
		},
		Edges: []schema.Edge{edge("e1", "src", "audit")},
	}
	result := h.run(g, map[string]any{"concern": "reentrancy"})
	require.True(t, result.Success, "message: %s", result.Message)

	report := nodeOutput[schema.AuditReport](t, result, "audit")
	assert.Equal(t, "Focus on reentrancy", report.Prompt)
}

// Event log is persisted with a monotone per-run sequence.
func TestEventLogPersisted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	result := h.run(fullPipeline(t), nil)
	require.True(t, result.Success)

	events, err := h.store.GetEvents(ctx, result.RunID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)

	types := make(map[string]bool, len(events))
	var lastSeq int64
	for _, e := range events {
		types[e.Type] = true
		assert.Greater(t, e.Sequence, lastSeq, "sequence must be strictly increasing")
		lastSeq = e.Sequence
	}
	assert.True(t, types[schema.EventRunStarted])
	assert.True(t, types[schema.EventRunCompleted])
	assert.True(t, types[schema.EventNodeStarted])
	assert.True(t, types[schema.EventNodeSucceeded])
	assert.True(t, types[schema.EventEdgeStatus])
}

// Run state survives a store close and reopen.
func TestPersistenceAcrossReopen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	result := h.run(fullPipeline(t), nil)
	require.True(t, result.Success)
	require.NoError(t, h.store.Close())

	reopened, err := store.NewLibSQLStore(h.dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	stored, err := reopened.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, stored.Status)

	events, err := reopened.GetEvents(ctx, result.RunID, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, events)
}

// Multiple runs through one runner do not interfere.
func TestConcurrentRuns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	const count = 5
	results := make(chan *engine.RunResult, count)
	errs := make(chan error, count)

	for i := 0; i < count; i++ {
		i := i
		go func() {
			g := &schema.Graph{
				Nodes: []schema.Node{
					{ID: "init", Kind: schema.KindProjectInit, Payload: rawJSON(t, schema.ProjectInitPayload{Title: fmt.Sprintf("Project %d", i)})},
					{ID: "src", Kind: schema.KindSourceInput, Payload: rawJSON(t, schema.SourceInputPayload{Source: counterSource})},
					{ID: "build", Kind: schema.KindCompile},
				},
				Edges: []schema.Edge{edge("e1", "init", "src"), edge("e2", "src", "build")},
			}
			run := &store.Run{
				ID:        uuid.NewString(),
				Graph:     *g,
				Status:    schema.RunStatusPending,
				CreatedAt: time.Now().UTC(),
			}
			if err := h.store.CreateRun(ctx, run); err != nil {
				errs <- err
				return
			}
			result, err := h.runner.Run(ctx, run)
			if err != nil {
				errs <- err
				return
			}
			results <- result
		}()
	}

	for i := 0; i < count; i++ {
		select {
		case result := <-results:
			assert.True(t, result.Success, "message: %s", result.Message)
		case err := <-errs:
			t.Fatalf("concurrent run failed: %v", err)
		case <-time.After(30 * time.Second):
			t.Fatal("timeout waiting for concurrent runs")
		}
	}
}

// A due schedule launches its pipeline through the real runner.
func TestScheduledRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.store.StorePipeline(ctx, &store.Pipeline{
		Name:      "nightly-deploy",
		Graph:     *fullPipeline(t),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}))

	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, h.store.CreateSchedule(ctx, &store.Schedule{
		ID:             uuid.NewString(),
		PipelineName:   "nightly-deploy",
		CronExpression: "0 3 * * *",
		Enabled:        true,
		NextRunAt:      &past,
		CreatedAt:      time.Now().UTC(),
	}))

	sched := scheduler.NewScheduler(h.store, h.runner, h.logger)
	require.NoError(t, sched.Start(ctx))
	defer func() { _ = sched.Stop() }()

	completed := schema.RunStatusCompleted
	require.Eventually(t, func() bool {
		runs, err := h.store.ListRuns(ctx, store.RunFilter{
			PipelineName: "nightly-deploy",
			Status:       &completed,
		})
		return err == nil && len(runs) == 1
	}, 15*time.Second, 100*time.Millisecond, "scheduled run never completed")
}
