package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/solweave/chainflow/internal/expressions"
	"github.com/solweave/chainflow/internal/handlers"
	"github.com/solweave/chainflow/internal/logging"
	"github.com/solweave/chainflow/internal/store"
	"github.com/solweave/chainflow/internal/streaming"
	"github.com/solweave/chainflow/pkg/schema"
)

// RunResult is the terminal artifact of one pipeline run.
type RunResult struct {
	RunID   string                      `json:"run_id"`
	Success bool                        `json:"success"`
	Message string                      `json:"message"`
	Summary string                      `json:"summary,omitempty"`
	Context map[string]json.RawMessage  `json:"context,omitempty"`
	Nodes   map[string]*store.NodeState `json:"nodes,omitempty"`
}

// RunSnapshot is a point-in-time view of a run for status queries.
type RunSnapshot struct {
	RunID  string                      `json:"run_id"`
	Status schema.RunStatus            `json:"status"`
	Nodes  map[string]*store.NodeState `json:"nodes,omitempty"`
	Events []*store.Event              `json:"events,omitempty"`
}

// Runner executes pipeline runs.
type Runner interface {
	// Run executes the given run to a terminal state. The returned result is
	// non-nil whenever the run itself produced an outcome; the error return
	// is reserved for infrastructure failures (store writes, double start).
	Run(ctx context.Context, run *store.Run) (*RunResult, error)

	// Stop requests cooperative cancellation of an active run. The node in
	// flight finishes on its own; no later node starts.
	Stop(runID string) error

	// Status reports the current persisted state of a run.
	Status(ctx context.Context, runID string) (*RunSnapshot, error)
}

// runnerImpl is the concrete sequential Runner.
type runnerImpl struct {
	store        store.Store
	hub          streaming.EventHub
	registry     *handlers.Registry
	runFSM       *RunFSM
	nodeFSM      *NodeFSM
	interpolator *expressions.Interpolator
	logger       *slog.Logger

	// mu guards running map.
	mu      sync.Mutex
	running map[string]*pipelineRun
}

// pipelineRun tracks a single in-flight execution. All of it is freshly
// allocated per run; nothing leaks between runs.
type pipelineRun struct {
	runID      string
	dag        *DAG
	rctx       *RunContext
	scope      *expressions.ScopeBuilder
	stopped    atomic.Bool
	mu         sync.Mutex // guards nodeStates
	nodeStates map[string]*store.NodeState
}

// NewRunner creates a Runner with the given dependencies.
func NewRunner(s store.Store, hub streaming.EventHub, registry *handlers.Registry, logger *slog.Logger) Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &runnerImpl{
		store:        s,
		hub:          hub,
		registry:     registry,
		runFSM:       NewRunFSM(s),
		nodeFSM:      NewNodeFSM(s),
		interpolator: expressions.NewInterpolator(),
		logger:       logger,
		running:      make(map[string]*pipelineRun),
	}
}

func (r *runnerImpl) Run(ctx context.Context, run *store.Run) (*RunResult, error) {
	if run == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "run is nil")
	}
	if run.ID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "run has no ID")
	}

	ctx = logging.WithRunID(ctx, run.ID)

	// Cycle detection and structural validation happen here, before any
	// node is dispatched.
	dag, err := ParseGraph(&run.Graph)
	if err != nil {
		r.logger.ErrorContext(ctx, "graph rejected", "error", err)
		return r.failBeforeStart(ctx, run, err)
	}

	pr := &pipelineRun{
		runID:      run.ID,
		dag:        dag,
		rctx:       NewRunContext(dag),
		scope:      expressions.NewScopeBuilder(run.Inputs, map[string]any{"run_id": run.ID, "pipeline": run.PipelineName}),
		nodeStates: make(map[string]*store.NodeState, len(dag.Nodes)),
	}

	r.mu.Lock()
	if _, active := r.running[run.ID]; active {
		r.mu.Unlock()
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "run %s is already active", run.ID)
	}
	r.running[run.ID] = pr
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.running, run.ID)
		r.mu.Unlock()
	}()

	// Transition run: pending → active.
	if err := r.runFSM.Transition(ctx, run.ID, run.Status, schema.RunStatusActive); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	activeStatus := schema.RunStatusActive
	if err := r.store.UpdateRun(ctx, run.ID, store.RunUpdate{Status: &activeStatus, StartedAt: &now}); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "update run status: %s", err.Error()).WithCause(err)
	}
	r.publish(ctx, streaming.RunEvent{RunID: run.ID, Type: schema.EventRunStarted})

	// Initialize node states as idle.
	for _, id := range dag.Order {
		state := &store.NodeState{RunID: run.ID, NodeID: id, Status: schema.NodeStatusIdle}
		pr.nodeStates[id] = state
		if err := r.store.UpsertNodeState(ctx, state); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "init node state %s: %s", id, err.Error()).WithCause(err)
		}
	}

	r.logger.InfoContext(ctx, "run started", "nodes", len(dag.Order))

	// Walk the order one node at a time. The stop flag and the context are
	// consulted only here, at the boundary between nodes.
	for _, nodeID := range dag.Order {
		if pr.stopped.Load() || ctx.Err() != nil {
			return r.finishStopped(ctx, pr)
		}

		node := dag.Node(nodeID)
		if err := r.executeNode(ctx, pr, node); err != nil {
			return r.finishFailed(ctx, pr, node, err)
		}
	}

	return r.finishCompleted(ctx, pr)
}

// executeNode runs a single node through its full lifecycle.
func (r *runnerImpl) executeNode(ctx context.Context, pr *pipelineRun, node *schema.Node) error {
	nodeCtx := logging.WithNodeID(ctx, node.ID)

	if err := r.nodeFSM.Transition(nodeCtx, pr.runID, node.ID, schema.NodeStatusIdle, schema.NodeStatusRunning); err != nil {
		return err
	}
	started := time.Now().UTC()
	r.updateNodeState(nodeCtx, pr, node.ID, func(state *store.NodeState) {
		state.Status = schema.NodeStatusRunning
		state.StartedAt = &started
	})
	r.publish(nodeCtx, streaming.RunEvent{RunID: pr.runID, NodeID: node.ID, Type: schema.EventNodeStarted})
	r.publishEdgeStatus(nodeCtx, pr, node.ID)

	r.logger.InfoContext(nodeCtx, "node started", "kind", node.Kind)

	output, execErr := r.dispatch(nodeCtx, pr, node)

	completed := time.Now().UTC()
	duration := completed.Sub(started).Milliseconds()

	if execErr != nil {
		ferr := asFlowError(execErr).WithNode(node.ID)
		errJSON, _ := json.Marshal(ferr)

		if err := r.nodeFSM.Transition(nodeCtx, pr.runID, node.ID, schema.NodeStatusRunning, schema.NodeStatusError); err != nil {
			r.logger.ErrorContext(nodeCtx, "node transition failed", "error", err)
		}
		r.updateNodeState(nodeCtx, pr, node.ID, func(state *store.NodeState) {
			state.Status = schema.NodeStatusError
			state.Error = errJSON
			state.CompletedAt = &completed
			state.DurationMs = duration
		})
		r.publish(nodeCtx, streaming.RunEvent{
			RunID:   pr.runID,
			NodeID:  node.ID,
			Type:    schema.EventNodeFailed,
			Payload: streaming.NodeFailure{Code: ferr.Code, Message: ferr.Message},
		})
		r.publishEdgeStatus(nodeCtx, pr, node.ID)

		r.logger.ErrorContext(nodeCtx, "node failed", "code", ferr.Code, "error", ferr.Message)
		return ferr
	}

	// Success path: the output becomes visible to downstream nodes exactly
	// once, via the run context.
	if err := pr.rctx.Record(node.ID, output); err != nil {
		return err
	}
	if err := pr.scope.AddNodeOutput(node.ID, output); err != nil {
		return err
	}

	if err := r.nodeFSM.Transition(nodeCtx, pr.runID, node.ID, schema.NodeStatusRunning, schema.NodeStatusSuccess); err != nil {
		return err
	}
	r.updateNodeState(nodeCtx, pr, node.ID, func(state *store.NodeState) {
		state.Status = schema.NodeStatusSuccess
		state.Output = output
		state.CompletedAt = &completed
		state.DurationMs = duration
	})
	r.publish(nodeCtx, streaming.RunEvent{
		RunID:   pr.runID,
		NodeID:  node.ID,
		Type:    schema.EventNodeSucceeded,
		Payload: output,
	})
	r.publishEdgeStatus(nodeCtx, pr, node.ID)

	r.logger.InfoContext(nodeCtx, "node succeeded", "duration_ms", duration)
	return nil
}

// dispatch resolves the handler and executes it with the interpolated
// payload. Handler panics are converted to execution errors here instead of
// unwinding through the run loop.
func (r *runnerImpl) dispatch(ctx context.Context, pr *pipelineRun, node *schema.Node) (out json.RawMessage, err error) {
	handler, err := r.registry.Get(node.Kind)
	if err != nil {
		return nil, err
	}

	payload := node.Payload
	if expressions.HasInterpolation(payload) {
		payload, err = r.interpolator.Resolve(ctx, payload, pr.scope.Build())
		if err != nil {
			return nil, err
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = schema.NewErrorf(schema.ErrCodeExecution, "handler panicked: %v", rec)
		}
	}()

	result, err := handler.Execute(ctx, handlers.Input{
		Node:      node,
		Payload:   payload,
		Lookup:    pr.rctx,
		Summarize: func() string { return RenderSummary(pr.rctx) },
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.Data, nil
}

// --- Terminal states ---

func (r *runnerImpl) finishCompleted(ctx context.Context, pr *pipelineRun) (*RunResult, error) {
	if err := r.runFSM.Transition(ctx, pr.runID, schema.RunStatusActive, schema.RunStatusCompleted); err != nil {
		return nil, err
	}

	result := &RunResult{
		RunID:   pr.runID,
		Success: true,
		Message: "pipeline completed",
		Summary: RenderSummary(pr.rctx),
		Context: pr.rctx.Snapshot(),
		Nodes:   pr.snapshotNodes(),
	}
	r.persistEnd(ctx, pr.runID, schema.RunStatusCompleted, result)
	r.publish(ctx, streaming.RunEvent{RunID: pr.runID, Type: schema.EventRunCompleted})
	r.logger.InfoContext(ctx, "run completed")
	return result, nil
}

func (r *runnerImpl) finishFailed(ctx context.Context, pr *pipelineRun, node *schema.Node, cause error) (*RunResult, error) {
	if err := r.runFSM.Transition(ctx, pr.runID, schema.RunStatusActive, schema.RunStatusFailed); err != nil {
		r.logger.ErrorContext(ctx, "run transition failed", "error", err)
	}

	ferr := asFlowError(cause)
	result := &RunResult{
		RunID:   pr.runID,
		Success: false,
		Message: fmt.Sprintf("%s failed: %s", node.DisplayLabel(), ferr.Message),
		Summary: RenderSummary(pr.rctx),
		Context: pr.rctx.Snapshot(),
		Nodes:   pr.snapshotNodes(),
	}
	r.persistEnd(ctx, pr.runID, schema.RunStatusFailed, result)
	r.publish(ctx, streaming.RunEvent{RunID: pr.runID, Type: schema.EventRunFailed, Payload: streaming.NodeFailure{Code: ferr.Code, Message: result.Message}})
	return result, nil
}

func (r *runnerImpl) finishStopped(ctx context.Context, pr *pipelineRun) (*RunResult, error) {
	if err := r.runFSM.Transition(ctx, pr.runID, schema.RunStatusActive, schema.RunStatusStopped); err != nil {
		r.logger.ErrorContext(ctx, "run transition failed", "error", err)
	}

	ferr := schema.NewError(schema.ErrCodeRunStopped, "run stopped before completion")
	result := &RunResult{
		RunID:   pr.runID,
		Success: false,
		Message: ferr.Message,
		Summary: RenderSummary(pr.rctx),
		Context: pr.rctx.Snapshot(),
		Nodes:   pr.snapshotNodes(),
	}
	r.persistEnd(ctx, pr.runID, schema.RunStatusStopped, result)
	r.publish(ctx, streaming.RunEvent{RunID: pr.runID, Type: schema.EventRunStopped, Payload: streaming.NodeFailure{Code: ferr.Code, Message: ferr.Message}})
	r.logger.InfoContext(ctx, "run stopped")
	return result, nil
}

// failBeforeStart handles graphs rejected during parsing: the run goes
// straight from pending to failed and no node ever leaves idle.
func (r *runnerImpl) failBeforeStart(ctx context.Context, run *store.Run, cause error) (*RunResult, error) {
	if err := r.runFSM.Transition(ctx, run.ID, run.Status, schema.RunStatusFailed); err != nil {
		r.logger.ErrorContext(ctx, "run transition failed", "error", err)
	}

	ferr := asFlowError(cause)
	result := &RunResult{
		RunID:   run.ID,
		Success: false,
		Message: ferr.Message,
	}
	r.persistEnd(ctx, run.ID, schema.RunStatusFailed, result)
	r.publish(ctx, streaming.RunEvent{RunID: run.ID, Type: schema.EventRunFailed, Payload: streaming.NodeFailure{Code: ferr.Code, Message: ferr.Message}})
	return result, nil
}

// persistEnd writes the terminal status and result onto the run record.
func (r *runnerImpl) persistEnd(ctx context.Context, runID string, status schema.RunStatus, result *RunResult) {
	now := time.Now().UTC()
	output, err := json.Marshal(result)
	if err != nil {
		r.logger.ErrorContext(ctx, "marshal run result", "error", err)
		output = nil
	}
	update := store.RunUpdate{Status: &status, Output: output, CompletedAt: &now}
	if !result.Success {
		update.Error, _ = json.Marshal(map[string]string{"message": result.Message})
	}
	if err := r.store.UpdateRun(ctx, runID, update); err != nil {
		r.logger.ErrorContext(ctx, "persist run end", "error", err)
	}
}

// --- Control surface ---

func (r *runnerImpl) Stop(runID string) error {
	r.mu.Lock()
	pr, ok := r.running[runID]
	r.mu.Unlock()

	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "run %s is not active", runID)
	}
	pr.stopped.Store(true)
	r.logger.Info("stop requested", "run_id", runID)
	return nil
}

func (r *runnerImpl) Status(ctx context.Context, runID string) (*RunSnapshot, error) {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	states, err := r.store.ListNodeStates(ctx, runID)
	if err != nil {
		return nil, err
	}
	nodes := make(map[string]*store.NodeState, len(states))
	for _, s := range states {
		nodes[s.NodeID] = s
	}

	events, err := r.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, err
	}

	// Backfill from the event log: a store that kept the log but lost
	// (or never materialized) node_states rows still yields a full
	// snapshot, and a broken sequence surfaces here instead of silently.
	replayed, err := store.ReplayNodeStates(runID, events)
	if err != nil {
		r.logger.WarnContext(ctx, "event log replay failed", "run_id", runID, "error", err)
	} else {
		for id, ns := range replayed {
			if _, ok := nodes[id]; !ok {
				nodes[id] = ns
			}
		}
	}

	return &RunSnapshot{
		RunID:  run.ID,
		Status: run.Status,
		Nodes:  nodes,
		Events: events,
	}, nil
}

// --- Helpers ---

// publish forwards an event to the hub without letting a full subscriber or
// closed hub disturb the run.
func (r *runnerImpl) publish(ctx context.Context, event streaming.RunEvent) {
	if r.hub == nil {
		return
	}
	if err := r.hub.Publish(ctx, event); err != nil {
		r.logger.WarnContext(ctx, "event publish failed", "type", event.Type, "error", err)
	}
}

// publishEdgeStatus emits the annotated status of every edge touching the
// node, for canvas visualization.
func (r *runnerImpl) publishEdgeStatus(ctx context.Context, pr *pipelineRun, nodeID string) {
	for _, edge := range pr.dag.EdgesOf(nodeID) {
		status := streaming.EdgeStatus{
			EdgeID:       edge.ID,
			SourceStatus: pr.nodeStatus(edge.Source),
			TargetStatus: pr.nodeStatus(edge.Target),
		}
		payload, _ := json.Marshal(status)
		if err := r.store.AppendEvent(ctx, &store.Event{
			RunID:   pr.runID,
			EdgeID:  edge.ID,
			Type:    schema.EventEdgeStatus,
			Payload: payload,
		}); err != nil {
			r.logger.WarnContext(ctx, "append edge event failed", "edge_id", edge.ID, "error", err)
		}
		r.publish(ctx, streaming.RunEvent{
			RunID:   pr.runID,
			EdgeID:  edge.ID,
			Type:    schema.EventEdgeStatus,
			Payload: status,
		})
	}
}

// updateNodeState mutates the in-memory node state and persists it.
func (r *runnerImpl) updateNodeState(ctx context.Context, pr *pipelineRun, nodeID string, mutate func(*store.NodeState)) {
	pr.mu.Lock()
	state := pr.nodeStates[nodeID]
	mutate(state)
	copied := *state
	pr.mu.Unlock()

	if err := r.store.UpsertNodeState(ctx, &copied); err != nil {
		r.logger.ErrorContext(ctx, "persist node state", "error", err)
	}
}

func (pr *pipelineRun) nodeStatus(nodeID string) schema.NodeStatus {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if state, ok := pr.nodeStates[nodeID]; ok {
		return state.Status
	}
	return schema.NodeStatusIdle
}

func (pr *pipelineRun) snapshotNodes() map[string]*store.NodeState {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	out := make(map[string]*store.NodeState, len(pr.nodeStates))
	for id, state := range pr.nodeStates {
		copied := *state
		out[id] = &copied
	}
	return out
}

// asFlowError normalizes any error to a *FlowError.
func asFlowError(err error) *schema.FlowError {
	if ferr, ok := err.(*schema.FlowError); ok {
		return ferr
	}
	return schema.NewError(schema.ErrCodeExecution, err.Error()).WithCause(err)
}
