package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/solweave/chainflow/internal/diagram"
	"github.com/solweave/chainflow/internal/store"
	"github.com/solweave/chainflow/pkg/schema"
)

// handleRun executes a pipeline graph, inline or stored.
func (s *ChainflowServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	graphArg := mcp.ParseStringMap(req, "graph", nil)
	pipelineName := req.GetString("pipeline", "")
	inputs := mcp.ParseStringMap(req, "inputs", nil)

	if graphArg == nil && pipelineName == "" {
		return mcp.NewToolResultError("either graph or pipeline is required"), nil
	}
	if graphArg != nil && pipelineName != "" {
		return mcp.NewToolResultError("graph and pipeline are mutually exclusive"), nil
	}

	var graph *schema.Graph
	if graphArg != nil {
		raw, err := json.Marshal(graphArg)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid graph: %v", err)), nil
		}
		g, err := s.validator.ValidateGraphJSON(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("graph validation failed: %v", err)), nil
		}
		graph = g
	} else {
		pipeline, err := s.store.GetPipeline(ctx, pipelineName)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("pipeline lookup failed: %v", err)), nil
		}
		graph = &pipeline.Graph
	}

	now := time.Now().UTC()
	run := &store.Run{
		ID:           uuid.NewString(),
		PipelineName: pipelineName,
		Graph:        *graph,
		Status:       schema.RunStatusPending,
		Inputs:       inputs,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create run: %v", err)), nil
	}

	// Push live node and edge events back to the calling session while the
	// run executes.
	s.captureSession(ctx, run.ID)
	if s.hub != nil {
		if cancel, err := s.notifier.StreamRun(ctx, s.hub, run.ID); err == nil {
			defer cancel()
		}
	}
	defer s.sessions.Forget(run.ID)

	result, runErr := s.runner.Run(ctx, run)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run failed: %v", runErr)), nil
	}

	return marshalResult(result)
}

// handleStatus returns the current state of a run.
func (s *ChainflowServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	snapshot, statusErr := s.runner.Status(ctx, runID)
	if statusErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", statusErr)), nil
	}

	return marshalResult(snapshot)
}

// handleStop requests cooperative cancellation of an active run.
func (s *ChainflowServer) handleStop(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	if stopErr := s.runner.Stop(runID); stopErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("stop failed: %v", stopErr)), nil
	}

	return marshalResult(map[string]any{
		"ok":     true,
		"run_id": runID,
	})
}

// handleDefine registers a named pipeline, optionally with a cron schedule.
func (s *ChainflowServer) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}
	graphArg := mcp.ParseStringMap(req, "graph", nil)
	if graphArg == nil {
		return mcp.NewToolResultError("graph is required"), nil
	}

	raw, marshalErr := json.Marshal(graphArg)
	if marshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid graph: %v", marshalErr)), nil
	}
	graph, valErr := s.validator.ValidateGraphJSON(raw)
	if valErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("graph validation failed: %v", valErr)), nil
	}

	now := time.Now().UTC()
	pipeline := &store.Pipeline{
		Name:        name,
		Description: req.GetString("description", ""),
		Graph:       *graph,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if storeErr := s.store.StorePipeline(ctx, pipeline); storeErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to store pipeline: %v", storeErr)), nil
	}

	result := map[string]any{"name": name}

	if cronExpr := req.GetString("cron", ""); cronExpr != "" {
		if s.cron == nil {
			return mcp.NewToolResultError("scheduling is not enabled on this server"), nil
		}
		nextRun, cronErr := s.cron.CalculateNextRun(cronExpr, now)
		if cronErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid cron expression: %v", cronErr)), nil
		}

		sched := &store.Schedule{
			ID:             uuid.NewString(),
			PipelineName:   name,
			CronExpression: cronExpr,
			Enabled:        true,
			NextRunAt:      &nextRun,
			CreatedAt:      now,
		}
		if inputs := mcp.ParseStringMap(req, "inputs", nil); inputs != nil {
			if rawInputs, err := json.Marshal(inputs); err == nil {
				sched.Inputs = rawInputs
			}
		}
		if schedErr := s.store.CreateSchedule(ctx, sched); schedErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to create schedule: %v", schedErr)), nil
		}
		result["schedule_id"] = sched.ID
		result["next_run_at"] = nextRun.Format(time.RFC3339)
	}

	return marshalResult(result)
}

// handleEvents reads a run's event log in sequence order.
func (s *ChainflowServer) handleEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	var since int64
	if sinceStr := req.GetString("since", ""); sinceStr != "" {
		n, parseErr := strconv.ParseInt(sinceStr, 10, 64)
		if parseErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid since value: %v", parseErr)), nil
		}
		since = n
	}

	events, getErr := s.store.GetEvents(ctx, runID, since)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("event query failed: %v", getErr)), nil
	}

	return marshalResult(map[string]any{
		"run_id": runID,
		"events": events,
	})
}

// handleDiagram renders a pipeline or run as a diagram in the requested format.
func (s *ChainflowServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}

	pipelineName := req.GetString("pipeline", "")
	runID := req.GetString("run_id", "")
	if pipelineName == "" && runID == "" {
		return mcp.NewToolResultError("at least one of pipeline or run_id is required"), nil
	}

	var graph *schema.Graph
	var states []*store.NodeState

	if runID != "" {
		run, runErr := s.store.GetRun(ctx, runID)
		if runErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run not found: %v", runErr)), nil
		}
		graph = &run.Graph
		if ns, nsErr := s.store.ListNodeStates(ctx, runID); nsErr == nil {
			states = ns
		}
	} else {
		pipeline, pErr := s.store.GetPipeline(ctx, pipelineName)
		if pErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("pipeline lookup failed: %v", pErr)), nil
		}
		graph = &pipeline.Graph
	}

	model, buildErr := diagram.Build(graph, states)
	if buildErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", buildErr)), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	case "image":
		png, imgErr := diagram.RenderImage(model)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(png)), nil
	default:
		return mcp.NewToolResultError("format must be ascii, mermaid, or image"), nil
	}
}

// --- Internal helpers ---

// captureSession maps the run ID to the current MCP session for notifications.
func (s *ChainflowServer) captureSession(ctx context.Context, runID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(runID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
