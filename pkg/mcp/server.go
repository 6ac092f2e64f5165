package mcp

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/solweave/chainflow/internal/engine"
	"github.com/solweave/chainflow/internal/store"
	"github.com/solweave/chainflow/internal/streaming"
	"github.com/solweave/chainflow/internal/validation"
)

// CronCalculator computes the next fire time for a cron expression.
// Satisfied by scheduler.Scheduler.
type CronCalculator interface {
	CalculateNextRun(cronExpr string, from time.Time) (time.Time, error)
}

// ChainflowServerDeps holds the dependencies for creating a ChainflowServer.
type ChainflowServerDeps struct {
	Runner    engine.Runner
	Store     store.Store
	Validator *validation.GraphValidator
	Hub       streaming.EventHub
	Cron      CronCalculator
	Logger    *slog.Logger
}

// ChainflowServer wraps an MCP server with chainflow-specific tool handlers.
type ChainflowServer struct {
	runner    engine.Runner
	store     store.Store
	validator *validation.GraphValidator
	hub       streaming.EventHub
	cron      CronCalculator
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  *RunNotifier
	mcpServer *server.MCPServer
}

// NewChainflowServer creates a new ChainflowServer with all 6 tools registered.
func NewChainflowServer(deps ChainflowServerDeps) *ChainflowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &ChainflowServer{
		runner:    deps.Runner,
		store:     deps.Store,
		validator: deps.Validator,
		hub:       deps.Hub,
		cron:      deps.Cron,
		logger:    logger,
		sessions:  NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"chainflow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Chainflow executes smart-contract build pipelines drawn as node graphs. Use chainflow.run to execute a graph or a stored pipeline, chainflow.status to check progress, chainflow.stop to cancel an active run, chainflow.define to register a reusable pipeline (optionally on a cron schedule), chainflow.events to read a run's event log, and chainflow.diagram to visualize a pipeline."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewRunNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *ChainflowServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *ChainflowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 6 registered MCP tools as ServerTool entries.
func (s *ChainflowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: stopTool(), Handler: s.handleStop},
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: eventsTool(), Handler: s.handleEvents},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("chainflow.run",
		mcp.WithDescription("Execute a pipeline graph. Provide either an inline graph or the name of a stored pipeline."),
		mcp.WithObject("graph", mcp.Description("Inline pipeline graph with nodes and edges")),
		mcp.WithString("pipeline", mcp.Description("Name of a stored pipeline to run")),
		mcp.WithObject("inputs", mcp.Description("Run-scoped input values available to expressions")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("chainflow.status",
		mcp.WithDescription("Get the status of a pipeline run, including per-node states"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to query")),
	)
}

func stopTool() mcp.Tool {
	return mcp.NewTool("chainflow.stop",
		mcp.WithDescription("Request cooperative cancellation of an active run. The node in flight finishes; no later node starts."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to stop")),
	)
}

func defineTool() mcp.Tool {
	return mcp.NewTool("chainflow.define",
		mcp.WithDescription("Register a named, reusable pipeline. Optionally attach a cron schedule."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Pipeline name")),
		mcp.WithObject("graph", mcp.Required(), mcp.Description("Pipeline graph with nodes and edges")),
		mcp.WithString("description", mcp.Description("Pipeline description")),
		mcp.WithString("cron", mcp.Description("Cron expression for scheduled execution (5 fields, UTC)")),
		mcp.WithObject("inputs", mcp.Description("Input values for scheduled runs")),
	)
}

func eventsTool() mcp.Tool {
	return mcp.NewTool("chainflow.events",
		mcp.WithDescription("Read a run's event log in sequence order"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run")),
		mcp.WithString("since", mcp.Description("Return only events with sequence greater than this value")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("chainflow.diagram",
		mcp.WithDescription("Generate a visual diagram of a pipeline. Returns ASCII art, Mermaid flowchart syntax, or base64-encoded PNG image"),
		mcp.WithString("pipeline", mcp.Description("Stored pipeline name to diagram")),
		mcp.WithString("run_id", mcp.Description("Run ID to diagram (includes node status overlay)")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format: ascii (text), mermaid (flowchart syntax), or image (base64 PNG)"),
		),
	)
}
