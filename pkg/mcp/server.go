// Package mcp exposes weft over the Model Context Protocol: agents
// compile automation plans into workflows, run them, and inspect runs
// through a small tool surface on stdio.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/weftlabs/weft/internal/compiler"
	"github.com/weftlabs/weft/internal/scheduler"
	"github.com/weftlabs/weft/internal/store"
	"github.com/weftlabs/weft/pkg/schema"
)

// Runner executes a compiled workflow synchronously and returns the
// settled run. Satisfied by the server's run launcher.
type Runner interface {
	Run(ctx context.Context, wf *schema.Workflow, inputs map[string]any) (*schema.Run, error)
}

// WeftServerDeps holds the dependencies for creating a WeftServer.
type WeftServerDeps struct {
	Store     store.Store
	Compiler  *compiler.Compiler
	Runner    Runner
	Scheduler *scheduler.Scheduler
	Logger    *slog.Logger
}

// WeftServer wraps an MCP server with weft-specific tool handlers.
type WeftServer struct {
	store     store.Store
	compiler  *compiler.Compiler
	runner    Runner
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewWeftServer creates a WeftServer with all tools registered.
func NewWeftServer(deps WeftServerDeps) *WeftServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &WeftServer{
		store:     deps.Store,
		compiler:  deps.Compiler,
		runner:    deps.Runner,
		scheduler: deps.Scheduler,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"weft",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Weft turns natural-language automation plans into executable workflows. Use weft.compile to turn a plan IR into a stored workflow, weft.run to execute one, weft.status to inspect a run, weft.query to list workflows/runs/events, weft.schedule to manage cron schedules, and weft.diagram to visualize a workflow."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes.
func (s *WeftServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom
// transports.
func (s *WeftServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *WeftServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: compileTool(), Handler: s.handleCompile},
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: scheduleTool(), Handler: s.handleSchedule},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func compileTool() mcp.Tool {
	return mcp.NewTool("weft.compile",
		mcp.WithDescription("Compile an automation plan IR into an executable workflow. Returns the compiled step graph, diagnostics, and a confidence score"),
		mcp.WithObject("ir", mcp.Required(), mcp.Description("The automation IR object (intents, data sources, transforms, delivery rules)")),
		mcp.WithString("save", mcp.Description("Store the compiled workflow for later runs (default: true)")),
	)
}

func runTool() mcp.Tool {
	return mcp.NewTool("weft.run",
		mcp.WithDescription("Execute a stored workflow and wait for the run to settle"),
		mcp.WithString("workflow", mcp.Required(), mcp.Description("Name of the stored workflow to execute")),
		mcp.WithObject("inputs", mcp.Description("Run input parameters")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("weft.status",
		mcp.WithDescription("Get a run's status, per-step states, and output"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to inspect")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("weft.query",
		mcp.WithDescription("Query stored workflows, runs, or audit events"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("workflows", "runs", "events"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (workflow, status, event_type, run_id, since, limit, name_prefix)")),
	)
}

func scheduleTool() mcp.Tool {
	return mcp.NewTool("weft.schedule",
		mcp.WithDescription("Manage cron schedules for stored workflows"),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("create", "list", "enable", "disable", "delete"),
			mcp.Description("Schedule operation"),
		),
		mcp.WithString("schedule_id", mcp.Description("Schedule ID (required for enable, disable, delete)")),
		mcp.WithString("workflow", mcp.Description("Workflow name (required for create)")),
		mcp.WithString("cron", mcp.Description("Cron expression, five fields (required for create)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("weft.diagram",
		mcp.WithDescription("Render a workflow's step graph as ASCII art or Mermaid flowchart syntax, optionally overlaying a run's step states"),
		mcp.WithString("workflow", mcp.Required(), mcp.Description("Name of the stored workflow to diagram")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid"),
			mcp.Description("Output format"),
		),
		mcp.WithString("run_id", mcp.Description("Overlay step statuses from this run")),
	)
}
