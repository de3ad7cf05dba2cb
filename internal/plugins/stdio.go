package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

const handshakeTimeout = 10 * time.Second

// StdioConnector bridges a plugin to an external MCP server spoken to
// over stdio. Each compiled action maps to an MCP tool call.
type StdioConnector struct {
	name   string
	client *client.Client
	logger *slog.Logger
}

// StdioConfig describes how to launch an MCP plugin subprocess.
type StdioConfig struct {
	Name    string
	Command string
	Args    []string
	Env     []string
}

// NewStdioConnector launches the MCP server subprocess and performs the
// initialize handshake.
func NewStdioConnector(ctx context.Context, cfg StdioConfig, logger *slog.Logger) (*StdioConnector, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c, err := client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("start plugin %q: %w", cfg.Name, err)
	}

	hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "weft", Version: "1.0.0"}
	if _, err := c.Initialize(hsCtx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("handshake with plugin %q: %w", cfg.Name, err)
	}

	logger.Info("plugin connected", slog.String("plugin", cfg.Name), slog.String("command", cfg.Command))
	return &StdioConnector{name: cfg.Name, client: c, logger: logger}, nil
}

// Name implements Connector.
func (s *StdioConnector) Name() string { return s.name }

// Execute implements Connector by calling the MCP tool with the action
// name. Tool-level errors become failed Results; transport errors are
// returned as-is.
func (s *StdioConnector) Execute(ctx context.Context, action string, params map[string]any) (*Result, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = action
	req.Params.Arguments = params

	res, err := s.client.CallTool(ctx, req)
	if err != nil {
		return nil, err
	}

	text := contentText(res.Content)
	if res.IsError {
		return &Result{Success: false, Error: text}, nil
	}
	return &Result{Success: true, Data: text}, nil
}

// Tools lists the actions the plugin advertises.
func (s *StdioConnector) Tools(ctx context.Context) ([]string, error) {
	res, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(res.Tools))
	for _, t := range res.Tools {
		names = append(names, t.Name)
	}
	return names, nil
}

// Close terminates the subprocess.
func (s *StdioConnector) Close() error {
	return s.client.Close()
}

func contentText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
