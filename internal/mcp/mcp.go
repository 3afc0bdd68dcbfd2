// Package mcp implements the Model Context Protocol server for Kiko.
//
// The MCP server exposes the pipeline, the CPM analysis and the audit
// read-back as MCP tools, and stored runs as resources, so MCP clients can
// drive the same workflows as the HTTP API.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kiko-hq/kiko/internal/model"
	"github.com/kiko-hq/kiko/internal/service/pipeline"
)

// Pipeline is the subset of the pipeline controller the tools call.
type Pipeline interface {
	ProcessEmail(ctx context.Context, req model.ProcessEmailRequest) (pipeline.Outcome, error)
	CPMAnalysis(ctx context.Context, campaignID int64) (model.CPMAnalysis, error)
}

// RunReader reads stored agent runs.
type RunReader interface {
	GetRun(ctx context.Context, id int64, env model.Environment) (model.AgentRun, error)
}

// Server wraps the MCP server with Kiko's service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	pipeline  Pipeline
	runs      RunReader
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(p Pipeline, runs RunReader, logger *slog.Logger, version string) *Server {
	s := &Server{
		pipeline: p,
		runs:     runs,
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"kiko",
		version,
		mcpserver.WithResourceCapabilities(false, false),
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithInstructions(serverInstructions),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

const serverInstructions = `Kiko drafts replies to creator outreach email threads.

Use kiko_process_email with a full conversation record to extract metadata
(tags, deliverables, rates) and, for inbound messages, plan and draft a reply.
Use kiko_cpm_analysis to rank a campaign's creators by cost per mille.
Use kiko_get_agent_run to read back a stored run with its tool calls.`

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("failed to encode result: " + err.Error()), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
