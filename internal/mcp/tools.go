package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/kiko-hq/kiko/internal/model"
	"github.com/kiko-hq/kiko/internal/storage"
)

func (s *Server) registerTools() {
	// kiko_process_email: run the email pipeline over one conversation.
	s.mcpServer.AddTool(
		mcplib.NewTool("kiko_process_email",
			mcplib.WithDescription(`Run the email pipeline over a creator conversation and store the run.

Every conversation gets metadata extraction: email tags, negotiation summary,
follow-up date and any deliverables with prices. When the last message is
inbound the pipeline also plans a reply and drafts it.

WHAT YOU GET BACK:
- agent_run: the stored run, including suggested_email_body for inbound threads
- degraded: side effects that could not be applied (production only)

Use env="labeling" to keep the run out of production tables.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithObject("conversation",
				mcplib.Description("Conversation record with id, campaign_id, creator_id, last_message_id, last_message_direction and messages"),
				mcplib.Required(),
			),
			mcplib.WithString("env",
				mcplib.Description("Storage namespace for the run"),
				mcplib.Enum(string(model.EnvProduction), string(model.EnvLabeling)),
				mcplib.DefaultString(string(model.EnvProduction)),
			),
			mcplib.WithString("batch_name",
				mcplib.Description("Optional label grouping runs of one replay batch"),
			),
		),
		s.handleProcessEmail,
	)

	// kiko_cpm_analysis: rank a campaign's creators by CPM.
	s.mcpServer.AddTool(
		mcplib.NewTool("kiko_cpm_analysis",
			mcplib.WithDescription(`Rank the creators of a campaign by cost per mille (USD per 1000 views).

Returns the ranked table and key takeaways: a cheatsheet of low, high,
median and average CPM plus top performers, solid value and caution zone.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithNumber("campaign_id",
				mcplib.Description("Parent campaign id"),
				mcplib.Required(),
				mcplib.Min(1),
			),
		),
		s.handleCPMAnalysis,
	)

	// kiko_get_agent_run: read back a stored run.
	s.mcpServer.AddTool(
		mcplib.NewTool("kiko_get_agent_run",
			mcplib.WithDescription("Read a stored agent run with its tool calls in execution order."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithNumber("id",
				mcplib.Description("Agent run id"),
				mcplib.Required(),
				mcplib.Min(1),
			),
			mcplib.WithString("env",
				mcplib.Description("Namespace the run was stored in"),
				mcplib.Enum(string(model.EnvProduction), string(model.EnvLabeling)),
				mcplib.DefaultString(string(model.EnvProduction)),
			),
		),
		s.handleGetAgentRun,
	)
}

func (s *Server) handleProcessEmail(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	raw, ok := request.GetArguments()["conversation"]
	if !ok || raw == nil {
		return errorResult("conversation is required"), nil
	}
	// Round-trip through JSON so the conversation decodes exactly as it
	// does on the HTTP route.
	data, err := json.Marshal(raw)
	if err != nil {
		return errorResult(fmt.Sprintf("invalid conversation: %v", err)), nil
	}
	var req model.ProcessEmailRequest
	if err := json.Unmarshal(data, &req.Conversation); err != nil {
		return errorResult(fmt.Sprintf("invalid conversation: %v", err)), nil
	}

	env, err := model.ParseEnvironment(request.GetString("env", ""))
	if err != nil {
		return errorResult(err.Error()), nil
	}
	req.Env = env
	if batch := request.GetString("batch_name", ""); batch != "" {
		req.BatchName = &batch
	}

	out, err := s.pipeline.ProcessEmail(ctx, req)
	if err != nil {
		s.logger.Error("mcp: process email failed", "error", err, "conversation_id", req.Conversation.ID)
		return errorResult(fmt.Sprintf("processing failed: %v", err)), nil
	}
	return jsonResult(model.AgentRunResponse{AgentRun: out.Run, Degraded: out.SideEffects.APIIssues()})
}

func (s *Server) handleCPMAnalysis(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	campaignID := int64(request.GetInt("campaign_id", 0))
	if campaignID <= 0 {
		return errorResult("campaign_id is required"), nil
	}

	out, err := s.pipeline.CPMAnalysis(ctx, campaignID)
	if err != nil {
		s.logger.Error("mcp: cpm analysis failed", "error", err, "campaign_id", campaignID)
		return errorResult(fmt.Sprintf("cpm analysis failed: %v", err)), nil
	}
	return jsonResult(out)
}

func (s *Server) handleGetAgentRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id := int64(request.GetInt("id", 0))
	if id <= 0 {
		return errorResult("id is required"), nil
	}
	env, err := model.ParseEnvironment(request.GetString("env", ""))
	if err != nil {
		return errorResult(err.Error()), nil
	}

	run, err := s.runs.GetRun(ctx, id, env)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errorResult(fmt.Sprintf("agent run %d not found in %s", id, env)), nil
		}
		return errorResult(fmt.Sprintf("get agent run failed: %v", err)), nil
	}
	return jsonResult(model.AgentRunResponse{AgentRun: run})
}
