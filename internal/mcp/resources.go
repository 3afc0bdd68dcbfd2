package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/kiko-hq/kiko/internal/model"
)

const runURIPrefix = "kiko://agent-runs/"

func (s *Server) registerResources() {
	// kiko://agent-runs/{env}/{id}: one stored run with its tool calls.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			runURIPrefix+"{env}/{id}",
			"Agent Run",
			mcplib.WithTemplateDescription("A stored agent run in the production or labeling namespace"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleAgentRun,
	)
}

func (s *Server) handleAgentRun(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	env, id, err := parseRunURI(uri)
	if err != nil {
		return nil, err
	}

	run, err := s.runs.GetRun(ctx, id, env)
	if err != nil {
		return nil, fmt.Errorf("mcp: agent run: %w", err)
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal agent run: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// parseRunURI extracts the namespace and run id from
// kiko://agent-runs/{env}/{id}.
func parseRunURI(uri string) (model.Environment, int64, error) {
	rest, ok := strings.CutPrefix(uri, runURIPrefix)
	if !ok {
		return "", 0, fmt.Errorf("mcp: invalid agent run URI: %s", uri)
	}
	rawEnv, rawID, ok := strings.Cut(rest, "/")
	if !ok || rawEnv == "" {
		return "", 0, fmt.Errorf("mcp: invalid agent run URI: %s", uri)
	}
	env, err := model.ParseEnvironment(rawEnv)
	if err != nil {
		return "", 0, fmt.Errorf("mcp: invalid agent run URI: %w", err)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, fmt.Errorf("mcp: invalid run id in URI: %s", uri)
	}
	return env, id, nil
}
