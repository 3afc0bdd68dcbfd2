package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiko-hq/kiko/internal/model"
	"github.com/kiko-hq/kiko/internal/service/pipeline"
	"github.com/kiko-hq/kiko/internal/storage"
)

type fakePipeline struct {
	req      model.ProcessEmailRequest
	campaign int64
	run      model.AgentRun
	cpm      model.CPMAnalysis
	err      error
}

func (f *fakePipeline) ProcessEmail(_ context.Context, req model.ProcessEmailRequest) (pipeline.Outcome, error) {
	f.req = req
	return pipeline.Outcome{Run: f.run}, f.err
}

func (f *fakePipeline) CPMAnalysis(_ context.Context, id int64) (model.CPMAnalysis, error) {
	f.campaign = id
	return f.cpm, f.err
}

type fakeRuns map[model.Environment]map[int64]model.AgentRun

func (f fakeRuns) GetRun(_ context.Context, id int64, env model.Environment) (model.AgentRun, error) {
	run, ok := f[env][id]
	if !ok {
		return model.AgentRun{}, fmt.Errorf("get run: %w", storage.ErrNotFound)
	}
	return run, nil
}

func newTestServer(p *fakePipeline, runs fakeRuns) *Server {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(p, runs, logger, "test")
}

func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content in result")
	return ""
}

func TestRegisteredTools(t *testing.T) {
	srv := newTestServer(&fakePipeline{}, nil)
	tools := srv.MCPServer().ListTools()
	for _, name := range []string{"kiko_process_email", "kiko_cpm_analysis", "kiko_get_agent_run"} {
		assert.Contains(t, tools, name)
	}
	assert.Len(t, tools, 3)
}

func TestHandleProcessEmail(t *testing.T) {
	fp := &fakePipeline{run: model.AgentRun{ID: 4, MessageID: 55}}
	srv := newTestServer(fp, nil)

	result, err := srv.handleProcessEmail(context.Background(), toolRequest("kiko_process_email", map[string]any{
		"conversation": map[string]any{
			"id":                     9,
			"creator_id":             4,
			"last_message_id":        55,
			"last_message_direction": "inbound",
			"messages":               []any{map[string]any{"id": 55, "body": "rates?"}},
		},
		"env":        "labeling",
		"batch_name": "replay-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	var out model.AgentRunResponse
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &out))
	assert.Equal(t, int64(4), out.AgentRun.ID)

	assert.Equal(t, int64(9), fp.req.Conversation.ID)
	assert.Equal(t, int64(55), fp.req.Conversation.LastMessage())
	require.Len(t, fp.req.Conversation.Messages, 1)
	assert.Equal(t, "rates?", fp.req.Conversation.Messages[0].Body)
	assert.Equal(t, model.EnvLabeling, fp.req.Env)
	require.NotNil(t, fp.req.BatchName)
	assert.Equal(t, "replay-1", *fp.req.BatchName)
}

func TestHandleProcessEmail_Errors(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		pipeErr error
		want    string
	}{
		{"missing conversation", map[string]any{}, nil, "conversation is required"},
		{"conversation not an object", map[string]any{"conversation": "hi"}, nil, "invalid conversation"},
		{"unknown env", map[string]any{"conversation": map[string]any{"id": 1}, "env": "staging"}, nil, "staging"},
		{"pipeline failure", map[string]any{"conversation": map[string]any{"id": 1}}, errors.New("model unavailable"), "processing failed: model unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&fakePipeline{err: tt.pipeErr}, nil)
			result, err := srv.handleProcessEmail(context.Background(), toolRequest("kiko_process_email", tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, parseToolText(t, result), tt.want)
		})
	}
}

func TestHandleCPMAnalysis(t *testing.T) {
	fp := &fakePipeline{cpm: model.CPMAnalysis{Table: []model.CPMTableEntry{{Rank: 1, Handle: "a", CPMUSD: 2.5}}}}
	srv := newTestServer(fp, nil)

	result, err := srv.handleCPMAnalysis(context.Background(), toolRequest("kiko_cpm_analysis", map[string]any{"campaign_id": float64(12)}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, int64(12), fp.campaign)

	var out model.CPMAnalysis
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &out))
	require.Len(t, out.Table, 1)
	assert.Equal(t, "a", out.Table[0].Handle)

	result, err = srv.handleCPMAnalysis(context.Background(), toolRequest("kiko_cpm_analysis", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleGetAgentRun(t *testing.T) {
	runs := fakeRuns{model.EnvLabeling: {7: {ID: 7, MessageID: 70}}}
	srv := newTestServer(&fakePipeline{}, runs)

	result, err := srv.handleGetAgentRun(context.Background(), toolRequest("kiko_get_agent_run", map[string]any{
		"id": float64(7), "env": "labeling",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	var out model.AgentRunResponse
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &out))
	assert.Equal(t, int64(70), out.AgentRun.MessageID)

	// Same id in the production namespace does not exist.
	result, err = srv.handleGetAgentRun(context.Background(), toolRequest("kiko_get_agent_run", map[string]any{"id": float64(7)}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "not found in production")
}
