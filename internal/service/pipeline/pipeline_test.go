package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiko-hq/kiko/internal/agent"
	"github.com/kiko-hq/kiko/internal/model"
	"github.com/kiko-hq/kiko/internal/prompts"
	"github.com/kiko-hq/kiko/internal/service/persistence"
	"github.com/kiko-hq/kiko/internal/service/pipeline"
	"github.com/kiko-hq/kiko/internal/storage"
	"github.com/kiko-hq/kiko/internal/testutil"
	"github.com/kiko-hq/kiko/internal/tools"
)

const promptFile = `
email_metadata: METADATA
email_planner: PLANNING
email_execution: EXECUTION
action_agent: ACTION
Audience_Sketch: AUDIENCE
FindRates_Mock_Response: "Rates for {{LEAD_ID}}"
DraftWriting_Mock_Response: "Draft following {{PLAN}}"
`

const toolModel = "tool-model"

func ptr[T any](v T) *T { return &v }

// scriptedModel answers each stage from its own script, keyed by the stage
// instructions. The last response of a script repeats once the script runs
// out. Tool completions (no system message) get a fixed JSON reply.
type scriptedModel struct {
	mu       sync.Mutex
	scripts  map[string][]openai.ChatCompletionResponse
	requests map[string][]openai.ChatCompletionRequest
}

func newScriptedModel() *scriptedModel {
	return &scriptedModel{
		scripts:  map[string][]openai.ChatCompletionResponse{},
		requests: map[string][]openai.ChatCompletionRequest{},
	}
}

func (m *scriptedModel) on(instructions string, responses ...openai.ChatCompletionResponse) *scriptedModel {
	m.scripts[instructions] = responses
	return m
}

func (m *scriptedModel) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := toolModel
	if req.Messages[0].Role == openai.ChatMessageRoleSystem {
		key = req.Messages[0].Content
	}
	m.requests[key] = append(m.requests[key], req)
	if key == toolModel {
		return final(`{"ok": true}`), nil
	}

	script := m.scripts[key]
	if len(script) == 0 {
		return openai.ChatCompletionResponse{}, fmt.Errorf("no script for %q", key)
	}
	resp := script[0]
	if len(script) > 1 {
		m.scripts[key] = script[1:]
	}
	return resp, nil
}

func (m *scriptedModel) calls(key string) []openai.ChatCompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[key]
}

func final(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{
		Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
	}}}
}

func toolCalls(calls ...openai.ToolCall) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{
		Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, ToolCalls: calls},
	}}}
}

func call(id, name, args string) openai.ToolCall {
	return openai.ToolCall{ID: id, Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: name, Arguments: args}}
}

// memStore is an in-memory persistence.Store.
type memStore struct {
	mu       sync.Mutex
	runs     map[string][]model.AgentRun
	patches  []model.MessageMetadataPatch
	upserts  []model.Deliverable
	runErr   error
	childErr error
}

func newMemStore() *memStore { return &memStore{runs: map[string][]model.AgentRun{}} }

func (s *memStore) InsertAgentRun(_ context.Context, schema string, run model.AgentRun) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runErr != nil {
		return 0, s.runErr
	}
	s.runs[schema] = append(s.runs[schema], run)
	return int64(100 + len(s.runs[schema])), nil
}

func (s *memStore) InsertToolCalls(context.Context, string, int64, []model.ToolInvocation) error {
	return s.childErr
}

func (s *memStore) GetAgentRun(context.Context, string, int64) (model.AgentRun, error) {
	return model.AgentRun{}, storage.ErrNotFound
}

func (s *memStore) UpdateMessageMetadata(_ context.Context, p model.MessageMetadataPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patches = append(s.patches, p)
	return nil
}

func (s *memStore) UpsertDeliverable(_ context.Context, d model.Deliverable) (storage.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, d)
	return storage.UpsertResult{ID: int64(len(s.upserts)), Inserted: true}, nil
}

func (s *memStore) UpsertDeliverableLocked(ctx context.Context, d model.Deliverable, _ storage.RetryPolicy) (storage.UpsertResult, error) {
	return s.UpsertDeliverable(ctx, d)
}

func (s *memStore) stored() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, runs := range s.runs {
		n += len(runs)
	}
	return n
}

// noData is a tools.Store with no rows.
type noData struct{}

func (noData) GetCampaign(context.Context, int64) (model.Campaign, error) {
	return model.Campaign{}, storage.ErrNotFound
}

func (noData) ConversationStages(context.Context, int64) ([]model.ConversationStage, error) {
	return nil, nil
}

func (noData) CreatorMainPlatform(context.Context, int64) (map[string]any, error) {
	return nil, storage.ErrNotFound
}

func (noData) ConversationMessages(context.Context, int64) ([]model.Message, error) {
	return nil, storage.ErrNotFound
}

type fakeAnalytics struct {
	details string
	cpm     model.CPMAnalysis
	err     error
}

func (f fakeAnalytics) CreatorDetailsJSON(context.Context, int64, int) (string, error) {
	return f.details, f.err
}

func (f fakeAnalytics) CPMAnalysis(context.Context, int64) (model.CPMAnalysis, error) {
	return f.cpm, f.err
}

type harness struct {
	ctrl  *pipeline.Controller
	model *scriptedModel
	store *memStore
}

func newHarness(t *testing.T, llm *scriptedModel, an pipeline.Analytics) harness {
	t.Helper()
	logger := testutil.TestLogger()
	provider, err := prompts.ParseFile([]byte(promptFile))
	require.NoError(t, err)

	store := newMemStore()
	ctrl, err := pipeline.New(pipeline.Deps{
		Runner: agent.NewRunner(agent.RunnerConfig{Client: llm, Logger: logger}),
		Tools: tools.NewRegistry(tools.Deps{
			Store: noData{}, Prompts: provider, Client: llm, ToolModel: toolModel, Logger: logger,
		}),
		Prompts:   provider,
		Persister: persistence.New(store, logger, persistence.Options{}),
		Analytics: an,
		Config: pipeline.Config{
			Models: pipeline.Models{
				Metadata: "metadata-model", Planning: "planning-model", Execution: "execution-model",
				Action: "action-model", Audience: "audience-model",
			},
			MaxSteps:             20,
			DefaultMaxSteps:      10,
			ExecutionTemperature: 0.5,
		},
		Logger: logger,
	})
	require.NoError(t, err)
	return harness{ctrl: ctrl, model: llm, store: store}
}

const metadataJSON = `{
	"message_metadata": {
		"message_id": 42,
		"email_stage": "negotiation",
		"email_tags": ["question"],
		"email_negotiation_summary": "Creator asked about rates",
		"email_follow_up_needed": true,
		"email_follow_up_date": "2025-07-01"
	},
	"deliverables": [
		{"name": "Reel", "creator_id": 7, "media_type": "reel", "platform": "instagram", "price": 500, "currency": "USD", "unit": "per_post"}
	]
}`

const executionJSON = `{"reasoning": "Rates found", "most_recent_message": "What is the budget?", "email_body": "Hi Ana, thanks for asking."}`

func conversation(direction string) model.Conversation {
	return model.Conversation{
		ID:                   3,
		CreatorID:            ptr(int64(7)),
		LastMessageID:        ptr(int64(42)),
		LastMessageDirection: ptr(direction),
		Messages: []model.Message{
			{ID: 42, Body: "What is the budget?", Sender: "ana@example.com", Direction: ptr(direction)},
		},
	}
}

func TestProcessEmail_Inbound(t *testing.T) {
	llm := newScriptedModel().
		on("METADATA", final(metadataJSON)).
		on("PLANNING", final(`{"plan": "Look up rates, then draft a reply."}`)).
		on("EXECUTION",
			toolCalls(call("call_rates", tools.FindRates, `{"creator_email": "ana@example.com", "creator_name": "Ana"}`)),
			toolCalls(call("call_draft", tools.DraftWriting, `{"email_thread": "...", "campaign_id": 9, "fit_score": 4}`)),
			final(executionJSON),
		)
	h := newHarness(t, llm, nil)

	conv := conversation("inbound")
	out, err := h.ctrl.ProcessEmail(context.Background(), model.ProcessEmailRequest{
		Conversation: conv,
		BatchName:    ptr("june"),
	})
	require.NoError(t, err)

	run := out.Run
	assert.Equal(t, int64(101), run.ID)
	assert.Equal(t, int64(42), run.MessageID)
	assert.Equal(t, "june", *run.BatchName)
	require.NotNil(t, run.MetadataOutput)
	require.NotNil(t, run.PlanningOutput)
	require.NotNil(t, run.ExecutionOutput)
	assert.Nil(t, run.ActionOutput)
	assert.Equal(t, "Hi Ana, thanks for asking.", *run.SuggestedEmailBody)
	require.NotNil(t, run.ProcessingTimeMs)

	require.Len(t, run.ToolCalls, 2)
	assert.Equal(t, tools.FindRates, run.ToolCalls[0].ToolName)
	assert.Equal(t, "call_rates", run.ToolCalls[0].CallID)
	assert.Equal(t, 1, run.ToolCalls[0].ExecutionOrder)
	assert.Equal(t, "Ana", run.ToolCalls[0].Arguments.Fields()["creator_name"])
	assert.Equal(t, true, run.ToolCalls[0].Output.Fields()["ok"])
	assert.Equal(t, tools.DraftWriting, run.ToolCalls[1].ToolName)
	assert.Equal(t, 2, run.ToolCalls[1].ExecutionOrder)

	// The execution stage sees the plan and the thread.
	input, err := conv.JSON()
	require.NoError(t, err)
	exec := h.model.calls("EXECUTION")
	require.Len(t, exec, 3)
	assert.Equal(t, "I need you to execute the following plan for responding to this email thread:\n"+
		"Look up rates, then draft a reply.\nEmail Thread:\n"+input+
		"\nPlease follow the plan step by step and generate an appropriate response.", exec[0].Messages[1].Content)
	assert.Equal(t, "execution-model", exec[0].Model)
	assert.Equal(t, float32(0.5), exec[0].Temperature)
	assert.Equal(t, "required", exec[0].ToolChoice)
	assert.Equal(t, "auto", exec[1].ToolChoice)
	assert.Equal(t, input, h.model.calls("PLANNING")[0].Messages[1].Content)
	assert.Len(t, h.model.calls(toolModel), 2)

	// Production side effects.
	require.Len(t, h.store.patches, 1)
	assert.Equal(t, int64(42), h.store.patches[0].MessageID)
	assert.Equal(t, "2025-07-01", *h.store.patches[0].FollowUpDate)
	require.Len(t, h.store.upserts, 1)
	assert.Equal(t, int64(7), h.store.upserts[0].CreatorID)
	assert.Equal(t, 1, out.SideEffects.DeliverablesCreated)
	assert.False(t, out.SideEffects.Degraded())
	assert.Len(t, h.store.runs["public"], 1)
}

func TestProcessEmail_OutboundIsMetadataOnly(t *testing.T) {
	llm := newScriptedModel().on("METADATA", final(metadataJSON))
	h := newHarness(t, llm, nil)

	out, err := h.ctrl.ProcessEmail(context.Background(), model.ProcessEmailRequest{
		Conversation: conversation("outbound"),
	})
	require.NoError(t, err)

	assert.NotNil(t, out.Run.MetadataOutput)
	assert.Nil(t, out.Run.PlanningOutput)
	assert.Nil(t, out.Run.ExecutionOutput)
	assert.Nil(t, out.Run.SuggestedEmailBody)
	assert.NotNil(t, out.Run.ToolCalls)
	assert.Empty(t, out.Run.ToolCalls)
	assert.Empty(t, llm.calls("PLANNING"))
	assert.Empty(t, llm.calls("EXECUTION"))
	assert.Equal(t, 1, h.store.stored())
}

func TestProcessEmail_LabelingSkipsSideEffects(t *testing.T) {
	llm := newScriptedModel().on("METADATA", final(metadataJSON))
	h := newHarness(t, llm, nil)

	out, err := h.ctrl.ProcessEmail(context.Background(), model.ProcessEmailRequest{
		Conversation: conversation("outbound"),
		Env:          model.EnvLabeling,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(101), out.Run.ID)
	assert.Len(t, h.store.runs["labeling"], 1)
	assert.Empty(t, h.store.runs["public"])
	assert.Empty(t, h.store.patches)
	assert.Empty(t, h.store.upserts)
}

func TestProcessEmail_StepBudgetExhausted(t *testing.T) {
	loop := toolCalls(call("call_loop", tools.FindRates, `{}`))
	llm := newScriptedModel().
		on("METADATA", final(metadataJSON)).
		on("PLANNING", final(`{"plan": "Keep looking."}`)).
		on("EXECUTION", loop)
	h := newHarness(t, llm, nil)

	_, err := h.ctrl.ProcessEmail(context.Background(), model.ProcessEmailRequest{
		Conversation: conversation("inbound"),
	})

	var stageErr *agent.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, agent.StepBudgetExceeded, stageErr.Kind)
	assert.Equal(t, model.StageExecution, stageErr.Stage)
	assert.Equal(t, 20, stageErr.Steps)
	assert.ErrorIs(t, err, agent.ErrStepBudgetExceeded)
	assert.Len(t, llm.calls("EXECUTION"), 20)

	assert.Zero(t, h.store.stored())
	assert.Empty(t, h.store.patches)
}

func TestProcessEmail_StageFailureStoresNothing(t *testing.T) {
	refusal := openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{
		Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Refusal: "no"},
	}}}
	cases := []struct {
		name  string
		model *scriptedModel
		stage model.StageKind
		kind  agent.FailureKind
	}{
		{"metadata schema violation", newScriptedModel().on("METADATA", final(`{"plan": 1}`)),
			model.StageMetadata, agent.SchemaViolation},
		{"planning refusal", newScriptedModel().on("METADATA", final(metadataJSON)).on("PLANNING", refusal),
			model.StagePlanning, agent.ModelFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.model, nil)
			_, err := h.ctrl.ProcessEmail(context.Background(), model.ProcessEmailRequest{
				Conversation: conversation("inbound"),
			})
			var stageErr *agent.StageError
			require.ErrorAs(t, err, &stageErr)
			assert.Equal(t, tc.stage, stageErr.Stage)
			assert.Equal(t, tc.kind, stageErr.Kind)
			assert.Zero(t, h.store.stored())
			assert.Empty(t, h.store.patches)
		})
	}
}

func TestProcessEmail_ToolCallWriteFailureIsDegraded(t *testing.T) {
	llm := newScriptedModel().on("METADATA", final(metadataJSON))
	h := newHarness(t, llm, nil)
	h.store.childErr = errors.New("copy failed")

	out, err := h.ctrl.ProcessEmail(context.Background(), model.ProcessEmailRequest{
		Conversation: conversation("outbound"),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(101), out.Run.ID)
	require.True(t, out.SideEffects.Degraded())
	last := out.SideEffects.Issues[len(out.SideEffects.Issues)-1]
	assert.Equal(t, persistence.TargetToolCalls, last.Target)
	assert.Equal(t, "101", last.Key)
	assert.EqualError(t, last.Err, "copy failed")
	assert.Len(t, h.store.runs["public"], 1)
}

func TestProcessEmail_RunWriteFailureFails(t *testing.T) {
	llm := newScriptedModel().on("METADATA", final(metadataJSON))
	h := newHarness(t, llm, nil)
	h.store.runErr = errors.New("connection reset")

	out, err := h.ctrl.ProcessEmail(context.Background(), model.ProcessEmailRequest{
		Conversation: conversation("outbound"),
	})
	require.ErrorContains(t, err, "connection reset")
	assert.Zero(t, out.Run.ID)
}

func TestPerformAction_ToolCallWriteFailureIsDegraded(t *testing.T) {
	llm := newScriptedModel().on("ACTION",
		final(`{"last_message_id": 77, "action": "email_response", "reasoning": "Follow up", "email_body": "Checking in."}`),
	)
	h := newHarness(t, llm, nil)
	h.store.childErr = errors.New("copy failed")

	out, err := h.ctrl.PerformAction(context.Background(), model.ActionRequest{Instructions: "Follow up"})
	require.NoError(t, err)
	assert.Equal(t, int64(101), out.Run.ID)
	require.Len(t, out.SideEffects.Issues, 1)
	assert.Equal(t, persistence.TargetToolCalls, out.SideEffects.Issues[0].Target)
}

func TestProcessEmail_MissingPrompt(t *testing.T) {
	h := newHarness(t, newScriptedModel(), nil)
	provider, err := prompts.ParseFile([]byte("email_planner: PLANNING\n"))
	require.NoError(t, err)
	ctrl, err := pipeline.New(pipeline.Deps{
		Runner:    agent.NewRunner(agent.RunnerConfig{Client: h.model}),
		Tools:     tools.NewRegistry(tools.Deps{Store: noData{}}),
		Prompts:   provider,
		Persister: persistence.New(h.store, testutil.TestLogger(), persistence.Options{}),
		Logger:    testutil.TestLogger(),
	})
	require.NoError(t, err)

	_, err = ctrl.ProcessEmail(context.Background(), model.ProcessEmailRequest{Conversation: conversation("inbound")})
	assert.ErrorIs(t, err, prompts.ErrNotFound)
	assert.Zero(t, h.store.stored())
}

func TestPerformAction(t *testing.T) {
	llm := newScriptedModel().on("ACTION",
		toolCalls(call("call_thread", tools.GetEmailThreadByID, `{"conversation_id": 3}`)),
		final(`{"last_message_id": 77, "action": "email_response", "reasoning": "Follow up", "email_body": "Checking in."}`),
	)
	h := newHarness(t, llm, nil)

	out, err := h.ctrl.PerformAction(context.Background(), model.ActionRequest{
		ConversationID: ptr(int64(3)),
		Instructions:   "Follow up politely",
	})
	require.NoError(t, err)

	run := out.Run
	assert.Equal(t, int64(77), run.MessageID)
	require.NotNil(t, run.ActionOutput)
	assert.Nil(t, run.MetadataOutput)
	assert.Equal(t, "Checking in.", *run.SuggestedEmailBody)
	require.Len(t, run.ToolCalls, 1)
	assert.Equal(t, tools.GetEmailThreadByID, run.ToolCalls[0].ToolName)
	assert.Equal(t, 1, run.ToolCalls[0].ExecutionOrder)
	assert.Contains(t, run.Input, `"instructions": "Follow up politely"`)

	reqs := llm.calls("ACTION")
	assert.Equal(t, "action-model", reqs[0].Model)
	assert.Equal(t, "required", reqs[0].ToolChoice)
	assert.Len(t, h.store.runs["public"], 1)
	assert.Empty(t, h.store.patches)
}

func TestAudienceAnalysis(t *testing.T) {
	llm := newScriptedModel().on("AUDIENCE", final(`{
		"title": "Fitness creators",
		"macro_persona": "Young professionals",
		"micro_segments": [{"segment": "Runners", "views_pool_share_percent": 60, "core_interests": ["running"], "creator_ids": [1]}],
		"network_cheatsheet": {
			"views_pool_share_ranked": [{"segment": "Runners", "share_percent": 60}],
			"rate_bands": "$100-500",
			"network_breakdown": {"instagram_only": 1, "cross_post_bundles": 0, "tiktok_only": 0, "youtube_only": 0}
		}
	}`))
	h := newHarness(t, llm, fakeAnalytics{details: `[{"core_information": {"id": 1}}]`})

	out, err := h.ctrl.AudienceAnalysis(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, "Fitness creators", out.Title)
	require.Len(t, out.MicroSegments, 1)
	assert.Equal(t, []int64{1}, out.MicroSegments[0].CreatorIDs)

	reqs := llm.calls("AUDIENCE")
	assert.Equal(t, `[{"core_information": {"id": 1}}]`, reqs[0].Messages[1].Content)
	assert.Zero(t, h.store.stored())
}

func TestAudienceAnalysis_DetailsError(t *testing.T) {
	boom := errors.New("boom")
	h := newHarness(t, newScriptedModel(), fakeAnalytics{err: boom})
	_, err := h.ctrl.AudienceAnalysis(context.Background(), 9)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, h.model.calls("AUDIENCE"))
}

func TestCPMAnalysis(t *testing.T) {
	want := model.CPMAnalysis{Table: []model.CPMTableEntry{{Rank: 1, Handle: "ana", CPMUSD: 4}}}
	h := newHarness(t, newScriptedModel(), fakeAnalytics{cpm: want})

	got, err := h.ctrl.CPMAnalysis(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	h = newHarness(t, newScriptedModel(), fakeAnalytics{err: errors.New("db down")})
	_, err = h.ctrl.CPMAnalysis(context.Background(), 9)
	assert.Error(t, err)
}
