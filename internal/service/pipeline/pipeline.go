// Package pipeline sequences the agent stages for each entry point of the
// service and hands finished runs to persistence.
//
// The email path runs metadata extraction for every conversation and, when
// the last message is inbound, planning and execution after it. The action
// path runs the action stage alone. Any stage failure fails the request and
// nothing is persisted.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kiko-hq/kiko/internal/agent"
	"github.com/kiko-hq/kiko/internal/model"
	"github.com/kiko-hq/kiko/internal/prompts"
	"github.com/kiko-hq/kiko/internal/service/persistence"
	"github.com/kiko-hq/kiko/internal/service/runrecord"
	"github.com/kiko-hq/kiko/internal/telemetry"
	"github.com/kiko-hq/kiko/internal/tools"
)

// executionInput is the user message of the execution stage.
const executionInput = "I need you to execute the following plan for responding to this email thread:\n%s\n" +
	"Email Thread:\n%s\n" +
	"Please follow the plan step by step and generate an appropriate response."

// StageRunner runs one stage. *agent.Runner satisfies it.
type StageRunner interface {
	Run(ctx context.Context, cfg agent.StageConfig, input string, maxSteps int, out any) (*agent.Result, error)
}

// Persister stores runs and applies their side effects.
// *persistence.Gateway satisfies it.
type Persister interface {
	PersistRun(ctx context.Context, run model.AgentRun, env model.Environment) (int64, error)
	ApplyMetadataSideEffects(ctx context.Context, meta *model.MetadataOutput) persistence.SideEffectReport
}

// Analytics provides the campaign views. *analytics.Service satisfies it.
type Analytics interface {
	CreatorDetailsJSON(ctx context.Context, campaignID int64, limit int) (string, error)
	CPMAnalysis(ctx context.Context, campaignID int64) (model.CPMAnalysis, error)
}

// Models names the chat model of each stage.
type Models struct {
	Metadata  string
	Planning  string
	Execution string
	Action    string
	Audience  string
}

// Config holds the stage settings.
type Config struct {
	Models               Models
	MaxSteps             int // Execution, action and audience stages.
	DefaultMaxSteps      int // Metadata and planning stages.
	ExecutionTemperature float32
}

// Deps holds the controller's collaborators.
type Deps struct {
	Runner    StageRunner
	Tools     *tools.Registry
	Prompts   prompts.Provider
	Persister Persister
	Analytics Analytics
	Config    Config
	Logger    *slog.Logger
}

// Controller runs the pipelines. It holds no per-request state.
type Controller struct {
	runner    StageRunner
	prompts   prompts.Provider
	persister Persister
	analytics Analytics
	stages    stages
	logger    *slog.Logger
	tracer    trace.Tracer
}

// New creates a Controller. It fails when a stage names a tool the registry
// does not have.
func New(deps Deps) (*Controller, error) {
	if deps.Config.MaxSteps <= 0 {
		deps.Config.MaxSteps = agent.DefaultMaxSteps
	}
	if deps.Config.DefaultMaxSteps <= 0 {
		deps.Config.DefaultMaxSteps = agent.DefaultMaxSteps
	}
	st, err := newStages(deps.Config, deps.Tools)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		runner:    deps.Runner,
		prompts:   deps.Prompts,
		persister: deps.Persister,
		analytics: deps.Analytics,
		stages:    st,
		logger:    logger,
		tracer:    telemetry.Tracer("kiko/pipeline"),
	}, nil
}

// Outcome is a processed and stored run.
type Outcome struct {
	Run         model.AgentRun
	SideEffects persistence.SideEffectReport
}

// ProcessEmail runs the email pipeline over a conversation and stores the
// run in the namespace of req.Env. When the run row is written but its tool
// calls are not, the outcome carries a degraded tool_calls issue and no error
// is returned.
func (c *Controller) ProcessEmail(ctx context.Context, req model.ProcessEmailRequest) (Outcome, error) {
	ctx, span := c.tracer.Start(ctx, SpanEmailProcessing)
	defer span.End()
	start := time.Now()

	env := req.Env
	if env == "" {
		env = model.EnvProduction
	}
	conv := req.Conversation
	// Direction is read once; later stages never re-check it.
	inbound := conv.LastDirection() == model.DirectionInbound
	span.SetAttributes(
		attribute.Int64("kiko.conversation_id", conv.ID),
		attribute.Int64("kiko.message_id", conv.LastMessage()),
		attribute.Bool("kiko.inbound", inbound),
		attribute.String("kiko.env", string(env)),
	)

	input, err := conv.JSON()
	if err != nil {
		return Outcome{}, fail(span, fmt.Errorf("pipeline: encode conversation: %w", err))
	}

	// 1. Metadata for every conversation.
	metadata := new(model.MetadataOutput)
	if _, err := c.run(ctx, c.stages.metadata, input, metadata); err != nil {
		return Outcome{}, fail(span, err)
	}

	// 2. Planning and execution for inbound messages only.
	var (
		planning        *model.PlanningOutput
		execution       *model.ExecutionOutput
		executionEvents []agent.RunEvent
	)
	if inbound {
		planning = new(model.PlanningOutput)
		if _, err := c.run(ctx, c.stages.planning, input, planning); err != nil {
			return Outcome{}, fail(span, err)
		}
		execution = new(model.ExecutionOutput)
		res, err := c.run(ctx, c.stages.execution, fmt.Sprintf(executionInput, planning.Plan, input), execution)
		if err != nil {
			return Outcome{}, fail(span, err)
		}
		executionEvents = res.Events
	} else {
		c.logger.Info("pipeline: outbound message, metadata only", "message_id", conv.LastMessage())
	}

	// 3. Audit record.
	run := runrecord.Build(runrecord.BuildInput{
		Input:           input,
		MessageID:       conv.LastMessage(),
		BatchName:       req.BatchName,
		Metadata:        metadata,
		Planning:        planning,
		Execution:       execution,
		ExecutionEvents: executionEvents,
		TraceID:         telemetry.TraceID(ctx),
		ProcessingTime:  time.Since(start),
	})

	// 4. Side effects, production only.
	var out Outcome
	if env == model.EnvProduction {
		out.SideEffects = c.persister.ApplyMetadataSideEffects(ctx, metadata)
		if out.SideEffects.Degraded() {
			span.SetAttributes(attribute.Int("kiko.side_effects.degraded", len(out.SideEffects.Issues)))
		}
	}

	// 5. Store.
	if err := c.persist(ctx, span, run, env, &out); err != nil {
		return Outcome{}, err
	}
	return out, nil
}

// PerformAction runs the action stage over an action request and stores the
// run in the production namespace.
func (c *Controller) PerformAction(ctx context.Context, req model.ActionRequest) (Outcome, error) {
	ctx, span := c.tracer.Start(ctx, SpanAction)
	defer span.End()
	start := time.Now()

	b, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return Outcome{}, fail(span, fmt.Errorf("pipeline: encode action request: %w", err))
	}
	input := string(b)

	action := new(model.ActionOutput)
	res, err := c.run(ctx, c.stages.action, input, action)
	if err != nil {
		return Outcome{}, fail(span, err)
	}
	span.SetAttributes(attribute.Int64("kiko.message_id", action.LastMessageID))

	run := runrecord.Build(runrecord.BuildInput{
		Input:          input,
		MessageID:      action.LastMessageID,
		Action:         action,
		ActionEvents:   res.Events,
		TraceID:        telemetry.TraceID(ctx),
		ProcessingTime: time.Since(start),
	})
	var out Outcome
	if err := c.persist(ctx, span, run, model.EnvProduction, &out); err != nil {
		return Outcome{}, err
	}
	return out, nil
}

// AudienceAnalysis runs the audience stage over the creator details of a
// campaign. The result is returned to the caller and not stored.
func (c *Controller) AudienceAnalysis(ctx context.Context, campaignID int64) (*model.AudienceAnalysisOutput, error) {
	ctx, span := c.tracer.Start(ctx, SpanAudienceAnalysis, trace.WithAttributes(
		attribute.Int64("kiko.campaign_id", campaignID),
	))
	defer span.End()

	details, err := c.analytics.CreatorDetailsJSON(ctx, campaignID, 0)
	if err != nil {
		return nil, fail(span, fmt.Errorf("pipeline: creator details: %w", err))
	}
	out := new(model.AudienceAnalysisOutput)
	if _, err := c.run(ctx, c.stages.audience, details, out); err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

// CPMAnalysis ranks a campaign's creators by CPM.
func (c *Controller) CPMAnalysis(ctx context.Context, campaignID int64) (model.CPMAnalysis, error) {
	ctx, span := c.tracer.Start(ctx, SpanCPMAnalysis, trace.WithAttributes(
		attribute.Int64("kiko.campaign_id", campaignID),
	))
	defer span.End()

	res, err := c.analytics.CPMAnalysis(ctx, campaignID)
	if err != nil {
		return model.CPMAnalysis{}, fail(span, fmt.Errorf("pipeline: cpm analysis: %w", err))
	}
	span.SetAttributes(attribute.Int("kiko.creators", len(res.Table)))
	return res, nil
}

// persist stores run and sets out.Run. Only a failed run row is returned as
// an error; tool calls that could not be written are recorded as a degraded
// side effect.
func (c *Controller) persist(ctx context.Context, span trace.Span, run model.AgentRun, env model.Environment, out *Outcome) error {
	id, err := c.persister.PersistRun(ctx, run, env)
	var partial *persistence.PartialPersistError
	if err != nil && !errors.As(err, &partial) {
		return fail(span, err)
	}
	run.ID = id
	out.Run = run
	kinds := make([]string, 0, 4)
	for _, o := range run.Outputs() {
		kinds = append(kinds, string(o.Kind()))
	}
	span.SetAttributes(attribute.Int64("kiko.run_id", id), attribute.StringSlice("kiko.stages", kinds))
	if partial != nil {
		span.RecordError(partial)
		out.SideEffects.Issues = append(out.SideEffects.Issues, persistence.SideEffectIssue{
			Target: persistence.TargetToolCalls,
			Key:    strconv.FormatInt(id, 10),
			Err:    partial.Err,
		})
		span.SetAttributes(attribute.Int("kiko.side_effects.degraded", len(out.SideEffects.Issues)))
		c.logger.Warn("pipeline: run stored without tool calls",
			"run_id", id, "message_id", run.MessageID, "tool_calls", len(run.ToolCalls), "error", partial.Err)
		return nil
	}
	c.logger.Info("pipeline: run stored",
		"run_id", id, "message_id", run.MessageID, "stages", kinds,
		"tool_calls", len(run.ToolCalls), "trace_id", telemetry.TraceID(ctx))
	return nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
