// Package agent runs one pipeline stage: a bounded loop of model calls with
// tool execution, ending in a schema-validated structured output.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kiko-hq/kiko/internal/model"
	"github.com/kiko-hq/kiko/internal/telemetry"
)

// DefaultMaxSteps is used when a caller passes a non-positive step budget.
const DefaultMaxSteps = 10

// ChatClient is the subset of the OpenAI client the runner needs.
// *openai.Client satisfies it.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// StageConfig describes one stage invocation.
type StageConfig struct {
	Name               string // Agent name, used for spans and logs.
	Kind               model.StageKind
	Instructions       string // System prompt.
	Tools              []Tool
	Model              string
	Temperature        float32 // Zero leaves the model default.
	ToolChoiceRequired bool
}

// Result is a successful stage run. The decoded output is written to the
// value passed to Run.
type Result struct {
	Events []RunEvent
	Steps  int
}

// RunnerConfig holds the runner's collaborators.
type RunnerConfig struct {
	Client      ChatClient
	Logger      *slog.Logger
	Metrics     *telemetry.StageMetrics // Optional.
	CallTimeout time.Duration           // Per model call; zero means none.
}

// Runner executes stages against a chat model. It holds no per-run state and
// is safe for concurrent use.
type Runner struct {
	client      ChatClient
	logger      *slog.Logger
	metrics     *telemetry.StageMetrics
	tracer      trace.Tracer
	callTimeout time.Duration
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		client:      cfg.Client,
		logger:      logger,
		metrics:     cfg.Metrics,
		tracer:      telemetry.Tracer("kiko/agent"),
		callTimeout: cfg.CallTimeout,
	}
}

// Run drives the stage until the model returns a final answer, decoding it
// into out (a pointer to the stage's output type). Each model call is one
// step; exhausting maxSteps yields a StageError of kind StepBudgetExceeded.
// Tool errors are returned to the model as the tool's output and do not fail
// the stage.
func (r *Runner) Run(ctx context.Context, cfg StageConfig, input string, maxSteps int, out any) (*Result, error) {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	ctx, span := r.tracer.Start(ctx, cfg.Name, trace.WithAttributes(
		attribute.String("kiko.stage", string(cfg.Kind)),
		attribute.String("kiko.model", cfg.Model),
		attribute.Int("kiko.max_steps", maxSteps),
	))
	defer span.End()

	start := time.Now()
	res, err := r.run(ctx, cfg, input, maxSteps, out)
	kind := FailureKindOf(err)
	r.metrics.Record(ctx, string(cfg.Kind), time.Since(start), string(kind))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		r.logger.Warn("agent: stage failed",
			"stage", cfg.Kind, "kind", kind, "error", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("kiko.steps", res.Steps), attribute.Int("kiko.tool_events", len(res.Events)))
	r.logger.Debug("agent: stage complete",
		"stage", cfg.Kind, "steps", res.Steps, "tool_events", len(res.Events))
	return res, nil
}

func (r *Runner) run(ctx context.Context, cfg StageConfig, input string, maxSteps int, out any) (*Result, error) {
	fail := func(kind FailureKind, steps int, err error) (*Result, error) {
		return nil, &StageError{Stage: cfg.Kind, Kind: kind, Steps: steps, Err: err}
	}

	if out == nil || reflect.TypeOf(out).Kind() != reflect.Pointer {
		return fail(SchemaViolation, 0, errors.New("output target must be a non-nil pointer"))
	}
	schema, err := schemaFor(reflect.TypeOf(out))
	if err != nil {
		return fail(SchemaViolation, 0, err)
	}

	tools := make(map[string]Tool, len(cfg.Tools))
	for _, t := range cfg.Tools {
		tools[t.Name()] = t
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: cfg.Instructions},
		{Role: openai.ChatMessageRoleUser, Content: input},
	}
	var toolChoice any
	if len(cfg.Tools) > 0 {
		toolChoice = "auto"
		if cfg.ToolChoiceRequired {
			toolChoice = "required"
		}
	}

	var events []RunEvent
	for step := 1; step <= maxSteps; step++ {
		req := openai.ChatCompletionRequest{
			Model:       cfg.Model,
			Messages:    messages,
			Temperature: cfg.Temperature,
			Tools:       toOpenAITools(cfg.Tools),
			ToolChoice:  toolChoice,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
				JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
					Name:   schema.name,
					Schema: schema.wire,
				},
			},
		}

		resp, err := r.complete(ctx, req)
		if err != nil {
			return fail(ModelFailure, step-1, err)
		}
		if len(resp.Choices) == 0 {
			return fail(ModelFailure, step, errors.New("model returned no choices"))
		}
		msg := resp.Choices[0].Message

		if len(msg.ToolCalls) > 0 {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				Content:   msg.Content,
				ToolCalls: msg.ToolCalls,
			})
			for _, tc := range msg.ToolCalls {
				events = append(events, CallEvent(tc.ID, tc.Function.Name, tc.Function.Arguments))
			}
			for _, tc := range msg.ToolCalls {
				output := r.callTool(ctx, cfg.Kind, tools, tc)
				events = append(events, OutputEvent(tc.ID, output))
				messages = append(messages, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    output,
					ToolCallID: tc.ID,
				})
			}
			// Let the model answer once it has used a tool.
			toolChoice = "auto"
			continue
		}

		if msg.Refusal != "" {
			return fail(ModelFailure, step, fmt.Errorf("model refused: %s", msg.Refusal))
		}
		if err := schema.decodeOutput(msg.Content, out); err != nil {
			return fail(SchemaViolation, step, err)
		}
		return &Result{Events: events, Steps: step}, nil
	}
	return fail(StepBudgetExceeded, maxSteps, ErrStepBudgetExceeded)
}

func (r *Runner) complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if r.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
	}
	return r.client.CreateChatCompletion(ctx, req)
}

func (r *Runner) callTool(ctx context.Context, stage model.StageKind, tools map[string]Tool, tc openai.ToolCall) string {
	t, ok := tools[tc.Function.Name]
	if !ok {
		return toolErrorText(fmt.Errorf("unknown tool %q", tc.Function.Name))
	}
	output, err := t.Call(ctx, json.RawMessage(tc.Function.Arguments))
	if err != nil {
		r.logger.Warn("agent: tool failed",
			"stage", stage, "tool", tc.Function.Name, "call_id", tc.ID, "error", err)
		return toolErrorText(err)
	}
	return output
}
