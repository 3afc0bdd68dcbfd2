package pipeline

import (
	"context"
	"fmt"

	"github.com/kiko-hq/kiko/internal/agent"
	"github.com/kiko-hq/kiko/internal/model"
	"github.com/kiko-hq/kiko/internal/prompts"
	"github.com/kiko-hq/kiko/internal/tools"
)

// Prompt names of the stage instructions.
const (
	PromptMetadata  = "email_metadata"
	PromptPlanning  = "email_planner"
	PromptExecution = "email_execution"
	PromptAction    = "action_agent"
	PromptAudience  = "Audience_Sketch"
)

// Workflow span names, one per entry point.
const (
	SpanEmailProcessing  = "Email-Processing-Workflow"
	SpanAction           = "Action-Workflow"
	SpanAudienceAnalysis = "Audience-Analysis-Workflow"
	SpanCPMAnalysis      = "CPM-Analysis-Workflow"
)

// actionTemperature matches the execution default; the action stage has no
// separate setting.
const actionTemperature = 0.5

// stage is the static part of a stage: everything except its instructions,
// which are fetched per request so prompt edits apply without a restart.
type stage struct {
	name     string
	kind     model.StageKind
	prompt   string
	tools    []agent.Tool
	model    string
	temp     float32
	required bool
	steps    int
}

type stages struct {
	metadata  stage
	planning  stage
	execution stage
	action    stage
	audience  stage
}

func newStages(cfg Config, registry *tools.Registry) (stages, error) {
	metadataTools, err := registry.Select(tools.MetadataTools...)
	if err != nil {
		return stages{}, fmt.Errorf("pipeline: metadata tools: %w", err)
	}
	executionTools, err := registry.Select(tools.ExecutionTools...)
	if err != nil {
		return stages{}, fmt.Errorf("pipeline: execution tools: %w", err)
	}
	actionTools, err := registry.Select(tools.ActionTools...)
	if err != nil {
		return stages{}, fmt.Errorf("pipeline: action tools: %w", err)
	}

	return stages{
		metadata: stage{
			name: "Metadata Agent", kind: model.StageMetadata, prompt: PromptMetadata,
			tools: metadataTools, model: cfg.Models.Metadata, steps: cfg.DefaultMaxSteps,
		},
		planning: stage{
			name: "Email Planning Agent", kind: model.StagePlanning, prompt: PromptPlanning,
			model: cfg.Models.Planning, steps: cfg.DefaultMaxSteps,
		},
		execution: stage{
			name: "Email Execution Agent", kind: model.StageExecution, prompt: PromptExecution,
			tools: executionTools, model: cfg.Models.Execution, steps: cfg.MaxSteps,
			temp: cfg.ExecutionTemperature, required: true,
		},
		action: stage{
			name: "Email Action Agent", kind: model.StageAction, prompt: PromptAction,
			tools: actionTools, model: cfg.Models.Action, steps: cfg.MaxSteps,
			temp: actionTemperature, required: true,
		},
		audience: stage{
			name: "Audience Analysis Agent", kind: model.StageAudience, prompt: PromptAudience,
			model: cfg.Models.Audience, steps: cfg.MaxSteps,
		},
	}, nil
}

// run fetches the stage instructions and runs the stage, decoding its
// output into out.
func (c *Controller) run(ctx context.Context, s stage, input string, out model.StageOutput) (*agent.Result, error) {
	instructions, err := prompts.Compile(ctx, c.prompts, s.prompt, nil)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %s instructions: %w", s.kind, err)
	}
	res, err := c.runner.Run(ctx, agent.StageConfig{
		Name:               s.name,
		Kind:               s.kind,
		Instructions:       instructions,
		Tools:              s.tools,
		Model:              s.model,
		Temperature:        s.temp,
		ToolChoiceRequired: s.required,
	}, input, s.steps, out)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %s stage: %w", s.kind, err)
	}
	c.logger.Info("pipeline: stage completed", "stage", s.kind, "steps", res.Steps, "tool_events", len(res.Events))
	return res, nil
}
