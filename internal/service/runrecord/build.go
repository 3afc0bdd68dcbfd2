package runrecord

import (
	"time"

	"github.com/kiko-hq/kiko/internal/agent"
	"github.com/kiko-hq/kiko/internal/model"
)

// BuildInput is everything a finished pipeline run produced.
type BuildInput struct {
	Input     string
	MessageID int64
	BatchName *string

	Metadata  *model.MetadataOutput
	Planning  *model.PlanningOutput
	Execution *model.ExecutionOutput
	Action    *model.ActionOutput

	// Raw tool events of the execution and action stages.
	ExecutionEvents []agent.RunEvent
	ActionEvents    []agent.RunEvent

	TraceID        string        // Empty when no span was active.
	ProcessingTime time.Duration // Zero when not measured.
}

// Build assembles the audit record for a run. The suggested email body is
// the execution body, else the action body. Tool calls from execution come
// before those from action and are numbered as one sequence.
func Build(in BuildInput) model.AgentRun {
	run := model.AgentRun{
		Input:           in.Input,
		MessageID:       in.MessageID,
		BatchName:       in.BatchName,
		MetadataOutput:  in.Metadata,
		PlanningOutput:  in.Planning,
		ExecutionOutput: in.Execution,
		ActionOutput:    in.Action,
		ToolCalls:       []model.ToolInvocation{},
	}

	switch {
	case in.Execution != nil:
		body := in.Execution.EmailBody
		run.SuggestedEmailBody = &body
	case in.Action != nil:
		body := in.Action.EmailBody
		run.SuggestedEmailBody = &body
	}

	if in.Execution != nil {
		run.ToolCalls = append(run.ToolCalls, Reconcile(in.ExecutionEvents)...)
	}
	if in.Action != nil {
		run.ToolCalls = append(run.ToolCalls, Reconcile(in.ActionEvents)...)
	}
	for i := range run.ToolCalls {
		run.ToolCalls[i].ExecutionOrder = i + 1
	}

	if in.TraceID != "" {
		id := in.TraceID
		run.TraceID = &id
	}
	if in.ProcessingTime > 0 {
		ms := in.ProcessingTime.Milliseconds()
		run.ProcessingTimeMs = &ms
	}
	return run
}
