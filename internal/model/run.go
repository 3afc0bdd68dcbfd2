package model

import (
	"fmt"
	"time"
)

// Environment selects the namespace a run is written to.
type Environment string

const (
	EnvProduction Environment = "production"
	EnvLabeling   Environment = "labeling"
)

// ParseEnvironment maps a request value to an Environment. The empty string
// means production.
func ParseEnvironment(s string) (Environment, error) {
	switch Environment(s) {
	case "", EnvProduction:
		return EnvProduction, nil
	case EnvLabeling:
		return EnvLabeling, nil
	default:
		return "", fmt.Errorf("unknown environment %q", s)
	}
}

// Schema returns the Postgres schema holding the audit tables for e.
func (e Environment) Schema() string {
	if e == EnvLabeling {
		return "labeling"
	}
	return "public"
}

// ToolInvocation is a reconciled tool call paired with its output.
type ToolInvocation struct {
	CallID         string  `json:"call_id"`
	ToolName       string  `json:"tool_name"`
	Arguments      Payload `json:"arguments"`
	Output         Payload `json:"output"`
	ExecutionOrder int     `json:"execution_order"`
}

// AgentRun is the write-once audit record of one pipeline invocation.
// ID is zero until the record is stored.
type AgentRun struct {
	ID                 int64            `json:"id,omitempty"`
	MessageID          int64            `json:"message_id"`
	Input              string           `json:"input"`
	BatchName          *string          `json:"batch_name,omitempty"`
	MetadataOutput     *MetadataOutput  `json:"metadata_agent_output"`
	PlanningOutput     *PlanningOutput  `json:"planning_agent_output"`
	ExecutionOutput    *ExecutionOutput `json:"execution_agent_output"`
	ActionOutput       *ActionOutput    `json:"action_agent_output"`
	SuggestedEmailBody *string          `json:"suggested_email_body"`
	TraceID            *string          `json:"trace_id"`
	ProcessingTimeMs   *int64           `json:"processing_time"`
	ToolCalls          []ToolInvocation `json:"tool_calls"`
	CreatedAt          *time.Time       `json:"created_at,omitempty"`
}

// Outputs returns the stage outputs present on the run in pipeline order.
func (r AgentRun) Outputs() []StageOutput {
	var out []StageOutput
	if r.MetadataOutput != nil {
		out = append(out, r.MetadataOutput)
	}
	if r.PlanningOutput != nil {
		out = append(out, r.PlanningOutput)
	}
	if r.ExecutionOutput != nil {
		out = append(out, r.ExecutionOutput)
	}
	if r.ActionOutput != nil {
		out = append(out, r.ActionOutput)
	}
	return out
}

// SetOutput stores o in the field matching its kind.
func (r *AgentRun) SetOutput(o StageOutput) {
	switch v := o.(type) {
	case *MetadataOutput:
		r.MetadataOutput = v
	case *PlanningOutput:
		r.PlanningOutput = v
	case *ExecutionOutput:
		r.ExecutionOutput = v
	case *ActionOutput:
		r.ActionOutput = v
	}
}
