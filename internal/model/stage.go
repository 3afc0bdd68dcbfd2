package model

import (
	"fmt"
	"slices"

	"github.com/invopop/jsonschema"
)

// StageKind discriminates the variants of StageOutput.
type StageKind string

const (
	StageMetadata StageKind = "metadata"
	StagePlanning StageKind = "planning"
	StageExecution StageKind = "execution"
	StageAction    StageKind = "action"
	StageAudience  StageKind = "audience_analysis"
)

// StageOutput is the typed result of one pipeline stage. The set of
// implementations is closed: only the variants in this package satisfy it.
type StageOutput interface {
	Kind() StageKind
	stageOutput()
}

// EmailTag classifies an inbound email.
type EmailTag string

const (
	TagReview   EmailTag = "review"
	TagNotify   EmailTag = "notify"
	TagQuestion EmailTag = "question"
	TagUnknown  EmailTag = "unknown"
)

var emailTags = []EmailTag{TagReview, TagNotify, TagQuestion, TagUnknown}

// JSONSchema restricts tags to the known values.
func (EmailTag) JSONSchema() *jsonschema.Schema {
	return enumSchema(emailTags)
}

// MessageMetadata is the per-message portion of MetadataOutput.
type MessageMetadata struct {
	MessageID               int64      `json:"message_id" jsonschema_description:"ID of the message to add metadata to"`
	EmailStage              string     `json:"email_stage" jsonschema_description:"Stage of the email thread from the last previous inbound message"`
	EmailTags               []EmailTag `json:"email_tags" jsonschema_description:"Tags that categorize the email thread from the last previous inbound message"`
	EmailNegotiationSummary string     `json:"email_negotiation_summary" jsonschema_description:"Summary of the negotiation process from the last previous inbound message"`
	EmailFollowUpNeeded     bool       `json:"email_follow_up_needed" jsonschema_description:"Whether a follow-up is required"`
	EmailFollowUpDate       string     `json:"email_follow_up_date,omitempty" jsonschema_description:"Date for follow-up if applicable (format YYYY-MM-DD)"`
}

// MetadataOutput is produced by the metadata stage.
type MetadataOutput struct {
	MessageMetadata MessageMetadata `json:"message_metadata" jsonschema_description:"Metadata for the message"`
	Deliverables    []Deliverable   `json:"deliverables,omitempty" jsonschema_description:"Deliverables for the campaign if applicable"`
}

func (*MetadataOutput) Kind() StageKind { return StageMetadata }
func (*MetadataOutput) stageOutput()    {}

// Validate checks the constraints the output schema cannot express.
func (m *MetadataOutput) Validate() error {
	for _, tag := range m.MessageMetadata.EmailTags {
		if !slices.Contains(emailTags, tag) {
			return fmt.Errorf("unknown email tag %q", tag)
		}
	}
	for i, d := range m.Deliverables {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("deliverables[%d]: %w", i, err)
		}
	}
	return nil
}

// Patch returns the message update derived from this output.
func (m *MetadataOutput) Patch() MessageMetadataPatch {
	mm := m.MessageMetadata
	p := MessageMetadataPatch{
		MessageID:          mm.MessageID,
		Stage:              mm.EmailStage,
		Tags:               mm.EmailTags,
		NegotiationSummary: mm.EmailNegotiationSummary,
		FollowUpNeeded:     mm.EmailFollowUpNeeded,
	}
	if mm.EmailFollowUpDate != "" {
		d := mm.EmailFollowUpDate
		p.FollowUpDate = &d
	}
	return p
}

// PlanningOutput is produced by the planning stage.
type PlanningOutput struct {
	Plan string `json:"plan" jsonschema_description:"Plan for the email response"`
}

func (*PlanningOutput) Kind() StageKind { return StagePlanning }
func (*PlanningOutput) stageOutput()    {}

// ExecutionOutput is produced by the execution stage.
type ExecutionOutput struct {
	Reasoning         string `json:"reasoning" jsonschema_description:"Reasoning for the email response"`
	MostRecentMessage string `json:"most_recent_message" jsonschema_description:"Most recent message in the conversation verbatim"`
	EmailBody         string `json:"email_body" jsonschema_description:"Body of the email response left blank if no response is needed"`
}

func (*ExecutionOutput) Kind() StageKind { return StageExecution }
func (*ExecutionOutput) stageOutput()    {}

// ActionKind is the action an action-stage run decided on.
type ActionKind string

const ActionEmailResponse ActionKind = "email_response"

// JSONSchema restricts actions to the known values.
func (ActionKind) JSONSchema() *jsonschema.Schema {
	return enumSchema([]ActionKind{ActionEmailResponse})
}

// ActionOutput is produced by the action stage.
type ActionOutput struct {
	LastMessageID int64      `json:"last_message_id" jsonschema_description:"The ID of the last message in the conversation"`
	Action        ActionKind `json:"action" jsonschema_description:"Action to take based on the email thread"`
	Reasoning     string     `json:"reasoning" jsonschema_description:"Reasoning for the email response"`
	EmailBody     string     `json:"email_body" jsonschema_description:"Body of the email response left blank if no response is needed"`
}

func (*ActionOutput) Kind() StageKind { return StageAction }
func (*ActionOutput) stageOutput()    {}

func enumSchema[T ~string](values []T) *jsonschema.Schema {
	s := &jsonschema.Schema{Type: "string"}
	for _, v := range values {
		s.Enum = append(s.Enum, string(v))
	}
	return s
}
