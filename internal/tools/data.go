package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/kiko-hq/kiko/internal/agent"
	"github.com/kiko-hq/kiko/internal/model"
	"github.com/kiko-hq/kiko/internal/storage"
)

// Texts returned to the model when a lookup finds nothing.
const (
	CampaignNotFound     = "Campaign not found"
	CreatorNotFound      = "Creator not found"
	ConversationNotFound = "Conversation not found"
	NoStagesForType      = "No conversation stages found for this campaign (no campaign type assigned)"
	NoStages             = "No conversation stages found for this campaign"
)

// campaignID is declared as a string to the model but also accepts a JSON
// number.
type campaignID string

func (campaignID) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: "The ID of the campaign"}
}

func (c *campaignID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = campaignID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("campaign_id must be a string or number")
	}
	*c = campaignID(n.String())
	return nil
}

func (c campaignID) int64() (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(string(c)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid campaign_id %q", string(c))
	}
	return id, nil
}

type campaignArgs struct {
	CampaignID campaignID `json:"campaign_id"`
}

type creatorArgs struct {
	CreatorID int64 `json:"creator_id" jsonschema_description:"The unique ID of the creator to retrieve"`
}

type conversationArgs struct {
	ConversationID int64 `json:"conversation_id" jsonschema_description:"The unique ID of the conversation to retrieve"`
}

func (r *Registry) registerData() {
	r.add(agent.MustTool(GetCampaignDetails,
		"Retrieves information about which campaign this email is part of.",
		r.campaignDetails))
	r.add(agent.MustTool(GetCampaignConversationStages,
		"Retrieves the conversation stages for a campaign.",
		r.conversationStages))
	r.add(agent.MustTool(GetCreatorDetailsByID,
		"Retrieves comprehensive details of a creator by their unique ID, including platform data and engagement metrics.",
		r.creatorDetails))
	r.add(agent.MustTool(GetEmailThreadByID,
		"Retrieves a complete email conversation thread by conversation ID, with all messages in chronological order.",
		r.emailThread))
}

// campaignSummary is the campaign as presented to the model.
type campaignSummary struct {
	Name               string  `json:"name"`
	CompanyDetails     *string `json:"company_details"`
	Details            *string `json:"details"`
	CreativeBrief      *string `json:"creative_brief"`
	ConversationStages *string `json:"conversation_stages"`
}

func (r *Registry) campaignDetails(ctx context.Context, a campaignArgs) (string, error) {
	id, err := a.CampaignID.int64()
	if err != nil {
		return "", err
	}
	c, err := r.deps.Store.GetCampaign(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return CampaignNotFound, nil
	}
	if err != nil {
		return "", err
	}

	out := campaignSummary{
		Name:           c.Name,
		CompanyDetails: c.CompanyDetails,
		Details:        c.TypeDetails,
		CreativeBrief:  c.CreativeBrief,
	}
	if c.CampaignTypeID != nil {
		stages, err := r.deps.Store.ConversationStages(ctx, *c.CampaignTypeID)
		if err != nil {
			return "", err
		}
		if len(stages) > 0 {
			s := joinStages(stages)
			out.ConversationStages = &s
		}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Registry) conversationStages(ctx context.Context, a campaignArgs) (string, error) {
	id, err := a.CampaignID.int64()
	if err != nil {
		return "", err
	}
	c, err := r.deps.Store.GetCampaign(ctx, id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && c.CampaignTypeID == nil) {
		return NoStagesForType, nil
	}
	if err != nil {
		return "", err
	}
	stages, err := r.deps.Store.ConversationStages(ctx, *c.CampaignTypeID)
	if err != nil {
		return "", err
	}
	if len(stages) == 0 {
		return NoStages, nil
	}
	return joinStages(stages), nil
}

// joinStages renders stages as "slug: details" paragraphs.
func joinStages(stages []model.ConversationStage) string {
	parts := make([]string, len(stages))
	for i, s := range stages {
		details := ""
		if s.Details != nil {
			details = *s.Details
		}
		parts[i] = s.Slug + ": " + details
	}
	return strings.Join(parts, "\n\n")
}

func (r *Registry) creatorDetails(ctx context.Context, a creatorArgs) (string, error) {
	row, err := r.deps.Store.CreatorMainPlatform(ctx, a.CreatorID)
	if errors.Is(err, storage.ErrNotFound) {
		return CreatorNotFound, nil
	}
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(row)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// threadMessage is a message as presented to the model.
type threadMessage struct {
	ID                 int64      `json:"id"`
	Body               string     `json:"body"`
	Sender             string     `json:"sender"`
	SentAt             *time.Time `json:"sent_at"`
	Subject            *string    `json:"subject"`
	Direction          *string    `json:"direction"`
	OpenedAt           *time.Time `json:"opened_at"`
	Recipient          *string    `json:"recipient"`
	CreatedAt          *time.Time `json:"created_at"`
	FollowUpDate       *string    `json:"follow_up_date"`
	FollowUpNeeded     *bool      `json:"follow_up_needed"`
	ExternalMessageID  *string    `json:"external_message_id"`
	NegotiationSummary *string    `json:"negotiation_summary"`
}

func (r *Registry) emailThread(ctx context.Context, a conversationArgs) (string, error) {
	msgs, err := r.deps.Store.ConversationMessages(ctx, a.ConversationID)
	if errors.Is(err, storage.ErrNotFound) {
		return ConversationNotFound, nil
	}
	if err != nil {
		return "", err
	}
	thread := struct {
		Messages []threadMessage `json:"messages"`
	}{Messages: make([]threadMessage, len(msgs))}
	for i, m := range msgs {
		tm := threadMessage{
			ID: m.ID, Body: m.Body, Sender: m.Sender, SentAt: m.SentAt, Subject: m.Subject,
			Direction: m.Direction, OpenedAt: m.OpenedAt, Recipient: m.Recipient, CreatedAt: m.CreatedAt,
			FollowUpNeeded: m.FollowUpNeeded, ExternalMessageID: m.ExternalMessageID,
			NegotiationSummary: m.NegotiationSummary,
		}
		if m.FollowUpDate != nil {
			d := m.FollowUpDate.Format(time.DateOnly)
			tm.FollowUpDate = &d
		}
		thread.Messages[i] = tm
	}
	b, err := json.Marshal(thread)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
