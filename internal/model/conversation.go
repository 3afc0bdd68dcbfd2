// Package model defines the core domain types for Kiko.
package model

import (
	"encoding/json"
	"time"
)

// Direction is the flow direction of an email message.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Message is one email in a conversation thread.
type Message struct {
	ID                 int64      `json:"id"`
	Body               string     `json:"body"`
	Tags               []string   `json:"tags"`
	Stage              *string    `json:"stage"`
	Sender             string     `json:"sender"`
	SentAt             *time.Time `json:"sent_at"`
	Subject            *string    `json:"subject"`
	Direction          *string    `json:"direction"`
	OpenedAt           *time.Time `json:"opened_at"`
	Recipient          *string    `json:"recipient"`
	CreatedAt          *time.Time `json:"created_at"`
	ConversationID     *int64     `json:"conversation_id"`
	AIResponseUsed     *bool      `json:"ai_response_used"`
	ExternalMessageID  *string    `json:"external_message_id"`
	NegotiationSummary *string    `json:"negotiation_summary"`
	FollowUpNeeded     *bool      `json:"follow_up_needed"`
	FollowUpDate       *time.Time `json:"follow_up_date"`
}

// Conversation is an email thread between the brand and one creator.
type Conversation struct {
	ID                    int64     `json:"id"`
	CampaignID            *int64    `json:"campaign_id"`
	CampaignName          *string   `json:"campaign_name"`
	CreatorID             *int64    `json:"creator_id"`
	CreatorName           *string   `json:"creator_name"`
	SmartleadCampaignID   *int64    `json:"smartlead_campaign_id"`
	SmartleadCampaignName *string   `json:"smartlead_campaign_name"`
	LastMessageID         *int64    `json:"last_message_id"`
	LastMessageDirection  *string   `json:"last_message_direction"`
	Messages              []Message `json:"messages"`
}

// LastDirection returns the direction of the most recent message, or ""
// when the conversation does not carry one.
func (c Conversation) LastDirection() Direction {
	if c.LastMessageDirection == nil {
		return ""
	}
	return Direction(*c.LastMessageDirection)
}

// LastMessage returns the id of the most recent message, or 0.
func (c Conversation) LastMessage() int64 {
	if c.LastMessageID == nil {
		return 0
	}
	return *c.LastMessageID
}

// JSON renders the conversation as indented JSON. This is the text every
// stage of the email pipeline receives as input.
func (c Conversation) JSON() (string, error) {
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
