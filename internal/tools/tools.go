// Package tools provides the functions stage models may call: store-backed
// lookups and prompt-driven helpers that run a single completion on the
// tool model.
package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kiko-hq/kiko/internal/agent"
	"github.com/kiko-hq/kiko/internal/model"
	"github.com/kiko-hq/kiko/internal/prompts"
)

// Tool names.
const (
	GetCampaignDetails            = "get_campaign_details"
	GetCampaignConversationStages = "get_campaign_conversation_stages"
	GetCreatorDetailsByID         = "get_creator_details_by_id"
	GetEmailThreadByID            = "get_email_thread_by_id"
	FindRates                     = "find_rates"
	ExtractRates                  = "extract_rates"
	FindEngagement                = "find_engagement"
	ProfileAssessment             = "profile_assessment"
	DraftWriting                  = "draft_writing"
	VerifyDraft                   = "verify_draft"
	ShareBriefLink                = "share_brief_link"
)

// Tool sets per stage.
var (
	MetadataTools  = []string{GetCampaignConversationStages}
	ExecutionTools = []string{
		GetCampaignDetails, FindRates, ExtractRates, FindEngagement,
		ProfileAssessment, DraftWriting, VerifyDraft, ShareBriefLink,
	}
	ActionTools = []string{GetCampaignDetails, GetCreatorDetailsByID, GetEmailThreadByID, DraftWriting}
)

// Store is the read surface the data tools use. *storage.DB satisfies it.
type Store interface {
	GetCampaign(ctx context.Context, id int64) (model.Campaign, error)
	ConversationStages(ctx context.Context, campaignTypeID int64) ([]model.ConversationStage, error)
	CreatorMainPlatform(ctx context.Context, creatorID int64) (map[string]any, error)
	ConversationMessages(ctx context.Context, conversationID int64) ([]model.Message, error)
}

// Deps holds the collaborators of the tool registry.
type Deps struct {
	Store     Store
	Prompts   prompts.Provider
	Client    agent.ChatClient
	ToolModel string
	Logger    *slog.Logger
}

// Registry holds every tool, keyed by name.
type Registry struct {
	deps  Deps
	tools map[string]agent.Tool
}

// NewRegistry builds all tools over deps.
func NewRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	r := &Registry{deps: deps, tools: map[string]agent.Tool{}}
	r.registerData()
	r.registerPrompted()
	return r
}

func (r *Registry) add(t agent.Tool) { r.tools[t.Name()] = t }

// Get returns the named tool.
func (r *Registry) Get(name string) (agent.Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Select returns the named tools in the given order. It fails on an unknown
// name.
func (r *Registry) Select(names ...string) ([]agent.Tool, error) {
	out := make([]agent.Tool, 0, len(names))
	for _, n := range names {
		t, ok := r.tools[n]
		if !ok {
			return nil, fmt.Errorf("tools: unknown tool %q", n)
		}
		out = append(out, t)
	}
	return out, nil
}
