package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/kiko-hq/kiko/internal/agent"
	"github.com/kiko-hq/kiko/internal/prompts"
)

// Prompt names of the prompt-driven tools.
const (
	PromptFindRates          = "FindRates_Mock_Response"
	PromptExtractRates       = "ExtractRates_Mock_Response"
	PromptFindEngagement     = "FindEngagement_Mock_Response"
	PromptProfileAssessment  = "ProfileAssessment_Mock_Response"
	PromptDraftWriting       = "DraftWriting_Mock_Response"
	PromptVerifyDraft        = "VerifyDraft_Mock_Response"
	PromptShareCreativeBrief = "ShareCreativeBrief_Mock_Response"
)

// placeholderLeadID is the CRM lead id passed to the lead-based prompts.
const placeholderLeadID = "LEAD-2023-001"

const draftPlan = "- Respond to rate proposal\n- Explain budget constraints\n- Suggest alternative compensation\n- Request availability for call"

type findRatesArgs struct {
	CreatorEmail string `json:"creator_email" jsonschema_description:"Email address of the creator"`
	CreatorName  string `json:"creator_name" jsonschema_description:"Name of the creator"`
}

type extractRatesArgs struct {
	EmailBody string `json:"email_body" jsonschema_description:"The text content of the email"`
}

type findEngagementArgs struct {
	CreatorName string   `json:"creator_name" jsonschema_description:"Name of the creator"`
	Platforms   []string `json:"platforms" jsonschema_description:"List of platforms to check (e.g. Instagram, TikTok)"`
}

type profileAssessmentArgs struct {
	CreatorName string     `json:"creator_name" jsonschema_description:"Name of the creator"`
	CampaignID  campaignID `json:"campaign_id"`
}

type draftWritingArgs struct {
	EmailThread string     `json:"email_thread" jsonschema_description:"The full email thread"`
	CampaignID  campaignID `json:"campaign_id"`
	FitScore    float64    `json:"fit_score" jsonschema_description:"Score indicating how good a fit the creator is"`
}

type verifyDraftArgs struct {
	Subject string `json:"subject" jsonschema_description:"Subject line of the email"`
	Body    string `json:"body" jsonschema_description:"Body text of the email"`
	Tone    string `json:"tone" jsonschema_description:"Intended tone of the email"`
}

func (r *Registry) registerPrompted() {
	r.add(agent.MustTool(FindRates,
		"If there are known rates for this person, retrieve and add them to the context.",
		func(ctx context.Context, _ findRatesArgs) (string, error) {
			return r.complete(ctx, PromptFindRates, map[string]string{"LEAD_ID": placeholderLeadID})
		}))
	r.add(agent.MustTool(ExtractRates,
		"When someone shares their rates, extract and store them in a database.",
		func(ctx context.Context, a extractRatesArgs) (string, error) {
			return r.complete(ctx, PromptExtractRates, map[string]string{"RATE_TEXT": a.EmailBody})
		}))
	r.add(agent.MustTool(FindEngagement,
		"Provides engagement data on the creator (e.g. audience size, average views).",
		func(ctx context.Context, _ findEngagementArgs) (string, error) {
			return r.complete(ctx, PromptFindEngagement, map[string]string{"LEAD_ID": placeholderLeadID})
		}))
	r.add(agent.MustTool(ProfileAssessment,
		"Assesses how good of a fit this creator is for the brand's campaign or objectives.",
		func(ctx context.Context, _ profileAssessmentArgs) (string, error) {
			return r.complete(ctx, PromptProfileAssessment, map[string]string{"LEAD_ID": placeholderLeadID})
		}))
	r.add(agent.MustTool(DraftWriting,
		"Writes the first version of an email response based on the plan.",
		func(ctx context.Context, _ draftWritingArgs) (string, error) {
			return r.complete(ctx, PromptDraftWriting, map[string]string{"PLAN": draftPlan})
		}))
	r.add(agent.MustTool(VerifyDraft,
		"Reviews and finalizes the drafted email before sending.",
		func(ctx context.Context, a verifyDraftArgs) (string, error) {
			return r.complete(ctx, PromptVerifyDraft, map[string]string{
				"DRAFT_EMAIL": a.Body,
				"Context":     "Tone: " + a.Tone + "\nKey points to cover: Rate negotiation, alternative compensation options",
			})
		}))
	r.add(agent.MustTool(ShareBriefLink,
		"Returns a hyperlink to the campaign's creative brief.",
		func(ctx context.Context, a campaignArgs) (string, error) {
			return r.complete(ctx, PromptShareCreativeBrief, map[string]string{"CAMPAIGN_ID": string(a.CampaignID)})
		}))
}

// complete compiles a prompt and returns the tool model's single reply.
func (r *Registry) complete(ctx context.Context, promptName string, vars map[string]string) (string, error) {
	if r.deps.Prompts == nil || r.deps.Client == nil {
		return "", errors.New("tools: prompt-driven tools are not configured")
	}
	text, err := prompts.Compile(ctx, r.deps.Prompts, promptName, vars)
	if err != nil {
		return "", err
	}
	resp, err := r.deps.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    r.deps.ToolModel,
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: text}},
	})
	if err != nil {
		return "", fmt.Errorf("tools: %s completion: %w", promptName, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("tools: %s completion returned no choices", promptName)
	}
	r.deps.Logger.Debug("tools: prompt completion", "prompt", promptName, "model", r.deps.ToolModel)
	return resp.Choices[0].Message.Content, nil
}
