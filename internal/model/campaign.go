package model

import "time"

// Campaign is a brand campaign together with its campaign type details.
type Campaign struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	CompanyDetails *string `json:"company_details"`
	CreativeBrief  *string `json:"creative_brief"`
	CampaignTypeID *int64  `json:"campaign_type_id"`
	TypeDetails    *string `json:"details"`
}

// ConversationStage is one step of a campaign type's outreach playbook.
type ConversationStage struct {
	Slug    string  `json:"slug"`
	Details *string `json:"details"`
	Order   int     `json:"order"`
}

// CreatorProfile is a creator row with its primary platform row attached.
type CreatorProfile struct {
	ID                  int64            `json:"id"`
	Username            string           `json:"username"`
	CorePlatform        *string          `json:"core_platform"`
	PrimaryEmail        *string          `json:"primary_email"`
	CreatedAt           time.Time        `json:"created_at"`
	EvaluationScore     *int             `json:"evaluation_score"`
	EvaluationReasoning *string          `json:"evaluation_reasoning"`
	Brand               *string          `json:"brand"`
	Source              *string          `json:"source"`
	ScreenshotPath      *string          `json:"screenshot_path"`
	Platform            *CreatorPlatform `json:"platform,omitempty"`
}

// CreatorPlatform is a creator's presence on one network.
type CreatorPlatform struct {
	Network       string         `json:"network"`
	Followers     *int64         `json:"followers"`
	Bio           *string        `json:"bio"`
	VideoAnalysis map[string]any `json:"video_analysis"`
}

// StoredDeliverable is a deliverable row with its surrogate id.
type StoredDeliverable struct {
	ID int64 `json:"id"`
	Deliverable
}
