package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kiko-hq/kiko/internal/model"
)

// GetCampaign returns a campaign with its campaign type details.
func (db *DB) GetCampaign(ctx context.Context, id int64) (model.Campaign, error) {
	var c model.Campaign
	err := db.pool.QueryRow(ctx,
		`SELECT c.id, c.name, c.company_details, c.creative_brief, c.campaign_type_id, t.details
		 FROM campaigns c
		 LEFT JOIN campaign_types t ON t.id = c.campaign_type_id
		 WHERE c.id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.CompanyDetails, &c.CreativeBrief, &c.CampaignTypeID, &c.TypeDetails)
	if err != nil {
		if isNoRows(err) {
			return model.Campaign{}, notFound("campaign %d", id)
		}
		return model.Campaign{}, fmt.Errorf("storage: get campaign: %w", err)
	}
	return c, nil
}

// ConversationStages returns the stages of a campaign type in playbook order.
func (db *DB) ConversationStages(ctx context.Context, campaignTypeID int64) ([]model.ConversationStage, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT slug, details, "order"
		 FROM conversation_stages
		 WHERE campaign_type_id = $1
		 ORDER BY "order", id`, campaignTypeID)
	if err != nil {
		return nil, fmt.Errorf("storage: list conversation stages: %w", err)
	}
	stages, err := pgx.CollectRows(rows, pgx.RowToStructByPos[model.ConversationStage])
	if err != nil {
		return nil, fmt.Errorf("storage: scan conversation stages: %w", err)
	}
	return stages, nil
}

// SmartleadCampaignIDs returns the outreach campaigns under a parent campaign.
func (db *DB) SmartleadCampaignIDs(ctx context.Context, parentCampaignID int64) ([]int64, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id FROM smartlead_campaigns WHERE parent_campaign_id = $1 ORDER BY id`, parentCampaignID)
	if err != nil {
		return nil, fmt.Errorf("storage: list smartlead campaigns: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("storage: scan smartlead campaigns: %w", err)
	}
	return ids, nil
}
