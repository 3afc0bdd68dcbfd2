package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kiko-hq/kiko/internal/model"
)

// CreatorIDsForSmartleadCampaigns returns the distinct creators that have a
// conversation in any of the given outreach campaigns.
func (db *DB) CreatorIDsForSmartleadCampaigns(ctx context.Context, smartleadIDs []int64) ([]int64, error) {
	if len(smartleadIDs) == 0 {
		return nil, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT creator_id
		 FROM conversations
		 WHERE smartlead_campaign_id = ANY($1) AND creator_id IS NOT NULL
		 ORDER BY creator_id`, smartleadIDs)
	if err != nil {
		return nil, fmt.Errorf("storage: list campaign creators: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("storage: scan campaign creators: %w", err)
	}
	return ids, nil
}

// CreatorProfiles returns the given creators, each with its first platform
// row attached when one exists.
func (db *DB) CreatorProfiles(ctx context.Context, ids []int64) ([]model.CreatorProfile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT c.id, c.username, c.core_platform, c.primary_email, c.created_at,
		        c.evaluation_score, c.evaluation_reasoning, c.brand, c.source, c.screenshot_path,
		        p.network, p.followers, p.bio, p.video_analysis
		 FROM creators c
		 LEFT JOIN LATERAL (
		     SELECT network, followers, bio, video_analysis
		     FROM creators_platform
		     WHERE creator_id = c.id
		     ORDER BY id
		     LIMIT 1
		 ) p ON true
		 WHERE c.id = ANY($1)
		 ORDER BY c.id`, ids)
	if err != nil {
		return nil, fmt.Errorf("storage: list creators: %w", err)
	}
	profiles, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.CreatorProfile, error) {
		var (
			c         model.CreatorProfile
			network   *string
			followers *int64
			bio       *string
			analysis  []byte
		)
		if err := row.Scan(&c.ID, &c.Username, &c.CorePlatform, &c.PrimaryEmail, &c.CreatedAt,
			&c.EvaluationScore, &c.EvaluationReasoning, &c.Brand, &c.Source, &c.ScreenshotPath,
			&network, &followers, &bio, &analysis); err != nil {
			return c, err
		}
		if network != nil {
			c.Platform = &model.CreatorPlatform{Network: *network, Followers: followers, Bio: bio}
			if len(analysis) > 0 {
				if err := json.Unmarshal(analysis, &c.Platform.VideoAnalysis); err != nil {
					return c, fmt.Errorf("video_analysis for creator %d: %w", c.ID, err)
				}
			}
		}
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan creators: %w", err)
	}
	return profiles, nil
}

// CreatorMainPlatform returns the creators_main_platforms row for a creator
// as a generic mapping.
func (db *DB) CreatorMainPlatform(ctx context.Context, creatorID int64) (map[string]any, error) {
	var raw []byte
	err := db.pool.QueryRow(ctx,
		`SELECT row_to_json(v) FROM creators_main_platforms v WHERE v.creator_id = $1 LIMIT 1`, creatorID,
	).Scan(&raw)
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("creator %d", creatorID)
		}
		return nil, fmt.Errorf("storage: get creator main platform: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("storage: decode creator main platform: %w", err)
	}
	return out, nil
}
