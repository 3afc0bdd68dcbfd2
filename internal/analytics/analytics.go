// Package analytics derives campaign-level views over creators: the creator
// details document the audience stage reads, and the CPM ranking.
package analytics

import (
	"context"
	"log/slog"

	"github.com/kiko-hq/kiko/internal/model"
)

// Store is the read surface analytics needs. *storage.DB satisfies it.
type Store interface {
	SmartleadCampaignIDs(ctx context.Context, parentCampaignID int64) ([]int64, error)
	CreatorIDsForSmartleadCampaigns(ctx context.Context, smartleadIDs []int64) ([]int64, error)
	CreatorProfiles(ctx context.Context, ids []int64) ([]model.CreatorProfile, error)
	DeliverablesByCreators(ctx context.Context, creatorIDs []int64) ([]model.StoredDeliverable, error)
}

// Service computes campaign analytics.
type Service struct {
	store  Store
	logger *slog.Logger
}

// New creates a Service.
func New(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// campaignCreators is the creator population of a parent campaign.
type campaignCreators struct {
	profiles     []model.CreatorProfile
	deliverables map[int64][]model.Deliverable
}

// lookupMiss describes why a campaign has no creators to analyze.
type lookupMiss string

const (
	missSmartlead lookupMiss = "No smartlead campaigns found for campaign %d"
	missCreators  lookupMiss = "No creators found for campaign %d"
	missDetails   lookupMiss = "Creator details not found for campaign %d"
)

// loadCreators resolves parent campaign → outreach campaigns → creators,
// with their deliverables. A non-empty miss means the chain broke and the
// returned population is empty.
func (s *Service) loadCreators(ctx context.Context, campaignID int64, limit int) (campaignCreators, lookupMiss, error) {
	var out campaignCreators
	smartleadIDs, err := s.store.SmartleadCampaignIDs(ctx, campaignID)
	if err != nil {
		return out, "", err
	}
	if len(smartleadIDs) == 0 {
		return out, missSmartlead, nil
	}
	creatorIDs, err := s.store.CreatorIDsForSmartleadCampaigns(ctx, smartleadIDs)
	if err != nil {
		return out, "", err
	}
	if len(creatorIDs) == 0 {
		return out, missCreators, nil
	}
	if limit > 0 && len(creatorIDs) > limit {
		creatorIDs = creatorIDs[:limit]
	}

	out.profiles, err = s.store.CreatorProfiles(ctx, creatorIDs)
	if err != nil {
		return out, "", err
	}
	if len(out.profiles) == 0 {
		return out, missDetails, nil
	}
	stored, err := s.store.DeliverablesByCreators(ctx, creatorIDs)
	if err != nil {
		return out, "", err
	}
	out.deliverables = make(map[int64][]model.Deliverable)
	for _, d := range stored {
		out.deliverables[d.CreatorID] = append(out.deliverables[d.CreatorID], d.Deliverable)
	}
	return out, "", nil
}
