package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/kiko-hq/kiko/internal/model"
)

// Pricing types of a creator.
const (
	PricingFormalRates  = "formal_rates"
	PricingMessageRates = "message_rates"
)

// CreatorDetails is one creator as presented to the audience stage.
type CreatorDetails struct {
	CoreInformation CoreInformation `json:"core_information"`
	PlatformData    PlatformData    `json:"platform_data"`
	BusinessData    BusinessData    `json:"business_data"`
}

type CoreInformation struct {
	ID                  int64     `json:"id"`
	Username            string    `json:"username"`
	CorePlatform        *string   `json:"core_platform"`
	PrimaryEmail        *string   `json:"primary_email"`
	CreatedAt           time.Time `json:"created_at"`
	EvaluationScore     *int      `json:"evaluation_score"`
	EvaluationReasoning *string   `json:"evaluation_reasoning"`
	Brand               *string   `json:"brand"`
	Source              *string   `json:"source"`
	ScreenshotPath      *string   `json:"screenshot_path"`
}

type PlatformData struct {
	Network       *string        `json:"network"`
	Followers     *int64         `json:"followers"`
	Bio           *string        `json:"bio"`
	VideoAnalysis map[string]any `json:"video_analysis"`
}

type BusinessData struct {
	PricingType               string `json:"pricing_type"`
	HasFormalDeliverableRates bool   `json:"has_formal_deliverable_rates"`
	RateRange                 string `json:"rate_range,omitempty"`
}

// detailsError is the document returned when a campaign has no creators.
type detailsError struct {
	Error    string `json:"error"`
	Creators []any  `json:"creators"`
}

// CreatorDetailsJSON renders the creators of a campaign as the indented JSON
// document the audience stage consumes. When the campaign has no creators
// the document is an {"error", "creators": []} object rather than a Go
// error; store failures are returned as errors. limit <= 0 means all.
func (s *Service) CreatorDetailsJSON(ctx context.Context, campaignID int64, limit int) (string, error) {
	pop, miss, err := s.loadCreators(ctx, campaignID, limit)
	if err != nil {
		return "", fmt.Errorf("analytics: load creators for campaign %d: %w", campaignID, err)
	}
	var doc any
	if miss != "" {
		s.logger.Info("analytics: no creator details", "campaign_id", campaignID, "reason", fmt.Sprintf(string(miss), campaignID))
		doc = detailsError{Error: fmt.Sprintf(string(miss), campaignID), Creators: []any{}}
	} else {
		doc = BuildCreatorDetails(pop.profiles, pop.deliverables)
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("analytics: encode creator details: %w", err)
	}
	return string(b), nil
}

// BuildCreatorDetails shapes profiles and their deliverables.
func BuildCreatorDetails(profiles []model.CreatorProfile, deliverables map[int64][]model.Deliverable) []CreatorDetails {
	out := make([]CreatorDetails, 0, len(profiles))
	for _, p := range profiles {
		cd := CreatorDetails{
			CoreInformation: CoreInformation{
				ID: p.ID, Username: p.Username, CorePlatform: p.CorePlatform, PrimaryEmail: p.PrimaryEmail,
				CreatedAt: p.CreatedAt, EvaluationScore: p.EvaluationScore, EvaluationReasoning: p.EvaluationReasoning,
				Brand: p.Brand, Source: p.Source, ScreenshotPath: p.ScreenshotPath,
			},
			PlatformData: PlatformData{VideoAnalysis: map[string]any{}},
		}
		if p.Platform != nil {
			network := p.Platform.Network
			cd.PlatformData.Network = &network
			cd.PlatformData.Followers = p.Platform.Followers
			cd.PlatformData.Bio = p.Platform.Bio
			cd.PlatformData.VideoAnalysis = ProcessVideoAnalysis(p.Platform.VideoAnalysis, network)
		}

		ds, formal := deliverables[p.ID]
		cd.BusinessData.HasFormalDeliverableRates = formal
		cd.BusinessData.PricingType = PricingMessageRates
		if formal {
			cd.BusinessData.PricingType = PricingFormalRates
			cd.BusinessData.RateRange = rateRange(ds)
		}
		out = append(out, cd)
	}
	return out
}

// rateRange renders the span of non-zero prices as "$min-max CUR", or "".
func rateRange(ds []model.Deliverable) string {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, d := range ds {
		if d.Price == nil || *d.Price == 0 {
			continue
		}
		lo = math.Min(lo, *d.Price)
		hi = math.Max(hi, *d.Price)
	}
	if math.IsInf(lo, 1) {
		return ""
	}
	currency := "USD"
	if ds[0].Currency != nil {
		currency = *ds[0].Currency
	}
	return fmt.Sprintf("$%d-%d %s", int64(lo), int64(hi), currency)
}

// ProcessVideoAnalysis keeps the parts of a platform's video analysis that
// are comparable across creators.
func ProcessVideoAnalysis(va map[string]any, network string) map[string]any {
	if len(va) == 0 {
		return map[string]any{}
	}
	out := map[string]any{"platform": network}
	switch network {
	case "youtube":
		for _, k := range []string{"views", "subscribers", "estimated_revenue_usd", "report_period"} {
			if v, ok := va[k]; ok {
				out[k] = v
			}
		}
		if v, ok := va["last_15_videos_summary"]; ok {
			out["sample_size_videos"] = 15
			out["last_15_videos_summary"] = v
		}
		if v, ok := va["last_15_videos_distribution_relative_to_median"]; ok {
			out["performance_distribution"] = performanceDistribution(v)
		}
		if v, ok := va["Data Summary"]; ok {
			out["data_summary"] = v
		}
	case "instagram":
		if v, ok := va["last_15_videos_summary"]; ok {
			size, ok := va["sample_size_videos"]
			if !ok {
				size = 24
			}
			out["sample_size_videos"] = size
			out["last_15_videos_summary"] = v
		}
		if v, ok := va["last_15_videos_distribution_relative_to_median"]; ok {
			out["performance_distribution"] = performanceDistribution(v)
		}
	}
	return out
}

// performanceDistribution keeps the buckets with a positive count.
func performanceDistribution(v any) []map[string]any {
	items, _ := v.([]any)
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		bucket, ok := it.(map[string]any)
		if !ok {
			continue
		}
		if n, ok := number(bucket["count"]); !ok || n <= 0 {
			continue
		}
		out = append(out, map[string]any{
			"range":      bucket["range"],
			"count":      bucket["count"],
			"percentage": bucket["percentage"],
		})
	}
	return out
}
