package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/kiko-hq/kiko/internal/model"
)

// defaultBrandFit is used when a creator has no evaluation score.
const defaultBrandFit = 3

// toUSD converts a price with approximate fixed rates. Unknown currencies
// are treated as USD.
func toUSD(price float64, currency string) float64 {
	switch strings.ToUpper(currency) {
	case "INR":
		return price / 83.0
	case "EUR":
		return price * 1.08
	case "GBP":
		return price * 1.26
	}
	return price
}

// CPMAnalysis ranks the creators of a campaign by CPM and summarizes the
// ranking.
func (s *Service) CPMAnalysis(ctx context.Context, campaignID int64) (model.CPMAnalysis, error) {
	table, err := s.RankByCPM(ctx, campaignID)
	if err != nil {
		return model.CPMAnalysis{}, err
	}
	return model.CPMAnalysis{KeyTakeaways: KeyTakeaways(table), Table: table}, nil
}

// RankByCPM returns the campaign's creators ordered by ascending CPM.
// Creators without view data or prices are left out.
func (s *Service) RankByCPM(ctx context.Context, campaignID int64) ([]model.CPMTableEntry, error) {
	pop, miss, err := s.loadCreators(ctx, campaignID, 0)
	if err != nil {
		return nil, fmt.Errorf("analytics: load creators for campaign %d: %w", campaignID, err)
	}
	if miss != "" {
		return []model.CPMTableEntry{}, nil
	}
	return Rank(pop.profiles, pop.deliverables), nil
}

// Rank computes the CPM table. CPM is the mean USD price divided by mean
// views, per thousand views. Outlier rate is how far a CPM exceeds twice the
// median CPM, in percent.
func Rank(profiles []model.CreatorProfile, deliverables map[int64][]model.Deliverable) []model.CPMTableEntry {
	table := []model.CPMTableEntry{}
	for _, p := range profiles {
		if p.Platform == nil {
			continue
		}
		views, ok := MeanViews(p.Platform.VideoAnalysis, p.Platform.Network)
		if !ok || views <= 0 {
			continue
		}
		rate, ok := RateUSD(deliverables[p.ID])
		if !ok || rate <= 0 {
			continue
		}
		fit := defaultBrandFit
		if p.EvaluationScore != nil && *p.EvaluationScore != 0 {
			fit = *p.EvaluationScore
		}
		table = append(table, model.CPMTableEntry{
			Handle:    p.Username,
			BrandFit:  fit,
			RateUSD:   rate,
			MeanViews: int64(views),
			CPMUSD:    rate / views * 1000,
		})
	}
	slices.SortStableFunc(table, func(a, b model.CPMTableEntry) int {
		switch {
		case a.CPMUSD < b.CPMUSD:
			return -1
		case a.CPMUSD > b.CPMUSD:
			return 1
		}
		return 0
	})

	var bound float64
	if len(table) > 0 {
		bound = table[len(table)/2].CPMUSD * 2
	}
	for i := range table {
		table[i].Rank = i + 1
		if bound > 0 {
			table[i].OutlierRatePct = math.Max(0, (table[i].CPMUSD-bound)/bound*100)
		}
	}
	return table
}

// MeanViews extracts average views from a platform's video analysis:
// views.current on YouTube, the last-15 summary mean (else median) on
// Instagram.
func MeanViews(va map[string]any, network string) (float64, bool) {
	switch network {
	case "youtube":
		if views, ok := va["views"].(map[string]any); ok {
			return number(views["current"])
		}
	case "instagram":
		if summary, ok := va["last_15_videos_summary"].(map[string]any); ok {
			if _, has := summary["mean_views"]; has {
				return number(summary["mean_views"])
			}
			if _, has := summary["median_views"]; has {
				return number(summary["median_views"])
			}
		}
	}
	return 0, false
}

// RateUSD averages the priced deliverables converted to USD.
func RateUSD(ds []model.Deliverable) (float64, bool) {
	var sum float64
	var n int
	for _, d := range ds {
		if d.Price == nil {
			continue
		}
		currency := "USD"
		if d.Currency != nil {
			currency = *d.Currency
		}
		sum += toUSD(*d.Price, currency)
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// number reads a JSON number that may have been stored as a string.
func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}
