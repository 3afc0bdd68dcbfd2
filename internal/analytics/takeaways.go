package analytics

import (
	"math"
	"slices"

	"github.com/kiko-hq/kiko/internal/model"
)

const maxPerCategory = 3

// KeyTakeaways summarizes a CPM table ordered by ascending CPM. Creators at
// or below the median CPM are top performers, those up to twice the median
// are solid value, and those at four times the median or more are in the
// caution zone. Each category holds at most three creators; solid value and
// caution zone are topped up from the remaining creators.
func KeyTakeaways(table []model.CPMTableEntry) model.CPMKeyTakeaways {
	out := model.CPMKeyTakeaways{
		TopPerformers: []model.CPMPerformerEntry{},
		SolidValue:    []model.CPMPerformerEntry{},
		CautionZone:   []model.CPMPerformerEntry{},
	}
	if len(table) == 0 {
		return out
	}

	cpms := make([]float64, len(table))
	for i, e := range table {
		cpms[i] = e.CPMUSD
	}
	median := medianOf(cpms)
	out.Cheatsheet = model.CPMCheatSheet{
		LowCPM:     round2(slices.Min(cpms)),
		HighCPM:    round2(slices.Max(cpms)),
		MedianCPM:  round2(median),
		AverageCPM: round2(meanOf(cpms)),
	}

	high, veryHigh := median*2, median*4
	for _, e := range table {
		switch {
		case e.CPMUSD <= median:
			if len(out.TopPerformers) < maxPerCategory {
				out.TopPerformers = append(out.TopPerformers, performer(e, topNote(e)))
			}
		case e.CPMUSD <= high:
			if len(out.SolidValue) < maxPerCategory {
				out.SolidValue = append(out.SolidValue, performer(e, solidNote(e)))
			}
		case e.CPMUSD >= veryHigh:
			if len(out.CautionZone) < maxPerCategory {
				out.CautionZone = append(out.CautionZone, performer(e, cautionNote(e)))
			}
		}
	}

	for _, e := range table {
		if len(out.SolidValue) >= maxPerCategory {
			break
		}
		if e.CPMUSD > median && e.CPMUSD <= high && !listed(out.SolidValue, e.Handle) {
			out.SolidValue = append(out.SolidValue, performer(e, "Balanced cost and performance"))
		}
	}

	costly := slices.Clone(table)
	slices.SortStableFunc(costly, func(a, b model.CPMTableEntry) int {
		switch {
		case a.CPMUSD > b.CPMUSD:
			return -1
		case a.CPMUSD < b.CPMUSD:
			return 1
		}
		return 0
	})
	for _, e := range costly {
		if len(out.CautionZone) >= maxPerCategory {
			break
		}
		if e.CPMUSD > high && !listed(out.CautionZone, e.Handle) {
			out.CautionZone = append(out.CautionZone, performer(e, "High CPM, review efficiency"))
		}
	}
	return out
}

func topNote(e model.CPMTableEntry) string {
	switch {
	case e.MeanViews >= 100_000:
		return "Top reach, best value"
	case e.BrandFit >= 3:
		return "Great fit, strong value"
	default:
		return "Engaged micro, low cost"
	}
}

func solidNote(e model.CPMTableEntry) string {
	switch {
	case e.MeanViews >= 50_000:
		return "High views, solid cost"
	case e.BrandFit >= 3:
		return "Balanced cost and fit"
	default:
		return "Fair cost, decent reach"
	}
}

func cautionNote(e model.CPMTableEntry) string {
	switch {
	case e.MeanViews < 20_000:
		return "Costly, poor efficiency"
	case e.MeanViews < 50_000:
		return "High cost, low reach"
	default:
		return "Limited ROI despite fit"
	}
}

func performer(e model.CPMTableEntry, note string) model.CPMPerformerEntry {
	return model.CPMPerformerEntry{Creator: e.Handle, CPMUSD: round2(e.CPMUSD), Note: note}
}

func listed(entries []model.CPMPerformerEntry, handle string) bool {
	return slices.ContainsFunc(entries, func(p model.CPMPerformerEntry) bool { return p.Creator == handle })
}

func medianOf(xs []float64) float64 {
	s := slices.Clone(xs)
	slices.Sort(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

func meanOf(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func round2(x float64) float64 { return math.Round(x*100) / 100 }
