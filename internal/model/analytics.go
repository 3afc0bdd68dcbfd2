package model

// MicroSegment is one audience slice within a macro persona.
type MicroSegment struct {
	Segment               string   `json:"segment" jsonschema_description:"Name of the micro-segment"`
	ViewsPoolSharePercent float64  `json:"views_pool_share_percent" jsonschema_description:"Percentage share of views this segment holds"`
	CoreInterests         []string `json:"core_interests" jsonschema_description:"Core interests for this micro-segment"`
	CreatorIDs            []int64  `json:"creator_ids" jsonschema_description:"Creator IDs associated with this micro-segment"`
}

type ViewPoolShareRank struct {
	Segment      string  `json:"segment" jsonschema_description:"Name of the segment"`
	SharePercent float64 `json:"share_percent" jsonschema_description:"Percentage of the total view pool"`
}

type NetworkBreakdown struct {
	InstagramOnly    int `json:"instagram_only" jsonschema_description:"Number of creators who post only on Instagram"`
	CrossPostBundles int `json:"cross_post_bundles" jsonschema_description:"Number of creators who post cross-platform bundles"`
	TikTokOnly       int `json:"tiktok_only" jsonschema_description:"Number of creators who post only on TikTok"`
	YouTubeOnly      int `json:"youtube_only" jsonschema_description:"Number of creators who post only on YouTube"`
}

type NetworkCheatSheet struct {
	ViewsPoolShareRanked []ViewPoolShareRank `json:"views_pool_share_ranked" jsonschema_description:"Ranked view pool share by segment"`
	RateBands            string              `json:"rate_bands" jsonschema_description:"Pricing tiers across the network"`
	NetworkBreakdown     NetworkBreakdown    `json:"network_breakdown" jsonschema_description:"Breakdown of the creator platforms used"`
}

// AudienceAnalysisOutput is produced by the audience analysis stage. It is
// returned to the caller and never stored on an AgentRun.
type AudienceAnalysisOutput struct {
	Title             string            `json:"title" jsonschema_description:"Title of the macro persona analysis"`
	MacroPersona      string            `json:"macro_persona" jsonschema_description:"High-level description of the audience persona"`
	MicroSegments     []MicroSegment    `json:"micro_segments" jsonschema_description:"Micro-segments with their traits"`
	NetworkCheatsheet NetworkCheatSheet `json:"network_cheatsheet" jsonschema_description:"Summary of network structure and pricing"`
}

func (*AudienceAnalysisOutput) Kind() StageKind { return StageAudience }
func (*AudienceAnalysisOutput) stageOutput()    {}

// CPMTableEntry is one creator row of a CPM ranking.
type CPMTableEntry struct {
	Rank           int     `json:"rank"`
	Handle         string  `json:"handle"`
	BrandFit       int     `json:"brand_fit"`
	RateUSD        float64 `json:"rate_usd"`
	MeanViews      int64   `json:"mean_views"`
	CPMUSD         float64 `json:"cpm_usd"`
	OutlierRatePct float64 `json:"outlier_rate_pct"`
}

type CPMCheatSheet struct {
	LowCPM     float64 `json:"low_cpm"`
	HighCPM    float64 `json:"high_cpm"`
	MedianCPM  float64 `json:"median_cpm"`
	AverageCPM float64 `json:"average_cpm"`
}

type CPMPerformerEntry struct {
	Creator string  `json:"creator"`
	CPMUSD  float64 `json:"cpm_usd"`
	Note    string  `json:"note"`
}

type CPMKeyTakeaways struct {
	Cheatsheet    CPMCheatSheet       `json:"cheatsheet"`
	TopPerformers []CPMPerformerEntry `json:"top_performers"`
	SolidValue    []CPMPerformerEntry `json:"solid_value"`
	CautionZone   []CPMPerformerEntry `json:"caution_zone"`
}

// CPMAnalysis is the response of the CPM analysis endpoint.
type CPMAnalysis struct {
	KeyTakeaways CPMKeyTakeaways `json:"key_takeaways"`
	Table        []CPMTableEntry `json:"table"`
}
