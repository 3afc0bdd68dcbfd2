package model

import (
	"fmt"
	"slices"

	"github.com/invopop/jsonschema"
)

// Platform is the social network a deliverable is published on.
type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformYouTube   Platform = "youtube"
	PlatformMulti     Platform = "multi"
)

var platforms = []Platform{PlatformInstagram, PlatformTikTok, PlatformYouTube, PlatformMulti}

// JSONSchema restricts platforms to the known values.
func (Platform) JSONSchema() *jsonschema.Schema { return enumSchema(platforms) }

// DeliverableUnit is the pricing unit of a deliverable.
type DeliverableUnit string

const (
	UnitPerPost    DeliverableUnit = "per_post"
	UnitPerPackage DeliverableUnit = "per_package"
	UnitPerMonth   DeliverableUnit = "per_month"
)

var units = []DeliverableUnit{UnitPerPost, UnitPerPackage, UnitPerMonth}

// JSONSchema restricts units to the known values.
func (DeliverableUnit) JSONSchema() *jsonschema.Schema { return enumSchema(units) }

// Deliverable is a priced unit of creator content. Rows are identified by
// the natural key (creator_id, media_type, platform, unit), not by a
// surrogate id.
type Deliverable struct {
	Name        string           `json:"name" jsonschema_description:"Name of the deliverable"`
	CreatorID   int64            `json:"creator_id" jsonschema_description:"ID of the creator"`
	MediaType   string           `json:"media_type" jsonschema_description:"Media type of the deliverable (video or story or reel or post)"`
	Platform    Platform         `json:"platform" jsonschema_description:"Platform of the deliverable"`
	DurationSec *int             `json:"duration_sec,omitempty" jsonschema_description:"Duration of the deliverable in seconds"`
	CrossPosted *bool            `json:"cross_posted,omitempty" jsonschema_description:"Whether the deliverable is cross-posted to other platforms"`
	Price       *float64         `json:"price,omitempty" jsonschema_description:"Price of the deliverable"`
	Currency    *string          `json:"currency,omitempty" jsonschema_description:"Currency of the deliverable (USD or EUR etc.)"`
	Unit        *DeliverableUnit `json:"unit,omitempty" jsonschema_description:"Pricing unit of the deliverable"`
	Notes       *string          `json:"notes,omitempty" jsonschema_description:"Any additional notes about the deliverable"`
	RawText     *string          `json:"raw_text,omitempty" jsonschema_description:"The original email text the deliverable was extracted from"`
}

// Validate checks the enumerated fields.
func (d Deliverable) Validate() error {
	if !slices.Contains(platforms, d.Platform) {
		return fmt.Errorf("unknown platform %q", d.Platform)
	}
	if d.Unit != nil && !slices.Contains(units, *d.Unit) {
		return fmt.Errorf("unknown unit %q", *d.Unit)
	}
	return nil
}

// Key returns the natural key in a printable form.
func (d Deliverable) Key() string {
	unit := "<nil>"
	if d.Unit != nil {
		unit = string(*d.Unit)
	}
	return fmt.Sprintf("%d/%s/%s/%s", d.CreatorID, d.MediaType, d.Platform, unit)
}

// MessageMetadataPatch is the partial update applied to an existing message
// row. It never creates a message.
type MessageMetadataPatch struct {
	MessageID          int64
	Stage              string
	Tags               []EmailTag
	NegotiationSummary string
	FollowUpNeeded     bool
	FollowUpDate       *string // YYYY-MM-DD, nil clears the column
}
