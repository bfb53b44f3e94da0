package model

import (
	"time"

	"github.com/google/uuid"
)

// ViewRecord is the per-(item, viewer) engagement row. ReplayCount never
// exceeds the item's MaxReplays for direct items; broadcast items keep
// counting but are not bounded.
type ViewRecord struct {
	ItemID        uuid.UUID `json:"item_id"`
	ViewerID      int64     `json:"viewer_id"`
	ViewCount     int       `json:"view_count"`
	ReplayCount   int       `json:"replay_count"`
	FirstViewedAt time.Time `json:"first_viewed_at"`
	LastViewedAt  time.Time `json:"last_viewed_at"`
}
