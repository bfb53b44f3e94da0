package model

// FeedEntry is a read-time projection, never persisted.
type FeedEntry struct {
	Item                EphemeralItem `json:"item"`
	ContentURL          *string       `json:"content_url,omitempty"`
	ViewState           *ViewRecord   `json:"view_state,omitempty"`
	TotalActiveCount    int           `json:"total_active_count"`
	ViewerHasSeenLatest bool          `json:"viewer_has_seen_latest"`
}
