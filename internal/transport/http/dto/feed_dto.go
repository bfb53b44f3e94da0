package dto

import "time"

type BroadcastFeedRequest struct {
	VisibleSenders []int64 `json:"visible_senders"`
}

type ViewStateResponse struct {
	ViewCount     int       `json:"view_count"`
	ReplayCount   int       `json:"replay_count"`
	FirstViewedAt time.Time `json:"first_viewed_at"`
	LastViewedAt  time.Time `json:"last_viewed_at"`
}

type FeedEntryResponse struct {
	Item                ItemResponse       `json:"item"`
	ContentURL          *string            `json:"content_url,omitempty"`
	ViewState           *ViewStateResponse `json:"view_state,omitempty"`
	TotalActiveCount    int                `json:"total_active_count,omitempty"`
	ViewerHasSeenLatest bool               `json:"viewer_has_seen_latest,omitempty"`
}

type FeedResponse struct {
	Entries []FeedEntryResponse `json:"entries"`
}
