package dto

import "time"

type CreateItemRequest struct {
	Scope              string `json:"scope"`
	RecipientID        *int64 `json:"recipient_id,omitempty"`
	ContentKey         string `json:"content_key"`
	ViewingDurationSec int    `json:"viewing_duration_sec"`
	MaxReplays         *int   `json:"max_replays,omitempty"`
}

type ItemResponse struct {
	ID                 string     `json:"id"`
	OwnerID            int64      `json:"owner_id"`
	Scope              string     `json:"scope"`
	RecipientID        *int64     `json:"recipient_id,omitempty"`
	ViewingDurationSec int        `json:"viewing_duration_sec"`
	MaxReplays         int        `json:"max_replays"`
	CreatedAt          time.Time  `json:"created_at"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
}
