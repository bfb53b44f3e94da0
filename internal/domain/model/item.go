package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/avoronin/peek/backend/internal/domain/enums"
)

type EphemeralItem struct {
	ID                 uuid.UUID       `json:"id"`
	OwnerID            int64           `json:"owner_id"`
	Scope              enums.ItemScope `json:"scope"`
	RecipientID        *int64          `json:"recipient_id,omitempty"`
	ContentKey         string          `json:"-"`
	ViewingDurationSec int             `json:"viewing_duration_sec"`
	MaxReplays         int             `json:"max_replays"`
	CreatedAt          time.Time       `json:"created_at"`
	ExpiresAt          *time.Time      `json:"expires_at,omitempty"`
}

// PurgedItem is what the sweep hands back for each removed item so the
// caller can release the stored object and notify downstream.
type PurgedItem struct {
	ID         uuid.UUID
	OwnerID    int64
	ContentKey string
}
