package model

import (
	"time"

	"github.com/google/uuid"
)

// CaptureEvent rows are append-only; a viewer screenshotting the same item
// twice produces two rows and readers dedupe for display.
type CaptureEvent struct {
	ID         int64     `json:"id"`
	ItemID     uuid.UUID `json:"item_id"`
	CapturerID int64     `json:"capturer_id"`
	CapturedAt time.Time `json:"captured_at"`
}
