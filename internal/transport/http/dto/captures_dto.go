package dto

import "time"

type RecordCaptureRequest struct {
	CapturedAt *time.Time `json:"captured_at,omitempty"`
}

type CaptureEventResponse struct {
	ID         int64     `json:"id"`
	ItemID     string    `json:"item_id"`
	CapturerID int64     `json:"capturer_id"`
	CapturedAt time.Time `json:"captured_at"`
}

type CaptureNoticeResponse struct {
	CaptureEventResponse
	PreviewURL *string `json:"preview_url,omitempty"`
}

type CaptureListResponse struct {
	Captures []CaptureNoticeResponse `json:"captures"`
}
