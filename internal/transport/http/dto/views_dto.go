package dto

type RecordViewRequest struct {
	IsReplay bool `json:"is_replay"`
}

type ViewResultResponse struct {
	ReplayCount int  `json:"replay_count"`
	CanReplay   bool `json:"can_replay"`
}

type ViewabilityResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}
