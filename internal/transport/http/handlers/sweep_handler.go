package handlers

import (
	"context"
	"net/http"

	httperrors "github.com/avoronin/peek/backend/internal/transport/http/errors"
)

// SweepRunner triggers one purge pass. Backed by the sweep job.
type SweepRunner interface {
	Run(ctx context.Context) (int, error)
}

type SweepHandler struct {
	runner SweepRunner
}

func NewSweepHandler(runner SweepRunner) *SweepHandler {
	return &SweepHandler{runner: runner}
}

func (h *SweepHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeInternal(w, "SWEEP_UNAVAILABLE", "sweep is unavailable")
		return
	}

	purged, err := h.runner.Run(r.Context())
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "sweep run failed")
		return
	}

	httperrors.Write(w, http.StatusOK, struct {
		OK     bool `json:"ok"`
		Purged int  `json:"purged"`
	}{OK: true, Purged: purged})
}
