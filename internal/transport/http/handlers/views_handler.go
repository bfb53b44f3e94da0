package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	identitysvc "github.com/avoronin/peek/backend/internal/services/identity"
	viewssvc "github.com/avoronin/peek/backend/internal/services/views"
	"github.com/avoronin/peek/backend/internal/transport/http/dto"
	httperrors "github.com/avoronin/peek/backend/internal/transport/http/errors"
)

type ViewsHandler struct {
	service *viewssvc.Service
	now     func() time.Time
}

func NewViewsHandler(service *viewssvc.Service) *ViewsHandler {
	return &ViewsHandler{
		service: service,
		now:     time.Now,
	}
}

func (h *ViewsHandler) Viewability(w http.ResponseWriter, r *http.Request) {
	identity, ok := identitysvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "VIEW_SERVICE_UNAVAILABLE", "view service is unavailable")
		return
	}

	id, ok := itemIDFromRequest(r)
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid item id")
		return
	}

	viewability, err := h.service.CanView(r.Context(), id, identity.UserID, h.now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, viewssvc.ErrItemNotFound):
			writeNotFound(w, "ITEM_NOT_FOUND", "item not found")
		case errors.Is(err, viewssvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid viewability request")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to check viewability")
		}
		return
	}

	resp := dto.ViewabilityResponse{Allowed: viewability.Allowed}
	if !viewability.Allowed {
		resp.Reason = viewabilityReason(viewability.Reason)
	}

	httperrors.Write(w, http.StatusOK, resp)
}

func (h *ViewsHandler) Record(w http.ResponseWriter, r *http.Request) {
	identity, ok := identitysvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "VIEW_SERVICE_UNAVAILABLE", "view service is unavailable")
		return
	}

	id, ok := itemIDFromRequest(r)
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid item id")
		return
	}

	var req dto.RecordViewRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	result, err := h.service.RecordView(r.Context(), id, identity.UserID, h.now().UTC(), req.IsReplay)
	if err != nil {
		switch {
		case errors.Is(err, viewssvc.ErrItemNotFound):
			writeNotFound(w, "ITEM_NOT_FOUND", "item not found")
		case errors.Is(err, viewssvc.ErrExpired):
			httperrors.Write(w, http.StatusGone, httperrors.APIError{
				Code:    "ITEM_EXPIRED",
				Message: "item has expired",
			})
		case errors.Is(err, viewssvc.ErrReplayLimit):
			httperrors.Write(w, http.StatusConflict, httperrors.APIError{
				Code:    "REPLAY_LIMIT_EXCEEDED",
				Message: "replay limit exceeded",
			})
		case errors.Is(err, viewssvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid view request")
		default:
			if rl, ok := viewssvc.IsRateLimited(err); ok {
				httperrors.Write(w, http.StatusTooManyRequests, httperrors.RateLimitError{
					Code:          "RATE_LIMITED",
					Message:       "too many views, slow down",
					RetryAfterSec: rl.RetryAfterSec,
				})
				return
			}
			writeInternal(w, "INTERNAL_ERROR", "failed to record view")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.ViewResultResponse{
		ReplayCount: result.ReplayCount,
		CanReplay:   result.CanReplay,
	})
}

func viewabilityReason(reason error) string {
	switch {
	case errors.Is(reason, viewssvc.ErrExpired):
		return "EXPIRED"
	case errors.Is(reason, viewssvc.ErrReplayLimit):
		return "REPLAY_LIMIT_EXCEEDED"
	default:
		return ""
	}
}
