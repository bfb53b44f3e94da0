package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	capturessvc "github.com/avoronin/peek/backend/internal/services/captures"
	identitysvc "github.com/avoronin/peek/backend/internal/services/identity"
	"github.com/avoronin/peek/backend/internal/transport/http/dto"
	httperrors "github.com/avoronin/peek/backend/internal/transport/http/errors"
)

// CapturePreviewResolver presigns short-lived preview URLs for capture
// notices. Optional.
type CapturePreviewResolver interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type CapturesHandler struct {
	service    *capturessvc.Service
	resolver   CapturePreviewResolver
	previewTTL time.Duration
	now        func() time.Time
}

func NewCapturesHandler(service *capturessvc.Service, resolver CapturePreviewResolver, previewTTL time.Duration) *CapturesHandler {
	if previewTTL <= 0 {
		previewTTL = 5 * time.Minute
	}

	return &CapturesHandler{
		service:    service,
		resolver:   resolver,
		previewTTL: previewTTL,
		now:        time.Now,
	}
}

func (h *CapturesHandler) Record(w http.ResponseWriter, r *http.Request) {
	identity, ok := identitysvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "CAPTURE_SERVICE_UNAVAILABLE", "capture service is unavailable")
		return
	}

	id, ok := itemIDFromRequest(r)
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid item id")
		return
	}

	var req dto.RecordCaptureRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	capturedAt := h.now().UTC()
	if req.CapturedAt != nil && !req.CapturedAt.IsZero() {
		capturedAt = req.CapturedAt.UTC()
	}

	event, err := h.service.Record(r.Context(), id, identity.UserID, capturedAt)
	if err != nil {
		switch {
		case errors.Is(err, capturessvc.ErrItemNotFound):
			writeNotFound(w, "ITEM_NOT_FOUND", "item not found")
		case errors.Is(err, capturessvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid capture request")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to record capture")
		}
		return
	}

	httperrors.Write(w, http.StatusCreated, dto.CaptureEventResponse{
		ID:         event.ID,
		ItemID:     event.ItemID.String(),
		CapturerID: event.CapturerID,
		CapturedAt: event.CapturedAt,
	})
}

func (h *CapturesHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := identitysvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "CAPTURE_SERVICE_UNAVAILABLE", "capture service is unavailable")
		return
	}

	var since time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeBadRequest(w, "VALIDATION_ERROR", "since must be RFC3339")
			return
		}
		since = parsed.UTC()
	}

	notices, err := h.service.ListForOwner(r.Context(), identity.UserID, since)
	if err != nil {
		if errors.Is(err, capturessvc.ErrValidation) {
			writeBadRequest(w, "VALIDATION_ERROR", "invalid capture list request")
			return
		}
		writeInternal(w, "INTERNAL_ERROR", "failed to list captures")
		return
	}

	resp := dto.CaptureListResponse{Captures: make([]dto.CaptureNoticeResponse, 0, len(notices))}
	for _, notice := range notices {
		item := dto.CaptureNoticeResponse{
			CaptureEventResponse: dto.CaptureEventResponse{
				ID:         notice.Event.ID,
				ItemID:     notice.Event.ItemID.String(),
				CapturerID: notice.Event.CapturerID,
				CapturedAt: notice.Event.CapturedAt,
			},
		}
		if h.resolver != nil && notice.ContentKey != "" {
			if previewURL, err := h.resolver.PresignGet(r.Context(), notice.ContentKey, h.previewTTL); err == nil {
				item.PreviewURL = &previewURL
			}
		}
		resp.Captures = append(resp.Captures, item)
	}

	httperrors.Write(w, http.StatusOK, resp)
}
