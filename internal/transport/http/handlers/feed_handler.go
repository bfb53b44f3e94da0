package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/avoronin/peek/backend/internal/domain/model"
	feedsvc "github.com/avoronin/peek/backend/internal/services/feed"
	identitysvc "github.com/avoronin/peek/backend/internal/services/identity"
	"github.com/avoronin/peek/backend/internal/transport/http/dto"
	httperrors "github.com/avoronin/peek/backend/internal/transport/http/errors"
)

type FeedHandler struct {
	service *feedsvc.Service
	now     func() time.Time
}

func NewFeedHandler(service *feedsvc.Service) *FeedHandler {
	return &FeedHandler{
		service: service,
		now:     time.Now,
	}
}

func (h *FeedHandler) Direct(w http.ResponseWriter, r *http.Request) {
	identity, ok := identitysvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "FEED_SERVICE_UNAVAILABLE", "feed service is unavailable")
		return
	}

	entries, err := h.service.GetDirectFeed(r.Context(), identity.UserID, h.now().UTC())
	if err != nil {
		if errors.Is(err, feedsvc.ErrValidation) {
			writeBadRequest(w, "VALIDATION_ERROR", "invalid feed request")
			return
		}
		writeInternal(w, "INTERNAL_ERROR", "failed to assemble direct feed")
		return
	}

	httperrors.Write(w, http.StatusOK, mapFeed(entries))
}

func (h *FeedHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	identity, ok := identitysvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "FEED_SERVICE_UNAVAILABLE", "feed service is unavailable")
		return
	}

	var req dto.BroadcastFeedRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	entries, err := h.service.GetBroadcastFeed(r.Context(), identity.UserID, req.VisibleSenders, h.now().UTC())
	if err != nil {
		if errors.Is(err, feedsvc.ErrValidation) {
			writeBadRequest(w, "VALIDATION_ERROR", "invalid feed request")
			return
		}
		writeInternal(w, "INTERNAL_ERROR", "failed to assemble broadcast feed")
		return
	}

	httperrors.Write(w, http.StatusOK, mapFeed(entries))
}

func mapFeed(entries []model.FeedEntry) dto.FeedResponse {
	resp := dto.FeedResponse{Entries: make([]dto.FeedEntryResponse, 0, len(entries))}
	for _, entry := range entries {
		item := dto.FeedEntryResponse{
			Item:                mapItem(entry.Item),
			ContentURL:          entry.ContentURL,
			TotalActiveCount:    entry.TotalActiveCount,
			ViewerHasSeenLatest: entry.ViewerHasSeenLatest,
		}
		if entry.ViewState != nil {
			item.ViewState = &dto.ViewStateResponse{
				ViewCount:     entry.ViewState.ViewCount,
				ReplayCount:   entry.ViewState.ReplayCount,
				FirstViewedAt: entry.ViewState.FirstViewedAt,
				LastViewedAt:  entry.ViewState.LastViewedAt,
			}
		}
		resp.Entries = append(resp.Entries, item)
	}
	return resp
}
