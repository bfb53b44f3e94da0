package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/avoronin/peek/backend/internal/domain/enums"
	"github.com/avoronin/peek/backend/internal/domain/model"
	identitysvc "github.com/avoronin/peek/backend/internal/services/identity"
	itemssvc "github.com/avoronin/peek/backend/internal/services/items"
	"github.com/avoronin/peek/backend/internal/transport/http/dto"
	httperrors "github.com/avoronin/peek/backend/internal/transport/http/errors"
)

type ItemsHandler struct {
	service *itemssvc.Service
}

func NewItemsHandler(service *itemssvc.Service) *ItemsHandler {
	return &ItemsHandler{service: service}
}

func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity, ok := identitysvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "ITEM_SERVICE_UNAVAILABLE", "item service is unavailable")
		return
	}

	var req dto.CreateItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}
	if strings.TrimSpace(req.ContentKey) == "" {
		writeBadRequest(w, "VALIDATION_ERROR", "content_key is required")
		return
	}

	item, err := h.service.Create(r.Context(), itemssvc.CreateParams{
		OwnerID:            identity.UserID,
		Scope:              enums.ItemScope(strings.ToUpper(strings.TrimSpace(req.Scope))),
		RecipientID:        req.RecipientID,
		ContentKey:         req.ContentKey,
		ViewingDurationSec: req.ViewingDurationSec,
		MaxReplays:         req.MaxReplays,
	})
	if err != nil {
		switch {
		case errors.Is(err, itemssvc.ErrValidation), errors.Is(err, itemssvc.ErrInvalidPolicy):
			writeBadRequest(w, "INVALID_POLICY", "item policy is invalid")
		default:
			if rl, ok := itemssvc.IsRateLimited(err); ok {
				httperrors.Write(w, http.StatusTooManyRequests, httperrors.RateLimitError{
					Code:          "RATE_LIMITED",
					Message:       "too many items created, slow down",
					RetryAfterSec: rl.RetryAfterSec,
				})
				return
			}
			writeInternal(w, "INTERNAL_ERROR", "failed to create item")
		}
		return
	}

	httperrors.Write(w, http.StatusCreated, mapItem(item))
}

func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if _, ok := identitysvc.IdentityFromContext(r.Context()); !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "ITEM_SERVICE_UNAVAILABLE", "item service is unavailable")
		return
	}

	id, ok := itemIDFromRequest(r)
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid item id")
		return
	}

	item, err := h.service.Get(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, itemssvc.ErrNotFound):
			writeNotFound(w, "ITEM_NOT_FOUND", "item not found")
		case errors.Is(err, itemssvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid item id")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to load item")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, mapItem(item))
}

func (h *ItemsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identity, ok := identitysvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "ITEM_SERVICE_UNAVAILABLE", "item service is unavailable")
		return
	}

	id, ok := itemIDFromRequest(r)
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid item id")
		return
	}

	if err := h.service.Delete(r.Context(), identity.UserID, id); err != nil {
		switch {
		case errors.Is(err, itemssvc.ErrForbidden):
			httperrors.Write(w, http.StatusForbidden, httperrors.APIError{
				Code:    "FORBIDDEN",
				Message: "item belongs to another owner",
			})
		case errors.Is(err, itemssvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid item id")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to delete item")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, struct {
		OK bool `json:"ok"`
	}{OK: true})
}

func mapItem(item model.EphemeralItem) dto.ItemResponse {
	return dto.ItemResponse{
		ID:                 item.ID.String(),
		OwnerID:            item.OwnerID,
		Scope:              string(item.Scope),
		RecipientID:        item.RecipientID,
		ViewingDurationSec: item.ViewingDurationSec,
		MaxReplays:         item.MaxReplays,
		CreatedAt:          item.CreatedAt,
		ExpiresAt:          item.ExpiresAt,
	}
}

func itemIDFromRequest(r *http.Request) (uuid.UUID, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeBadRequest(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusBadRequest, httperrors.APIError{Code: code, Message: message})
}

func writeUnauthorized(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusUnauthorized, httperrors.APIError{Code: code, Message: message})
}

func writeNotFound(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusNotFound, httperrors.APIError{Code: code, Message: message})
}

func writeInternal(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusInternalServerError, httperrors.APIError{Code: code, Message: message})
}
