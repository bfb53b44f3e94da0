package views

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/avoronin/peek/backend/internal/domain/enums"
	"github.com/avoronin/peek/backend/internal/domain/model"
	pgrepo "github.com/avoronin/peek/backend/internal/repo/postgres"
)

var (
	ErrValidation   = errors.New("validation error")
	ErrItemNotFound = errors.New("item not found")
	ErrExpired      = errors.New("item has expired")
	ErrReplayLimit  = errors.New("replay limit exceeded")
)

type ItemStore interface {
	Get(ctx context.Context, id uuid.UUID) (model.EphemeralItem, error)
}

type ViewStore interface {
	Get(ctx context.Context, itemID uuid.UUID, viewerID int64) (model.ViewRecord, error)
	InsertFirstView(ctx context.Context, itemID uuid.UUID, viewerID int64, now time.Time) (model.ViewRecord, bool, error)
	IncrementReplay(ctx context.Context, itemID uuid.UUID, viewerID int64, now time.Time, maxReplays int) (model.ViewRecord, error)
	IncrementView(ctx context.Context, itemID uuid.UUID, viewerID int64, now time.Time) (model.ViewRecord, error)
}

// ExpiryEngine is the visibility oracle; the tracker never re-derives the
// expiration rule itself.
type ExpiryEngine interface {
	IsVisible(item model.EphemeralItem, at time.Time) bool
	OnFirstFullView(ctx context.Context, item model.EphemeralItem, at time.Time) (time.Time, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, action string, userID int64) (int64, bool, error)
}

type Viewability struct {
	Allowed bool
	Reason  error
}

type ViewResult struct {
	ReplayCount int
	CanReplay   bool
}

type Service struct {
	items   ItemStore
	store   ViewStore
	expiry  ExpiryEngine
	limiter RateLimiter
	now     func() time.Time
}

func NewService(items ItemStore, store ViewStore, expiry ExpiryEngine) *Service {
	return &Service{
		items:  items,
		store:  store,
		expiry: expiry,
		now:    time.Now,
	}
}

func (s *Service) AttachLimiter(limiter RateLimiter) {
	s.limiter = limiter
}

// CanView answers without mutating anything; callers racing a purge are
// denied via ErrItemNotFound, never granted an extra view.
func (s *Service) CanView(ctx context.Context, itemID uuid.UUID, viewerID int64, now time.Time) (Viewability, error) {
	if itemID == uuid.Nil || viewerID <= 0 {
		return Viewability{}, ErrValidation
	}
	if s.items == nil || s.store == nil || s.expiry == nil {
		return Viewability{}, fmt.Errorf("view tracker dependencies are not configured")
	}
	if now.IsZero() {
		now = s.now().UTC()
	}

	item, err := s.items.Get(ctx, itemID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrItemNotFound) {
			return Viewability{}, ErrItemNotFound
		}
		return Viewability{}, err
	}

	if !s.expiry.IsVisible(item, now) {
		return Viewability{Allowed: false, Reason: ErrExpired}, nil
	}
	if item.Scope == enums.ScopeBroadcast {
		return Viewability{Allowed: true}, nil
	}

	rec, err := s.store.Get(ctx, itemID, viewerID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrViewRecordNotFound) {
			return Viewability{Allowed: true}, nil
		}
		return Viewability{}, err
	}

	if rec.ReplayCount >= item.MaxReplays {
		return Viewability{Allowed: false, Reason: ErrReplayLimit}, nil
	}
	return Viewability{Allowed: true}, nil
}

// RecordView consumes a view. All counter movement is a single conditional
// update in the store, so concurrent requests for the same (item, viewer)
// can never overshoot the replay budget.
func (s *Service) RecordView(ctx context.Context, itemID uuid.UUID, viewerID int64, now time.Time, isReplay bool) (ViewResult, error) {
	if itemID == uuid.Nil || viewerID <= 0 {
		return ViewResult{}, ErrValidation
	}
	if s.items == nil || s.store == nil || s.expiry == nil {
		return ViewResult{}, fmt.Errorf("view tracker dependencies are not configured")
	}
	if now.IsZero() {
		now = s.now().UTC()
	}

	if s.limiter != nil {
		retryAfter, allowed, err := s.limiter.Allow(ctx, "view", viewerID)
		if err != nil {
			return ViewResult{}, fmt.Errorf("apply view rate limit: %w", err)
		}
		if !allowed {
			return ViewResult{}, RateLimitError{RetryAfterSec: retryAfter}
		}
	}

	item, err := s.items.Get(ctx, itemID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrItemNotFound) {
			return ViewResult{}, ErrItemNotFound
		}
		return ViewResult{}, err
	}

	if !s.expiry.IsVisible(item, now) {
		return ViewResult{}, ErrExpired
	}

	if item.Scope == enums.ScopeBroadcast {
		return s.recordBroadcastView(ctx, item, viewerID, now)
	}
	return s.recordDirectView(ctx, item, viewerID, now, isReplay)
}

func (s *Service) recordDirectView(ctx context.Context, item model.EphemeralItem, viewerID int64, now time.Time, isReplay bool) (ViewResult, error) {
	if !isReplay {
		rec, created, err := s.store.InsertFirstView(ctx, item.ID, viewerID, now)
		if err != nil {
			if errors.Is(err, pgrepo.ErrItemNotFound) {
				return ViewResult{}, ErrItemNotFound
			}
			return ViewResult{}, err
		}
		if created {
			if item.ExpiresAt == nil {
				if _, err := s.expiry.OnFirstFullView(ctx, item, now); err != nil {
					return ViewResult{}, fmt.Errorf("stamp expiry on first view: %w", err)
				}
			}
			return ViewResult{
				ReplayCount: rec.ReplayCount,
				CanReplay:   rec.ReplayCount < item.MaxReplays,
			}, nil
		}
		// Another device of this viewer won the first view; this open
		// consumes a replay slot instead.
	}

	rec, err := s.store.IncrementReplay(ctx, item.ID, viewerID, now, item.MaxReplays)
	if err != nil {
		switch {
		case errors.Is(err, pgrepo.ErrViewRecordNotFound):
			// A replay was requested before any recorded view. Count it
			// as the first view rather than failing the open.
			return s.recordDirectView(ctx, item, viewerID, now, false)
		case errors.Is(err, pgrepo.ErrReplayLimitReached):
			return ViewResult{}, ErrReplayLimit
		case errors.Is(err, pgrepo.ErrItemNotFound):
			return ViewResult{}, ErrItemNotFound
		default:
			return ViewResult{}, err
		}
	}

	return ViewResult{
		ReplayCount: rec.ReplayCount,
		CanReplay:   rec.ReplayCount < item.MaxReplays,
	}, nil
}

func (s *Service) recordBroadcastView(ctx context.Context, item model.EphemeralItem, viewerID int64, now time.Time) (ViewResult, error) {
	rec, created, err := s.store.InsertFirstView(ctx, item.ID, viewerID, now)
	if err != nil {
		if errors.Is(err, pgrepo.ErrItemNotFound) {
			return ViewResult{}, ErrItemNotFound
		}
		return ViewResult{}, err
	}
	if !created {
		rec, err = s.store.IncrementView(ctx, item.ID, viewerID, now)
		if err != nil {
			if errors.Is(err, pgrepo.ErrViewRecordNotFound) {
				return ViewResult{}, ErrItemNotFound
			}
			return ViewResult{}, err
		}
	}

	return ViewResult{
		ReplayCount: rec.ReplayCount,
		CanReplay:   true,
	}, nil
}
