package expiry

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

var ErrItemNotFound = errors.New("item not found")

// ItemStore is the slice of the item repository the policy engine needs:
// the one-shot expiry stamp and the expired-row purge.
type ItemStore interface {
	SetExpiryIfUnset(ctx context.Context, id uuid.UUID, expiresAt time.Time) (time.Time, error)
	DeleteExpired(ctx context.Context, now time.Time, limit int) ([]model.PurgedItem, error)
}

type Config struct {
	// DirectTTLCeiling bounds how far past creation a direct item may live
	// once opened.
	DirectTTLCeiling time.Duration
	SweepBatchLimit  int
}

// Service is the single source of truth for item visibility. The feed
// assembler and the view tracker both delegate here instead of re-deriving
// the expiration rule.
type Service struct {
	store ItemStore
	cfg   Config
}

func NewService(store ItemStore, cfg Config) *Service {
	if cfg.DirectTTLCeiling <= 0 {
		cfg.DirectTTLCeiling = 24 * time.Hour
	}
	if cfg.SweepBatchLimit <= 0 {
		cfg.SweepBatchLimit = 500
	}

	return &Service{
		store: store,
		cfg:   cfg,
	}
}

func (s *Service) IsVisible(item model.EphemeralItem, at time.Time) bool {
	if item.Scope == enums.ScopeDirect && item.ExpiresAt == nil {
		return true
	}
	if item.ExpiresAt == nil {
		return false
	}
	return at.Before(*item.ExpiresAt)
}

// OnFirstFullView stamps the expiry of a direct item the first time a view
// completes. Racing callers converge: the store keeps the first written
// value and everyone gets it back.
func (s *Service) OnFirstFullView(ctx context.Context, item model.EphemeralItem, at time.Time) (time.Time, error) {
	if item.Scope != enums.ScopeDirect {
		return time.Time{}, fmt.Errorf("first-view expiry applies to direct items only")
	}
	if item.ExpiresAt != nil {
		return item.ExpiresAt.UTC(), nil
	}
	if s.store == nil {
		return time.Time{}, fmt.Errorf("expiry item store is nil")
	}

	expiresAt := at.UTC().Add(time.Duration(item.ViewingDurationSec) * time.Second)
	ceiling := item.CreatedAt.UTC().Add(s.cfg.DirectTTLCeiling)
	if expiresAt.After(ceiling) {
		expiresAt = ceiling
	}

	effective, err := s.store.SetExpiryIfUnset(ctx, item.ID, expiresAt)
	if err != nil {
		if errors.Is(err, pgrepo.ErrItemNotFound) {
			return time.Time{}, ErrItemNotFound
		}
		return time.Time{}, fmt.Errorf("stamp first-view expiry: %w", err)
	}

	return effective, nil
}

// Sweep purges everything past its expiry. Idempotent and safe to run
// concurrently with itself; partial progress is fine, the next tick picks
// up the rest.
func (s *Service) Sweep(ctx context.Context, now time.Time) ([]model.PurgedItem, error) {
	if s.store == nil {
		return nil, fmt.Errorf("expiry item store is nil")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	purged, err := s.store.DeleteExpired(ctx, now.UTC(), s.cfg.SweepBatchLimit)
	if err != nil {
		return nil, fmt.Errorf("purge expired items: %w", err)
	}

	return purged, nil
}
