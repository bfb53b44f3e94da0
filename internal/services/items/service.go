package items

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avoronin/peek/backend/internal/domain/enums"
	"github.com/avoronin/peek/backend/internal/domain/model"
	"github.com/avoronin/peek/backend/internal/infra/events"
	pgrepo "github.com/avoronin/peek/backend/internal/repo/postgres"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrInvalidPolicy = errors.New("invalid item policy")
	ErrNotFound      = errors.New("item not found")
	ErrForbidden     = errors.New("item belongs to another owner")
	ErrRateLimited   = errors.New("item creation rate limit reached")
)

type ItemStore interface {
	Insert(ctx context.Context, item model.EphemeralItem) error
	Get(ctx context.Context, id uuid.UUID) (model.EphemeralItem, error)
	DeleteCascade(ctx context.Context, id uuid.UUID) (model.PurgedItem, bool, error)
}

// ContentStorage releases stored objects when an item goes away. Uploads
// happen out of band; the core only ever receives a key.
type ContentStorage interface {
	Delete(ctx context.Context, key string) error
}

type EventSink interface {
	Publish(ctx context.Context, event events.Event) error
}

type RateLimiter interface {
	Allow(ctx context.Context, action string, userID int64) (int64, bool, error)
}

type Config struct {
	ViewingDurationMinSec   int
	ViewingDurationMaxSec   int
	DirectDefaultMaxReplays int
	BroadcastTTL            time.Duration
}

type CreateParams struct {
	OwnerID            int64
	Scope              enums.ItemScope
	RecipientID        *int64
	ContentKey         string
	ViewingDurationSec int
	// MaxReplays nil means "use the configured direct default".
	MaxReplays *int
}

type Service struct {
	store   ItemStore
	storage ContentStorage
	sink    EventSink
	limiter RateLimiter
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
	newID   func() uuid.UUID
}

type Dependencies struct {
	Store   ItemStore
	Storage ContentStorage
	Sink    EventSink
	Limiter RateLimiter
	Logger  *zap.Logger
}

func NewService(deps Dependencies, cfg Config) *Service {
	if cfg.ViewingDurationMinSec <= 0 {
		cfg.ViewingDurationMinSec = 1
	}
	if cfg.ViewingDurationMaxSec <= 0 {
		cfg.ViewingDurationMaxSec = 60
	}
	if cfg.DirectDefaultMaxReplays <= 0 {
		cfg.DirectDefaultMaxReplays = 1
	}
	if cfg.BroadcastTTL <= 0 {
		cfg.BroadcastTTL = 24 * time.Hour
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &Service{
		store:   deps.Store,
		storage: deps.Storage,
		sink:    deps.Sink,
		limiter: deps.Limiter,
		cfg:     cfg,
		logger:  deps.Logger,
		now:     time.Now,
		newID:   uuid.New,
	}
}

func (s *Service) Create(ctx context.Context, params CreateParams) (model.EphemeralItem, error) {
	if params.OwnerID <= 0 {
		return model.EphemeralItem{}, ErrValidation
	}
	if s.store == nil {
		return model.EphemeralItem{}, fmt.Errorf("item store is not configured")
	}

	item, err := s.buildItem(params)
	if err != nil {
		return model.EphemeralItem{}, err
	}

	if s.limiter != nil {
		retryAfter, allowed, err := s.limiter.Allow(ctx, "create", params.OwnerID)
		if err != nil {
			return model.EphemeralItem{}, fmt.Errorf("apply create rate limit: %w", err)
		}
		if !allowed {
			return model.EphemeralItem{}, RateLimitError{RetryAfterSec: retryAfter}
		}
	}

	if err := s.store.Insert(ctx, item); err != nil {
		return model.EphemeralItem{}, fmt.Errorf("create item: %w", err)
	}

	s.publish(ctx, events.Event{
		Name:    events.ItemCreated,
		ItemID:  item.ID.String(),
		OwnerID: item.OwnerID,
		At:      item.CreatedAt,
	})

	return item, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (model.EphemeralItem, error) {
	if id == uuid.Nil {
		return model.EphemeralItem{}, ErrValidation
	}
	if s.store == nil {
		return model.EphemeralItem{}, fmt.Errorf("item store is not configured")
	}

	item, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, pgrepo.ErrItemNotFound) {
			return model.EphemeralItem{}, ErrNotFound
		}
		return model.EphemeralItem{}, err
	}

	return item, nil
}

// Delete is idempotent: deleting an item that is already gone succeeds.
func (s *Service) Delete(ctx context.Context, ownerID int64, id uuid.UUID) error {
	if ownerID <= 0 || id == uuid.Nil {
		return ErrValidation
	}
	if s.store == nil {
		return fmt.Errorf("item store is not configured")
	}

	item, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, pgrepo.ErrItemNotFound) {
			return nil
		}
		return err
	}
	if item.OwnerID != ownerID {
		return ErrForbidden
	}

	purged, found, err := s.store.DeleteCascade(ctx, id)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if !found {
		return nil
	}

	s.releaseContent(ctx, purged.ContentKey)
	s.publish(ctx, events.Event{
		Name:    events.ItemDeleted,
		ItemID:  purged.ID.String(),
		OwnerID: purged.OwnerID,
		ActorID: ownerID,
		At:      s.now().UTC(),
	})

	return nil
}

func (s *Service) buildItem(params CreateParams) (model.EphemeralItem, error) {
	if !params.Scope.Valid() {
		return model.EphemeralItem{}, ErrInvalidPolicy
	}
	if strings.TrimSpace(params.ContentKey) == "" {
		return model.EphemeralItem{}, ErrInvalidPolicy
	}
	if params.ViewingDurationSec < s.cfg.ViewingDurationMinSec || params.ViewingDurationSec > s.cfg.ViewingDurationMaxSec {
		return model.EphemeralItem{}, ErrInvalidPolicy
	}
	if params.MaxReplays != nil && *params.MaxReplays < 0 {
		return model.EphemeralItem{}, ErrInvalidPolicy
	}

	now := s.now().UTC()
	item := model.EphemeralItem{
		ID:                 s.newID(),
		OwnerID:            params.OwnerID,
		Scope:              params.Scope,
		ContentKey:         strings.TrimSpace(params.ContentKey),
		ViewingDurationSec: params.ViewingDurationSec,
		CreatedAt:          now,
	}

	switch params.Scope {
	case enums.ScopeDirect:
		if params.RecipientID == nil || *params.RecipientID <= 0 || *params.RecipientID == params.OwnerID {
			return model.EphemeralItem{}, ErrInvalidPolicy
		}
		recipient := *params.RecipientID
		item.RecipientID = &recipient

		maxReplays := s.cfg.DirectDefaultMaxReplays
		if params.MaxReplays != nil {
			maxReplays = *params.MaxReplays
		}
		item.MaxReplays = maxReplays
		// Direct items get no expiry until the first full view.
	case enums.ScopeBroadcast:
		if params.RecipientID != nil {
			return model.EphemeralItem{}, ErrInvalidPolicy
		}
		expiresAt := now.Add(s.cfg.BroadcastTTL)
		item.ExpiresAt = &expiresAt
		item.MaxReplays = 0
	}

	return item, nil
}

func (s *Service) releaseContent(ctx context.Context, key string) {
	if s.storage == nil || key == "" {
		return
	}
	if err := s.storage.Delete(ctx, key); err != nil {
		s.logger.Warn("failed to delete content object", zap.Error(err), zap.String("content_key", key))
	}
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish item event", zap.Error(err), zap.String("event", event.Name))
	}
}
