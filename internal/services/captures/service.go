package captures

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avoronin/peek/backend/internal/domain/model"
	"github.com/avoronin/peek/backend/internal/infra/events"
	pgrepo "github.com/avoronin/peek/backend/internal/repo/postgres"
)

var (
	ErrValidation   = errors.New("validation error")
	ErrItemNotFound = errors.New("item not found")
)

type CaptureStore interface {
	Insert(ctx context.Context, itemID uuid.UUID, capturerID int64, capturedAt time.Time) (model.CaptureEvent, error)
	ListForOwner(ctx context.Context, ownerID int64, since time.Time, limit int) ([]pgrepo.OwnerCaptureRecord, error)
}

type ItemStore interface {
	Get(ctx context.Context, id uuid.UUID) (model.EphemeralItem, error)
}

type EventSink interface {
	Publish(ctx context.Context, event events.Event) error
}

// Notice is a capture event enriched for the owner: who captured which
// item and when.
type Notice struct {
	Event      model.CaptureEvent
	ContentKey string
}

type Config struct {
	ListLimit int
}

type Dependencies struct {
	Store  CaptureStore
	Items  ItemStore
	Sink   EventSink
	Logger *zap.Logger
}

// Service records screenshot captures and surfaces them to item owners.
// Capture events outlive the item they reference on the read side only as
// long as the item row does; a purge removes the evidence with the content.
type Service struct {
	store  CaptureStore
	items  ItemStore
	sink   EventSink
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func NewService(deps Dependencies, cfg Config) *Service {
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = 100
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &Service{
		store:  deps.Store,
		items:  deps.Items,
		sink:   deps.Sink,
		cfg:    cfg,
		logger: deps.Logger,
		now:    time.Now,
	}
}

// Record persists a capture report. Captures are append-only: repeated
// captures by the same viewer each produce a distinct event, and an event
// is never updated after the fact. Captures against an already-expired
// item are still recorded as long as the row exists; the viewer plainly
// had the content on screen.
func (s *Service) Record(ctx context.Context, itemID uuid.UUID, capturerID int64, capturedAt time.Time) (model.CaptureEvent, error) {
	if itemID == uuid.Nil || capturerID <= 0 {
		return model.CaptureEvent{}, ErrValidation
	}
	if s.store == nil || s.items == nil {
		return model.CaptureEvent{}, fmt.Errorf("capture store is not configured")
	}
	if capturedAt.IsZero() {
		capturedAt = s.now().UTC()
	}

	item, err := s.items.Get(ctx, itemID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrItemNotFound) {
			return model.CaptureEvent{}, ErrItemNotFound
		}
		return model.CaptureEvent{}, err
	}

	event, err := s.store.Insert(ctx, itemID, capturerID, capturedAt.UTC())
	if err != nil {
		if errors.Is(err, pgrepo.ErrItemNotFound) {
			return model.CaptureEvent{}, ErrItemNotFound
		}
		return model.CaptureEvent{}, fmt.Errorf("record capture: %w", err)
	}

	s.notify(ctx, events.Event{
		Name:    events.CaptureRecorded,
		ItemID:  item.ID.String(),
		OwnerID: item.OwnerID,
		ActorID: capturerID,
		At:      event.CapturedAt,
	})

	return event, nil
}

// ListForOwner returns capture notices for the owner's items newer than
// since, most recent first.
func (s *Service) ListForOwner(ctx context.Context, ownerID int64, since time.Time) ([]Notice, error) {
	if ownerID <= 0 {
		return nil, ErrValidation
	}
	if s.store == nil {
		return nil, fmt.Errorf("capture store is not configured")
	}

	records, err := s.store.ListForOwner(ctx, ownerID, since.UTC(), s.cfg.ListLimit)
	if err != nil {
		return nil, fmt.Errorf("list captures: %w", err)
	}

	notices := make([]Notice, 0, len(records))
	for _, rec := range records {
		notices = append(notices, Notice{
			Event:      rec.Event,
			ContentKey: rec.ContentKey,
		})
	}

	return notices, nil
}

func (s *Service) notify(ctx context.Context, event events.Event) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish capture event", zap.Error(err), zap.String("item_id", event.ItemID))
	}
}
