package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avoronin/peek/backend/internal/domain/model"
)

var ErrValidation = errors.New("validation error")

type ItemStore interface {
	ListDirectForRecipient(ctx context.Context, recipientID int64) ([]model.EphemeralItem, error)
	ListBroadcastBySenders(ctx context.Context, senderIDs []int64) ([]model.EphemeralItem, error)
}

type ViewStore interface {
	ListForViewer(ctx context.Context, itemIDs []uuid.UUID, viewerID int64) (map[uuid.UUID]model.ViewRecord, error)
}

type Visibility interface {
	IsVisible(item model.EphemeralItem, at time.Time) bool
}

// ContentResolver turns opaque content keys into short-lived URLs. Optional;
// without it feed entries carry no URL and the client fetches by key.
type ContentResolver interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type Config struct {
	ContentURLTTL time.Duration
}

type Dependencies struct {
	Items    ItemStore
	Views    ViewStore
	Expiry   Visibility
	Resolver ContentResolver
	Logger   *zap.Logger
}

// Service assembles feeds as pure projections over the stores. It holds no
// state of its own and filters every candidate through the expiry engine.
type Service struct {
	items    ItemStore
	views    ViewStore
	expiry   Visibility
	resolver ContentResolver
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(deps Dependencies, cfg Config) *Service {
	if cfg.ContentURLTTL <= 0 {
		cfg.ContentURLTTL = 5 * time.Minute
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &Service{
		items:    deps.Items,
		views:    deps.Views,
		expiry:   deps.Expiry,
		resolver: deps.Resolver,
		cfg:      cfg,
		logger:   deps.Logger,
		now:      time.Now,
	}
}

// GetDirectFeed lists visible direct items addressed to the viewer, newest
// first, annotated with the viewer's own view state.
func (s *Service) GetDirectFeed(ctx context.Context, viewerID int64, now time.Time) ([]model.FeedEntry, error) {
	if viewerID <= 0 {
		return nil, ErrValidation
	}
	if s.items == nil || s.expiry == nil {
		return nil, fmt.Errorf("feed dependencies are not configured")
	}
	if now.IsZero() {
		now = s.now().UTC()
	}

	candidates, err := s.items.ListDirectForRecipient(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("list direct items: %w", err)
	}

	visible := make([]model.EphemeralItem, 0, len(candidates))
	for _, item := range candidates {
		if s.expiry.IsVisible(item, now) {
			visible = append(visible, item)
		}
	}

	states, err := s.viewStates(ctx, viewerID, visible)
	if err != nil {
		return nil, err
	}

	entries := make([]model.FeedEntry, 0, len(visible))
	for _, item := range visible {
		entry := model.FeedEntry{Item: item}
		if state, ok := states[item.ID]; ok {
			stateCopy := state
			entry.ViewState = &stateCopy
		}
		s.attachContentURL(ctx, &entry)
		entries = append(entries, entry)
	}

	return entries, nil
}

// GetBroadcastFeed returns one entry per sender with visible broadcast
// items: the sender's latest item, the count of their active items, and
// whether the viewer has already seen the latest one. The viewer's own
// row sorts first; the rest order by latest-item recency.
func (s *Service) GetBroadcastFeed(ctx context.Context, viewerID int64, visibleSenders []int64, now time.Time) ([]model.FeedEntry, error) {
	if viewerID <= 0 {
		return nil, ErrValidation
	}
	if s.items == nil || s.expiry == nil {
		return nil, fmt.Errorf("feed dependencies are not configured")
	}
	if now.IsZero() {
		now = s.now().UTC()
	}

	senders := dedupeSenders(viewerID, visibleSenders)

	candidates, err := s.items.ListBroadcastBySenders(ctx, senders)
	if err != nil {
		return nil, fmt.Errorf("list broadcast items: %w", err)
	}

	type senderGroup struct {
		latest model.EphemeralItem
		active int
	}
	groups := make(map[int64]*senderGroup)
	for _, item := range candidates {
		if !s.expiry.IsVisible(item, now) {
			continue
		}
		group, ok := groups[item.OwnerID]
		if !ok {
			groups[item.OwnerID] = &senderGroup{latest: item, active: 1}
			continue
		}
		group.active++
		if laterItem(item, group.latest) {
			group.latest = item
		}
	}

	latestItems := make([]model.EphemeralItem, 0, len(groups))
	for _, group := range groups {
		latestItems = append(latestItems, group.latest)
	}
	states, err := s.viewStates(ctx, viewerID, latestItems)
	if err != nil {
		return nil, err
	}

	entries := make([]model.FeedEntry, 0, len(groups))
	for _, group := range groups {
		entry := model.FeedEntry{
			Item:             group.latest,
			TotalActiveCount: group.active,
		}
		if state, ok := states[group.latest.ID]; ok {
			stateCopy := state
			entry.ViewState = &stateCopy
			entry.ViewerHasSeenLatest = state.ViewCount > 0
		}
		s.attachContentURL(ctx, &entry)
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if (a.Item.OwnerID == viewerID) != (b.Item.OwnerID == viewerID) {
			return a.Item.OwnerID == viewerID
		}
		if !a.Item.CreatedAt.Equal(b.Item.CreatedAt) {
			return a.Item.CreatedAt.After(b.Item.CreatedAt)
		}
		return a.Item.ID.String() < b.Item.ID.String()
	})

	return entries, nil
}

func (s *Service) viewStates(ctx context.Context, viewerID int64, items []model.EphemeralItem) (map[uuid.UUID]model.ViewRecord, error) {
	if s.views == nil || len(items) == 0 {
		return map[uuid.UUID]model.ViewRecord{}, nil
	}

	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}

	states, err := s.views.ListForViewer(ctx, ids, viewerID)
	if err != nil {
		return nil, fmt.Errorf("list view states: %w", err)
	}

	return states, nil
}

func (s *Service) attachContentURL(ctx context.Context, entry *model.FeedEntry) {
	if s.resolver == nil || entry.Item.ContentKey == "" {
		return
	}

	contentURL, err := s.resolver.PresignGet(ctx, entry.Item.ContentKey, s.cfg.ContentURLTTL)
	if err != nil {
		s.logger.Warn("failed to presign feed content", zap.Error(err), zap.String("item_id", entry.Item.ID.String()))
		return
	}
	entry.ContentURL = &contentURL
}

func dedupeSenders(viewerID int64, senders []int64) []int64 {
	seen := map[int64]struct{}{viewerID: {}}
	out := make([]int64, 0, len(senders)+1)
	out = append(out, viewerID)
	for _, id := range senders {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func laterItem(a, b model.EphemeralItem) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}
