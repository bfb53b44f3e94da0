package views

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/avoronin/peek/backend/internal/domain/enums"
	"github.com/avoronin/peek/backend/internal/domain/model"
	pgrepo "github.com/avoronin/peek/backend/internal/repo/postgres"
	expirysvc "github.com/avoronin/peek/backend/internal/services/expiry"
)

func TestRecordViewDirectLifecycle(t *testing.T) {
	now := time.Date(2026, time.March, 5, 12, 0, 0, 0, time.UTC)
	items, viewsStore, svc := newTestService(t)

	item := model.EphemeralItem{
		ID:                 uuid.New(),
		OwnerID:            1,
		Scope:              enums.ScopeDirect,
		ViewingDurationSec: 5,
		MaxReplays:         1,
		CreatedAt:          now.Add(-time.Minute),
	}
	items.add(item)

	ctx := context.Background()
	viewerID := int64(2)

	result, err := svc.RecordView(ctx, item.ID, viewerID, now, false)
	if err != nil {
		t.Fatalf("first view: %v", err)
	}
	if result.ReplayCount != 0 || !result.CanReplay {
		t.Fatalf("unexpected first view result: %+v", result)
	}

	stored := items.get(t, item.ID)
	if stored.ExpiresAt == nil {
		t.Fatalf("expected expiry stamped on first view")
	}
	if want := now.Add(5 * time.Second); !stored.ExpiresAt.Equal(want) {
		t.Fatalf("unexpected expiry: got %v want %v", stored.ExpiresAt, want)
	}

	result, err = svc.RecordView(ctx, item.ID, viewerID, now.Add(time.Second), true)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if result.ReplayCount != 1 || result.CanReplay {
		t.Fatalf("unexpected replay result: %+v", result)
	}

	_, err = svc.RecordView(ctx, item.ID, viewerID, now.Add(2*time.Second), true)
	if !errors.Is(err, ErrReplayLimit) {
		t.Fatalf("expected replay limit error, got %v", err)
	}

	rec := viewsStore.get(t, item.ID, viewerID)
	if rec.ViewCount != 2 || rec.ReplayCount != 1 {
		t.Fatalf("unexpected counters: %+v", rec)
	}
}

func TestConcurrentReplaysNeverExceedBound(t *testing.T) {
	now := time.Date(2026, time.March, 5, 12, 0, 0, 0, time.UTC)
	items, viewsStore, svc := newTestService(t)

	item := model.EphemeralItem{
		ID:                 uuid.New(),
		OwnerID:            1,
		Scope:              enums.ScopeDirect,
		ViewingDurationSec: 30,
		MaxReplays:         1,
		CreatedAt:          now.Add(-time.Minute),
	}
	items.add(item)

	ctx := context.Background()
	viewerID := int64(2)

	if _, err := svc.RecordView(ctx, item.ID, viewerID, now, false); err != nil {
		t.Fatalf("first view: %v", err)
	}

	const workers = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		granted  int
		rejected int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordView(ctx, item.ID, viewerID, now.Add(time.Second), true)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				granted++
			case errors.Is(err, ErrReplayLimit):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if granted != 1 || rejected != workers-1 {
		t.Fatalf("replay bound violated: granted=%d rejected=%d", granted, rejected)
	}
	rec := viewsStore.get(t, item.ID, viewerID)
	if rec.ReplayCount != 1 {
		t.Fatalf("unexpected replay count: %d", rec.ReplayCount)
	}
}

func TestConcurrentFirstViewsStampExpiryOnce(t *testing.T) {
	now := time.Date(2026, time.March, 5, 12, 0, 0, 0, time.UTC)
	items, _, svc := newTestService(t)

	item := model.EphemeralItem{
		ID:                 uuid.New(),
		OwnerID:            1,
		Scope:              enums.ScopeDirect,
		ViewingDurationSec: 10,
		MaxReplays:         1,
		CreatedAt:          now.Add(-time.Minute),
	}
	items.add(item)

	ctx := context.Background()
	viewerID := int64(2)

	const workers = 12
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordView(ctx, item.ID, viewerID, now, false)
			if err != nil && !errors.Is(err, ErrReplayLimit) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if items.stampWrites(item.ID) != 1 {
		t.Fatalf("expected exactly one expiry write, got %d", items.stampWrites(item.ID))
	}
}

func TestRecordViewDeniedAfterExpiry(t *testing.T) {
	now := time.Date(2026, time.March, 5, 12, 0, 0, 0, time.UTC)
	items, _, svc := newTestService(t)

	expired := now.Add(-time.Second)
	item := model.EphemeralItem{
		ID:                 uuid.New(),
		OwnerID:            1,
		Scope:              enums.ScopeDirect,
		ViewingDurationSec: 5,
		MaxReplays:         1,
		CreatedAt:          now.Add(-time.Minute),
		ExpiresAt:          &expired,
	}
	items.add(item)

	_, err := svc.RecordView(context.Background(), item.ID, 2, now, false)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected expired error, got %v", err)
	}
}

func TestRecordViewMissingItem(t *testing.T) {
	_, _, svc := newTestService(t)

	_, err := svc.RecordView(context.Background(), uuid.New(), 2, time.Now().UTC(), false)
	if !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReplayBeforeRecordedViewCountsAsFirstView(t *testing.T) {
	now := time.Date(2026, time.March, 5, 12, 0, 0, 0, time.UTC)
	items, viewsStore, svc := newTestService(t)

	item := model.EphemeralItem{
		ID:                 uuid.New(),
		OwnerID:            1,
		Scope:              enums.ScopeDirect,
		ViewingDurationSec: 5,
		MaxReplays:         1,
		CreatedAt:          now.Add(-time.Minute),
	}
	items.add(item)

	result, err := svc.RecordView(context.Background(), item.ID, 2, now, true)
	if err != nil {
		t.Fatalf("replay without record: %v", err)
	}
	if result.ReplayCount != 0 || !result.CanReplay {
		t.Fatalf("unexpected result: %+v", result)
	}
	if items.get(t, item.ID).ExpiresAt == nil {
		t.Fatalf("expected expiry stamped")
	}
	rec := viewsStore.get(t, item.ID, 2)
	if rec.ViewCount != 1 || rec.ReplayCount != 0 {
		t.Fatalf("unexpected counters: %+v", rec)
	}
}

func TestBroadcastViewsAreUnbounded(t *testing.T) {
	now := time.Date(2026, time.March, 5, 12, 0, 0, 0, time.UTC)
	items, viewsStore, svc := newTestService(t)

	expiresAt := now.Add(12 * time.Hour)
	item := model.EphemeralItem{
		ID:                 uuid.New(),
		OwnerID:            1,
		Scope:              enums.ScopeBroadcast,
		ViewingDurationSec: 10,
		CreatedAt:          now.Add(-12 * time.Hour),
		ExpiresAt:          &expiresAt,
	}
	items.add(item)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		result, err := svc.RecordView(ctx, item.ID, 2, now.Add(time.Duration(i)*time.Second), i > 0)
		if err != nil {
			t.Fatalf("broadcast view #%d: %v", i+1, err)
		}
		if !result.CanReplay {
			t.Fatalf("broadcast views must stay replayable")
		}
	}

	rec := viewsStore.get(t, item.ID, 2)
	if rec.ViewCount != 5 {
		t.Fatalf("unexpected view count: %d", rec.ViewCount)
	}
	if stored := items.get(t, item.ID); !stored.ExpiresAt.Equal(expiresAt) {
		t.Fatalf("broadcast expiry must never move: %v", stored.ExpiresAt)
	}
}

func TestCanViewReasons(t *testing.T) {
	now := time.Date(2026, time.March, 5, 12, 0, 0, 0, time.UTC)
	items, _, svc := newTestService(t)

	item := model.EphemeralItem{
		ID:                 uuid.New(),
		OwnerID:            1,
		Scope:              enums.ScopeDirect,
		ViewingDurationSec: 30,
		MaxReplays:         1,
		CreatedAt:          now.Add(-time.Minute),
	}
	items.add(item)

	ctx := context.Background()
	viewerID := int64(2)

	viewability, err := svc.CanView(ctx, item.ID, viewerID, now)
	if err != nil {
		t.Fatalf("can view fresh item: %v", err)
	}
	if !viewability.Allowed {
		t.Fatalf("fresh item must be viewable")
	}

	if _, err := svc.RecordView(ctx, item.ID, viewerID, now, false); err != nil {
		t.Fatalf("first view: %v", err)
	}
	if _, err := svc.RecordView(ctx, item.ID, viewerID, now.Add(time.Second), true); err != nil {
		t.Fatalf("replay: %v", err)
	}

	viewability, err = svc.CanView(ctx, item.ID, viewerID, now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("can view exhausted item: %v", err)
	}
	if viewability.Allowed || !errors.Is(viewability.Reason, ErrReplayLimit) {
		t.Fatalf("expected replay limit denial: %+v", viewability)
	}

	viewability, err = svc.CanView(ctx, item.ID, viewerID, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("can view expired item: %v", err)
	}
	if viewability.Allowed || !errors.Is(viewability.Reason, ErrExpired) {
		t.Fatalf("expected expiry denial: %+v", viewability)
	}

	if _, err := svc.CanView(ctx, uuid.New(), viewerID, now); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRecordViewRateLimited(t *testing.T) {
	now := time.Date(2026, time.March, 5, 12, 0, 0, 0, time.UTC)
	items, _, svc := newTestService(t)
	svc.AttachLimiter(denyLimiter{retryAfter: 7})

	item := model.EphemeralItem{
		ID:                 uuid.New(),
		OwnerID:            1,
		Scope:              enums.ScopeDirect,
		ViewingDurationSec: 5,
		MaxReplays:         1,
		CreatedAt:          now.Add(-time.Minute),
	}
	items.add(item)

	_, err := svc.RecordView(context.Background(), item.ID, 2, now, false)
	rl, ok := IsRateLimited(err)
	if !ok {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if rl.RetryAfterSec != 7 {
		t.Fatalf("unexpected retry_after: %d", rl.RetryAfterSec)
	}
}

func newTestService(t *testing.T) (*memItemStore, *memViewStore, *Service) {
	t.Helper()

	items := newMemItemStore()
	viewsStore := newMemViewStore(items)
	engine := expirysvc.NewService(items, expirysvc.Config{DirectTTLCeiling: 24 * time.Hour})

	return items, viewsStore, NewService(items, viewsStore, engine)
}

type denyLimiter struct {
	retryAfter int64
}

func (d denyLimiter) Allow(_ context.Context, _ string, _ int64) (int64, bool, error) {
	return d.retryAfter, false, nil
}

type memItemStore struct {
	mu     sync.Mutex
	items  map[uuid.UUID]model.EphemeralItem
	stamps map[uuid.UUID]int
}

func newMemItemStore() *memItemStore {
	return &memItemStore{
		items:  make(map[uuid.UUID]model.EphemeralItem),
		stamps: make(map[uuid.UUID]int),
	}
}

func (s *memItemStore) add(item model.EphemeralItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
}

func (s *memItemStore) get(t *testing.T, id uuid.UUID) model.EphemeralItem {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		t.Fatalf("item %s is missing", id)
	}
	return item
}

func (s *memItemStore) stampWrites(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stamps[id]
}

func (s *memItemStore) Get(_ context.Context, id uuid.UUID) (model.EphemeralItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return model.EphemeralItem{}, pgrepo.ErrItemNotFound
	}
	return item, nil
}

func (s *memItemStore) SetExpiryIfUnset(_ context.Context, id uuid.UUID, expiresAt time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return time.Time{}, pgrepo.ErrItemNotFound
	}
	if item.ExpiresAt == nil {
		stamped := expiresAt.UTC()
		item.ExpiresAt = &stamped
		s.items[id] = item
		s.stamps[id]++
	}
	return *item.ExpiresAt, nil
}

func (s *memItemStore) DeleteExpired(_ context.Context, now time.Time, limit int) ([]model.PurgedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := make([]model.PurgedItem, 0)
	for id, item := range s.items {
		if len(purged) >= limit {
			break
		}
		if item.ExpiresAt != nil && !item.ExpiresAt.After(now) {
			purged = append(purged, model.PurgedItem{ID: id, OwnerID: item.OwnerID, ContentKey: item.ContentKey})
			delete(s.items, id)
		}
	}
	return purged, nil
}

type viewKey struct {
	itemID   uuid.UUID
	viewerID int64
}

// memViewStore mirrors the conditional SQL semantics under a mutex so the
// concurrency properties are exercised for real.
type memViewStore struct {
	mu      sync.Mutex
	items   *memItemStore
	records map[viewKey]model.ViewRecord
}

func newMemViewStore(items *memItemStore) *memViewStore {
	return &memViewStore{
		items:   items,
		records: make(map[viewKey]model.ViewRecord),
	}
}

func (s *memViewStore) get(t *testing.T, itemID uuid.UUID, viewerID int64) model.ViewRecord {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[viewKey{itemID, viewerID}]
	if !ok {
		t.Fatalf("view record for item %s viewer %d is missing", itemID, viewerID)
	}
	return rec
}

func (s *memViewStore) Get(_ context.Context, itemID uuid.UUID, viewerID int64) (model.ViewRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[viewKey{itemID, viewerID}]
	if !ok {
		return model.ViewRecord{}, pgrepo.ErrViewRecordNotFound
	}
	return rec, nil
}

func (s *memViewStore) InsertFirstView(ctx context.Context, itemID uuid.UUID, viewerID int64, now time.Time) (model.ViewRecord, bool, error) {
	if _, err := s.items.Get(ctx, itemID); err != nil {
		return model.ViewRecord{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := viewKey{itemID, viewerID}
	if _, ok := s.records[key]; ok {
		return model.ViewRecord{}, false, nil
	}
	rec := model.ViewRecord{
		ItemID:        itemID,
		ViewerID:      viewerID,
		ViewCount:     1,
		ReplayCount:   0,
		FirstViewedAt: now.UTC(),
		LastViewedAt:  now.UTC(),
	}
	s.records[key] = rec
	return rec, true, nil
}

func (s *memViewStore) IncrementReplay(_ context.Context, itemID uuid.UUID, viewerID int64, now time.Time, maxReplays int) (model.ViewRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := viewKey{itemID, viewerID}
	rec, ok := s.records[key]
	if !ok {
		return model.ViewRecord{}, pgrepo.ErrViewRecordNotFound
	}
	if rec.ReplayCount >= maxReplays {
		return model.ViewRecord{}, pgrepo.ErrReplayLimitReached
	}
	rec.ViewCount++
	rec.ReplayCount++
	rec.LastViewedAt = now.UTC()
	s.records[key] = rec
	return rec, nil
}

func (s *memViewStore) IncrementView(_ context.Context, itemID uuid.UUID, viewerID int64, now time.Time) (model.ViewRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := viewKey{itemID, viewerID}
	rec, ok := s.records[key]
	if !ok {
		return model.ViewRecord{}, pgrepo.ErrViewRecordNotFound
	}
	rec.ViewCount++
	rec.ReplayCount++
	rec.LastViewedAt = now.UTC()
	s.records[key] = rec
	return rec, nil
}
