package sweep

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/avoronin/peek/backend/internal/domain/model"
	"github.com/avoronin/peek/backend/internal/infra/events"
)

type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) ([]model.PurgedItem, error)
}

type ContentStorage interface {
	Delete(ctx context.Context, key string) error
}

type EventSink interface {
	Publish(ctx context.Context, event events.Event) error
}

// Job drains expired items in batches. Each run sweeps until a batch comes
// back short, so a backlog clears in one run instead of one tick per batch.
type Job struct {
	sweeper  Sweeper
	storage  ContentStorage
	sink     EventSink
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

func New(sweeper Sweeper, storage ContentStorage, sink EventSink, interval time.Duration, logger *zap.Logger) *Job {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Job{
		sweeper:  sweeper,
		storage:  storage,
		sink:     sink,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

// Run purges everything currently expired. Returns the number of items
// purged; safe to invoke concurrently with itself and with the API.
func (j *Job) Run(ctx context.Context) (int, error) {
	if j.sweeper == nil {
		return 0, fmt.Errorf("sweep job has no sweeper")
	}

	total := 0
	for {
		purged, err := j.sweeper.Sweep(ctx, j.now().UTC())
		if err != nil {
			return total, fmt.Errorf("sweep expired items: %w", err)
		}
		if len(purged) == 0 {
			break
		}

		for _, item := range purged {
			j.releaseContent(ctx, item)
			j.publish(ctx, item)
		}
		total += len(purged)
	}

	if total > 0 {
		j.logger.Info("sweep completed", zap.Int("purged", total))
	}
	return total, nil
}

// Start blocks, sweeping every interval until the context ends.
func (j *Job) Start(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		if _, err := j.Run(ctx); err != nil {
			j.logger.Error("sweep run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (j *Job) releaseContent(ctx context.Context, item model.PurgedItem) {
	if j.storage == nil || item.ContentKey == "" {
		return
	}
	if err := j.storage.Delete(ctx, item.ContentKey); err != nil {
		j.logger.Warn("failed to delete purged content object", zap.Error(err), zap.String("content_key", item.ContentKey))
	}
}

func (j *Job) publish(ctx context.Context, item model.PurgedItem) {
	if j.sink == nil {
		return
	}
	event := events.Event{
		Name:    events.ItemPurged,
		ItemID:  item.ID.String(),
		OwnerID: item.OwnerID,
		At:      j.now().UTC(),
	}
	if err := j.sink.Publish(ctx, event); err != nil {
		j.logger.Warn("failed to publish purge event", zap.Error(err), zap.String("item_id", event.ItemID))
	}
}
