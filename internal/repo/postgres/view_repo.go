package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avoronin/peek/backend/internal/domain/model"
)

var (
	ErrViewRecordNotFound = errors.New("view record not found")
	ErrReplayLimitReached = errors.New("replay limit reached")
)

type ViewRepo struct {
	pool *pgxpool.Pool
}

func NewViewRepo(pool *pgxpool.Pool) *ViewRepo {
	return &ViewRepo{pool: pool}
}

func (r *ViewRepo) Get(ctx context.Context, itemID uuid.UUID, viewerID int64) (model.ViewRecord, error) {
	if itemID == uuid.Nil || viewerID <= 0 {
		return model.ViewRecord{}, fmt.Errorf("invalid view lookup payload")
	}
	if r.pool == nil {
		return model.ViewRecord{}, ErrViewRecordNotFound
	}

	var rec model.ViewRecord
	err := r.pool.QueryRow(ctx, `
SELECT item_id, viewer_id, view_count, replay_count, first_viewed_at, last_viewed_at
FROM view_records
WHERE item_id = $1 AND viewer_id = $2
`, itemID, viewerID).Scan(
		&rec.ItemID,
		&rec.ViewerID,
		&rec.ViewCount,
		&rec.ReplayCount,
		&rec.FirstViewedAt,
		&rec.LastViewedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ViewRecord{}, ErrViewRecordNotFound
		}
		return model.ViewRecord{}, fmt.Errorf("get view record: %w", err)
	}

	return rec, nil
}

// InsertFirstView creates the (item, viewer) record with a zero replay
// count. Returns created=false when another request got there first; the
// caller then retries through the replay path.
func (r *ViewRepo) InsertFirstView(ctx context.Context, itemID uuid.UUID, viewerID int64, now time.Time) (model.ViewRecord, bool, error) {
	if itemID == uuid.Nil || viewerID <= 0 {
		return model.ViewRecord{}, false, fmt.Errorf("invalid view payload")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var rec model.ViewRecord
	err := r.pool.QueryRow(ctx, `
INSERT INTO view_records (
	item_id,
	viewer_id,
	view_count,
	replay_count,
	first_viewed_at,
	last_viewed_at
) VALUES ($1, $2, 1, 0, $3, $3)
ON CONFLICT (item_id, viewer_id) DO NOTHING
RETURNING item_id, viewer_id, view_count, replay_count, first_viewed_at, last_viewed_at
`, itemID, viewerID, now.UTC()).Scan(
		&rec.ItemID,
		&rec.ViewerID,
		&rec.ViewCount,
		&rec.ReplayCount,
		&rec.FirstViewedAt,
		&rec.LastViewedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ViewRecord{}, false, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return model.ViewRecord{}, false, ErrItemNotFound
		}
		return model.ViewRecord{}, false, fmt.Errorf("insert first view: %w", err)
	}

	return rec, true, nil
}

// IncrementReplay is the conditional check-and-increment: it only succeeds
// while replay_count is below the limit, so two racing replays can never
// both claim the last slot.
func (r *ViewRepo) IncrementReplay(ctx context.Context, itemID uuid.UUID, viewerID int64, now time.Time, maxReplays int) (model.ViewRecord, error) {
	if itemID == uuid.Nil || viewerID <= 0 || maxReplays < 0 {
		return model.ViewRecord{}, fmt.Errorf("invalid replay payload")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var rec model.ViewRecord
	err := r.pool.QueryRow(ctx, `
UPDATE view_records
SET
	view_count = view_count + 1,
	replay_count = replay_count + 1,
	last_viewed_at = $3
WHERE item_id = $1 AND viewer_id = $2 AND replay_count < $4
RETURNING item_id, viewer_id, view_count, replay_count, first_viewed_at, last_viewed_at
`, itemID, viewerID, now.UTC(), maxReplays).Scan(
		&rec.ItemID,
		&rec.ViewerID,
		&rec.ViewCount,
		&rec.ReplayCount,
		&rec.FirstViewedAt,
		&rec.LastViewedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, lookupErr := r.Get(ctx, itemID, viewerID); errors.Is(lookupErr, ErrViewRecordNotFound) {
				return model.ViewRecord{}, ErrViewRecordNotFound
			}
			return model.ViewRecord{}, ErrReplayLimitReached
		}
		return model.ViewRecord{}, fmt.Errorf("increment replay: %w", err)
	}

	return rec, nil
}

// IncrementView bumps the counters without a replay ceiling; used for
// broadcast items, which stay replayable for their whole window.
func (r *ViewRepo) IncrementView(ctx context.Context, itemID uuid.UUID, viewerID int64, now time.Time) (model.ViewRecord, error) {
	if itemID == uuid.Nil || viewerID <= 0 {
		return model.ViewRecord{}, fmt.Errorf("invalid view payload")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var rec model.ViewRecord
	err := r.pool.QueryRow(ctx, `
UPDATE view_records
SET
	view_count = view_count + 1,
	replay_count = replay_count + 1,
	last_viewed_at = $3
WHERE item_id = $1 AND viewer_id = $2
RETURNING item_id, viewer_id, view_count, replay_count, first_viewed_at, last_viewed_at
`, itemID, viewerID, now.UTC()).Scan(
		&rec.ItemID,
		&rec.ViewerID,
		&rec.ViewCount,
		&rec.ReplayCount,
		&rec.FirstViewedAt,
		&rec.LastViewedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ViewRecord{}, ErrViewRecordNotFound
		}
		return model.ViewRecord{}, fmt.Errorf("increment view: %w", err)
	}

	return rec, nil
}

func (r *ViewRepo) ListForViewer(ctx context.Context, itemIDs []uuid.UUID, viewerID int64) (map[uuid.UUID]model.ViewRecord, error) {
	if viewerID <= 0 {
		return nil, fmt.Errorf("invalid viewer id")
	}
	if len(itemIDs) == 0 || r.pool == nil {
		return map[uuid.UUID]model.ViewRecord{}, nil
	}

	rows, err := r.pool.Query(ctx, `
SELECT item_id, viewer_id, view_count, replay_count, first_viewed_at, last_viewed_at
FROM view_records
WHERE viewer_id = $1 AND item_id = ANY($2)
`, viewerID, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("list view records: %w", err)
	}
	defer rows.Close()

	records := make(map[uuid.UUID]model.ViewRecord, len(itemIDs))
	for rows.Next() {
		var rec model.ViewRecord
		if err := rows.Scan(
			&rec.ItemID,
			&rec.ViewerID,
			&rec.ViewCount,
			&rec.ReplayCount,
			&rec.FirstViewedAt,
			&rec.LastViewedAt,
		); err != nil {
			return nil, fmt.Errorf("scan view record: %w", err)
		}
		records[rec.ItemID] = rec
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate view records: %w", rows.Err())
	}

	return records, nil
}
