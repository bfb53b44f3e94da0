package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avoronin/peek/backend/internal/domain/model"
)

type CaptureRepo struct {
	pool *pgxpool.Pool
}

func NewCaptureRepo(pool *pgxpool.Pool) *CaptureRepo {
	return &CaptureRepo{pool: pool}
}

// OwnerCaptureRecord joins a capture event with the captured item so the
// external notifier can render it without extra lookups.
type OwnerCaptureRecord struct {
	Event      model.CaptureEvent
	OwnerID    int64
	ContentKey string
}

func (r *CaptureRepo) Insert(ctx context.Context, itemID uuid.UUID, capturerID int64, at time.Time) (model.CaptureEvent, error) {
	if itemID == uuid.Nil || capturerID <= 0 {
		return model.CaptureEvent{}, fmt.Errorf("invalid capture payload")
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var event model.CaptureEvent
	err := r.pool.QueryRow(ctx, `
INSERT INTO capture_events (
	item_id,
	capturer_id,
	captured_at
) VALUES ($1, $2, $3)
RETURNING id, item_id, capturer_id, captured_at
`, itemID, capturerID, at.UTC()).Scan(
		&event.ID,
		&event.ItemID,
		&event.CapturerID,
		&event.CapturedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return model.CaptureEvent{}, ErrItemNotFound
		}
		return model.CaptureEvent{}, fmt.Errorf("insert capture event: %w", err)
	}

	return event, nil
}

func (r *CaptureRepo) ListForOwner(ctx context.Context, ownerID int64, since time.Time, limit int) ([]OwnerCaptureRecord, error) {
	if ownerID <= 0 {
		return nil, fmt.Errorf("invalid owner id")
	}
	if limit <= 0 {
		limit = 100
	}
	if r.pool == nil {
		return []OwnerCaptureRecord{}, nil
	}

	rows, err := r.pool.Query(ctx, `
SELECT
	c.id,
	c.item_id,
	c.capturer_id,
	c.captured_at,
	i.owner_id,
	i.content_key
FROM capture_events c
JOIN items i ON i.id = c.item_id
WHERE i.owner_id = $1 AND c.captured_at > $2
ORDER BY c.captured_at DESC, c.id DESC
LIMIT $3
`, ownerID, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list captures for owner: %w", err)
	}
	defer rows.Close()

	records := make([]OwnerCaptureRecord, 0, limit)
	for rows.Next() {
		var rec OwnerCaptureRecord
		if err := rows.Scan(
			&rec.Event.ID,
			&rec.Event.ItemID,
			&rec.Event.CapturerID,
			&rec.Event.CapturedAt,
			&rec.OwnerID,
			&rec.ContentKey,
		); err != nil {
			return nil, fmt.Errorf("scan capture record: %w", err)
		}
		records = append(records, rec)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate capture records: %w", rows.Err())
	}

	return records, nil
}
