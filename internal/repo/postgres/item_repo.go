package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avoronin/peek/backend/internal/domain/enums"
	"github.com/avoronin/peek/backend/internal/domain/model"
)

var ErrItemNotFound = errors.New("item not found")

type ItemRepo struct {
	pool *pgxpool.Pool
}

func NewItemRepo(pool *pgxpool.Pool) *ItemRepo {
	return &ItemRepo{pool: pool}
}

func (r *ItemRepo) Insert(ctx context.Context, item model.EphemeralItem) error {
	if item.ID == uuid.Nil || item.OwnerID <= 0 || !item.Scope.Valid() {
		return fmt.Errorf("invalid item payload")
	}
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	if _, err := r.pool.Exec(ctx, `
INSERT INTO items (
	id,
	owner_id,
	scope,
	recipient_id,
	content_key,
	viewing_duration_sec,
	max_replays,
	created_at,
	expires_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`,
		item.ID,
		item.OwnerID,
		string(item.Scope),
		item.RecipientID,
		item.ContentKey,
		item.ViewingDurationSec,
		item.MaxReplays,
		item.CreatedAt.UTC(),
		timePtrUTC(item.ExpiresAt),
	); err != nil {
		return fmt.Errorf("insert item: %w", err)
	}

	return nil
}

func (r *ItemRepo) Get(ctx context.Context, id uuid.UUID) (model.EphemeralItem, error) {
	if id == uuid.Nil {
		return model.EphemeralItem{}, fmt.Errorf("invalid item id")
	}
	if r.pool == nil {
		return model.EphemeralItem{}, ErrItemNotFound
	}

	var (
		item  model.EphemeralItem
		scope string
	)
	err := r.pool.QueryRow(ctx, `
SELECT id, owner_id, scope, recipient_id, content_key, viewing_duration_sec, max_replays, created_at, expires_at
FROM items
WHERE id = $1
`, id).Scan(
		&item.ID,
		&item.OwnerID,
		&scope,
		&item.RecipientID,
		&item.ContentKey,
		&item.ViewingDurationSec,
		&item.MaxReplays,
		&item.CreatedAt,
		&item.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.EphemeralItem{}, ErrItemNotFound
		}
		return model.EphemeralItem{}, fmt.Errorf("get item: %w", err)
	}
	item.Scope = enums.ItemScope(scope)

	return item, nil
}

// SetExpiryIfUnset stamps the expiry exactly once. Concurrent callers all
// receive the value the first writer committed.
func (r *ItemRepo) SetExpiryIfUnset(ctx context.Context, id uuid.UUID, expiresAt time.Time) (time.Time, error) {
	if id == uuid.Nil || expiresAt.IsZero() {
		return time.Time{}, fmt.Errorf("invalid expiry payload")
	}
	if r.pool == nil {
		return time.Time{}, ErrItemNotFound
	}

	var effective time.Time
	err := r.pool.QueryRow(ctx, `
UPDATE items
SET expires_at = COALESCE(expires_at, $2)
WHERE id = $1
RETURNING expires_at
`, id, expiresAt.UTC()).Scan(&effective)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, ErrItemNotFound
		}
		return time.Time{}, fmt.Errorf("set item expiry: %w", err)
	}

	return effective.UTC(), nil
}

// DeleteCascade removes the item together with its view records and capture
// events. Idempotent: deleting an absent item reports found=false.
func (r *ItemRepo) DeleteCascade(ctx context.Context, id uuid.UUID) (model.PurgedItem, bool, error) {
	if id == uuid.Nil {
		return model.PurgedItem{}, false, fmt.Errorf("invalid item id")
	}

	var (
		purged model.PurgedItem
		found  bool
	)
	err := withTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		err := tx.QueryRow(txCtx, `
SELECT id, owner_id, content_key
FROM items
WHERE id = $1
FOR UPDATE
`, id).Scan(&purged.ID, &purged.OwnerID, &purged.ContentKey)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("lock item for delete: %w", err)
		}
		found = true

		return deleteItemRows(txCtx, tx, []uuid.UUID{id})
	})
	if err != nil {
		return model.PurgedItem{}, false, err
	}

	return purged, found, nil
}

// DeleteExpired purges every item whose expiry has passed, children first.
// SKIP LOCKED keeps concurrent sweeps from double-counting the same rows.
func (r *ItemRepo) DeleteExpired(ctx context.Context, now time.Time, limit int) ([]model.PurgedItem, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if limit <= 0 {
		limit = 500
	}

	purged := make([]model.PurgedItem, 0)
	err := withTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(txCtx, `
SELECT id, owner_id, content_key
FROM items
WHERE expires_at IS NOT NULL AND expires_at <= $1
ORDER BY expires_at
LIMIT $2
FOR UPDATE SKIP LOCKED
`, now.UTC(), limit)
		if err != nil {
			return fmt.Errorf("select expired items: %w", err)
		}

		ids := make([]uuid.UUID, 0, limit)
		for rows.Next() {
			var item model.PurgedItem
			if err := rows.Scan(&item.ID, &item.OwnerID, &item.ContentKey); err != nil {
				rows.Close()
				return fmt.Errorf("scan expired item: %w", err)
			}
			purged = append(purged, item)
			ids = append(ids, item.ID)
		}
		rows.Close()
		if rows.Err() != nil {
			return fmt.Errorf("iterate expired items: %w", rows.Err())
		}

		if len(ids) == 0 {
			return nil
		}

		return deleteItemRows(txCtx, tx, ids)
	})
	if err != nil {
		return nil, err
	}

	return purged, nil
}

func (r *ItemRepo) ListDirectForRecipient(ctx context.Context, recipientID int64) ([]model.EphemeralItem, error) {
	if recipientID <= 0 {
		return nil, fmt.Errorf("invalid recipient id")
	}
	if r.pool == nil {
		return []model.EphemeralItem{}, nil
	}

	return r.list(ctx, `
SELECT id, owner_id, scope, recipient_id, content_key, viewing_duration_sec, max_replays, created_at, expires_at
FROM items
WHERE scope = 'DIRECT' AND recipient_id = $1
ORDER BY created_at DESC, id ASC
`, recipientID)
}

func (r *ItemRepo) ListBroadcastBySenders(ctx context.Context, senderIDs []int64) ([]model.EphemeralItem, error) {
	if len(senderIDs) == 0 {
		return []model.EphemeralItem{}, nil
	}
	if r.pool == nil {
		return []model.EphemeralItem{}, nil
	}

	return r.list(ctx, `
SELECT id, owner_id, scope, recipient_id, content_key, viewing_duration_sec, max_replays, created_at, expires_at
FROM items
WHERE scope = 'BROADCAST' AND owner_id = ANY($1)
ORDER BY owner_id, created_at DESC, id ASC
`, senderIDs)
}

func (r *ItemRepo) list(ctx context.Context, query string, args ...any) ([]model.EphemeralItem, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := make([]model.EphemeralItem, 0)
	for rows.Next() {
		var (
			item  model.EphemeralItem
			scope string
		)
		if err := rows.Scan(
			&item.ID,
			&item.OwnerID,
			&scope,
			&item.RecipientID,
			&item.ContentKey,
			&item.ViewingDurationSec,
			&item.MaxReplays,
			&item.CreatedAt,
			&item.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		item.Scope = enums.ItemScope(scope)
		items = append(items, item)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate items: %w", rows.Err())
	}

	return items, nil
}

func deleteItemRows(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) error {
	if _, err := tx.Exec(ctx, `
DELETE FROM capture_events
WHERE item_id = ANY($1)
`, ids); err != nil {
		return fmt.Errorf("delete capture events for items: %w", err)
	}

	if _, err := tx.Exec(ctx, `
DELETE FROM view_records
WHERE item_id = ANY($1)
`, ids); err != nil {
		return fmt.Errorf("delete view records for items: %w", err)
	}

	if _, err := tx.Exec(ctx, `
DELETE FROM items
WHERE id = ANY($1)
`, ids); err != nil {
		return fmt.Errorf("delete items: %w", err)
	}

	return nil
}

func timePtrUTC(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
