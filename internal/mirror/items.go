package mirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// itemSelectCols is the column list shared by all item row queries.
const itemSelectCols = `SELECT user_id, remote_id, name, mime_type, size, content_hash,
	created_time, modified_time, parents, origin_folder_name,
	media_kind, width, height, duration_ms, taken_at,
	status, origin_status, origin_missing_since, last_seen_at, last_sync_seen_at
 FROM items `

// UpsertItem writes a full item row keyed by (user_id, remote_id) and
// reports whether the row was created or reactivated. An item referencing a
// not-yet-seen parent folder is still written; the path cache is simply
// stale until the parent is indexed.
func (s *Store) UpsertItem(ctx context.Context, it *Item) (UpsertResult, error) {
	var res UpsertResult

	// Sole-writer pattern makes read-then-write safe without a transaction.
	prev, err := s.GetItem(ctx, it.UserID, it.RemoteID)

	switch {
	case errors.Is(err, ErrNotFound):
		res.Created = true
	case err != nil:
		return res, err
	default:
		res.Reactivated = it.Status == ItemActive &&
			(prev.Status != ItemActive || prev.OriginStatus != OriginActive)
	}

	parentsJSON, err := json.Marshal(it.Parents)
	if err != nil {
		return res, fmt.Errorf("mirror: encoding parents for item %s: %w", it.RemoteID, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO items
		  (user_id, remote_id, name, mime_type, size, content_hash,
		   created_time, modified_time, parents, origin_folder_name,
		   media_kind, width, height, duration_ms, taken_at,
		   status, origin_status, origin_missing_since, last_seen_at, last_sync_seen_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, remote_id) DO UPDATE SET
		  name = excluded.name,
		  mime_type = excluded.mime_type,
		  size = excluded.size,
		  content_hash = excluded.content_hash,
		  created_time = excluded.created_time,
		  modified_time = excluded.modified_time,
		  parents = excluded.parents,
		  origin_folder_name = excluded.origin_folder_name,
		  media_kind = excluded.media_kind,
		  width = excluded.width,
		  height = excluded.height,
		  duration_ms = excluded.duration_ms,
		  taken_at = excluded.taken_at,
		  status = excluded.status,
		  origin_status = excluded.origin_status,
		  origin_missing_since = excluded.origin_missing_since,
		  last_seen_at = excluded.last_seen_at,
		  last_sync_seen_at = excluded.last_sync_seen_at`,
		it.UserID, it.RemoteID, it.Name, it.MimeType, it.Size, it.ContentHash,
		timeToNanos(it.CreatedTime), timeToNanos(it.ModifiedTime),
		string(parentsJSON), it.OriginFolderName,
		it.MediaKind, it.Width, it.Height, it.DurationMS, timeToNanos(it.TakenAt),
		string(it.Status), string(it.OriginStatus), timeToNanos(it.OriginMissingSince),
		timeToNanos(it.LastSeenAt), timeToNanos(it.LastSyncSeenAt))
	if err != nil {
		return res, fmt.Errorf("mirror: upserting item %s: %w", it.RemoteID, err)
	}

	if res.Reactivated {
		s.logger.Info("item reactivated",
			slog.String("user_id", it.UserID),
			slog.String("remote_id", it.RemoteID),
			slog.String("name", it.Name),
		)
	}

	return res, nil
}

// GetItem returns one item row, or ErrNotFound.
func (s *Store) GetItem(ctx context.Context, userID, remoteID string) (*Item, error) {
	row := s.db.QueryRowContext(ctx,
		itemSelectCols+`WHERE user_id = ? AND remote_id = ?`, userID, remoteID)

	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: item %s", ErrNotFound, remoteID)
	}

	if err != nil {
		return nil, fmt.Errorf("mirror: loading item %s: %w", remoteID, err)
	}

	return it, nil
}

// MarkItemMissing marks an item missing because the provider's change feed
// reported it removed from view. Metadata is retained; only status fields
// change. Missing an unknown item is not an error — the change feed can
// report files the mirror never indexed.
func (s *Store) MarkItemMissing(ctx context.Context, userID, remoteID string, since time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE items SET status = ?, origin_status = ?, origin_missing_since = ?
		 WHERE user_id = ? AND remote_id = ? AND status != ?`,
		string(ItemMissing), string(OriginMissing), since.UnixNano(),
		userID, remoteID, string(ItemDeleted))
	if err != nil {
		return fmt.Errorf("mirror: marking item %s missing: %w", remoteID, err)
	}

	return nil
}

// MarkItemDeleted marks an item deleted after an explicit removal signal
// (provider reports the file trashed). The row itself is retained so labels
// and collections attached to the item survive.
func (s *Store) MarkItemDeleted(ctx context.Context, userID, remoteID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE items SET status = ?, origin_status = ?, origin_missing_since = ?
		 WHERE user_id = ? AND remote_id = ?`,
		string(ItemDeleted), string(OriginMissing), at.UnixNano(),
		userID, remoteID)
	if err != nil {
		return fmt.Errorf("mirror: marking item %s deleted: %w", remoteID, err)
	}

	return nil
}

// MarkStaleItemsMissing is the reconciliation write: every item still
// origin-active whose last_sync_seen_at predates the full-scan start (or is
// null) becomes origin-missing, keeping all non-status fields. Returns the
// number of orphaned items.
func (s *Store) MarkStaleItemsMissing(ctx context.Context, userID string, scanStart, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE items SET origin_status = ?, origin_missing_since = ?, origin_folder_name = ''
		 WHERE user_id = ? AND origin_status = ? AND status = ?
		   AND (last_sync_seen_at IS NULL OR last_sync_seen_at < ?)`,
		string(OriginMissing), now.UnixNano(),
		userID, string(OriginActive), string(ItemActive),
		scanStart.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("mirror: marking stale items missing: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mirror: stale items rows affected: %w", err)
	}

	return int(n), nil
}

// CountItems returns per-status item counts for a user.
func (s *Store) CountItems(ctx context.Context, userID string) (map[ItemStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM items WHERE user_id = ? GROUP BY status`, userID)
	if err != nil {
		return nil, fmt.Errorf("mirror: counting items: %w", err)
	}
	defer rows.Close()

	counts := make(map[ItemStatus]int)

	for rows.Next() {
		var (
			status string
			n      int
		)

		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("mirror: scanning item count: %w", err)
		}

		counts[ItemStatus(status)] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mirror: iterating item counts: %w", err)
	}

	return counts, nil
}

// ListActiveItems returns items visible to the gallery: active and still
// attached to an origin folder, ordered by capture time descending with
// modification time as the fallback.
func (s *Store) ListActiveItems(ctx context.Context, userID string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		itemSelectCols+`WHERE user_id = ? AND status = ? AND origin_status = ?
		 ORDER BY COALESCE(taken_at, modified_time) DESC`,
		userID, string(ItemActive), string(OriginActive))
	if err != nil {
		return nil, fmt.Errorf("mirror: listing active items: %w", err)
	}
	defer rows.Close()

	var items []Item

	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("mirror: scanning item row: %w", err)
		}

		items = append(items, *it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mirror: iterating item rows: %w", err)
	}

	return items, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanItem scans one item row.
func scanItem(row rowScanner) (*Item, error) {
	var (
		it           Item
		createdTime  sql.NullInt64
		modifiedTime sql.NullInt64
		parentsJSON  string
		takenAt      sql.NullInt64
		missingSince sql.NullInt64
		lastSeen     sql.NullInt64
		lastSyncSeen sql.NullInt64
	)

	err := row.Scan(
		&it.UserID, &it.RemoteID, &it.Name, &it.MimeType, &it.Size, &it.ContentHash,
		&createdTime, &modifiedTime, &parentsJSON, &it.OriginFolderName,
		&it.MediaKind, &it.Width, &it.Height, &it.DurationMS, &takenAt,
		&it.Status, &it.OriginStatus, &missingSince, &lastSeen, &lastSyncSeen,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(parentsJSON), &it.Parents); err != nil {
		return nil, fmt.Errorf("parsing parents for item %s: %w", it.RemoteID, err)
	}

	it.CreatedTime = nanosToTime(createdTime)
	it.ModifiedTime = nanosToTime(modifiedTime)
	it.TakenAt = nanosToTime(takenAt)
	it.OriginMissingSince = nanosToTime(missingSince)
	it.LastSeenAt = nanosToTime(lastSeen)
	it.LastSyncSeenAt = nanosToTime(lastSyncSeen)

	return &it, nil
}
