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

// GetSyncState returns the user's sync state row, or ErrNotFound if the
// user has never armed a sync.
func (s *Store) GetSyncState(ctx context.Context, userID string) (*SyncState, error) {
	var (
		st             SyncState
		pendingJSON    string
		lastErr        sql.NullString
		cursor         sql.NullString
		scanStartedAt  sql.NullInt64
		lastFullScanAt sql.NullInt64
		lastChangesAt  sql.NullInt64
		upd            int64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, root_folder_id, pending_folders, status, last_error,
		        change_cursor, scan_started_at, last_full_scan_at, last_changes_at,
		        processed_folders, updated_items, found_folders, updated_at
		 FROM sync_state WHERE user_id = ?`, userID).
		Scan(&st.UserID, &st.RootFolderID, &pendingJSON, &st.Status, &lastErr,
			&cursor, &scanStartedAt, &lastFullScanAt, &lastChangesAt,
			&st.Stats.ProcessedFolders, &st.Stats.UpdatedItems, &st.Stats.FoundFolders, &upd)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: sync state for user %s", ErrNotFound, userID)
	}

	if err != nil {
		return nil, fmt.Errorf("mirror: loading sync state: %w", err)
	}

	if err := json.Unmarshal([]byte(pendingJSON), &st.PendingFolders); err != nil {
		return nil, fmt.Errorf("mirror: parsing pending folders for user %s: %w", userID, err)
	}

	st.LastError = lastErr.String
	st.ChangeCursor = cursor.String
	st.ScanStartedAt = nanosToTime(scanStartedAt)
	st.LastFullScanAt = nanosToTime(lastFullScanAt)
	st.LastChangesAt = nanosToTime(lastChangesAt)
	st.UpdatedAt = time.Unix(0, upd)

	return &st, nil
}

// SaveSyncState replaces the user's sync state row wholesale, including the
// entire pending-folders array, in one statement. Batch progress therefore
// commits atomically: a crash mid-batch leaves the previous queue intact
// and the already-written folder/item upserts are safe to replay.
// The batch claim lease is deliberately not part of this write; it is
// managed only by ClaimBatchSlot/ReleaseBatchSlot.
func (s *Store) SaveSyncState(ctx context.Context, st *SyncState) error {
	pending := st.PendingFolders
	if pending == nil {
		pending = []string{}
	}

	pendingJSON, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("mirror: encoding pending folders: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sync_state
		  (user_id, root_folder_id, pending_folders, status, last_error,
		   change_cursor, scan_started_at, last_full_scan_at, last_changes_at,
		   processed_folders, updated_items, found_folders, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		  root_folder_id = excluded.root_folder_id,
		  pending_folders = excluded.pending_folders,
		  status = excluded.status,
		  last_error = excluded.last_error,
		  change_cursor = excluded.change_cursor,
		  scan_started_at = excluded.scan_started_at,
		  last_full_scan_at = excluded.last_full_scan_at,
		  last_changes_at = excluded.last_changes_at,
		  processed_folders = excluded.processed_folders,
		  updated_items = excluded.updated_items,
		  found_folders = excluded.found_folders,
		  updated_at = excluded.updated_at`,
		st.UserID, st.RootFolderID, string(pendingJSON), string(st.Status),
		nullString(st.LastError), nullString(st.ChangeCursor),
		timeToNanos(st.ScanStartedAt), timeToNanos(st.LastFullScanAt),
		timeToNanos(st.LastChangesAt),
		st.Stats.ProcessedFolders, st.Stats.UpdatedItems, st.Stats.FoundFolders,
		time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("mirror: saving sync state: %w", err)
	}

	return nil
}

// SwapChangeCursor advances the change cursor only if it still holds the
// expected value, reporting whether the swap landed. Unlike SaveSyncState
// it touches nothing but the cursor columns, so a delta pull can never
// overwrite a concurrent batch's queue or completion stamp with a stale
// snapshot. An empty expect matches a NULL cursor (never initialized).
// A zero at leaves last_changes_at untouched.
func (s *Store) SwapChangeCursor(ctx context.Context, userID, expect, next string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sync_state
		 SET change_cursor = ?,
		     last_changes_at = COALESCE(?, last_changes_at),
		     updated_at = ?
		 WHERE user_id = ? AND COALESCE(change_cursor, '') = ?`,
		next, timeToNanos(at), time.Now().UnixNano(), userID, expect)
	if err != nil {
		return false, fmt.Errorf("mirror: swapping change cursor: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mirror: change cursor rows affected: %w", err)
	}

	return rows > 0, nil
}

// ClaimBatchSlot acquires the per-user batch lease, reporting whether the
// claim succeeded. The sync_state row acts as a distributed mutex: at most
// one batch runs per user, with stale leases (a crashed worker) reclaimable
// after staleAfter.
func (s *Store) ClaimBatchSlot(ctx context.Context, userID string, now time.Time, staleAfter time.Duration) (bool, error) {
	cutoff := now.Add(-staleAfter).UnixNano()

	result, err := s.db.ExecContext(ctx,
		`UPDATE sync_state SET batch_claimed_at = ?
		 WHERE user_id = ? AND (batch_claimed_at IS NULL OR batch_claimed_at < ?)`,
		now.UnixNano(), userID, cutoff)
	if err != nil {
		return false, fmt.Errorf("mirror: claiming batch slot: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mirror: batch slot rows affected: %w", err)
	}

	if rows > 0 {
		s.logger.Debug("batch slot claimed", slog.String("user_id", userID))
	}

	return rows > 0, nil
}

// ReleaseBatchSlot releases the per-user batch lease.
func (s *Store) ReleaseBatchSlot(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_state SET batch_claimed_at = NULL WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("mirror: releasing batch slot: %w", err)
	}

	return nil
}
