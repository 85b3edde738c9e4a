package mirror

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertFolder writes a full folder row keyed by (user_id, remote_id).
// Replays of the same remote state produce no duplicates and no lost
// updates. Folders are never deleted, only marked trashed.
func (s *Store) UpsertFolder(ctx context.Context, f *Folder) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO folders (user_id, remote_id, name, parent_id, cached_path, trashed, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, remote_id) DO UPDATE SET
		  name = excluded.name,
		  parent_id = excluded.parent_id,
		  cached_path = excluded.cached_path,
		  trashed = excluded.trashed,
		  updated_at = excluded.updated_at`,
		f.UserID, f.RemoteID, f.Name, nullString(f.ParentID), f.CachedPath,
		boolToInt(f.Trashed), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("mirror: upserting folder %s: %w", f.RemoteID, err)
	}

	return nil
}

// GetFolder returns one folder row, or ErrNotFound.
func (s *Store) GetFolder(ctx context.Context, userID, remoteID string) (*Folder, error) {
	var (
		f        Folder
		parentID sql.NullString
		trashed  int
		upd      int64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, remote_id, name, parent_id, cached_path, trashed, updated_at
		 FROM folders WHERE user_id = ? AND remote_id = ?`, userID, remoteID).
		Scan(&f.UserID, &f.RemoteID, &f.Name, &parentID, &f.CachedPath, &trashed, &upd)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: folder %s", ErrNotFound, remoteID)
	}

	if err != nil {
		return nil, fmt.Errorf("mirror: loading folder %s: %w", remoteID, err)
	}

	f.ParentID = parentID.String
	f.Trashed = trashed != 0
	f.UpdatedAt = time.Unix(0, upd)

	return &f, nil
}

// CountFolders returns the number of non-trashed folder rows for a user.
func (s *Store) CountFolders(ctx context.Context, userID string) (int, error) {
	var count int

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM folders WHERE user_id = ? AND trashed = 0`, userID).
		Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("mirror: counting folders: %w", err)
	}

	return count, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
