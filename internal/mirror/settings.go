package mirror

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetSettings returns the user's chosen root folder, or ErrNotFound if the
// folder-selection flow has never run.
func (s *Store) GetSettings(ctx context.Context, userID string) (*SyncSettings, error) {
	var (
		set SyncSettings
		upd int64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, root_folder_id, root_folder_name, root_folder_path, updated_at
		 FROM sync_settings WHERE user_id = ?`, userID).
		Scan(&set.UserID, &set.RootFolderID, &set.RootFolderName, &set.RootFolderPath, &upd)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: sync settings for user %s", ErrNotFound, userID)
	}

	if err != nil {
		return nil, fmt.Errorf("mirror: loading sync settings: %w", err)
	}

	set.UpdatedAt = time.Unix(0, upd)

	return &set, nil
}

// PutSettings upserts the user's root folder selection.
func (s *Store) PutSettings(ctx context.Context, set *SyncSettings) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_settings (user_id, root_folder_id, root_folder_name, root_folder_path, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		  root_folder_id = excluded.root_folder_id,
		  root_folder_name = excluded.root_folder_name,
		  root_folder_path = excluded.root_folder_path,
		  updated_at = excluded.updated_at`,
		set.UserID, set.RootFolderID, set.RootFolderName, set.RootFolderPath,
		time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("mirror: upserting sync settings: %w", err)
	}

	return nil
}
