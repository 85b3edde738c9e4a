package mirror

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/snapshelf/drivesync/internal/vault"
)

// Store implements vault.Store: encrypted credential rows live in the same
// database as the mirror so a credential refresh and a sync batch share one
// durability domain.

// GetCredential returns the encrypted credential record for a user.
func (s *Store) GetCredential(ctx context.Context, userID string) (*vault.Record, error) {
	var (
		rec    vault.Record
		expiry int64
		upd    int64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, access_cipher, refresh_cipher, scope, expiry, updated_at
		 FROM credentials WHERE user_id = ?`, userID).
		Scan(&rec.UserID, &rec.AccessCipher, &rec.RefreshCipher, &rec.Scope, &expiry, &upd)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, vault.ErrRecordNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("mirror: loading credential: %w", err)
	}

	rec.Expiry = time.Unix(0, expiry)
	rec.UpdatedAt = time.Unix(0, upd)

	return &rec, nil
}

// PutCredential upserts the encrypted credential record for a user.
func (s *Store) PutCredential(ctx context.Context, rec *vault.Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (user_id, access_cipher, refresh_cipher, scope, expiry, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		  access_cipher = excluded.access_cipher,
		  refresh_cipher = excluded.refresh_cipher,
		  scope = excluded.scope,
		  expiry = excluded.expiry,
		  updated_at = excluded.updated_at`,
		rec.UserID, rec.AccessCipher, rec.RefreshCipher, rec.Scope,
		rec.Expiry.UnixNano(), rec.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("mirror: upserting credential: %w", err)
	}

	return nil
}

// DeleteCredential removes a user's credential record.
func (s *Store) DeleteCredential(ctx context.Context, userID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("mirror: deleting credential: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mirror: deleting credential rows affected: %w", err)
	}

	if rows == 0 {
		return vault.ErrRecordNotFound
	}

	return nil
}
