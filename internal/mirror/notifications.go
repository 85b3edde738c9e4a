package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertNotification records an event for the host application's
// notification surface. The id is generated here; callers pass zero ID.
func (s *Store) InsertNotification(ctx context.Context, userID, kind, payload string) (string, error) {
	id := uuid.NewString()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, kind, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, userID, kind, payload, time.Now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("mirror: inserting notification: %w", err)
	}

	return id, nil
}

// ListNotifications returns a user's notifications, newest first.
func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, kind, payload, created_at
		 FROM notifications WHERE user_id = ?
		 ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("mirror: listing notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification

	for rows.Next() {
		var (
			n  Notification
			at int64
		)

		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Payload, &at); err != nil {
			return nil, fmt.Errorf("mirror: scanning notification: %w", err)
		}

		n.CreatedAt = time.Unix(0, at)
		out = append(out, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mirror: iterating notifications: %w", err)
	}

	return out, nil
}
