package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/snapshelf/drivesync/internal/mirror"
)

// Reconcile sweeps for orphans after a completed full pass: items still
// origin-active that the pass never re-observed become origin-missing. The
// items themselves stay untouched otherwise; nothing is deleted. Returns
// the number of items orphaned.
//
// Reconciliation only makes sense against a finished pass. With the queue
// still pending, an unvisited folder's items would be falsely orphaned, so
// an incomplete pass is an error rather than a silent no-op.
func (e *Engine) Reconcile(ctx context.Context, userID string) (int, error) {
	_, state, err := e.loadArmedState(ctx, userID)
	if err != nil {
		return 0, err
	}

	if !state.Done() || state.LastFullScanAt.Before(state.ScanStartedAt) {
		return 0, fmt.Errorf("engine: full pass not complete for user %s", userID)
	}

	count, err := e.store.MarkStaleItemsMissing(ctx, userID, state.ScanStartedAt, e.nowFunc())
	if err != nil {
		return 0, err
	}

	if count > 0 {
		payload, _ := json.Marshal(map[string]int{"orphaned_items": count})
		if _, err := e.store.InsertNotification(ctx, userID, mirror.NotificationOrphans, string(payload)); err != nil {
			return 0, err
		}

		e.logger.Info("orphans reconciled",
			slog.String("user_id", userID),
			slog.Int("count", count),
		)
	}

	return count, nil
}
