package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RunToCompletion drains the user's pending queue by running batches on a
// fixed delay until the full pass finishes, then reconciles orphans. The
// interval paces provider traffic between batches; zero or less uses the
// engine default. Cancellation via ctx stops between batches with the
// persisted queue intact, so a later call resumes where this one stopped.
func (e *Engine) RunToCompletion(ctx context.Context, userID string, budget int, interval time.Duration) error {
	if interval <= 0 {
		interval = e.pollInterval
	}

	for {
		result, err := e.RunSyncBatch(ctx, userID, budget)
		if err != nil {
			return err
		}

		if result.Done {
			break
		}

		e.logger.Debug("batch complete, continuing",
			slog.String("user_id", userID),
			slog.Int("pending_folders", result.PendingFolders),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("engine: sync interrupted: %w", ctx.Err())
		case <-time.After(interval):
		}
	}

	if _, err := e.Reconcile(ctx, userID); err != nil {
		return err
	}

	return nil
}
