package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/snapshelf/drivesync/internal/drive"
	"github.com/snapshelf/drivesync/internal/mirror"
)

// PullResult reports what one PullChanges call did.
type PullResult struct {
	Processed int    // changes applied to the mirror
	NewCursor string // cursor persisted after this pull
	Reset     bool   // the old cursor was rejected and re-initialized
}

// PullChanges applies the provider's change feed since the persisted cursor.
// The new cursor is persisted only after every change in the batch has been
// applied, so a crash in between re-pulls and re-applies the same batch;
// all mirror writes are idempotent, making the replay harmless.
//
// The cursor is advanced with a targeted compare-and-swap, never a
// whole-row save: a pull overlapping a running batch (or a re-arm) must not
// replay its stale snapshot of the queue or completion stamps. A missed
// swap means the cursor moved underneath the pull; the applied changes
// stand (idempotent) and the concurrent cursor wins.
//
// A rejected cursor is a consistency-loss event: changes between the old
// and new cursor are unaccounted for. The engine self-heals by fetching a
// fresh cursor, but flags the gap via Reset and a persisted notification
// so the host application can prompt a full re-sync.
func (e *Engine) PullChanges(ctx context.Context, userID string) (*PullResult, error) {
	_, state, err := e.loadArmedState(ctx, userID)
	if err != nil {
		return nil, err
	}

	provider := e.providers(userID)

	// First-time no-op: establish the cursor, nothing to delta against.
	if state.ChangeCursor == "" {
		cursor, err := provider.GetStartPageToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("engine: initializing change cursor: %w", err)
		}

		return e.swapCursor(ctx, userID, "", cursor, time.Time{}, 0, false)
	}

	page, err := provider.ListChanges(ctx, state.ChangeCursor)
	if errors.Is(err, drive.ErrCursorInvalid) {
		return e.resetCursor(ctx, state, provider)
	}

	if err != nil {
		return nil, fmt.Errorf("engine: listing changes: %w", err)
	}

	for i := range page.Changes {
		if err := e.applyChange(ctx, userID, &page.Changes[i]); err != nil {
			return nil, err
		}
	}

	result, err := e.swapCursor(ctx, userID, state.ChangeCursor, page.NewCursor, e.nowFunc(), len(page.Changes), false)
	if err != nil {
		return nil, err
	}

	e.logger.Info("changes pulled",
		slog.String("user_id", userID),
		slog.Int("processed", result.Processed),
	)

	return result, nil
}

// swapCursor persists a cursor advance via compare-and-swap. On a missed
// swap the concurrently persisted cursor is re-read and returned instead,
// with the Reset flag suppressed: whoever moved the cursor owns the state.
func (e *Engine) swapCursor(ctx context.Context, userID, expect, next string, at time.Time, processed int, reset bool) (*PullResult, error) {
	swapped, err := e.store.SwapChangeCursor(ctx, userID, expect, next, at)
	if err != nil {
		return nil, err
	}

	if swapped {
		return &PullResult{Processed: processed, NewCursor: next, Reset: reset}, nil
	}

	e.logger.Warn("change cursor moved during pull, keeping the concurrent value",
		slog.String("user_id", userID),
	)

	current, err := e.store.GetSyncState(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &PullResult{Processed: processed, NewCursor: current.ChangeCursor}, nil
}

// PeekChanges counts the changes waiting behind the persisted cursor
// without applying them or advancing anything. No cursor means nothing to
// peek at.
func (e *Engine) PeekChanges(ctx context.Context, userID string) (int, error) {
	_, state, err := e.loadArmedState(ctx, userID)
	if err != nil {
		return 0, err
	}

	if state.ChangeCursor == "" {
		return 0, nil
	}

	page, err := e.providers(userID).ListChanges(ctx, state.ChangeCursor)
	if err != nil {
		return 0, fmt.Errorf("engine: peeking changes: %w", err)
	}

	return len(page.Changes), nil
}

// applyChange maps one provider change onto the mirror. Changes apply in
// feed order; later changes for the same file win.
func (e *Engine) applyChange(ctx context.Context, userID string, ch *drive.Change) error {
	now := e.nowFunc()

	// Removed from view: the file may come back (unshare, move outside the
	// root), so mark missing rather than deleted.
	if ch.Removed || ch.File == nil {
		return e.store.MarkItemMissing(ctx, userID, ch.FileID, now)
	}

	if ch.File.IsFolder() {
		return e.applyFolderChange(ctx, userID, ch.File)
	}

	// An explicit trash is a real removal.
	if ch.File.Trashed {
		return e.store.MarkItemDeleted(ctx, userID, ch.FileID, now)
	}

	return e.applyFileChange(ctx, userID, ch.File, now)
}

func (e *Engine) applyFolderChange(ctx context.Context, userID string, f *drive.File) error {
	folder := &mirror.Folder{
		UserID:   userID,
		RemoteID: f.ID,
		Name:     f.Name,
		ParentID: f.FirstParent(),
		Trashed:  f.Trashed,
	}

	if parent, err := e.store.GetFolder(ctx, userID, folder.ParentID); err == nil {
		folder.CachedPath = parent.CachedPath + " / " + f.Name
	} else if existing, err := e.store.GetFolder(ctx, userID, f.ID); err == nil {
		// Parent not mirrored; keep the old cached path until the next
		// full pass refreshes it.
		folder.CachedPath = existing.CachedPath
	} else {
		folder.CachedPath = f.Name
	}

	return e.store.UpsertFolder(ctx, folder)
}

func (e *Engine) applyFileChange(ctx context.Context, userID string, f *drive.File, now time.Time) error {
	item := itemFromFile(userID, f)
	item.LastSeenAt = now

	// Delta observation is not a full-pass observation: carry the old
	// last_sync_seen_at forward so reconciliation stays anchored to scans.
	if existing, err := e.store.GetItem(ctx, userID, f.ID); err == nil {
		item.LastSyncSeenAt = existing.LastSyncSeenAt
		item.OriginFolderName = existing.OriginFolderName
	} else if !errors.Is(err, mirror.ErrNotFound) {
		return err
	}

	// Folder moves: re-derive the origin folder name from the file's
	// current first parent when that folder is mirrored.
	if parent, err := e.store.GetFolder(ctx, userID, f.FirstParent()); err == nil {
		item.OriginFolderName = parent.Name
	}

	_, err := e.store.UpsertItem(ctx, item)
	return err
}

// resetCursor handles a provider-rejected cursor: fetch a fresh one, record
// the gap, and surface it loudly. The notification only lands when this
// pull's swap wins; a concurrent mover already owns the cursor otherwise.
func (e *Engine) resetCursor(ctx context.Context, state *mirror.SyncState, provider Provider) (*PullResult, error) {
	e.logger.Warn("change cursor rejected by provider, re-initializing",
		slog.String("user_id", state.UserID),
	)

	cursor, err := provider.GetStartPageToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: re-initializing change cursor: %w", err)
	}

	result, err := e.swapCursor(ctx, state.UserID, state.ChangeCursor, cursor, time.Time{}, 0, true)
	if err != nil {
		return nil, err
	}

	if !result.Reset {
		return result, nil
	}

	payload, _ := json.Marshal(map[string]string{
		"old_cursor": state.ChangeCursor,
		"new_cursor": cursor,
	})

	if _, err := e.store.InsertNotification(ctx, state.UserID, mirror.NotificationCursorReset, string(payload)); err != nil {
		return nil, err
	}

	return result, nil
}
