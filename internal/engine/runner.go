package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/snapshelf/drivesync/internal/drive"
	"github.com/snapshelf/drivesync/internal/mirror"
)

// BatchResult reports what one RunSyncBatch call accomplished.
type BatchResult struct {
	Done             bool // queue drained, full pass complete
	ProcessedFolders int  // folders expanded in this batch
	UpdatedItems     int  // item upserts in this batch
	FoundFolders     int  // subfolders discovered in this batch
	PendingFolders   int  // queue length after this batch
}

// RunSyncBatch expands up to budget folders off the pending queue, upserting
// every child into the mirror, and persists the advanced queue in one atomic
// state write. A budget of zero or less uses the engine default. Progress
// within a batch is idempotent: folder and item upserts land before the
// queue advances, so a crash mid-batch replays the same folders harmlessly.
//
// When the queue drains and no change cursor exists yet, the batch also
// captures the provider's start page token, anchoring subsequent delta
// pulls to a point at or after everything the full pass observed.
func (e *Engine) RunSyncBatch(ctx context.Context, userID string, budget int) (*BatchResult, error) {
	if budget <= 0 {
		budget = e.folderBudget
	}

	settings, state, err := e.loadArmedState(ctx, userID)
	if err != nil {
		return nil, err
	}

	if state.Done() {
		return &BatchResult{Done: true}, nil
	}

	claimed, err := e.store.ClaimBatchSlot(ctx, userID, e.nowFunc(), batchLeaseStaleAfter)
	if err != nil {
		return nil, err
	}

	if !claimed {
		return nil, fmt.Errorf("%w: user %s", ErrAlreadyRunning, userID)
	}

	defer func() {
		if relErr := e.store.ReleaseBatchSlot(context.WithoutCancel(ctx), userID); relErr != nil {
			e.logger.Error("releasing batch slot", slog.String("user_id", userID), slog.Any("error", relErr))
		}
	}()

	provider := e.providers(userID)
	result := &BatchResult{}
	queue := append([]string(nil), state.PendingFolders...)

	for len(queue) > 0 && result.ProcessedFolders < budget {
		folderID := queue[0]

		found, updated, discovered, expErr := e.expandFolder(ctx, provider, userID, folderID)
		if expErr != nil {
			state.Status = mirror.StatusError
			state.LastError = expErr.Error()
			state.PendingFolders = queue

			// Stats are monotonic across resumed runs: folders expanded
			// earlier in this batch advanced the queue, so their counts
			// must land even though the batch as a whole failed.
			state.Stats.ProcessedFolders += result.ProcessedFolders
			state.Stats.UpdatedItems += result.UpdatedItems
			state.Stats.FoundFolders += result.FoundFolders

			if saveErr := e.store.SaveSyncState(context.WithoutCancel(ctx), state); saveErr != nil {
				e.logger.Error("recording batch failure", slog.String("user_id", userID), slog.Any("error", saveErr))
			}

			return nil, fmt.Errorf("engine: expanding folder %s: %w", folderID, expErr)
		}

		queue = append(queue[1:], discovered...)
		result.ProcessedFolders++
		result.UpdatedItems += updated
		result.FoundFolders += found
	}

	state.PendingFolders = queue
	state.LastError = ""
	state.Stats.ProcessedFolders += result.ProcessedFolders
	state.Stats.UpdatedItems += result.UpdatedItems
	state.Stats.FoundFolders += result.FoundFolders

	if len(queue) > 0 {
		state.Status = mirror.StatusRunning
	} else {
		state.Status = mirror.StatusIdle
		state.LastFullScanAt = e.nowFunc()

		if state.ChangeCursor == "" {
			cursor, tokenErr := provider.GetStartPageToken(ctx)
			if tokenErr != nil {
				// The pass itself succeeded; the cursor will be
				// fetched lazily by the first PullChanges.
				e.logger.Warn("fetching start page token",
					slog.String("user_id", userID), slog.Any("error", tokenErr))
			} else {
				state.ChangeCursor = cursor
			}
		}
	}

	if err := e.store.SaveSyncState(ctx, state); err != nil {
		return nil, err
	}

	result.Done = len(queue) == 0
	result.PendingFolders = len(queue)

	e.logger.Info("sync batch finished",
		slog.String("user_id", userID),
		slog.String("root_id", settings.RootFolderID),
		slog.Int("processed_folders", result.ProcessedFolders),
		slog.Int("updated_items", result.UpdatedItems),
		slog.Int("found_folders", result.FoundFolders),
		slog.Int("pending_folders", result.PendingFolders),
		slog.Bool("done", result.Done),
	)

	return result, nil
}

// expandFolder lists one remote folder and upserts all of its children,
// returning (subfolders found, items updated, discovered subfolder ids).
func (e *Engine) expandFolder(ctx context.Context, provider Provider, userID, folderID string) (int, int, []string, error) {
	parent, err := e.store.GetFolder(ctx, userID, folderID)
	if err != nil {
		return 0, 0, nil, err
	}

	children, err := provider.ListChildren(ctx, folderID)
	if err != nil {
		return 0, 0, nil, err
	}

	now := e.nowFunc()

	var (
		found      int
		updated    int
		discovered []string
	)

	for i := range children {
		child := &children[i]

		if child.IsFolder() {
			err := e.store.UpsertFolder(ctx, &mirror.Folder{
				UserID:     userID,
				RemoteID:   child.ID,
				Name:       child.Name,
				ParentID:   folderID,
				CachedPath: parent.CachedPath + " / " + child.Name,
			})
			if err != nil {
				return 0, 0, nil, err
			}

			found++
			discovered = append(discovered, child.ID)
			continue
		}

		item := itemFromFile(userID, child)
		item.OriginFolderName = parent.Name
		item.LastSeenAt = now
		item.LastSyncSeenAt = now

		if _, err := e.store.UpsertItem(ctx, item); err != nil {
			return 0, 0, nil, err
		}

		updated++
	}

	e.logger.Debug("folder expanded",
		slog.String("user_id", userID),
		slog.String("folder_id", folderID),
		slog.Int("children", len(children)),
	)

	return found, updated, discovered, nil
}

// itemFromFile maps a remote file onto a fresh active mirror item. The
// caller stamps observation fields (origin folder, seen timestamps).
func itemFromFile(userID string, f *drive.File) *mirror.Item {
	item := &mirror.Item{
		UserID:       userID,
		RemoteID:     f.ID,
		Name:         f.Name,
		MimeType:     f.MimeType,
		Size:         f.Size,
		ContentHash:  f.MD5,
		CreatedTime:  f.CreatedAt,
		ModifiedTime: f.ModifiedAt,
		Parents:      f.Parents,
		Status:       mirror.ItemActive,
		OriginStatus: mirror.OriginActive,
	}

	if f.Media != nil {
		item.MediaKind = f.Media.Kind
		item.Width = f.Media.Width
		item.Height = f.Media.Height
		item.DurationMS = f.Media.DurationMS
		item.TakenAt = f.Media.TakenAt
	}

	return item
}
