// Package engine orchestrates the mirror: budgeted full-tree indexing,
// cursor-based delta pulls, and orphan reconciliation. All durable state
// lives in the mirror store; the engine itself holds nothing across calls,
// so any operation can resume after a crash from the persisted state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/snapshelf/drivesync/internal/drive"
	"github.com/snapshelf/drivesync/internal/mirror"
)

const (
	defaultFolderBudget = 10
	defaultPollInterval = 2 * time.Second

	// A batch slot held longer than this is presumed abandoned by a
	// crashed worker and may be reclaimed.
	batchLeaseStaleAfter = 15 * time.Minute
)

// Provider is the remote drive surface the engine consumes. *drive.Client
// satisfies it.
type Provider interface {
	ListChildren(ctx context.Context, folderID string) ([]drive.File, error)
	GetStartPageToken(ctx context.Context) (string, error)
	ListChanges(ctx context.Context, cursor string) (*drive.ChangePage, error)
}

// ProviderFactory builds a Provider bound to one user's credentials.
type ProviderFactory func(userID string) Provider

// Engine drives sync for all users against one mirror store.
type Engine struct {
	store     *mirror.Store
	providers ProviderFactory
	logger    *slog.Logger

	folderBudget int
	pollInterval time.Duration

	nowFunc func() time.Time // injectable for tests
}

// Options configures a new Engine.
type Options struct {
	Store        *mirror.Store
	Providers    ProviderFactory
	Logger       *slog.Logger
	FolderBudget int           // folders fully expanded per batch; default 10
	PollInterval time.Duration // pause between batches in RunToCompletion; default 2s
}

// New builds an Engine. Store and Providers are required.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("engine: store is required")
	}

	if opts.Providers == nil {
		return nil, errors.New("engine: provider factory is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	budget := opts.FolderBudget
	if budget <= 0 {
		budget = defaultFolderBudget
	}

	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	return &Engine{
		store:        opts.Store,
		providers:    opts.Providers,
		logger:       logger,
		folderBudget: budget,
		pollInterval: interval,
		nowFunc:      time.Now,
	}, nil
}

// ArmSync records the user's chosen root folder and resets the sync state
// to a fresh full pass: the pending queue holds just the root, counters are
// zeroed, and the change cursor is cleared so it will be re-initialized
// when the pass drains. Arming is idempotent and safe to call mid-pass; the
// next batch simply starts over from the root.
func (e *Engine) ArmSync(ctx context.Context, userID, rootID, rootName, rootPath string) error {
	if userID == "" || rootID == "" {
		return errors.New("engine: user id and root folder id are required")
	}

	now := e.nowFunc()

	err := e.store.PutSettings(ctx, &mirror.SyncSettings{
		UserID:         userID,
		RootFolderID:   rootID,
		RootFolderName: rootName,
		RootFolderPath: rootPath,
	})
	if err != nil {
		return fmt.Errorf("engine: saving sync settings: %w", err)
	}

	err = e.store.UpsertFolder(ctx, &mirror.Folder{
		UserID:     userID,
		RemoteID:   rootID,
		Name:       rootName,
		CachedPath: rootPath,
	})
	if err != nil {
		return fmt.Errorf("engine: recording root folder: %w", err)
	}

	err = e.store.SaveSyncState(ctx, &mirror.SyncState{
		UserID:         userID,
		RootFolderID:   rootID,
		PendingFolders: []string{rootID},
		Status:         mirror.StatusIdle,
		ScanStartedAt:  now,
	})
	if err != nil {
		return fmt.Errorf("engine: resetting sync state: %w", err)
	}

	e.logger.Info("sync armed",
		slog.String("user_id", userID),
		slog.String("root_id", rootID),
		slog.String("root_name", rootName),
	)

	return nil
}

// Diagnostics is a read-only snapshot of one user's sync.
type Diagnostics struct {
	Settings   *mirror.SyncSettings
	State      *mirror.SyncState
	Folders    int
	ItemCounts map[mirror.ItemStatus]int
}

// Diagnose assembles the user's sync settings, state, and mirror counts.
func (e *Engine) Diagnose(ctx context.Context, userID string) (*Diagnostics, error) {
	settings, err := e.store.GetSettings(ctx, userID)
	if err != nil && !errors.Is(err, mirror.ErrNotFound) {
		return nil, err
	}

	state, err := e.store.GetSyncState(ctx, userID)
	if err != nil && !errors.Is(err, mirror.ErrNotFound) {
		return nil, err
	}

	folders, err := e.store.CountFolders(ctx, userID)
	if err != nil {
		return nil, err
	}

	items, err := e.store.CountItems(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &Diagnostics{
		Settings:   settings,
		State:      state,
		Folders:    folders,
		ItemCounts: items,
	}, nil
}

// loadArmedState fetches settings and state, translating absence into
// ErrNotArmed and a selection race into ErrRootMismatch.
func (e *Engine) loadArmedState(ctx context.Context, userID string) (*mirror.SyncSettings, *mirror.SyncState, error) {
	settings, err := e.store.GetSettings(ctx, userID)
	if errors.Is(err, mirror.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: no settings for user %s", ErrNotArmed, userID)
	}

	if err != nil {
		return nil, nil, err
	}

	state, err := e.store.GetSyncState(ctx, userID)
	if errors.Is(err, mirror.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: no sync state for user %s", ErrNotArmed, userID)
	}

	if err != nil {
		return nil, nil, err
	}

	if state.RootFolderID != settings.RootFolderID {
		return nil, nil, fmt.Errorf("%w: state has %s, settings have %s",
			ErrRootMismatch, state.RootFolderID, settings.RootFolderID)
	}

	return settings, state, nil
}
