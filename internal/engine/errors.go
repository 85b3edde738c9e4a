package engine

import "errors"

var (
	// ErrNotArmed means the user has no armed sync: RunSyncBatch or
	// PullChanges was called before ArmSync.
	ErrNotArmed = errors.New("engine: sync not armed")

	// ErrRootMismatch means the persisted sync state was armed for a
	// different root folder than the current settings; the caller must
	// re-arm before batches can proceed.
	ErrRootMismatch = errors.New("engine: sync state root differs from settings")

	// ErrAlreadyRunning means another batch currently holds the user's
	// batch slot.
	ErrAlreadyRunning = errors.New("engine: a sync batch is already running")
)
