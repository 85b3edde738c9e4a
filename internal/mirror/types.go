package mirror

import "time"

// Sync status values for the sync_state.status column.
type SyncStatus string

const (
	StatusIdle    SyncStatus = "idle"
	StatusRunning SyncStatus = "running"
	StatusError   SyncStatus = "error"
)

// Item availability statuses. A missing item was not re-observed and may
// come back (transient unshare, move outside the root); a deleted item was
// explicitly removed by the provider.
type ItemStatus string

const (
	ItemActive  ItemStatus = "active"
	ItemMissing ItemStatus = "missing"
	ItemDeleted ItemStatus = "deleted"
)

// Origin statuses track whether the item was re-observed under its origin
// folder during the latest completed full pass.
type OriginStatus string

const (
	OriginActive  OriginStatus = "active"
	OriginMissing OriginStatus = "missing"
)

// SyncSettings is the user's chosen root folder. Written by the folder
// selection flow; the sync engine only reads it (and compares it against
// SyncState.RootFolderID to detect selection races).
type SyncSettings struct {
	UserID         string
	RootFolderID   string
	RootFolderName string
	RootFolderPath string
	UpdatedAt      time.Time
}

// Stats are monotonic counters accumulated across resumed runs of one full
// scan. Reset only on re-arm.
type Stats struct {
	ProcessedFolders int
	UpdatedItems     int
	FoundFolders     int
}

// SyncState is the singleton per-user sync state row. PendingFolders is
// insertion-ordered (breadth-first) and always replaced wholesale — never
// partially mutated — so the persisted invariant stays atomic under retries.
type SyncState struct {
	UserID         string
	RootFolderID   string
	PendingFolders []string
	Status         SyncStatus
	LastError      string
	ChangeCursor   string
	ScanStartedAt  time.Time // when the current full pass was armed
	LastFullScanAt time.Time // zero means never
	LastChangesAt  time.Time // zero means never
	Stats          Stats
	UpdatedAt      time.Time
}

// Done reports whether the full tree under the root is completely indexed.
func (s *SyncState) Done() bool {
	return len(s.PendingFolders) == 0
}

// Folder is a mirrored remote folder, keyed by (UserID, RemoteID).
// Folders are never deleted, only marked trashed.
type Folder struct {
	UserID     string
	RemoteID   string
	Name       string
	ParentID   string // weak reference; "" for the root
	CachedPath string // denormalized "A / B / C", refreshed lazily
	Trashed    bool
	UpdatedAt  time.Time
}

// Item is a mirrored file leaf (photo or video), keyed by (UserID, RemoteID).
type Item struct {
	UserID             string
	RemoteID           string
	Name               string
	MimeType           string
	Size               int64
	ContentHash        string
	CreatedTime        time.Time
	ModifiedTime       time.Time
	Parents            []string
	OriginFolderName   string
	MediaKind          string // "image", "video", or ""
	Width              int
	Height             int
	DurationMS         int64
	TakenAt            time.Time
	Status             ItemStatus
	OriginStatus       OriginStatus
	OriginMissingSince time.Time // zero unless missing
	LastSeenAt         time.Time
	LastSyncSeenAt     time.Time
}

// UpsertResult describes what an item upsert did, so callers can log
// reactivations (a missing item coming back indicates the earlier
// disappearance was transient).
type UpsertResult struct {
	Created     bool
	Reactivated bool
}

// Notification is a persisted event record for the host application's
// notification surface (e.g. orphan reconciliation summaries).
type Notification struct {
	ID        string
	UserID    string
	Kind      string
	Payload   string // JSON
	CreatedAt time.Time
}

// Notification kinds.
const (
	NotificationOrphans     = "orphans_detected"
	NotificationCursorReset = "change_cursor_reset"
)
