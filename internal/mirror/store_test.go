package mirror

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapshelf/drivesync/internal/vault"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := Open(filepath.Join(t.TempDir(), "mirror.db"), logger)
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	return s
}

func TestCredentialRoundTrip(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	_, err := s.GetCredential(ctx, "u1")
	assert.ErrorIs(t, err, vault.ErrRecordNotFound)

	rec := &vault.Record{
		UserID:        "u1",
		AccessCipher:  []byte{1, 2, 3},
		RefreshCipher: []byte{4, 5, 6},
		Scope:         "drive.readonly",
		Expiry:        time.Now().Add(time.Hour).Truncate(time.Millisecond),
		UpdatedAt:     time.Now().Truncate(time.Millisecond),
	}
	require.NoError(t, s.PutCredential(ctx, rec))

	got, err := s.GetCredential(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, rec.AccessCipher, got.AccessCipher)
	assert.Equal(t, rec.Scope, got.Scope)
	assert.True(t, rec.Expiry.Equal(got.Expiry))

	// Upsert overwrites, no duplicate rows.
	rec.AccessCipher = []byte{9}
	require.NoError(t, s.PutCredential(ctx, rec))

	got, err = s.GetCredential(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, got.AccessCipher)

	require.NoError(t, s.DeleteCredential(ctx, "u1"))
	assert.ErrorIs(t, s.DeleteCredential(ctx, "u1"), vault.ErrRecordNotFound)
}

func TestSettingsRoundTrip(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	_, err := s.GetSettings(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutSettings(ctx, &SyncSettings{
		UserID:         "u1",
		RootFolderID:   "root1",
		RootFolderName: "Photos",
		RootFolderPath: "My Drive / Photos",
	}))

	set, err := s.GetSettings(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "root1", set.RootFolderID)
	assert.Equal(t, "Photos", set.RootFolderName)
}

func TestSyncStateRoundTrip(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	_, err := s.GetSyncState(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	st := &SyncState{
		UserID:         "u1",
		RootFolderID:   "root1",
		PendingFolders: []string{"root1"},
		Status:         StatusIdle,
		ScanStartedAt:  time.Now(),
	}
	require.NoError(t, s.SaveSyncState(ctx, st))

	got, err := s.GetSyncState(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"root1"}, got.PendingFolders)
	assert.Equal(t, StatusIdle, got.Status)
	assert.Empty(t, got.ChangeCursor)
	assert.False(t, got.ScanStartedAt.IsZero())
	assert.True(t, got.LastFullScanAt.IsZero())
	assert.False(t, got.Done())

	// Whole-row replacement, including an emptied queue.
	st.PendingFolders = nil
	st.ChangeCursor = "c1"
	st.LastFullScanAt = time.Now()
	st.Stats = Stats{ProcessedFolders: 3, UpdatedItems: 7, FoundFolders: 2}
	require.NoError(t, s.SaveSyncState(ctx, st))

	got, err = s.GetSyncState(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, got.PendingFolders)
	assert.Equal(t, "c1", got.ChangeCursor)
	assert.False(t, got.LastFullScanAt.IsZero())
	assert.Equal(t, 7, got.Stats.UpdatedItems)
	assert.True(t, got.Done())
}

func TestSwapChangeCursor(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSyncState(ctx, &SyncState{
		UserID:         "u1",
		RootFolderID:   "root1",
		PendingFolders: []string{"a", "b"},
		Status:         StatusRunning,
		LastFullScanAt: time.Now(),
	}))

	// Empty expect matches the NULL cursor of a never-initialized state.
	ok, err := s.SwapChangeCursor(ctx, "u1", "", "c1", time.Time{})
	require.NoError(t, err)
	assert.True(t, ok)

	// Stale expect misses.
	ok, err = s.SwapChangeCursor(ctx, "u1", "", "c-stale", time.Time{})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.SwapChangeCursor(ctx, "u1", "c1", "c2", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	// Only the cursor columns move: queue, status, and completion stamp
	// are untouched by the swap.
	got, err := s.GetSyncState(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "c2", got.ChangeCursor)
	assert.False(t, got.LastChangesAt.IsZero())
	assert.Equal(t, []string{"a", "b"}, got.PendingFolders)
	assert.Equal(t, StatusRunning, got.Status)
	assert.False(t, got.LastFullScanAt.IsZero())

	// Zero at preserves the existing last_changes_at.
	before := got.LastChangesAt
	ok, err = s.SwapChangeCursor(ctx, "u1", "c2", "c3", time.Time{})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = s.GetSyncState(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, before.UnixNano(), got.LastChangesAt.UnixNano())

	// Unknown user matches no row.
	ok, err = s.SwapChangeCursor(ctx, "nobody", "", "c1", time.Time{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBatchSlotClaim(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSyncState(ctx, &SyncState{
		UserID: "u1", RootFolderID: "root1", Status: StatusIdle,
	}))

	now := time.Now()
	staleAfter := 10 * time.Minute

	ok, err := s.ClaimBatchSlot(ctx, "u1", now, staleAfter)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second claim loses while the lease is held.
	ok, err = s.ClaimBatchSlot(ctx, "u1", now.Add(time.Second), staleAfter)
	require.NoError(t, err)
	assert.False(t, ok)

	// Saving state does not disturb the lease.
	require.NoError(t, s.SaveSyncState(ctx, &SyncState{
		UserID: "u1", RootFolderID: "root1", Status: StatusRunning,
	}))
	ok, err = s.ClaimBatchSlot(ctx, "u1", now.Add(2*time.Second), staleAfter)
	require.NoError(t, err)
	assert.False(t, ok)

	// A stale lease from a crashed worker is reclaimable.
	ok, err = s.ClaimBatchSlot(ctx, "u1", now.Add(staleAfter+time.Second), staleAfter)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.ReleaseBatchSlot(ctx, "u1"))
	ok, err = s.ClaimBatchSlot(ctx, "u1", now.Add(staleAfter+2*time.Second), staleAfter)
	require.NoError(t, err)
	assert.True(t, ok)

	// Unknown user matches no row.
	ok, err = s.ClaimBatchSlot(ctx, "nobody", now, staleAfter)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFolderUpsertIdempotent(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	f := &Folder{
		UserID:     "u1",
		RemoteID:   "f1",
		Name:       "Holidays",
		ParentID:   "root1",
		CachedPath: "Photos / Holidays",
	}

	require.NoError(t, s.UpsertFolder(ctx, f))
	require.NoError(t, s.UpsertFolder(ctx, f))

	count, err := s.CountFolders(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := s.GetFolder(ctx, "u1", "f1")
	require.NoError(t, err)
	assert.Equal(t, "Holidays", got.Name)
	assert.Equal(t, "root1", got.ParentID)
	assert.False(t, got.Trashed)

	f.Trashed = true
	require.NoError(t, s.UpsertFolder(ctx, f))

	count, err = s.CountFolders(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func testItem(userID, remoteID string) *Item {
	now := time.Now()

	return &Item{
		UserID:           userID,
		RemoteID:         remoteID,
		Name:             "x.jpg",
		MimeType:         "image/jpeg",
		Size:             1234,
		ContentHash:      "abc",
		Parents:          []string{"root1"},
		OriginFolderName: "Photos",
		MediaKind:        "image",
		Width:            800,
		Height:           600,
		Status:           ItemActive,
		OriginStatus:     OriginActive,
		LastSeenAt:       now,
		LastSyncSeenAt:   now,
	}
}

func TestItemUpsertIdempotent(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	it := testItem("u1", "i1")

	res, err := s.UpsertItem(ctx, it)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.False(t, res.Reactivated)

	res, err = s.UpsertItem(ctx, it)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.False(t, res.Reactivated)

	counts, err := s.CountItems(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[ItemStatus]int{ItemActive: 1}, counts)

	got, err := s.GetItem(ctx, "u1", "i1")
	require.NoError(t, err)
	assert.Equal(t, []string{"root1"}, got.Parents)
	assert.Equal(t, "image", got.MediaKind)
}

func TestItemMissingAndReactivation(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	it := testItem("u1", "i1")
	_, err := s.UpsertItem(ctx, it)
	require.NoError(t, err)

	require.NoError(t, s.MarkItemMissing(ctx, "u1", "i1", time.Now()))

	got, err := s.GetItem(ctx, "u1", "i1")
	require.NoError(t, err)
	assert.Equal(t, ItemMissing, got.Status)
	assert.Equal(t, OriginMissing, got.OriginStatus)
	assert.False(t, got.OriginMissingSince.IsZero())
	// Non-status fields survive.
	assert.Equal(t, "x.jpg", got.Name)
	assert.Equal(t, int64(1234), got.Size)

	// Re-observation reactivates and clears the missing marker.
	res, err := s.UpsertItem(ctx, it)
	require.NoError(t, err)
	assert.True(t, res.Reactivated)

	got, err = s.GetItem(ctx, "u1", "i1")
	require.NoError(t, err)
	assert.Equal(t, ItemActive, got.Status)
	assert.Equal(t, OriginActive, got.OriginStatus)
	assert.True(t, got.OriginMissingSince.IsZero())
}

func TestMarkItemMissingUnknownItem(t *testing.T) {
	t.Parallel()

	s := testStore(t)

	// The change feed can report files the mirror never indexed.
	assert.NoError(t, s.MarkItemMissing(context.Background(), "u1", "ghost", time.Now()))
}

func TestMarkItemDeleted(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	_, err := s.UpsertItem(ctx, testItem("u1", "i1"))
	require.NoError(t, err)

	require.NoError(t, s.MarkItemDeleted(ctx, "u1", "i1", time.Now()))

	got, err := s.GetItem(ctx, "u1", "i1")
	require.NoError(t, err)
	assert.Equal(t, ItemDeleted, got.Status)

	// A deleted item is not resurrected by a missing marker.
	require.NoError(t, s.MarkItemMissing(ctx, "u1", "i1", time.Now()))

	got, err = s.GetItem(ctx, "u1", "i1")
	require.NoError(t, err)
	assert.Equal(t, ItemDeleted, got.Status)
}

func TestMarkStaleItemsMissing(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	scanStart := time.Now()

	// Seen before the scan started — stale.
	stale := testItem("u1", "old")
	stale.LastSyncSeenAt = scanStart.Add(-time.Hour)
	_, err := s.UpsertItem(ctx, stale)
	require.NoError(t, err)

	// Re-observed during the scan — kept.
	fresh := testItem("u1", "new")
	fresh.LastSyncSeenAt = scanStart.Add(time.Minute)
	_, err = s.UpsertItem(ctx, fresh)
	require.NoError(t, err)

	// Never stamped at all — stale.
	never := testItem("u1", "never")
	never.LastSyncSeenAt = time.Time{}
	_, err = s.UpsertItem(ctx, never)
	require.NoError(t, err)

	n, err := s.MarkStaleItemsMissing(ctx, "u1", scanStart, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.GetItem(ctx, "u1", "old")
	require.NoError(t, err)
	assert.Equal(t, OriginMissing, got.OriginStatus)
	assert.Empty(t, got.OriginFolderName)
	// Item-level status stays active: the item was not explicitly removed.
	assert.Equal(t, ItemActive, got.Status)

	got, err = s.GetItem(ctx, "u1", "new")
	require.NoError(t, err)
	assert.Equal(t, OriginActive, got.OriginStatus)

	// Idempotent: a second pass finds nothing new.
	n, err = s.MarkStaleItemsMissing(ctx, "u1", scanStart, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListActiveItems(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	a := testItem("u1", "a")
	a.TakenAt = time.Now().Add(-time.Hour)
	_, err := s.UpsertItem(ctx, a)
	require.NoError(t, err)

	b := testItem("u1", "b")
	b.TakenAt = time.Now()
	_, err = s.UpsertItem(ctx, b)
	require.NoError(t, err)

	gone := testItem("u1", "gone")
	_, err = s.UpsertItem(ctx, gone)
	require.NoError(t, err)
	require.NoError(t, s.MarkItemMissing(ctx, "u1", "gone", time.Now()))

	items, err := s.ListActiveItems(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "b", items[0].RemoteID)
	assert.Equal(t, "a", items[1].RemoteID)
}

func TestNotifications(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	id, err := s.InsertNotification(ctx, "u1", NotificationOrphans, `{"count":3}`)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	list, err := s.ListNotifications(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, NotificationOrphans, list[0].Kind)
	assert.Equal(t, `{"count":3}`, list[0].Payload)
}

func TestUserIsolation(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	_, err := s.UpsertItem(ctx, testItem("u1", "i1"))
	require.NoError(t, err)

	counts, err := s.CountItems(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, counts)

	_, err = s.GetItem(ctx, "u2", "i1")
	assert.ErrorIs(t, err, ErrNotFound)
}
