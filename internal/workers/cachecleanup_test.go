package workers

import (
	"context"
	"testing"
	"time"

	"github.com/schemadrift/engine/internal/model"
	"github.com/schemadrift/engine/internal/repo"
	"github.com/stretchr/testify/require"
)

func TestCacheCleanupDeletesOldSnapshotsAndHistory(t *testing.T) {
	store := repo.NewInMemory()
	sub := model.Subscription{ID: model.NewID(), Name: "s", State: model.StateActive}
	require.NoError(t, store.Subs.Create(context.Background(), sub))

	fixedNow := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	oldSnapshot := model.SchemaSnapshot{ID: model.NewID(), SubscriptionID: sub.ID, CapturedAt: fixedNow.Add(-10 * 24 * time.Hour)}
	freshSnapshot := model.SchemaSnapshot{ID: model.NewID(), SubscriptionID: sub.ID, CapturedAt: fixedNow.Add(-1 * time.Hour)}
	require.NoError(t, store.Snaps.Save(context.Background(), oldSnapshot))
	require.NoError(t, store.Snaps.Save(context.Background(), freshSnapshot))

	oldResult := model.ComparisonResult{ID: model.NewID(), SubscriptionID: sub.ID, ComparedAt: fixedNow.Add(-40 * 24 * time.Hour)}
	freshResult := model.ComparisonResult{ID: model.NewID(), SubscriptionID: sub.ID, ComparedAt: fixedNow.Add(-1 * time.Hour)}
	require.NoError(t, store.History.Save(context.Background(), oldResult))
	require.NoError(t, store.History.Save(context.Background(), freshResult))

	// MarkProcessed stamps ProcessedAt from the store's own clock, not a
	// caller-supplied value, so the processed-48h-ago scenario is driven
	// through that clock rather than a pre-set struct literal.
	store.Pending.Now = func() time.Time { return fixedNow.Add(-48 * time.Hour) }
	oldChange := model.DetectedChange{ID: model.NewID(), SubscriptionID: sub.ID}
	require.NoError(t, store.Pending.SaveBatch(context.Background(), []model.DetectedChange{oldChange}))
	require.NoError(t, store.Pending.MarkProcessed(context.Background(), []model.ID{oldChange.ID}))

	w := &CacheCleanupWorker{
		SnapshotRetention:          7 * 24 * time.Hour,
		MaxCachedSnapshotsPerSub:   10,
		ComparisonHistoryRetention: 30 * 24 * time.Hour,
		PendingChangeRetention:     24 * time.Hour,
		Subscriptions:              store.Subs,
		Snapshots:                  store.Snaps,
		History:                    store.History,
		Pending:                    store.Pending,
		now:                        func() time.Time { return fixedNow },
	}
	w.pass(context.Background())

	snaps, err := store.Snaps.ListBySubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Equal(t, freshSnapshot.ID, snaps[0].ID)

	history, err := store.History.ListBySubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, freshResult.ID, history[0].ID)

	remaining, err := store.Pending.DeleteProcessedOlderThan(context.Background(), func(model.DetectedChange) bool { return true })
	require.NoError(t, err)
	require.Equal(t, 0, remaining, "pending change processed 48h ago must already be purged by cache cleanup")
}

func TestCacheCleanupPrunesSnapshotsPerSubscription(t *testing.T) {
	store := repo.NewInMemory()
	sub := model.Subscription{ID: model.NewID(), Name: "s", State: model.StateActive}
	require.NoError(t, store.Subs.Create(context.Background(), sub))

	fixedNow := time.Now().UTC()
	for i := 0; i < 5; i++ {
		snap := model.SchemaSnapshot{ID: model.NewID(), SubscriptionID: sub.ID, CapturedAt: fixedNow.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, store.Snaps.Save(context.Background(), snap))
	}

	w := &CacheCleanupWorker{
		SnapshotRetention:          365 * 24 * time.Hour,
		MaxCachedSnapshotsPerSub:   2,
		ComparisonHistoryRetention: 365 * 24 * time.Hour,
		PendingChangeRetention:     365 * 24 * time.Hour,
		Subscriptions:              store.Subs,
		Snapshots:                  store.Snaps,
		History:                    store.History,
		Pending:                    store.Pending,
		now:                        func() time.Time { return fixedNow },
	}
	w.pass(context.Background())

	snaps, err := store.Snaps.ListBySubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
}
