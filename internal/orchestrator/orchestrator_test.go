package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/schemadrift/engine/internal/dbmodel"
	"github.com/schemadrift/engine/internal/model"
	"github.com/schemadrift/engine/internal/normalize"
	"github.com/schemadrift/engine/internal/realtime"
	"github.com/schemadrift/engine/internal/repo"
	"github.com/stretchr/testify/require"
)

type fakeSnapshotBuilder struct {
	mu       sync.Mutex
	snapshot model.SchemaSnapshot
	err      error
	calls    int
}

func (f *fakeSnapshotBuilder) Build(ctx context.Context, subscriptionID model.ID, conn model.DatabaseConnection, normOpts normalize.Options, filterType *model.ObjectType) (model.SchemaSnapshot, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.snapshot, f.err
}

type fakeFileCacheBuilder struct {
	cache model.FileModelCache
	err   error
}

func (f *fakeFileCacheBuilder) Build(folder model.ProjectFolder, subscriptionID model.ID, normOpts normalize.Options) (model.FileModelCache, error) {
	return f.cache, f.err
}

func newTestOrchestrator(t *testing.T, store *repo.InMemory, dbBuilder SnapshotBuilder, fileBuilder FileCacheBuilder) *Orchestrator {
	t.Helper()
	return &Orchestrator{
		Subscriptions:            store.Subs,
		Snapshots:                store.Snaps,
		History:                  store.History,
		DBBuilder:                dbBuilder,
		FileBuilder:              fileBuilder,
		Publisher:                realtime.NewPublisher(),
		MaxConcurrentComparisons: 2,
	}
}

func TestRunSynchronizedWhenHashesMatch(t *testing.T) {
	store := repo.NewInMemory()
	sub := model.Subscription{ID: model.NewID(), Name: "s", State: model.StateActive}
	require.NoError(t, store.Subs.Create(context.Background(), sub))

	snapshot := model.SchemaSnapshot{
		Objects: []model.SchemaObjectSummary{
			{SchemaName: "dbo", ObjectName: "A", ObjectType: model.ObjectTable, DefinitionHash: "h1"},
		},
	}
	files := model.FileModelCache{Files: map[string]model.FileObjectEntry{
		"A.sql": {SchemaName: "dbo", ObjectName: "A", ObjectType: model.ObjectTable, ContentHash: "h1"},
	}}

	orch := newTestOrchestrator(t, store, &fakeSnapshotBuilder{snapshot: snapshot}, &fakeFileCacheBuilder{cache: files})

	result, err := orch.Run(context.Background(), sub.ID, true, model.TriggerManual)
	require.NoError(t, err)
	require.Equal(t, model.StatusSynchronized, result.Status)
	require.Empty(t, result.Differences)
}

func TestRunHasDifferencesWhenHashesDiverge(t *testing.T) {
	store := repo.NewInMemory()
	sub := model.Subscription{ID: model.NewID(), Name: "s", State: model.StateActive}
	require.NoError(t, store.Subs.Create(context.Background(), sub))

	snapshot := model.SchemaSnapshot{
		Objects: []model.SchemaObjectSummary{
			{SchemaName: "dbo", ObjectName: "A", ObjectType: model.ObjectTable, DefinitionHash: "h1"},
		},
	}
	files := model.FileModelCache{Files: map[string]model.FileObjectEntry{
		"A.sql": {SchemaName: "dbo", ObjectName: "A", ObjectType: model.ObjectTable, ContentHash: "h2"},
	}}

	orch := newTestOrchestrator(t, store, &fakeSnapshotBuilder{snapshot: snapshot}, &fakeFileCacheBuilder{cache: files})

	result, err := orch.Run(context.Background(), sub.ID, true, model.TriggerManual)
	require.NoError(t, err)
	require.Equal(t, model.StatusHasDifferences, result.Status)
	require.Len(t, result.Differences, 1)
}

func TestRunSecondOverlappingCallFailsFast(t *testing.T) {
	store := repo.NewInMemory()
	sub := model.Subscription{ID: model.NewID(), Name: "s", State: model.StateActive}
	require.NoError(t, store.Subs.Create(context.Background(), sub))

	orch := newTestOrchestrator(t, store, &fakeSnapshotBuilder{}, &fakeFileCacheBuilder{})
	lock := orch.lockFor(sub.ID)
	lock.Lock()
	defer lock.Unlock()

	_, err := orch.Run(context.Background(), sub.ID, true, model.TriggerManual)
	require.Error(t, err)
	require.Contains(t, err.Error(), "comparison-in-progress")
}

func TestRunUnknownSubscriptionNotFound(t *testing.T) {
	store := repo.NewInMemory()
	orch := newTestOrchestrator(t, store, &fakeSnapshotBuilder{}, &fakeFileCacheBuilder{})

	_, err := orch.Run(context.Background(), model.NewID(), true, model.TriggerManual)
	require.Error(t, err)
}

func TestRunErrorStatusOnSnapshotFailure(t *testing.T) {
	store := repo.NewInMemory()
	sub := model.Subscription{ID: model.NewID(), Name: "s", State: model.StateActive}
	require.NoError(t, store.Subs.Create(context.Background(), sub))

	orch := newTestOrchestrator(t, store, &fakeSnapshotBuilder{err: errors.New("connection refused")}, &fakeFileCacheBuilder{})

	result, err := orch.Run(context.Background(), sub.ID, true, model.TriggerManual)
	require.Error(t, err)
	require.Equal(t, model.StatusError, result.Status)
	require.NotEqual(t, model.NilID, result.ID, "error result must get its own identifier, not collide with other subscriptions' errors in history")
	require.Equal(t, sub.ID, result.SubscriptionID)

	history, err := store.History.ListBySubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Len(t, history, 1, "the error result must be retrievable by subscription, not just by its (shared) zero ID")
	require.Equal(t, result.ID, history[0].ID)
}

func TestRunErrorResultsForDifferentSubscriptionsDoNotCollideInHistory(t *testing.T) {
	store := repo.NewInMemory()
	subA := model.Subscription{ID: model.NewID(), Name: "a", State: model.StateActive}
	subB := model.Subscription{ID: model.NewID(), Name: "b", State: model.StateActive}
	require.NoError(t, store.Subs.Create(context.Background(), subA))
	require.NoError(t, store.Subs.Create(context.Background(), subB))

	orch := newTestOrchestrator(t, store, &fakeSnapshotBuilder{err: errors.New("connection refused")}, &fakeFileCacheBuilder{})

	_, errA := orch.Run(context.Background(), subA.ID, true, model.TriggerManual)
	require.Error(t, errA)
	_, errB := orch.Run(context.Background(), subB.ID, true, model.TriggerManual)
	require.Error(t, errB)

	historyA, err := store.History.ListBySubscription(context.Background(), subA.ID)
	require.NoError(t, err)
	require.Len(t, historyA, 1)

	historyB, err := store.History.ListBySubscription(context.Background(), subB.ID)
	require.NoError(t, err)
	require.Len(t, historyB, 1)

	require.NotEqual(t, historyA[0].ID, historyB[0].ID)
}

func TestRunPartialStatusWhenSnapshotBuilderReturnsPartialError(t *testing.T) {
	store := repo.NewInMemory()
	sub := model.Subscription{ID: model.NewID(), Name: "s", State: model.StateActive}
	require.NoError(t, store.Subs.Create(context.Background(), sub))

	partial := &dbmodel.PartialError{
		Snapshot: model.SchemaSnapshot{Objects: nil},
		Errs:     []error{errors.New("read failed for dbo.X")},
	}
	orch := newTestOrchestrator(t, store, &fakeSnapshotBuilder{err: partial}, &fakeFileCacheBuilder{})

	result, err := orch.Run(context.Background(), sub.ID, true, model.TriggerManual)
	require.NoError(t, err)
	require.Equal(t, model.StatusPartial, result.Status)
}

func TestRunIncrementalReusesFreshSnapshot(t *testing.T) {
	store := repo.NewInMemory()
	sub := model.Subscription{ID: model.NewID(), Name: "s", State: model.StateActive}
	require.NoError(t, store.Subs.Create(context.Background(), sub))

	existing := model.SchemaSnapshot{ID: model.NewID(), SubscriptionID: sub.ID, CapturedAt: time.Now()}
	require.NoError(t, store.Snaps.Save(context.Background(), existing))

	fakeBuilder := &fakeSnapshotBuilder{}
	orch := newTestOrchestrator(t, store, fakeBuilder, &fakeFileCacheBuilder{})

	_, err := orch.Run(context.Background(), sub.ID, false, model.TriggerFileChange)
	require.NoError(t, err)
	require.Equal(t, 0, fakeBuilder.calls)
}

func TestRunIncrementalRebuildsWhenNoSnapshotExists(t *testing.T) {
	store := repo.NewInMemory()
	sub := model.Subscription{ID: model.NewID(), Name: "s", State: model.StateActive}
	require.NoError(t, store.Subs.Create(context.Background(), sub))

	fakeBuilder := &fakeSnapshotBuilder{}
	orch := newTestOrchestrator(t, store, fakeBuilder, &fakeFileCacheBuilder{})

	_, err := orch.Run(context.Background(), sub.ID, false, model.TriggerFileChange)
	require.NoError(t, err)
	require.Equal(t, 1, fakeBuilder.calls)
}
