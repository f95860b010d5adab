package workers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/schemadrift/engine/internal/engineerr"
	"github.com/schemadrift/engine/internal/model"
	"github.com/schemadrift/engine/internal/repo"
	"github.com/stretchr/testify/require"
)

type fakeComparisonRunner struct {
	mu    sync.Mutex
	calls []model.ID
	err   error
}

func (f *fakeComparisonRunner) Run(ctx context.Context, subscriptionID model.ID, full bool, trigger string) (model.ComparisonResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, subscriptionID)
	return model.ComparisonResult{}, f.err
}

func (f *fakeComparisonRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func noJitter(time.Duration) time.Duration { return 0 }

func TestReconciliationPassSkipsRecentlyComparedSubscription(t *testing.T) {
	store := repo.NewInMemory()
	recent := time.Now().UTC()
	sub := model.Subscription{
		ID:             model.NewID(),
		Name:           "s",
		State:          model.StateActive,
		Options:        model.Options{AutoCompare: true},
		LastComparedAt: &recent,
	}
	require.NoError(t, store.Subs.Create(context.Background(), sub))

	runner := &fakeComparisonRunner{}
	w := &ReconciliationWorker{
		Interval:                time.Hour,
		Subscriptions:           store.Subs,
		Pending:                 store.Pending,
		Runner:                  runner,
		MaxConcurrentReconciles: 2,
		jitter:                  noJitter,
	}
	w.pass(context.Background())
	require.Equal(t, 0, runner.callCount())
}

func TestReconciliationPassRunsStaleSubscription(t *testing.T) {
	store := repo.NewInMemory()
	stale := time.Now().UTC().Add(-2 * time.Hour)
	sub := model.Subscription{
		ID:             model.NewID(),
		Name:           "s",
		State:          model.StateActive,
		Options:        model.Options{AutoCompare: true},
		LastComparedAt: &stale,
	}
	require.NoError(t, store.Subs.Create(context.Background(), sub))

	runner := &fakeComparisonRunner{}
	w := &ReconciliationWorker{
		Interval:                time.Hour,
		Subscriptions:           store.Subs,
		Pending:                 store.Pending,
		Runner:                  runner,
		MaxConcurrentReconciles: 2,
		jitter:                  noJitter,
	}
	w.pass(context.Background())
	require.Equal(t, 1, runner.callCount())
}

func TestReconciliationSkipsSubscriptionWithAutoCompareDisabled(t *testing.T) {
	store := repo.NewInMemory()
	sub := model.Subscription{ID: model.NewID(), Name: "s", State: model.StateActive, Options: model.Options{AutoCompare: false}}
	require.NoError(t, store.Subs.Create(context.Background(), sub))

	runner := &fakeComparisonRunner{}
	w := &ReconciliationWorker{
		Interval:                time.Hour,
		Subscriptions:           store.Subs,
		Pending:                 store.Pending,
		Runner:                  runner,
		MaxConcurrentReconciles: 2,
		jitter:                  noJitter,
	}
	w.pass(context.Background())
	require.Equal(t, 0, runner.callCount())
}

func TestReconciliationSwallowsComparisonInProgress(t *testing.T) {
	store := repo.NewInMemory()
	sub := model.Subscription{ID: model.NewID(), Name: "s", State: model.StateActive, Options: model.Options{AutoCompare: true}}
	require.NoError(t, store.Subs.Create(context.Background(), sub))

	runner := &fakeComparisonRunner{err: engineerr.NewComparisonInProgress(sub.ID.String())}
	w := &ReconciliationWorker{
		Interval:                time.Hour,
		Subscriptions:           store.Subs,
		Pending:                 store.Pending,
		Runner:                  runner,
		MaxConcurrentReconciles: 2,
		jitter:                  noJitter,
	}
	require.NotPanics(t, func() { w.pass(context.Background()) })
	require.Equal(t, 1, runner.callCount())
}

func TestReconciliationMarksPendingChangesProcessedAfterSuccess(t *testing.T) {
	store := repo.NewInMemory()
	sub := model.Subscription{ID: model.NewID(), Name: "s", State: model.StateActive, Options: model.Options{AutoCompare: true}}
	require.NoError(t, store.Subs.Create(context.Background(), sub))

	change := model.DetectedChange{ID: model.NewID(), SubscriptionID: sub.ID, Source: model.SourceFilesystem}
	require.NoError(t, store.Pending.SaveBatch(context.Background(), []model.DetectedChange{change}))

	runner := &fakeComparisonRunner{}
	w := &ReconciliationWorker{
		Interval:                time.Hour,
		Subscriptions:           store.Subs,
		Pending:                 store.Pending,
		Runner:                  runner,
		MaxConcurrentReconciles: 2,
		jitter:                  noJitter,
	}
	w.pass(context.Background())

	unprocessed, err := store.Pending.Unprocessed(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Empty(t, unprocessed)
}

func TestReconciliationRunsEverySubscriptionUnderConcurrencyLimit(t *testing.T) {
	store := repo.NewInMemory()
	for i := 0; i < 5; i++ {
		sub := model.Subscription{ID: model.NewID(), Name: fmt.Sprintf("s%d", i), State: model.StateActive, Options: model.Options{AutoCompare: true}}
		require.NoError(t, store.Subs.Create(context.Background(), sub))
	}

	runner := &fakeComparisonRunner{}
	w := &ReconciliationWorker{
		Interval:                time.Hour,
		Subscriptions:           store.Subs,
		Pending:                 store.Pending,
		Runner:                  runner,
		MaxConcurrentReconciles: 2,
		jitter:                  noJitter,
	}
	w.pass(context.Background())
	require.Equal(t, 5, runner.callCount())
}
