package pipeline

import (
	"context"
	"testing"

	"github.com/schemadrift/engine/internal/engineerr"
	"github.com/schemadrift/engine/internal/model"
	"github.com/schemadrift/engine/internal/realtime"
	"github.com/schemadrift/engine/internal/repo"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	err       error
	callCount int
	lastFull  bool
	lastTrig  string
}

func (f *fakeRunner) Run(ctx context.Context, subscriptionID model.ID, full bool, trigger string) (model.ComparisonResult, error) {
	f.callCount++
	f.lastFull = full
	f.lastTrig = trigger
	return model.ComparisonResult{}, f.err
}

func newActiveSubscription(t *testing.T, subs repo.Subscriptions, opts model.Options) model.Subscription {
	t.Helper()
	sub := model.Subscription{ID: model.NewID(), Name: "s", State: model.StateActive, Options: opts}
	require.NoError(t, subs.Create(context.Background(), sub))
	return sub
}

func TestDecideTriggerFileWinsWhenBothPresent(t *testing.T) {
	opts := model.Options{AutoCompare: true, CompareOnFileChange: true, CompareOnDatabaseChange: true}
	changes := []model.DetectedChange{
		{Source: model.SourceFilesystem},
		{Source: model.SourceDatabase},
	}
	trigger, should := decideTrigger(opts, changes)
	require.True(t, should)
	require.Equal(t, model.TriggerFileChange, trigger)
}

func TestDecideTriggerNoCompareWhenAutoCompareOff(t *testing.T) {
	opts := model.Options{AutoCompare: false, CompareOnFileChange: true}
	_, should := decideTrigger(opts, []model.DetectedChange{{Source: model.SourceFilesystem}})
	require.False(t, should)
}

func TestProcessorRunsComparisonAndMarksProcessed(t *testing.T) {
	store := repo.NewInMemory()
	sub := newActiveSubscription(t, store.Subs, model.Options{AutoCompare: true, CompareOnFileChange: true})
	runner := &fakeRunner{}
	proc := &ChangeProcessor{
		Subscriptions: store.Subs,
		Pending:       store.Pending,
		Publisher:     realtime.NewPublisher(),
		Runner:        runner,
	}

	change := model.DetectedChange{ID: model.NewID(), SubscriptionID: sub.ID, Source: model.SourceFilesystem, Kind: model.ChangeModified}
	batch := model.PendingChangeBatch{SubscriptionID: sub.ID, Changes: []model.DetectedChange{change}}

	proc.Process(context.Background(), batch)

	require.Equal(t, 1, runner.callCount)
	require.False(t, runner.lastFull)
	require.Equal(t, model.TriggerFileChange, runner.lastTrig)

	unprocessed, err := store.Pending.Unprocessed(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Empty(t, unprocessed)
}

func TestProcessorLeavesUnprocessedOnComparisonInProgress(t *testing.T) {
	store := repo.NewInMemory()
	sub := newActiveSubscription(t, store.Subs, model.Options{AutoCompare: true, CompareOnFileChange: true})
	runner := &fakeRunner{err: engineerr.NewComparisonInProgress(sub.ID.String())}
	proc := &ChangeProcessor{
		Subscriptions: store.Subs,
		Pending:       store.Pending,
		Publisher:     realtime.NewPublisher(),
		Runner:        runner,
	}

	change := model.DetectedChange{ID: model.NewID(), SubscriptionID: sub.ID, Source: model.SourceFilesystem}
	batch := model.PendingChangeBatch{SubscriptionID: sub.ID, Changes: []model.DetectedChange{change}}
	proc.Process(context.Background(), batch)

	unprocessed, err := store.Pending.Unprocessed(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Len(t, unprocessed, 1)
}

func TestProcessorSkipsInactiveSubscriptionAfterPersisting(t *testing.T) {
	store := repo.NewInMemory()
	sub := model.Subscription{ID: model.NewID(), Name: "paused", State: model.StatePaused, Options: model.Options{AutoCompare: true, CompareOnFileChange: true}}
	require.NoError(t, store.Subs.Create(context.Background(), sub))
	runner := &fakeRunner{}
	proc := &ChangeProcessor{
		Subscriptions: store.Subs,
		Pending:       store.Pending,
		Publisher:     realtime.NewPublisher(),
		Runner:        runner,
	}

	change := model.DetectedChange{ID: model.NewID(), SubscriptionID: sub.ID, Source: model.SourceFilesystem}
	batch := model.PendingChangeBatch{SubscriptionID: sub.ID, Changes: []model.DetectedChange{change}}
	proc.Process(context.Background(), batch)

	require.Equal(t, 0, runner.callCount)
	unprocessed, err := store.Pending.Unprocessed(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Len(t, unprocessed, 1)
}
