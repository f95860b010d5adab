// Package orchestrator implements the comparison orchestrator (spec.md
// §4.2): the serialized executor that builds snapshots, runs the
// comparer, and persists results, bounded by a per-subscription lock and
// a process-wide concurrency cap.
//
// Grounded on the teacher's top-level sqldef.Run pipeline (sqldef.go:
// build current state, build desired state, diff, apply) reshaped into
// build-snapshot / build-file-cache / compare / persist, with the
// concurrency control spec.md §5 requires added on top.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/schemadrift/engine/internal/comparer"
	"github.com/schemadrift/engine/internal/dbmodel"
	"github.com/schemadrift/engine/internal/engineerr"
	"github.com/schemadrift/engine/internal/model"
	"github.com/schemadrift/engine/internal/normalize"
	"github.com/schemadrift/engine/internal/obslog"
	"github.com/schemadrift/engine/internal/realtime"
	"github.com/schemadrift/engine/internal/repo"
)

var log = obslog.Sub("orchestrator")

// IncrementalFreshness is how recent the latest snapshot must be to be
// reused by an incremental-mode comparison (spec.md §4.2 "fresh enough").
const IncrementalFreshness = 2 * time.Minute

// SnapshotBuilder is the DatabaseModelBuilder seam (spec.md §4.3). The
// Design Notes call for explicit collaborator interfaces in place of the
// source's per-instance static test hooks: the orchestrator depends on
// this interface rather than *dbmodel.Builder directly, so tests can
// supply a fake without opening a real SQL Server connection.
// *dbmodel.Builder satisfies it structurally.
type SnapshotBuilder interface {
	Build(ctx context.Context, subscriptionID model.ID, conn model.DatabaseConnection, normOpts normalize.Options, filterType *model.ObjectType) (model.SchemaSnapshot, error)
}

// FileCacheBuilder is the FileModelBuilder seam (spec.md §4.4).
// *filemodel.Builder satisfies it structurally.
type FileCacheBuilder interface {
	Build(folder model.ProjectFolder, subscriptionID model.ID, normOpts normalize.Options) (model.FileModelCache, error)
}

// Orchestrator is the comparison orchestrator (spec.md §4.2).
type Orchestrator struct {
	Subscriptions repo.Subscriptions
	Snapshots     repo.SchemaSnapshots
	History       repo.ComparisonHistory

	DBBuilder   SnapshotBuilder
	FileBuilder FileCacheBuilder
	Publisher   *realtime.Publisher

	MaxConcurrentComparisons int64
	MaxCachedSnapshots       int

	sem     *semaphore.Weighted
	locksMu sync.Mutex
	locks   map[model.ID]*sync.Mutex

	initOnce sync.Once
}

func (o *Orchestrator) init() {
	o.initOnce.Do(func() {
		max := o.MaxConcurrentComparisons
		if max <= 0 {
			max = 1
		}
		o.sem = semaphore.NewWeighted(max)
		o.locks = make(map[model.ID]*sync.Mutex)
	})
}

func (o *Orchestrator) lockFor(id model.ID) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	l, ok := o.locks[id]
	if !ok {
		l = &sync.Mutex{}
		o.locks[id] = l
	}
	return l
}

// Run executes a comparison for subscriptionID per spec.md §4.2.
func (o *Orchestrator) Run(ctx context.Context, subscriptionID model.ID, full bool, trigger string) (model.ComparisonResult, error) {
	o.init()

	sub, err := o.Subscriptions.Get(ctx, subscriptionID)
	if err != nil {
		return model.ComparisonResult{}, err
	}

	lock := o.lockFor(subscriptionID)
	if !lock.TryLock() {
		return model.ComparisonResult{}, engineerr.NewComparisonInProgress(subscriptionID.String())
	}
	defer lock.Unlock()

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return model.ComparisonResult{}, fmt.Errorf("acquiring comparison slot: %w", err)
	}
	defer o.sem.Release(1)

	start := time.Now()
	o.Publisher.Publish(subscriptionID, realtime.EventComparisonStarted, map[string]any{
		"subscription-id": subscriptionID.String(),
		"trigger":         trigger,
		"full":            full,
	})

	result, err := o.execute(ctx, sub, full, trigger, start)
	if err != nil {
		result.Status = model.StatusError
		result.Duration = time.Since(start)
		_ = o.History.Save(ctx, result)
		o.Publisher.Publish(subscriptionID, realtime.EventComparisonFailed, map[string]any{
			"subscription-id": subscriptionID.String(),
			"error":           err.Error(),
		})
		return result, err
	}

	o.Publisher.Publish(subscriptionID, realtime.EventComparisonCompleted, map[string]any{
		"subscription-id": subscriptionID.String(),
		"status":          string(result.Status),
		"total-differences": result.Summary.TotalDifferences,
	})
	return result, nil
}

func (o *Orchestrator) execute(ctx context.Context, sub model.Subscription, full bool, trigger string, start time.Time) (model.ComparisonResult, error) {
	normOpts := normalize.Options{IgnoreWhitespace: sub.Options.IgnoreWhitespace, IgnoreComments: sub.Options.IgnoreComments}

	snapshot, err := o.buildSnapshot(ctx, sub, full, normOpts)
	var partialErr *dbmodel.PartialError
	isPartial := errors.As(err, &partialErr)
	if err != nil && !isPartial {
		return model.ComparisonResult{ID: model.NewID(), SubscriptionID: sub.ID}, fmt.Errorf("building snapshot: %w", err)
	}
	if isPartial {
		snapshot = partialErr.Snapshot
	}

	files, err := o.FileBuilder.Build(sub.Folder, sub.ID, normOpts)
	if err != nil {
		return model.ComparisonResult{ID: model.NewID(), SubscriptionID: sub.ID}, fmt.Errorf("building file cache: %w", err)
	}

	cmp := comparer.Compare(snapshot, files, sub.Options)
	summary := model.BuildSummary(cmp.Differences, countUnsupported(cmp.UnsupportedObjects, model.SourceDatabase), countUnsupported(cmp.UnsupportedObjects, model.SourceFilesystem), cmp.ObjectsCompared, cmp.ObjectsUnchanged)

	status := model.StatusSynchronized
	if len(cmp.Differences) > 0 {
		status = model.StatusHasDifferences
	}
	if isPartial {
		status = model.StatusPartial
	}

	result := model.ComparisonResult{
		ID:                 model.NewID(),
		SubscriptionID:     sub.ID,
		ComparedAt:         start,
		Duration:           time.Since(start),
		Status:             status,
		Trigger:            trigger,
		Summary:            summary,
		Differences:        cmp.Differences,
		UnsupportedObjects: cmp.UnsupportedObjects,
	}

	if err := o.Snapshots.Save(ctx, snapshot); err != nil {
		return result, fmt.Errorf("persisting snapshot: %w", err)
	}
	if err := o.History.Save(ctx, result); err != nil {
		return result, fmt.Errorf("persisting comparison result: %w", err)
	}

	now := time.Now().UTC()
	sub.LastComparedAt = &now
	if err := o.Subscriptions.Update(ctx, sub); err != nil {
		log.Warn("failed updating last-compared", "subscription", sub.ID, "error", err)
	}

	if o.MaxCachedSnapshots > 0 {
		if _, err := o.Snapshots.PruneToMostRecent(ctx, sub.ID, o.MaxCachedSnapshots); err != nil {
			log.Warn("snapshot retention prune failed", "subscription", sub.ID, "error", err)
		}
	}

	return result, nil
}

// buildSnapshot implements the full/incremental split: incremental mode
// reuses the latest snapshot when it is fresh enough, rebuilding only the
// file cache (spec.md §4.2).
func (o *Orchestrator) buildSnapshot(ctx context.Context, sub model.Subscription, full bool, normOpts normalize.Options) (model.SchemaSnapshot, error) {
	if !full {
		if latest, err := o.Snapshots.Latest(ctx, sub.ID); err == nil {
			if time.Since(latest.CapturedAt) < IncrementalFreshness {
				return latest, nil
			}
		}
	}
	return o.DBBuilder.Build(ctx, sub.ID, sub.Database, normOpts, nil)
}

func countUnsupported(objs []model.UnsupportedObject, source model.ChangeSource) int {
	n := 0
	for _, o := range objs {
		if o.Source == source {
			n++
		}
	}
	return n
}
