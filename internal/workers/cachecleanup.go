package workers

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/schemadrift/engine/internal/model"
	"github.com/schemadrift/engine/internal/repo"
)

// cleanupLRUSize bounds how many subscriptions' last-cleanup timestamps
// the worker keeps resident. A daemon accumulating thousands of
// subscriptions over its lifetime would otherwise grow this bookkeeping
// map without bound even though only the active set matters on any given
// pass.
const cleanupLRUSize = 4096

// CacheCleanupWorker implements spec.md §4.8's cache cleanup worker:
// hourly retention enforcement across snapshots, comparison history, and
// processed pending changes.
//
// Grounded on the teacher's worker-loop shape; the per-subscription
// last-cleanup bookkeeping uses github.com/hashicorp/golang-lru/v2, the
// same library the rest of the pack reaches for whenever a process needs
// a bounded, eviction-aware cache rather than an ever-growing map.
type CacheCleanupWorker struct {
	Interval time.Duration
	Enabled  bool

	SnapshotRetention          time.Duration
	MaxCachedSnapshotsPerSub   int
	ComparisonHistoryRetention time.Duration
	PendingChangeRetention     time.Duration

	Subscriptions repo.Subscriptions
	Snapshots     repo.SchemaSnapshots
	History       repo.ComparisonHistory
	Pending       repo.PendingChanges

	now        func() time.Time
	lastRun    *lru.Cache[model.ID, time.Time]
}

// Run blocks, running a cleanup pass every Interval until ctx is cancelled.
func (w *CacheCleanupWorker) Run(ctx context.Context) {
	if !w.Enabled {
		return
	}
	cache, err := lru.New[model.ID, time.Time](cleanupLRUSize)
	if err != nil {
		log.Error("cache cleanup worker: failed constructing bookkeeping cache", "error", err)
		return
	}
	w.lastRun = cache

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	w.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pass(ctx)
		}
	}
}

func (w *CacheCleanupWorker) clockNow() time.Time {
	if w.now != nil {
		return w.now()
	}
	return time.Now().UTC()
}

func (w *CacheCleanupWorker) pass(ctx context.Context) {
	now := w.clockNow()

	if _, err := w.Snapshots.DeleteOlderThanAcrossAll(ctx, func(s model.SchemaSnapshot) bool {
		return now.Sub(s.CapturedAt) > w.SnapshotRetention
	}); err != nil {
		log.Warn("cache cleanup worker: snapshot retention sweep failed", "error", err)
	}

	if _, err := w.History.DeleteOlderThan(ctx, func(r model.ComparisonResult) bool {
		return now.Sub(r.ComparedAt) > w.ComparisonHistoryRetention
	}); err != nil {
		log.Warn("cache cleanup worker: comparison history sweep failed", "error", err)
	}

	if _, err := w.Pending.DeleteProcessedOlderThan(ctx, func(c model.DetectedChange) bool {
		return c.Processed && c.ProcessedAt != nil && now.Sub(*c.ProcessedAt) > w.PendingChangeRetention
	}); err != nil {
		log.Warn("cache cleanup worker: pending change sweep failed", "error", err)
	}

	subs, err := w.Subscriptions.List(ctx)
	if err != nil {
		log.Error("cache cleanup worker: failed listing subscriptions", "error", err)
		return
	}
	if w.MaxCachedSnapshotsPerSub <= 0 {
		return
	}
	for _, sub := range subs {
		if _, err := w.Snapshots.PruneToMostRecent(ctx, sub.ID, w.MaxCachedSnapshotsPerSub); err != nil {
			log.Warn("cache cleanup worker: per-subscription prune failed", "subscription", sub.ID, "error", err)
			continue
		}
		if w.lastRun != nil {
			w.lastRun.Add(sub.ID, now)
		}
	}
}
