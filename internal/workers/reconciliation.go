package workers

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/schemadrift/engine/internal/engineerr"
	"github.com/schemadrift/engine/internal/model"
	"github.com/schemadrift/engine/internal/repo"
)

// startupDelay is how long the reconciliation worker waits before its
// first pass (spec.md §4.8 "1-minute startup delay"), giving the other
// workers and any initial comparisons a chance to settle first.
const startupDelay = time.Minute

// jitterWindow bounds the random stagger applied before each
// subscription's reconciliation (spec.md §4.8 "jitter [0,30s]"), so a
// fleet of subscriptions sharing one interval doesn't all fire the same
// instant.
const jitterWindow = 30 * time.Second

// ComparisonRunner is the orchestrator seam, matching the pipeline
// package's collaborator-interface pattern so the worker can be tested
// without a real Orchestrator.
type ComparisonRunner interface {
	Run(ctx context.Context, subscriptionID model.ID, full bool, trigger string) (model.ComparisonResult, error)
}

// ReconciliationWorker implements spec.md §4.8's reconciliation worker: a
// periodic full comparison for every active, auto-compare subscription,
// skipping any subscription compared more recently than one interval ago.
//
// Grounded on the teacher's worker-loop shape; the redesign flag in
// SPEC_FULL.md §5 calls for bounded-concurrency fan-out via
// golang.org/x/sync/errgroup in place of serial jitter, mirroring the
// same library's use for the orchestrator's semaphore-guarded slots.
type ReconciliationWorker struct {
	Interval              time.Duration
	Enabled               bool
	MaxConcurrentReconciles int

	Subscriptions repo.Subscriptions
	Pending       repo.PendingChanges
	Runner        ComparisonRunner

	jitter func(time.Duration) time.Duration
}

// Run blocks, running reconciliation passes on Interval, starting after
// startupDelay, until ctx is cancelled.
func (w *ReconciliationWorker) Run(ctx context.Context) {
	if !w.Enabled {
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(startupDelay):
	}

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

func (w *ReconciliationWorker) pass(ctx context.Context) {
	subs, err := w.Subscriptions.ListActive(ctx)
	if err != nil {
		log.Error("reconciliation worker: failed listing active subscriptions", "error", err)
		return
	}

	limit := w.MaxConcurrentReconciles
	if limit <= 0 {
		limit = 1
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(limit)

	for _, sub := range subs {
		sub := sub
		if !sub.Options.AutoCompare {
			continue
		}
		if sub.LastComparedAt != nil && time.Since(*sub.LastComparedAt) < w.Interval {
			continue
		}
		group.Go(func() error {
			w.reconcileOne(gctx, sub)
			return nil
		})
	}
	_ = group.Wait()
}

func (w *ReconciliationWorker) reconcileOne(ctx context.Context, sub model.Subscription) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(w.jitterDuration()):
	}

	_, err := w.Runner.Run(ctx, sub.ID, true, model.TriggerReconciliation)
	if err != nil {
		if errors.Is(err, engineerr.ErrComparisonInProgress) {
			return
		}
		log.Warn("reconciliation worker: comparison failed", "subscription", sub.ID, "error", err)
		return
	}

	pending, err := w.Pending.Unprocessed(ctx, sub.ID)
	if err != nil {
		log.Warn("reconciliation worker: failed listing pending changes", "subscription", sub.ID, "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}
	ids := make([]model.ID, len(pending))
	for i, p := range pending {
		ids[i] = p.ID
	}
	if err := w.Pending.MarkProcessed(ctx, ids); err != nil {
		log.Warn("reconciliation worker: failed marking pending changes processed", "subscription", sub.ID, "error", err)
	}
}

func (w *ReconciliationWorker) jitterDuration() time.Duration {
	if w.jitter != nil {
		return w.jitter(jitterWindow)
	}
	return time.Duration(rand.Int63n(int64(jitterWindow)))
}
