package pipeline

import (
	"context"
	"errors"

	"github.com/schemadrift/engine/internal/engineerr"
	"github.com/schemadrift/engine/internal/model"
	"github.com/schemadrift/engine/internal/obslog"
	"github.com/schemadrift/engine/internal/realtime"
	"github.com/schemadrift/engine/internal/repo"
)

var log = obslog.Sub("pipeline")

// ComparisonRunner is the orchestrator seam the processor calls into; it
// is declared here (rather than importing internal/orchestrator) to keep
// pipeline free of a dependency on the orchestrator's concurrency
// internals, matching the teacher's habit of depending on small local
// interfaces instead of concrete collaborator packages.
type ComparisonRunner interface {
	Run(ctx context.Context, subscriptionID model.ID, full bool, trigger string) (model.ComparisonResult, error)
}

// ChangeProcessor implements spec.md §4.7: given a batch, persist its
// changes, emit changes-detected, decide whether to trigger a comparison,
// and mark members processed on success.
type ChangeProcessor struct {
	Subscriptions repo.Subscriptions
	Pending       repo.PendingChanges
	Publisher     *realtime.Publisher
	Runner        ComparisonRunner
}

// Process implements the steps of spec.md §4.7.
func (p *ChangeProcessor) Process(ctx context.Context, batch model.PendingChangeBatch) {
	if err := p.Pending.SaveBatch(ctx, batch.Changes); err != nil {
		log.Error("failed persisting pending changes", "subscription", batch.SubscriptionID, "error", err)
		return
	}

	sub, err := p.Subscriptions.Get(ctx, batch.SubscriptionID)
	if err != nil || !sub.IsActive() {
		return
	}

	p.Publisher.Publish(batch.SubscriptionID, realtime.EventChangesDetected, map[string]any{
		"subscription-id": batch.SubscriptionID.String(),
		"count":            len(batch.Changes),
	})

	trigger, shouldCompare := decideTrigger(sub.Options, batch.Changes)
	if !shouldCompare {
		return
	}

	_, err = p.Runner.Run(ctx, batch.SubscriptionID, false, trigger)
	switch {
	case err == nil:
		p.markProcessed(ctx, batch.Changes)
	case errors.Is(err, engineerr.ErrComparisonInProgress):
		// Leave members unprocessed; the reconciler mops up (spec.md §4.7 step 6).
	default:
		log.Warn("comparison failed for batch", "subscription", batch.SubscriptionID, "trigger", trigger, "error", err)
	}
}

func (p *ChangeProcessor) markProcessed(ctx context.Context, changes []model.DetectedChange) {
	ids := make([]model.ID, len(changes))
	for i, c := range changes {
		ids[i] = c.ID
	}
	if err := p.Pending.MarkProcessed(ctx, ids); err != nil {
		log.Warn("failed marking changes processed", "error", err)
	}
}

// decideTrigger implements spec.md §4.7 step 4-5: compare iff auto-compare
// AND ((filesystem source AND compare-on-file-change) OR (database source
// AND compare-on-database-change)); if both sources are present, the
// trigger is file-change.
func decideTrigger(opts model.Options, changes []model.DetectedChange) (trigger string, shouldCompare bool) {
	if !opts.AutoCompare {
		return "", false
	}
	hasFile, hasDB := false, false
	for _, c := range changes {
		switch c.Source {
		case model.SourceFilesystem:
			hasFile = true
		case model.SourceDatabase:
			hasDB = true
		}
	}
	fileTriggers := hasFile && opts.CompareOnFileChange
	dbTriggers := hasDB && opts.CompareOnDatabaseChange
	switch {
	case fileTriggers:
		return model.TriggerFileChange, true
	case dbTriggers:
		return model.TriggerDatabaseChange, true
	default:
		return "", false
	}
}
