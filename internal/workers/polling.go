// Package workers implements the five background workers of spec.md §4.8:
// database polling, file watching, reconciliation, cache cleanup, and
// health check. Each is a parallel, long-lived task driven by a periodic
// timer, honoring an enable-flag and a stop signal, and recovering
// locally from per-subscription failures.
//
// Grounded on the teacher's cmd/*def main-loop shape (open connection,
// enumerate, act) generalized into long-lived run(ctx) loops.
package workers

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/schemadrift/engine/internal/model"
	"github.com/schemadrift/engine/internal/obslog"
	"github.com/schemadrift/engine/internal/realtime"
	"github.com/schemadrift/engine/internal/repo"
)

var log = obslog.Sub("workers")

// Recorder is the debouncer seam the polling and file watching workers
// feed detected changes into (spec.md §4.6 step 1's "record" call).
type Recorder interface {
	Record(subscriptionID model.ID, identifier string, source model.ChangeSource, kind model.ChangeKind, objectType *model.ObjectType)
}

// Connector opens a raw *sql.DB for polling queries; satisfied by
// dbmodel.SQLServerConnector (and by a fake in tests).
type Connector interface {
	Open(ctx context.Context, conn model.DatabaseConnection) (*sql.DB, error)
}

// trackingKey identifies one polled object for the polling worker's
// process-local tracking map (spec.md §4.8).
type trackingKey struct {
	subscriptionID model.ID
	schemaName     string
	objectName     string
	objectType     model.ObjectType
}

type trackedObject struct {
	modifyDate time.Time
	generation uint64
}

// PollingWorker implements spec.md §4.8's database polling worker, with
// the generation-counter tracking-map pruning from SPEC_FULL.md §5: a
// key surviving a poll is stamped with the current generation; a key
// from an older generation missing from the just-completed poll is
// pruned at the *start* of the next poll, so its reappearance later is
// treated as first observation (seeding), never a false "modified" event.
type PollingWorker struct {
	Interval      time.Duration
	Enabled       bool
	Subscriptions repo.Subscriptions
	Connector     Connector
	Recorder      Recorder
	Publisher     *realtime.Publisher

	mu         sync.Mutex
	tracking   map[trackingKey]trackedObject
	generation uint64
}

// Run blocks, polling every Interval until ctx is cancelled.
func (w *PollingWorker) Run(ctx context.Context) {
	if !w.Enabled {
		return
	}
	w.tracking = make(map[trackingKey]trackedObject)

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pruneStaleGeneration()
			w.pollOnce(ctx)
			w.generation++
		}
	}
}

// pruneStaleGeneration drops keys that were absent from the most
// recently completed poll. Run increments w.generation after each poll,
// so that poll stamped the keys it saw with w.generation-1; only keys
// older than that are deleted. Pruning against w.generation directly
// would delete every key the prior poll just wrote, on every tick.
func (w *PollingWorker) pruneStaleGeneration() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.generation == 0 {
		return
	}
	threshold := w.generation - 1
	for k, v := range w.tracking {
		if v.generation < threshold {
			delete(w.tracking, k)
		}
	}
}

func (w *PollingWorker) pollOnce(ctx context.Context) {
	subs, err := w.Subscriptions.ListActive(ctx)
	if err != nil {
		log.Error("polling worker: failed listing active subscriptions", "error", err)
		return
	}
	for _, sub := range subs {
		if !sub.Options.CompareOnDatabaseChange {
			continue
		}
		if err := w.pollSubscription(ctx, sub); err != nil {
			log.Warn("polling worker: iteration failed for subscription", "subscription", sub.ID, "error", err)
		}
	}
}

const pollQuery = `SELECT s.name, o.name, o.type, o.modify_date
FROM sys.objects o
INNER JOIN sys.schemas s ON s.schema_id = o.schema_id
WHERE o.type IN ('U','V','P','FN','IF','TF','TR')`

var objectTypeCodes = map[string]model.ObjectType{
	"U":  model.ObjectTable,
	"V":  model.ObjectView,
	"P":  model.ObjectStoredProcedure,
	"FN": model.ObjectScalarFunction,
	"IF": model.ObjectInlineTableValuedFunction,
	"TF": model.ObjectTableValuedFunction,
	"TR": model.ObjectTrigger,
}

func (w *PollingWorker) pollSubscription(ctx context.Context, sub model.Subscription) error {
	db, err := w.Connector.Open(ctx, sub.Database)
	if err != nil {
		return fmt.Errorf("opening connection: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, pollQuery)
	if err != nil {
		return fmt.Errorf("querying sys.objects: %w", err)
	}
	defer rows.Close()

	w.mu.Lock()
	defer w.mu.Unlock()

	for rows.Next() {
		var schemaName, objectName, typeCode string
		var modifyDate time.Time
		if err := rows.Scan(&schemaName, &objectName, &typeCode, &modifyDate); err != nil {
			return fmt.Errorf("scanning row: %w", err)
		}
		objType, ok := objectTypeCodes[trimTypeCode(typeCode)]
		if !ok {
			continue
		}
		key := trackingKey{subscriptionID: sub.ID, schemaName: schemaName, objectName: objectName, objectType: objType}
		prior, seen := w.tracking[key]

		if !seen {
			w.tracking[key] = trackedObject{modifyDate: modifyDate, generation: w.generation}
			continue
		}
		w.tracking[key] = trackedObject{modifyDate: modifyDate, generation: w.generation}
		if modifyDate.After(prior.modifyDate) {
			identifier := schemaName + "." + objectName
			w.Recorder.Record(sub.ID, identifier, model.SourceDatabase, model.ChangeModified, &objType)
			w.Publisher.Publish(sub.ID, realtime.EventDatabaseChanged, map[string]any{
				"subscription-id": sub.ID.String(),
				"object":          identifier,
				"object-type":     string(objType),
			})
		}
	}
	return rows.Err()
}

func trimTypeCode(code string) string {
	n := 0
	for n < len(code) && code[n] != ' ' {
		n++
	}
	return code[:n]
}
