// Package pipeline implements the Debouncer and ChangeProcessor (spec.md
// §4.6, §4.7): the stage between raw worker-detected events and a
// decision to run a comparison.
//
// Debouncer grounded on the per-key debounce-timer map pattern in
// other_examples/06a9efe6_daviddao-clockmail_viewer__internal-datasource-watch.go.go
// (a map of identifiers to restartable timers, coalescing rapid
// filesystem events before acting), generalized to per-subscription
// isolation and a single-listener emit contract.
package pipeline

import (
	"sync"
	"time"

	"github.com/schemadrift/engine/internal/model"
)

// Listener receives completed batches. The debouncer is single-listener
// (spec.md §4.6): the listener must accept synchronously or drop it.
type Listener func(batch model.PendingChangeBatch)

// subscriptionState is the per-subscription debounce state (spec.md §4.6):
// a map keyed by object-identifier to the latest DetectedChange, a
// batch-start instant, and a restartable one-shot timer.
type subscriptionState struct {
	mu         sync.Mutex
	changes    map[string]model.DetectedChange
	batchStart time.Time
	timer      *time.Timer
}

// Debouncer coalesces rapid DetectedChange events per subscription and
// emits a PendingChangeBatch once the debounce window elapses with no
// further activity.
type Debouncer struct {
	Debounce time.Duration
	Listener Listener

	mu    sync.Mutex
	bySub map[model.ID]*subscriptionState
}

// NewDebouncer constructs a Debouncer with the given debounce window and
// listener.
func NewDebouncer(debounce time.Duration, listener Listener) *Debouncer {
	return &Debouncer{
		Debounce: debounce,
		Listener: listener,
		bySub:    make(map[model.ID]*subscriptionState),
	}
}

// Record upserts a change for subscriptionID per spec.md §4.6 step 1: the
// latest event for a given identifier replaces any earlier one
// (last-kind-wins coalescing), and the restartable timer is reset.
func (d *Debouncer) Record(subscriptionID model.ID, identifier string, source model.ChangeSource, kind model.ChangeKind, objectType *model.ObjectType) {
	state := d.stateFor(subscriptionID)

	state.mu.Lock()
	defer state.mu.Unlock()

	if len(state.changes) == 0 {
		state.batchStart = time.Now().UTC()
	}
	state.changes[identifier] = model.DetectedChange{
		ID:               model.NewID(),
		SubscriptionID:   subscriptionID,
		Source:           source,
		Kind:             kind,
		ObjectIdentifier: identifier,
		ObjectType:       objectType,
		DetectedAt:       time.Now().UTC(),
	}

	if state.timer != nil {
		state.timer.Stop()
	}
	state.timer = time.AfterFunc(d.Debounce, func() { d.fire(subscriptionID, state) })
}

func (d *Debouncer) stateFor(subscriptionID model.ID) *subscriptionState {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.bySub[subscriptionID]
	if !ok {
		s = &subscriptionState{changes: make(map[string]model.DetectedChange)}
		d.bySub[subscriptionID] = s
	}
	return s
}

// fire implements spec.md §4.6 step 2: construct a batch from the current
// map, clear it, stamp batch-completed, emit to the listener.
func (d *Debouncer) fire(subscriptionID model.ID, state *subscriptionState) {
	state.mu.Lock()
	if len(state.changes) == 0 {
		state.mu.Unlock()
		return
	}
	changes := make([]model.DetectedChange, 0, len(state.changes))
	for _, c := range state.changes {
		changes = append(changes, c)
	}
	batch := model.PendingChangeBatch{
		SubscriptionID:    subscriptionID,
		Changes:           changes,
		BatchStartedAt:    state.batchStart,
		BatchCompletedAt:  time.Now().UTC(),
	}
	state.changes = make(map[string]model.DetectedChange)
	state.mu.Unlock()

	if d.Listener != nil {
		d.Listener(batch)
	}
}

// Dispose cancels every pending timer and drops unemitted batches
// (spec.md §4.6 cancellation: "acceptable; reconciler will recover").
func (d *Debouncer) Dispose() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.bySub {
		s.mu.Lock()
		if s.timer != nil {
			s.timer.Stop()
		}
		s.changes = make(map[string]model.DetectedChange)
		s.mu.Unlock()
	}
}
