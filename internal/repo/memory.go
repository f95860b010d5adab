package repo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/schemadrift/engine/internal/engineerr"
	"github.com/schemadrift/engine/internal/model"
)

// InMemory is a concurrency-safe reference implementation of all four
// repository contracts, backed by plain maps each guarded by their own
// mutex. It is the default store for cmd/schemadriftd and for every
// package's tests; a real deployment would swap in a document-store-backed
// implementation without any engine-side code change, per spec.md §1's
// "embedded document store" being an external collaborator.
//
// Each collection is its own type rather than four methods of the same
// name on one receiver: Save(Subscription) and Save(ComparisonResult) on a
// single Go type would collide, so the collections are split the way the
// teacher splits its per-dialect database.go files — one small type per
// concern, composed by Repositories().
type InMemory struct {
	Subs     *SubscriptionStore
	Snaps    *SnapshotStore
	History  *HistoryStore
	Pending  *PendingStore
}

// NewInMemory constructs an empty store implementing all four contracts.
func NewInMemory() *InMemory {
	return &InMemory{
		Subs:    NewSubscriptionStore(),
		Snaps:   NewSnapshotStore(),
		History: NewHistoryStore(),
		Pending: NewPendingStore(),
	}
}

// Repositories returns a Repositories bundle backed by this store.
func (m *InMemory) Repositories() Repositories {
	return Repositories{
		Subscriptions:     m.Subs,
		SchemaSnapshots:   m.Snaps,
		ComparisonHistory: m.History,
		PendingChanges:    m.Pending,
	}
}

// SubscriptionStore implements Subscriptions.
type SubscriptionStore struct {
	mu   sync.RWMutex
	byID map[model.ID]model.Subscription
}

func NewSubscriptionStore() *SubscriptionStore {
	return &SubscriptionStore{byID: make(map[model.ID]model.Subscription)}
}

func (s *SubscriptionStore) Create(ctx context.Context, sub model.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if strings.EqualFold(existing.Name, sub.Name) {
			return &engineerr.ConflictError{Reason: "duplicate subscription name: " + sub.Name}
		}
	}
	s.byID[sub.ID] = sub
	return nil
}

func (s *SubscriptionStore) Get(ctx context.Context, id model.ID) (model.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.byID[id]
	if !ok {
		return model.Subscription{}, &engineerr.NotFoundError{Kind: "subscription", ID: id.String()}
	}
	return sub, nil
}

func (s *SubscriptionStore) GetByName(ctx context.Context, name string) (model.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.byID {
		if strings.EqualFold(sub.Name, name) {
			return sub, nil
		}
	}
	return model.Subscription{}, &engineerr.NotFoundError{Kind: "subscription", ID: name}
}

func (s *SubscriptionStore) Update(ctx context.Context, sub model.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[sub.ID]; !ok {
		return &engineerr.NotFoundError{Kind: "subscription", ID: sub.ID.String()}
	}
	s.byID[sub.ID] = sub
	return nil
}

func (s *SubscriptionStore) Delete(ctx context.Context, id model.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return &engineerr.NotFoundError{Kind: "subscription", ID: id.String()}
	}
	delete(s.byID, id)
	return nil
}

func (s *SubscriptionStore) ListActive(ctx context.Context) ([]model.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Subscription
	for _, sub := range s.byID {
		if sub.IsActive() {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *SubscriptionStore) List(ctx context.Context) ([]model.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Subscription, 0, len(s.byID))
	for _, sub := range s.byID {
		out = append(out, sub)
	}
	return out, nil
}

// SnapshotStore implements SchemaSnapshots.
type SnapshotStore struct {
	mu       sync.RWMutex
	bySub    map[model.ID][]model.SchemaSnapshot
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{bySub: make(map[model.ID][]model.SchemaSnapshot)}
}

func (s *SnapshotStore) Save(ctx context.Context, snapshot model.SchemaSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySub[snapshot.SubscriptionID] = append(s.bySub[snapshot.SubscriptionID], snapshot)
	return nil
}

func (s *SnapshotStore) Latest(ctx context.Context, subscriptionID model.ID) (model.SchemaSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.bySub[subscriptionID]
	if len(list) == 0 {
		return model.SchemaSnapshot{}, &engineerr.NotFoundError{Kind: "snapshot", ID: subscriptionID.String()}
	}
	latest := list[0]
	for _, snap := range list[1:] {
		if snap.CapturedAt.After(latest.CapturedAt) {
			latest = snap
		}
	}
	return latest, nil
}

func (s *SnapshotStore) ListBySubscription(ctx context.Context, subscriptionID model.ID) ([]model.SchemaSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.SchemaSnapshot, len(s.bySub[subscriptionID]))
	copy(out, s.bySub[subscriptionID])
	return out, nil
}

func (s *SnapshotStore) DeleteOlderThanAcrossAll(ctx context.Context, cutoff func(model.SchemaSnapshot) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, list := range s.bySub {
		kept := list[:0]
		for _, snap := range list {
			if cutoff(snap) {
				deleted++
				continue
			}
			kept = append(kept, snap)
		}
		s.bySub[id] = kept
	}
	return deleted, nil
}

func (s *SnapshotStore) PruneToMostRecent(ctx context.Context, subscriptionID model.ID, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.bySub[subscriptionID]
	if len(list) <= keep {
		return 0, nil
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CapturedAt.After(list[j].CapturedAt) })
	removed := len(list) - keep
	s.bySub[subscriptionID] = append([]model.SchemaSnapshot{}, list[:keep]...)
	return removed, nil
}

// HistoryStore implements ComparisonHistory.
type HistoryStore struct {
	mu   sync.RWMutex
	byID map[model.ID]model.ComparisonResult
}

func NewHistoryStore() *HistoryStore {
	return &HistoryStore{byID: make(map[model.ID]model.ComparisonResult)}
}

func (h *HistoryStore) Save(ctx context.Context, result model.ComparisonResult) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byID[result.ID] = result
	return nil
}

func (h *HistoryStore) Get(ctx context.Context, id model.ID) (model.ComparisonResult, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.byID[id]
	if !ok {
		return model.ComparisonResult{}, &engineerr.NotFoundError{Kind: "comparison", ID: id.String()}
	}
	return r, nil
}

func (h *HistoryStore) ListBySubscription(ctx context.Context, subscriptionID model.ID) ([]model.ComparisonResult, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []model.ComparisonResult
	for _, r := range h.byID {
		if r.SubscriptionID == subscriptionID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ComparedAt.After(out[j].ComparedAt) })
	return out, nil
}

func (h *HistoryStore) DeleteOlderThan(ctx context.Context, cutoff func(model.ComparisonResult) bool) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	deleted := 0
	for id, r := range h.byID {
		if cutoff(r) {
			delete(h.byID, id)
			deleted++
		}
	}
	return deleted, nil
}

// PendingStore implements PendingChanges.
type PendingStore struct {
	mu   sync.RWMutex
	byID map[model.ID]model.DetectedChange

	// Now overrides the processed-at clock; nil uses time.Now().UTC().
	// Exported so cross-package tests (e.g. the cache cleanup worker's)
	// can pin it without a constructor variant.
	Now func() time.Time
}

func NewPendingStore() *PendingStore {
	return &PendingStore{byID: make(map[model.ID]model.DetectedChange)}
}

func (p *PendingStore) clockNow() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

func (p *PendingStore) SaveBatch(ctx context.Context, changes []model.DetectedChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range changes {
		p.byID[c.ID] = c
	}
	return nil
}

func (p *PendingStore) MarkProcessed(ctx context.Context, ids []model.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clockNow()
	for _, id := range ids {
		if c, ok := p.byID[id]; ok {
			c.Processed = true
			c.ProcessedAt = &now
			p.byID[id] = c
		}
	}
	return nil
}

func (p *PendingStore) Unprocessed(ctx context.Context, subscriptionID model.ID) ([]model.DetectedChange, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []model.DetectedChange
	for _, c := range p.byID {
		if c.SubscriptionID == subscriptionID && !c.Processed {
			out = append(out, c)
		}
	}
	return out, nil
}

func (p *PendingStore) DeleteProcessedOlderThan(ctx context.Context, cutoff func(model.DetectedChange) bool) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	deleted := 0
	for id, c := range p.byID {
		if c.Processed && cutoff(c) {
			delete(p.byID, id)
			deleted++
		}
	}
	return deleted, nil
}
