// Package repo defines the four persistence interfaces spec.md §2.1 and
// §6 call for — Subscriptions, SchemaSnapshots, ComparisonHistory,
// PendingChanges — each a narrow repository contract with atomic
// single-document writes and indexed lookups by subscription identifier.
// The engine itself is storage-agnostic; cmd/schemadriftd wires a concrete
// implementation (this package ships an in-memory one, memory.go, used by
// tests and as the default for the daemon).
//
// Grounded on the teacher's Database interface shape (database/database.go:
// a small set of methods, no query builder, no ORM) generalized from SQL
// DDL operations to document CRUD.
package repo

import (
	"context"

	"github.com/schemadrift/engine/internal/model"
)

// Subscriptions is the repository contract for Subscription documents.
type Subscriptions interface {
	Create(ctx context.Context, sub model.Subscription) error
	Get(ctx context.Context, id model.ID) (model.Subscription, error)
	GetByName(ctx context.Context, name string) (model.Subscription, error)
	Update(ctx context.Context, sub model.Subscription) error
	Delete(ctx context.Context, id model.ID) error
	ListActive(ctx context.Context) ([]model.Subscription, error)
	List(ctx context.Context) ([]model.Subscription, error)
}

// SchemaSnapshots is the repository contract for SchemaSnapshot documents.
type SchemaSnapshots interface {
	Save(ctx context.Context, snapshot model.SchemaSnapshot) error
	Latest(ctx context.Context, subscriptionID model.ID) (model.SchemaSnapshot, error)
	ListBySubscription(ctx context.Context, subscriptionID model.ID) ([]model.SchemaSnapshot, error)
	DeleteOlderThanAcrossAll(ctx context.Context, cutoff func(model.SchemaSnapshot) bool) (int, error)
	PruneToMostRecent(ctx context.Context, subscriptionID model.ID, keep int) (int, error)
}

// ComparisonHistory is the repository contract for ComparisonResult documents.
type ComparisonHistory interface {
	Save(ctx context.Context, result model.ComparisonResult) error
	Get(ctx context.Context, id model.ID) (model.ComparisonResult, error)
	ListBySubscription(ctx context.Context, subscriptionID model.ID) ([]model.ComparisonResult, error)
	DeleteOlderThan(ctx context.Context, cutoff func(model.ComparisonResult) bool) (int, error)
}

// PendingChanges is the repository contract for DetectedChange documents.
type PendingChanges interface {
	SaveBatch(ctx context.Context, changes []model.DetectedChange) error
	MarkProcessed(ctx context.Context, ids []model.ID) error
	Unprocessed(ctx context.Context, subscriptionID model.ID) ([]model.DetectedChange, error)
	DeleteProcessedOlderThan(ctx context.Context, cutoff func(model.DetectedChange) bool) (int, error)
}

// Repositories bundles the four collections so callers can pass a single
// value around (cmd/schemadriftd wiring, orchestrator/pipeline/workers
// construction).
type Repositories struct {
	Subscriptions     Subscriptions
	SchemaSnapshots   SchemaSnapshots
	ComparisonHistory ComparisonHistory
	PendingChanges    PendingChanges
}
