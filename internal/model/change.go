package model

import "time"

// ChangeSource identifies which side of a subscription an event came from.
type ChangeSource string

const (
	SourceDatabase   ChangeSource = "database"
	SourceFilesystem ChangeSource = "filesystem"
)

// ChangeKind enumerates the kind of observation a worker recorded.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
)

// DetectedChange is a single observation recorded by a worker (spec.md §3).
// ObjectIdentifier is schema-qualified name for database-sourced changes,
// or an absolute path for filesystem-sourced changes.
type DetectedChange struct {
	ID               ID
	SubscriptionID   ID
	Source           ChangeSource
	Kind             ChangeKind
	ObjectIdentifier string
	ObjectType       *ObjectType
	DetectedAt       time.Time
	Processed        bool
	ProcessedAt      *time.Time
}

// PendingChangeBatch is a transient aggregation produced by the debouncer.
// It is not persisted directly; its members (DetectedChange values) are.
type PendingChangeBatch struct {
	SubscriptionID ID
	Changes        []DetectedChange
	BatchStartedAt time.Time
	BatchCompletedAt time.Time
}
