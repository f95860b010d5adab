package model

import "time"

// ComparisonStatus is the outcome of a single comparison (spec.md §3).
type ComparisonStatus string

const (
	StatusSynchronized   ComparisonStatus = "synchronized"
	StatusHasDifferences ComparisonStatus = "has_differences"
	StatusError          ComparisonStatus = "error"
	StatusPartial        ComparisonStatus = "partial"
)

// Trigger tags identify why a comparison ran.
const (
	TriggerManual             = "manual"
	TriggerFileChange         = "file-change"
	TriggerDatabaseChange     = "database-change"
	TriggerReconciliation     = "reconciliation"
	TriggerSubscriptionCreated = "subscription-created"
)

// DifferenceKind enumerates how an object diverges between sides.
type DifferenceKind string

const (
	DiffAdd    DifferenceKind = "add"
	DiffDelete DifferenceKind = "delete"
	DiffModify DifferenceKind = "modify"
	DiffRename DifferenceKind = "rename"
)

// PropertyDifference is one property-level divergence inside a modify.
type PropertyDifference struct {
	PropertyName   string
	DatabaseValue  string
	FileValue      string
}

// SchemaDifference is one object-level divergence (spec.md §3).
type SchemaDifference struct {
	ID                 ID
	ObjectType         ObjectType
	SchemaName         string
	ObjectName         string
	Kind               DifferenceKind
	Source             ChangeSource
	DatabaseDefinition *string
	FileDefinition     *string
	FilePath           *string
	PropertyDifferences []PropertyDifference
}

// UnsupportedObject records an artifact excluded from the supported set
// (spec.md §3). It never becomes a SchemaDifference.
type UnsupportedObject struct {
	Source     ChangeSource
	ObjectType ObjectType
	SchemaName string
	ObjectName string
	FilePath   string
}

// Summary holds the derived counts for a ComparisonResult (spec.md §3).
type Summary struct {
	TotalDifferences        int
	Additions                int
	Modifications            int
	Deletions                int
	PerTypeCounts            map[ObjectType]int
	ObjectsCompared          int
	ObjectsUnchanged         int
	UnsupportedDatabaseCount int
	UnsupportedFileCount     int
}

// ComparisonResult is a single comparison (spec.md §3).
type ComparisonResult struct {
	ID                 ID
	SubscriptionID     ID
	ComparedAt         time.Time
	Duration           time.Duration
	Status             ComparisonStatus
	Trigger            string
	Summary            Summary
	Differences        []SchemaDifference
	UnsupportedObjects []UnsupportedObject
}

// BuildSummary derives Summary deterministically from a difference list and
// the compared/unchanged object counts, satisfying the invariant that
// summary counts are exactly derivable from the difference list
// (spec.md §3).
func BuildSummary(diffs []SchemaDifference, unsupportedDB, unsupportedFile, objectsCompared, objectsUnchanged int) Summary {
	s := Summary{
		PerTypeCounts:            make(map[ObjectType]int),
		ObjectsCompared:          objectsCompared,
		ObjectsUnchanged:         objectsUnchanged,
		UnsupportedDatabaseCount: unsupportedDB,
		UnsupportedFileCount:     unsupportedFile,
	}
	for _, d := range diffs {
		s.TotalDifferences++
		s.PerTypeCounts[d.ObjectType]++
		switch d.Kind {
		case DiffAdd:
			s.Additions++
		case DiffModify:
			s.Modifications++
		case DiffDelete:
			s.Deletions++
		}
	}
	return s
}
