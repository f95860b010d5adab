package model

import (
	"sort"
	"strings"
	"time"
)

// ObjectType enumerates the kinds of schema object the engine recognizes.
// The supported set participates in comparison; the rest are carried only
// on the unsupported channel (spec.md §3).
type ObjectType string

const (
	ObjectTable                      ObjectType = "table"
	ObjectView                       ObjectType = "view"
	ObjectStoredProcedure            ObjectType = "stored_procedure"
	ObjectScalarFunction              ObjectType = "scalar_function"
	ObjectTableValuedFunction         ObjectType = "table_valued_function"
	ObjectInlineTableValuedFunction   ObjectType = "inline_table_valued_function"
	ObjectTrigger                     ObjectType = "trigger"
	ObjectUser                        ObjectType = "user"
	ObjectRole                        ObjectType = "role"

	// Recognized but unsupported: carried only on the unsupported channel.
	ObjectLogin   ObjectType = "login"
	ObjectUnknown ObjectType = "unknown"
)

var supportedObjectTypes = map[ObjectType]bool{
	ObjectTable:                    true,
	ObjectView:                     true,
	ObjectStoredProcedure:          true,
	ObjectScalarFunction:           true,
	ObjectTableValuedFunction:      true,
	ObjectInlineTableValuedFunction: true,
	ObjectTrigger:                  true,
	ObjectUser:                     true,
	ObjectRole:                     true,
}

// IsSupported reports whether t participates in the compared set.
func (t ObjectType) IsSupported() bool {
	return supportedObjectTypes[t]
}

// SchemaObjectSummary is a single schema object's fingerprint (spec.md §3).
type SchemaObjectSummary struct {
	SchemaName             string
	ObjectName              string
	ObjectType              ObjectType
	DefinitionHash          string // hex SHA-256 of NormalizedDefinitionScript
	NormalizedDefinitionScript string
	ModifyInstant           *time.Time
}

// ObjectKey identifies the object across the database and file sides.
type ObjectKey struct {
	SchemaName string
	ObjectName string
	ObjectType ObjectType
}

func (s SchemaObjectSummary) Key() ObjectKey {
	return ObjectKey{SchemaName: s.SchemaName, ObjectName: s.ObjectName, ObjectType: s.ObjectType}
}

// Equal implements the equality rule from spec.md §3: object-type,
// schema-name, object-name, and definition-hash must all match.
func (s SchemaObjectSummary) Equal(other SchemaObjectSummary) bool {
	return s.ObjectType == other.ObjectType &&
		s.SchemaName == other.SchemaName &&
		s.ObjectName == other.ObjectName &&
		s.DefinitionHash == other.DefinitionHash
}

// SchemaSnapshot is a captured database side (spec.md §3).
type SchemaSnapshot struct {
	ID                      ID
	SubscriptionID          ID
	CapturedAt              time.Time
	NormalizationPipelineVersion int
	OverallHash             string
	Objects                 []SchemaObjectSummary
}

// SortedObjectHashes returns the per-object hashes ordered by
// (type, schema, name), the order the overall hash is computed over.
func SortedObjectHashes(objects []SchemaObjectSummary) []string {
	sorted := make([]SchemaObjectSummary, len(objects))
	copy(sorted, objects)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.ObjectType != b.ObjectType {
			return a.ObjectType < b.ObjectType
		}
		if a.SchemaName != b.SchemaName {
			return a.SchemaName < b.SchemaName
		}
		return a.ObjectName < b.ObjectName
	})
	hashes := make([]string, len(sorted))
	for i, o := range sorted {
		hashes[i] = o.DefinitionHash
	}
	return hashes
}

// OverallHashSeparator joins per-object hashes before the final SHA-256
// pass (spec.md §3/§4.3).
const OverallHashSeparator = "\x1f"

// JoinForHash deterministically joins sorted hashes for hashing.
func JoinForHash(hashes []string) string {
	return strings.Join(hashes, OverallHashSeparator)
}

// FileObjectEntry is one classified file on the project-folder side.
// NormalizedScript is kept alongside the hash so a SchemaDifference can
// carry the file-side definition text (spec.md §3 SchemaDifference);
// spec.md's FileModelCache description does not call this field out
// explicitly but the comparer needs it to populate FileDefinition.
type FileObjectEntry struct {
	Path             string
	ObjectName       string
	ObjectType       ObjectType
	SchemaName       string
	ContentHash      string
	NormalizedScript string
	LastModified     time.Time
}

// FileModelCache is the symmetric file side of a comparison (spec.md §3).
// It is never persisted; it is rebuilt fresh for every comparison.
type FileModelCache struct {
	SubscriptionID ID
	CapturedAt     time.Time
	Files          map[string]FileObjectEntry // path -> entry
}
