// Package model holds the data types shared by every component of the
// change-detection engine: subscriptions, snapshots, comparisons, and the
// differences between them.
package model

import "github.com/google/uuid"

// ID is an opaque 128-bit identifier. Equality is bitwise, as required by
// every entity in this package.
type ID = uuid.UUID

// NilID is the zero-value ID, used to mean "no identifier assigned yet" or
// "no reference" (e.g. DetectedChange.ObjectType when absent uses a pointer
// instead, but several optional ID fields use NilID as their zero value).
var NilID = uuid.Nil

// NewID assigns a fresh opaque identifier.
func NewID() ID {
	return uuid.New()
}
