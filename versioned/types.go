/*
Package versioned provides the append-only, event-sourced entity engine.

PURPOSE:
  Every entity in the system (students, products, sales events, sales) is
  stored the same way: a single mutable Head pointer per entity, an immutable
  History row per change, and immutable Data snapshots holding facet values.
  Full history and point-in-time reconstruction come for free.

KEY CONCEPTS IN THIS FILE (types.go):
  - EntityNumber: stable identifier, assigned once, never reused
  - HistoryRecord: an immutable, operation-tagged audit record
  - Snapshot: an immutable value block for one facet of entity state
  - Facet: an independently-evolving aspect of an entity (core fields,
    line items, connection flag, ...)

DESIGN PRINCIPLES:
  1. Append-only: History rows are never mutated or deleted
  2. Facet inheritance: a History row carries the full facet->snapshot map;
     facets not touched by an append inherit the previous row's references
  3. Point-in-time reads resolve directly through one History row - no
     procedural replay of the whole chain

SEE ALSO:
  - entity.go: the Entities engine (Append, ReadCurrent, ReadAtHistory)
  - store.go: persistence interface
*/
package versioned

import (
	"encoding/json"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// EntityType discriminates the uniform tables by kind of entity.
type EntityType string

// EntityNumber is the stable per-entity identifier. Assigned once at creation,
// never reused or renumbered.
type EntityNumber int64

// HistoryID identifies one History row (a UUID).
type HistoryID string

// SnapshotID identifies one Data snapshot row (a UUID).
type SnapshotID string

// Facet names one independently-versioned aspect of an entity.
type Facet string

// =============================================================================
// OPERATIONS - The tagged variant on every History row
// =============================================================================

type Operation string

const (
	OpCreate                  Operation = "create"
	OpUpdate                  Operation = "update"
	OpDelete                  Operation = "delete"
	OpRestore                 Operation = "restore"
	OpConnect                 Operation = "connect"
	OpDisconnect              Operation = "disconnect"
	OpRefund                  Operation = "refund"
	OpCancelSubscription      Operation = "cancel-subscription"
	OpRemovedFromSubscription Operation = "removed-from-subscription"
)

// =============================================================================
// RECORDS
// =============================================================================

// HistoryRecord is one immutable audit entry. Facets holds the complete
// facet->snapshot mapping as of this version, including inherited references.
type HistoryRecord struct {
	ID           HistoryID
	EntityType   EntityType
	EntityNumber EntityNumber
	Timestamp    time.Time
	Operation    Operation
	Reason       string
	Facets       map[Facet]SnapshotID
}

// Snapshot is one immutable facet value block.
type Snapshot struct {
	ID        SnapshotID
	Facet     Facet
	Data      json.RawMessage
	CreatedAt time.Time
}

// HistoryEntry is the listing view of a History row (newest first).
type HistoryEntry struct {
	ID        HistoryID
	Operation Operation
	Reason    string
	Timestamp time.Time
}

// State is a resolved entity version: every facet's value as of one History
// row, plus the row that produced it.
type State struct {
	EntityType   EntityType
	EntityNumber EntityNumber
	HistoryID    HistoryID
	Operation    Operation
	Timestamp    time.Time
	Facets       map[Facet]json.RawMessage
}

// Facet returns the raw value of one facet, or nil if the entity has never
// had a snapshot for it.
func (s State) Facet(f Facet) json.RawMessage {
	return s.Facets[f]
}

// Deleted reports whether the version was produced by a delete operation.
func (s State) Deleted() bool {
	return s.Operation == OpDelete
}
