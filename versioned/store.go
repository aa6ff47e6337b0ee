/*
store.go - Persistence interface for heads, history, and snapshots

PURPOSE:
  Defines the interface between the versioned engine and the database.
  Implementations keep the append-only contract: History and Snapshot rows
  are inserted, never updated or deleted; only the Head pointer moves.

APPEND-ONLY CONTRACT:
  - CreateEntity / AppendHistory are the ONLY write operations
  - Each is atomic: snapshots, the History row, and the Head pointer all
    commit together or not at all
  - NO update or delete methods exist for History or Snapshot rows

IMPLEMENTATIONS:
  - store/sqlite: production SQLite
  - versioned/store: in-memory for testing
*/
package versioned

import "context"

// Store handles persistence of the Head/History/Snapshot model.
type Store interface {
	// CreateEntity atomically allocates a fresh entity number, inserts the
	// snapshots and the first History row, and creates the Head. The record's
	// EntityNumber is ignored; the allocated number is returned.
	CreateEntity(ctx context.Context, rec HistoryRecord, snaps []Snapshot) (EntityNumber, error)

	// AppendHistory atomically inserts the snapshots and the History row and
	// repoints the Head. Returns ErrNotFound if the entity does not exist.
	AppendHistory(ctx context.Context, rec HistoryRecord, snaps []Snapshot) error

	// Head returns the current History id for an entity.
	// Returns ErrNotFound if the entity does not exist.
	Head(ctx context.Context, typ EntityType, num EntityNumber) (HistoryID, error)

	// History returns one History row by id. Returns ErrNotFound if absent.
	History(ctx context.Context, id HistoryID) (HistoryRecord, error)

	// ListHistory returns all History entries for an entity, newest first.
	// Returns ErrNotFound if the entity does not exist.
	ListHistory(ctx context.Context, typ EntityType, num EntityNumber) ([]HistoryEntry, error)

	// Snapshots resolves snapshot ids to their raw data.
	Snapshots(ctx context.Context, ids []SnapshotID) (map[SnapshotID]Snapshot, error)

	// ListEntities returns the numbers of all entities of a type, ascending.
	ListEntities(ctx context.Context, typ EntityType) ([]EntityNumber, error)
}
