/*
entity.go - The versioned entity engine

PURPOSE:
  Implements append, read-current, read-at-history, and list-history on top
  of a Store. This is where facet inheritance happens: an append copies the
  previous History row's facet references and overlays only the facets the
  caller patched.

CONCURRENCY:
  Appends against the same entity race at the database level; the last
  committed append wins the Head pointer and both History rows persist.
  Callers needing stronger ordering serialize externally - the sale workflow
  runs its whole read-reconcile-append sequence inside one store transaction.
*/
package versioned

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entities is the versioned entity engine. All entity types share one engine.
type Entities struct {
	store Store

	// Clock and NewID are overridable for tests.
	Clock func() time.Time
	NewID func() string
}

func NewEntities(store Store) *Entities {
	return &Entities{
		store: store,
		Clock: time.Now,
		NewID: func() string { return uuid.NewString() },
	}
}

// Create allocates a fresh entity number and writes its first History row
// plus the given facet snapshots, all atomically. The first operation of an
// entity is always OpCreate.
func (e *Entities) Create(ctx context.Context, typ EntityType, reason string, patches map[Facet]json.RawMessage) (EntityNumber, HistoryID, error) {
	if len(patches) == 0 {
		return 0, "", ErrNoFacets
	}

	rec, snaps := e.buildRecord(typ, 0, OpCreate, reason, nil, patches)
	num, err := e.store.CreateEntity(ctx, rec, snaps)
	if err != nil {
		return 0, "", fmt.Errorf("create %s: %w", typ, err)
	}
	return num, rec.ID, nil
}

// Append writes one new History row (plus snapshots for any patched facet)
// and repoints the Head. Facets absent from patches inherit the previous
// History row's snapshot references.
//
// Returns ErrNotFound if the entity does not exist; callers must not have
// applied any external side effect before the append is known to be valid.
func (e *Entities) Append(ctx context.Context, typ EntityType, num EntityNumber, op Operation, reason string, patches map[Facet]json.RawMessage) (HistoryID, error) {
	headID, err := e.store.Head(ctx, typ, num)
	if err != nil {
		return "", fmt.Errorf("append %s %d: %w", typ, num, err)
	}
	prev, err := e.store.History(ctx, headID)
	if err != nil {
		return "", fmt.Errorf("append %s %d: %w", typ, num, err)
	}

	rec, snaps := e.buildRecord(typ, num, op, reason, prev.Facets, patches)
	if err := e.store.AppendHistory(ctx, rec, snaps); err != nil {
		return "", fmt.Errorf("append %s %d: %w", typ, num, err)
	}
	return rec.ID, nil
}

// ReadCurrent resolves the entity's current facets by following the Head.
func (e *Entities) ReadCurrent(ctx context.Context, typ EntityType, num EntityNumber) (State, error) {
	headID, err := e.store.Head(ctx, typ, num)
	if err != nil {
		return State{}, fmt.Errorf("read %s %d: %w", typ, num, err)
	}
	return e.ReadAtHistory(ctx, headID)
}

// ReadAtHistory resolves facets as of an arbitrary historical point. Used by
// audit views. Later appends never change what this returns for a given id.
func (e *Entities) ReadAtHistory(ctx context.Context, id HistoryID) (State, error) {
	rec, err := e.store.History(ctx, id)
	if err != nil {
		return State{}, fmt.Errorf("read history %s: %w", id, err)
	}

	ids := make([]SnapshotID, 0, len(rec.Facets))
	for _, sid := range rec.Facets {
		ids = append(ids, sid)
	}
	snaps, err := e.store.Snapshots(ctx, ids)
	if err != nil {
		return State{}, fmt.Errorf("read history %s: %w", id, err)
	}

	facets := make(map[Facet]json.RawMessage, len(rec.Facets))
	for f, sid := range rec.Facets {
		snap, ok := snaps[sid]
		if !ok {
			return State{}, fmt.Errorf("read history %s: snapshot %s missing", id, sid)
		}
		facets[f] = snap.Data
	}

	return State{
		EntityType:   rec.EntityType,
		EntityNumber: rec.EntityNumber,
		HistoryID:    rec.ID,
		Operation:    rec.Operation,
		Timestamp:    rec.Timestamp,
		Facets:       facets,
	}, nil
}

// ListHistory returns the entity's audit trail, newest first.
func (e *Entities) ListHistory(ctx context.Context, typ EntityType, num EntityNumber) ([]HistoryEntry, error) {
	entries, err := e.store.ListHistory(ctx, typ, num)
	if err != nil {
		return nil, fmt.Errorf("list history %s %d: %w", typ, num, err)
	}
	return entries, nil
}

// List returns the numbers of all entities of a type, ascending.
func (e *Entities) List(ctx context.Context, typ EntityType) ([]EntityNumber, error) {
	return e.store.ListEntities(ctx, typ)
}

// buildRecord materializes the new History row and its snapshots. The facet
// map starts as a copy of the previous row's references; each patch inserts
// a fresh snapshot and overlays its reference.
func (e *Entities) buildRecord(typ EntityType, num EntityNumber, op Operation, reason string, inherited map[Facet]SnapshotID, patches map[Facet]json.RawMessage) (HistoryRecord, []Snapshot) {
	now := e.Clock().UTC()

	facets := make(map[Facet]SnapshotID, len(inherited)+len(patches))
	for f, sid := range inherited {
		facets[f] = sid
	}

	snaps := make([]Snapshot, 0, len(patches))
	for f, data := range patches {
		snap := Snapshot{
			ID:        SnapshotID(e.NewID()),
			Facet:     f,
			Data:      data,
			CreatedAt: now,
		}
		snaps = append(snaps, snap)
		facets[f] = snap.ID
	}

	rec := HistoryRecord{
		ID:           HistoryID(e.NewID()),
		EntityType:   typ,
		EntityNumber: num,
		Timestamp:    now,
		Operation:    op,
		Reason:       reason,
		Facets:       facets,
	}
	return rec, snaps
}
