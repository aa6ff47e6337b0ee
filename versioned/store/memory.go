// Package store provides versioned.Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/giltayar/coursesales/versioned"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	counters map[versioned.EntityType]versioned.EntityNumber
	heads    map[headKey]versioned.HistoryID
	history  map[versioned.HistoryID]versioned.HistoryRecord
	// byEntity preserves append order per entity; listings reverse it.
	byEntity  map[headKey][]versioned.HistoryID
	snapshots map[versioned.SnapshotID]versioned.Snapshot
}

type headKey struct {
	Type   versioned.EntityType
	Number versioned.EntityNumber
}

func NewMemory() *Memory {
	return &Memory{
		counters:  make(map[versioned.EntityType]versioned.EntityNumber),
		heads:     make(map[headKey]versioned.HistoryID),
		history:   make(map[versioned.HistoryID]versioned.HistoryRecord),
		byEntity:  make(map[headKey][]versioned.HistoryID),
		snapshots: make(map[versioned.SnapshotID]versioned.Snapshot),
	}
}

func (m *Memory) CreateEntity(_ context.Context, rec versioned.HistoryRecord, snaps []versioned.Snapshot) (versioned.EntityNumber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counters[rec.EntityType]++
	num := m.counters[rec.EntityType]
	rec.EntityNumber = num

	m.writeLocked(rec, snaps)
	return num, nil
}

func (m *Memory) AppendHistory(_ context.Context, rec versioned.HistoryRecord, snaps []versioned.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := headKey{rec.EntityType, rec.EntityNumber}
	if _, ok := m.heads[key]; !ok {
		return &versioned.NotFoundError{EntityType: rec.EntityType, EntityNumber: rec.EntityNumber}
	}

	m.writeLocked(rec, snaps)
	return nil
}

func (m *Memory) writeLocked(rec versioned.HistoryRecord, snaps []versioned.Snapshot) {
	for _, snap := range snaps {
		m.snapshots[snap.ID] = snap
	}

	// Copy the facet map so the caller cannot mutate stored state.
	facets := make(map[versioned.Facet]versioned.SnapshotID, len(rec.Facets))
	for f, sid := range rec.Facets {
		facets[f] = sid
	}
	rec.Facets = facets

	key := headKey{rec.EntityType, rec.EntityNumber}
	m.history[rec.ID] = rec
	m.byEntity[key] = append(m.byEntity[key], rec.ID)
	m.heads[key] = rec.ID
}

func (m *Memory) Head(_ context.Context, typ versioned.EntityType, num versioned.EntityNumber) (versioned.HistoryID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.heads[headKey{typ, num}]
	if !ok {
		return "", &versioned.NotFoundError{EntityType: typ, EntityNumber: num}
	}
	return id, nil
}

func (m *Memory) History(_ context.Context, id versioned.HistoryID) (versioned.HistoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.history[id]
	if !ok {
		return versioned.HistoryRecord{}, &versioned.NotFoundError{HistoryID: id}
	}
	return rec, nil
}

func (m *Memory) ListHistory(_ context.Context, typ versioned.EntityType, num versioned.EntityNumber) ([]versioned.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids, ok := m.byEntity[headKey{typ, num}]
	if !ok {
		return nil, &versioned.NotFoundError{EntityType: typ, EntityNumber: num}
	}

	entries := make([]versioned.HistoryEntry, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		rec := m.history[ids[i]]
		entries = append(entries, versioned.HistoryEntry{
			ID:        rec.ID,
			Operation: rec.Operation,
			Reason:    rec.Reason,
			Timestamp: rec.Timestamp,
		})
	}
	return entries, nil
}

func (m *Memory) Snapshots(_ context.Context, ids []versioned.SnapshotID) (map[versioned.SnapshotID]versioned.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[versioned.SnapshotID]versioned.Snapshot, len(ids))
	for _, id := range ids {
		if snap, ok := m.snapshots[id]; ok {
			out[id] = snap
		}
	}
	return out, nil
}

func (m *Memory) ListEntities(_ context.Context, typ versioned.EntityType) ([]versioned.EntityNumber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var nums []versioned.EntityNumber
	for num := versioned.EntityNumber(1); num <= m.counters[typ]; num++ {
		if _, ok := m.heads[headKey{typ, num}]; ok {
			nums = append(nums, num)
		}
	}
	return nums, nil
}
