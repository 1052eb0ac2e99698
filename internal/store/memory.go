package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"notesync-go/internal/notesync"
)

// Memory is an in-memory implementation of the entity and mapping stores.
// It mirrors the SQLite backend's semantics (whole-collection saves,
// transactional mapping batches) and is what tests run against.
// Safe for concurrent use.
type Memory struct {
	mu         sync.RWMutex
	entities   []notesync.Entity
	revision   time.Time
	mappings   map[string]notesync.Mapping // localID -> mapping
	byRemote   map[string]string           // remoteID -> localID
	checkpoint notesync.Checkpoint
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		mappings: make(map[string]notesync.Mapping),
		byRemote: make(map[string]string),
	}
}

// Load returns a copy of the entity collection.
func (m *Memory) Load(_ context.Context) ([]notesync.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]notesync.Entity, len(m.entities))
	copy(out, m.entities)
	return out, nil
}

// Save replaces the entity collection and records its aggregate revision.
func (m *Memory) Save(_ context.Context, entities []notesync.Entity, revision time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entities = make([]notesync.Entity, len(entities))
	copy(m.entities, entities)
	m.revision = revision
	return nil
}

// Revision returns the collection's aggregate timestamp.
func (m *Memory) Revision(_ context.Context) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.revision, nil
}

// Get returns the mapping for a local entity, or nil when none exists.
func (m *Memory) Get(_ context.Context, localID string) (*notesync.Mapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if mp, ok := m.mappings[localID]; ok {
		return &mp, nil
	}
	return nil, nil
}

// GetByRemoteID returns the mapping for a remote item, or nil when none exists.
func (m *Memory) GetByRemoteID(_ context.Context, remoteID string) (*notesync.Mapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if localID, ok := m.byRemote[remoteID]; ok {
		mp := m.mappings[localID]
		return &mp, nil
	}
	return nil, nil
}

// All returns every mapping, ordered by local id.
func (m *Memory) All(_ context.Context) ([]notesync.Mapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]notesync.Mapping, 0, len(m.mappings))
	for _, mp := range m.mappings {
		out = append(out, mp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalID < out[j].LocalID })
	return out, nil
}

// Apply commits a mapping batch atomically under one lock, matching the
// SQLite backend's single-transaction behavior, including its ordering:
// removals before upserts, so a batch can move a remote id from a removed
// mapping to an upserted one.
func (m *Memory) Apply(_ context.Context, batch *notesync.MappingBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, localID := range batch.RemovedLocalIDs() {
		if old, ok := m.mappings[localID]; ok {
			delete(m.byRemote, old.RemoteID)
			delete(m.mappings, localID)
		}
	}
	for _, remoteID := range batch.RemovedRemoteIDs() {
		if localID, ok := m.byRemote[remoteID]; ok {
			delete(m.mappings, localID)
			delete(m.byRemote, remoteID)
		}
	}
	for _, mp := range batch.Upserts() {
		if old, ok := m.mappings[mp.LocalID]; ok && old.RemoteID != mp.RemoteID {
			delete(m.byRemote, old.RemoteID)
		}
		m.mappings[mp.LocalID] = mp
		m.byRemote[mp.RemoteID] = mp.LocalID
	}
	if cp := batch.CheckpointAdvance(); cp != nil {
		m.checkpoint = *cp
	}
	return nil
}

// Checkpoint returns the stored sync checkpoint.
func (m *Memory) Checkpoint(_ context.Context) (notesync.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkpoint, nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error { return nil }

// Compile-time checks that Memory implements the store interfaces.
var (
	_ notesync.EntityStore  = (*Memory)(nil)
	_ notesync.MappingStore = (*Memory)(nil)
	_ Store                 = (*Memory)(nil)
)
