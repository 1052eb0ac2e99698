package notesync

import (
	"context"
	"time"
)

// EntityStore is the local persistence collaborator. Semantics are
// whole-collection: the engine loads everything, merges in memory, and writes
// everything back once per pass. Revision is the collection's aggregate
// timestamp, used for the snapshot newer-wins comparison.
type EntityStore interface {
	Load(ctx context.Context) ([]Entity, error)

	// Save replaces the whole collection and records revision as its
	// aggregate timestamp.
	Save(ctx context.Context, entities []Entity, revision time.Time) error

	Revision(ctx context.Context) (time.Time, error)
}

// MappingStore persists id correspondences and the sync checkpoint. Reads are
// ad hoc; all writes go through Apply so a reconciliation pass commits its
// mapping changes and checkpoint advancement in one atomic batch. No partial
// mapping state is ever visible mid-pass.
type MappingStore interface {
	Get(ctx context.Context, localID string) (*Mapping, error)
	GetByRemoteID(ctx context.Context, remoteID string) (*Mapping, error)
	All(ctx context.Context) ([]Mapping, error)

	Apply(ctx context.Context, batch *MappingBatch) error

	Checkpoint(ctx context.Context) (Checkpoint, error)
}

// MappingBatch accumulates the mapping mutations of one reconciliation pass.
// Upserts are idempotent and keyed by local id; a later upsert for the same
// local id wins. Checkpoint, when non-nil, is advanced in the same
// transaction as the mutations.
type MappingBatch struct {
	upserts         []Mapping
	removeLocalIDs  []string
	removeRemoteIDs []string
	checkpoint      *Checkpoint
}

// Upsert queues a mapping write, replacing any earlier queued write for the
// same local id.
func (b *MappingBatch) Upsert(m Mapping) {
	for i := range b.upserts {
		if b.upserts[i].LocalID == m.LocalID {
			b.upserts[i] = m
			return
		}
	}
	b.upserts = append(b.upserts, m)
}

// RemoveByLocalID queues removal of the mapping for a local entity.
func (b *MappingBatch) RemoveByLocalID(localID string) {
	b.removeLocalIDs = append(b.removeLocalIDs, localID)
}

// RemoveByRemoteID queues removal of the mapping for a remote item.
func (b *MappingBatch) RemoveByRemoteID(remoteID string) {
	b.removeRemoteIDs = append(b.removeRemoteIDs, remoteID)
}

// AdvanceCheckpoint queues the checkpoint to commit with the batch.
func (b *MappingBatch) AdvanceCheckpoint(cp Checkpoint) {
	b.checkpoint = &cp
}

// Empty reports whether the batch contains no work.
func (b *MappingBatch) Empty() bool {
	return len(b.upserts) == 0 && len(b.removeLocalIDs) == 0 &&
		len(b.removeRemoteIDs) == 0 && b.checkpoint == nil
}

// Upserts returns the queued mapping writes.
func (b *MappingBatch) Upserts() []Mapping { return b.upserts }

// RemovedLocalIDs returns the queued local-id removals.
func (b *MappingBatch) RemovedLocalIDs() []string { return b.removeLocalIDs }

// RemovedRemoteIDs returns the queued remote-id removals.
func (b *MappingBatch) RemovedRemoteIDs() []string { return b.removeRemoteIDs }

// CheckpointAdvance returns the queued checkpoint, or nil.
func (b *MappingBatch) CheckpointAdvance() *Checkpoint { return b.checkpoint }
