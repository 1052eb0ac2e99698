package notesync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Engine performs one reconciliation pass at a time: pull remote changes,
// compare the backup snapshot, push local changes, upload the backup.
// It never runs concurrently with itself; the scheduler enforces single-flight.
type Engine struct {
	entities     EntityStore
	mappings     MappingStore
	events       EventChannel
	blob         BlobChannel
	logger       Logger
	clock        Clock
	idgen        IDGenerator
	collectionID string
	windowFn     func(time.Time) Window
}

// NewEngine creates an Engine with the provided dependencies.
// collectionID identifies the remote calendar new events are created in.
// If logger is nil, a NopLogger is used.
func NewEngine(collectionID string, entities EntityStore, mappings MappingStore, events EventChannel, blob BlobChannel, logger Logger, clock Clock, idgen IDGenerator) *Engine {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Engine{
		entities:     entities,
		mappings:     mappings,
		events:       events,
		blob:         blob,
		logger:       logger,
		clock:        clock,
		idgen:        idgen,
		collectionID: collectionID,
		windowFn:     DefaultWindow,
	}
}

// SetWindow overrides how the full-scan window is derived from the current time.
func (e *Engine) SetWindow(fn func(time.Time) Window) {
	if fn != nil {
		e.windowFn = fn
	}
}

// passState carries the working set of one reconciliation pass. The entity
// collection and mapping set are merged in memory and committed once at the
// end, so no partial state is visible mid-pass.
type passState struct {
	res      *PassResult
	batch    *MappingBatch
	entities []Entity
	byLocal  map[string]int     // localID -> index into entities
	mappings map[string]Mapping // localID -> mapping, store state plus this pass
	byRemote map[string]string  // remoteID -> localID
	dirty    bool               // local collection modified this pass
}

func (st *passState) putMapping(m Mapping) {
	st.mappings[m.LocalID] = m
	st.byRemote[m.RemoteID] = m.LocalID
	st.batch.Upsert(m)
}

func (st *passState) addEntity(ent Entity) {
	st.entities = append(st.entities, ent)
	st.byLocal[ent.LocalID] = len(st.entities) - 1
	st.dirty = true
}

// Run executes a full reconciliation pass: pull, snapshot compare, push,
// snapshot upload. Per-item failures are collected in the result; a returned
// error means the whole pass aborted (credential failure, listing failure,
// local write failure).
func (e *Engine) Run(ctx context.Context) (*PassResult, error) {
	return e.run(ctx, true)
}

// RunBackup executes a snapshot-only pass: newer-wins compare against the
// backup blob, with no event channel traffic.
func (e *Engine) RunBackup(ctx context.Context) (*PassResult, error) {
	return e.run(ctx, false)
}

func (e *Engine) run(ctx context.Context, withEvents bool) (*PassResult, error) {
	st, err := e.loadState(ctx)
	if err != nil {
		return &PassResult{}, err
	}

	if withEvents {
		if err := e.pullPhase(ctx, st); err != nil {
			return st.res, err
		}
	}

	replaced, meta, err := e.downloadIfNewer(ctx, st)
	if err != nil {
		return st.res, err
	}
	if replaced {
		// Local state was just replaced by the downloaded snapshot; pushing
		// against it now would re-upload data we only just pulled down.
		return st.res, nil
	}

	if withEvents {
		if err := e.pushPhase(ctx, st); err != nil {
			return st.res, err
		}
	}

	if err := e.commit(ctx, st); err != nil {
		return st.res, err
	}

	if err := e.uploadIfNewer(ctx, st, meta); err != nil {
		return st.res, err
	}

	return st.res, nil
}

func (e *Engine) loadState(ctx context.Context) (*passState, error) {
	entities, err := e.entities.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading local entities: %w", err)
	}

	mappings, err := e.mappings.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading sync mappings: %w", err)
	}

	st := &passState{
		res:      &PassResult{},
		batch:    &MappingBatch{},
		entities: entities,
		byLocal:  make(map[string]int, len(entities)),
		mappings: make(map[string]Mapping, len(mappings)),
		byRemote: make(map[string]string, len(mappings)),
	}
	for i := range entities {
		st.byLocal[entities[i].LocalID] = i
	}
	for _, m := range mappings {
		st.mappings[m.LocalID] = m
		st.byRemote[m.RemoteID] = m.LocalID
	}
	return st, nil
}

// pullPhase applies remote-side changes to the local collection. The new
// checkpoint is queued on the batch and commits only after the whole batch
// processed without fatal error, so a crash cannot lose updates.
func (e *Engine) pullPhase(ctx context.Context, st *passState) error {
	cp, err := e.mappings.Checkpoint(ctx)
	if err != nil {
		return fmt.Errorf("reading checkpoint: %w", err)
	}

	window := e.windowFn(e.clock.Now())
	list, err := e.events.ListChanged(ctx, cp, window)
	if errors.Is(err, ErrCheckpointInvalid) {
		e.logger.Warn("checkpoint invalidated, falling back to full scan")
		list, err = e.events.ListChanged(ctx, Checkpoint{}, window)
	}
	if err != nil {
		return fmt.Errorf("listing remote changes: %w", err)
	}

	st.res.Errors = append(st.res.Errors, list.Malformed...)
	for _, item := range list.Items {
		if err := e.applyRemoteItem(st, item); err != nil {
			st.res.Errors = append(st.res.Errors, err)
		}
	}

	st.batch.AdvanceCheckpoint(list.Next)
	return nil
}

func (e *Engine) applyRemoteItem(st *passState, item RemoteItem) error {
	if item.RemoteID == "" {
		return &MalformedItemError{RemoteID: "(unknown)", Reason: "missing remote id"}
	}

	now := e.clock.Now()
	localID, mapped := st.byRemote[item.RemoteID]
	if !mapped {
		// New remote item: materialize it locally.
		ent := Entity{
			LocalID:     e.idgen.New(),
			Title:       item.Title,
			Description: item.Description,
			Location:    item.Location,
			StartTime:   item.StartTime,
			EndTime:     item.EndTime,
			Completed:   item.Completed,
			RemoteRef:   item.RemoteID,
			UpdatedAt:   now,
		}
		st.addEntity(ent)
		st.putMapping(Mapping{
			LocalID:            ent.LocalID,
			RemoteID:           item.RemoteID,
			RemoteCollectionID: e.collectionIDFor(item),
			Fingerprint:        Fingerprint(item.Fields()),
			SyncedAt:           now,
		})
		st.res.Imported++
		e.logger.Debug("imported remote item", "remote_id", item.RemoteID, "local_id", ent.LocalID)
		return nil
	}

	m := st.mappings[localID]
	remoteFP := Fingerprint(item.Fields())
	if remoteFP == m.Fingerprint {
		return nil
	}

	idx, exists := st.byLocal[localID]
	if !exists {
		// The entity was deleted locally; the push phase will propagate the
		// delete. Applying the remote edit would resurrect it.
		e.logger.Debug("remote edit for locally deleted entity ignored", "remote_id", item.RemoteID)
		return nil
	}

	ent := &st.entities[idx]
	if localFP := Fingerprint(ent.Fields()); localFP != m.Fingerprint {
		// Both sides changed since last sync. Remote wins; the local version
		// is superseded, not merged.
		e.logger.Info("conflict: remote version wins", "local_id", localID, "remote_id", item.RemoteID)
	}

	ent.Title = item.Title
	ent.Description = item.Description
	ent.Location = item.Location
	ent.StartTime = item.StartTime
	ent.EndTime = item.EndTime
	ent.Completed = item.Completed
	ent.RemoteRef = item.RemoteID
	ent.UpdatedAt = now
	st.dirty = true

	m.Fingerprint = remoteFP
	m.SyncedAt = now
	st.putMapping(m)
	st.res.Updated++
	return nil
}

// downloadIfNewer replaces the local collection with the remote snapshot when
// the snapshot is strictly newer. Returns true when a replace happened; the
// caller then skips the push phase for this pass. The blob metadata is
// returned for the upload decision at the end of the pass.
func (e *Engine) downloadIfNewer(ctx context.Context, st *passState) (bool, *BlobMeta, error) {
	meta, err := e.blob.Metadata(ctx)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return false, nil, fmt.Errorf("querying snapshot metadata: %w", err)
		}
		st.res.Errors = append(st.res.Errors, fmt.Errorf("querying snapshot metadata: %w", err))
		return false, nil, nil
	}

	rev, err := e.entities.Revision(ctx)
	if err != nil {
		return false, meta, fmt.Errorf("reading local revision: %w", err)
	}

	if !meta.Exists || !meta.LastModified.After(rev) {
		return false, meta, nil
	}

	snap, err := e.blob.Download(ctx)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return false, meta, fmt.Errorf("downloading snapshot: %w", err)
		}
		st.res.Errors = append(st.res.Errors, fmt.Errorf("downloading snapshot: %w", err))
		return false, meta, nil
	}

	if err := e.entities.Save(ctx, snap.Entities, snap.Timestamp); err != nil {
		return false, meta, fmt.Errorf("replacing local entities from snapshot: %w", err)
	}

	if err := e.rebuildMappings(ctx, st, snap); err != nil {
		return false, meta, err
	}

	e.logger.Info("local state replaced by newer snapshot",
		"snapshot_ts", snap.Timestamp, "version", snap.Version, "entities", len(snap.Entities))
	return true, meta, nil
}

// rebuildMappings reconciles the mapping set against a snapshot that just
// replaced the local collection. Entities carrying a RemoteRef keep a mapping
// at their current fingerprint so the next pass does not re-push them;
// mappings for entities absent from the snapshot are dropped so they do not
// read as local deletes.
func (e *Engine) rebuildMappings(ctx context.Context, st *passState, snap *Snapshot) error {
	now := e.clock.Now()
	rebuilt := &MappingBatch{}
	present := make(map[string]bool, len(snap.Entities))

	for i := range snap.Entities {
		ent := &snap.Entities[i]
		present[ent.LocalID] = true
		if ent.RemoteRef == "" {
			continue
		}
		collection := e.collectionID
		if old, ok := st.mappings[ent.LocalID]; ok && old.RemoteCollectionID != "" {
			collection = old.RemoteCollectionID
		}
		rebuilt.Upsert(Mapping{
			LocalID:            ent.LocalID,
			RemoteID:           ent.RemoteRef,
			RemoteCollectionID: collection,
			Fingerprint:        Fingerprint(ent.Fields()),
			SyncedAt:           now,
		})
	}

	stale := make([]string, 0)
	for localID := range st.mappings {
		if !present[localID] {
			stale = append(stale, localID)
		}
	}
	sort.Strings(stale)
	for _, localID := range stale {
		rebuilt.RemoveByLocalID(localID)
	}

	if cp := st.batch.CheckpointAdvance(); cp != nil {
		rebuilt.AdvanceCheckpoint(*cp)
	}

	if err := e.mappings.Apply(ctx, rebuilt); err != nil {
		return fmt.Errorf("rebuilding mappings after snapshot replace: %w", err)
	}
	return nil
}

// pushPhase propagates local deletes, then creates or updates remote events
// for schedulable entities whose fingerprint moved since last sync. An
// unchanged fingerprint means no remote call at all.
func (e *Engine) pushPhase(ctx context.Context, st *passState) error {
	now := e.clock.Now()

	// A mapping without a live local entity means the entity was deleted
	// locally since the mapping was written. Event-list absence is never
	// treated as a remote delete; propagation is local-to-remote only.
	deleted := make([]string, 0)
	for localID := range st.mappings {
		if _, ok := st.byLocal[localID]; !ok {
			deleted = append(deleted, localID)
		}
	}
	sort.Strings(deleted)
	for _, localID := range deleted {
		m := st.mappings[localID]
		err := e.events.Delete(ctx, m.RemoteID)
		if errors.Is(err, ErrUnauthorized) {
			return fmt.Errorf("deleting remote event %s: %w", m.RemoteID, err)
		}
		if err != nil && !errors.Is(err, ErrRemoteNotFound) {
			st.res.Errors = append(st.res.Errors, fmt.Errorf("deleting remote event %s: %w", m.RemoteID, err))
			continue
		}
		st.batch.RemoveByLocalID(localID)
		e.logger.Debug("propagated local delete", "local_id", localID, "remote_id", m.RemoteID)
	}

	for i := range st.entities {
		ent := &st.entities[i]
		if !ent.Schedulable() {
			continue
		}

		fp := Fingerprint(ent.Fields())
		m, mapped := st.mappings[ent.LocalID]

		if !mapped {
			if err := e.createRemote(ctx, st, ent, fp, now); err != nil {
				return err
			}
			continue
		}

		if fp == m.Fingerprint {
			continue // unchanged since last sync: no remote call
		}

		item := e.itemFromEntity(ent)
		err := e.events.Update(ctx, m.RemoteID, item)
		switch {
		case err == nil:
			m.Fingerprint = fp
			m.SyncedAt = now
			st.putMapping(m)
			st.res.Updated++
		case errors.Is(err, ErrRemoteNotFound):
			// The remote counterpart vanished; recreate and treat as new.
			if cerr := e.createRemote(ctx, st, ent, fp, now); cerr != nil {
				return cerr
			}
		case errors.Is(err, ErrUnauthorized):
			return fmt.Errorf("updating remote event %s: %w", m.RemoteID, err)
		default:
			st.res.Errors = append(st.res.Errors, fmt.Errorf("updating remote event %s: %w", m.RemoteID, err))
		}
	}
	return nil
}

func (e *Engine) createRemote(ctx context.Context, st *passState, ent *Entity, fp string, now time.Time) error {
	remoteID, err := e.events.Create(ctx, e.itemFromEntity(ent))
	if errors.Is(err, ErrUnauthorized) {
		return fmt.Errorf("creating remote event for %s: %w", ent.LocalID, err)
	}
	if err != nil {
		st.res.Errors = append(st.res.Errors, fmt.Errorf("creating remote event for %s: %w", ent.LocalID, err))
		return nil
	}

	ent.RemoteRef = remoteID
	ent.UpdatedAt = now
	st.dirty = true
	st.putMapping(Mapping{
		LocalID:            ent.LocalID,
		RemoteID:           remoteID,
		RemoteCollectionID: e.collectionID,
		Fingerprint:        fp,
		SyncedAt:           now,
	})
	st.res.Exported++
	e.logger.Debug("exported entity", "local_id", ent.LocalID, "remote_id", remoteID)
	return nil
}

// commit writes the merged entity collection and flushes the mapping batch.
// Mapping upserts are all-or-nothing: the store applies the batch in one
// transaction, so a fingerprint is never updated without its remote id.
func (e *Engine) commit(ctx context.Context, st *passState) error {
	if st.dirty {
		if err := e.entities.Save(ctx, st.entities, e.clock.Now()); err != nil {
			return fmt.Errorf("saving local entities: %w", err)
		}
	}
	if !st.batch.Empty() {
		if err := e.mappings.Apply(ctx, st.batch); err != nil {
			return fmt.Errorf("applying mapping batch: %w", err)
		}
	}
	return nil
}

// uploadIfNewer replaces the remote snapshot when the local collection's
// revision is strictly newer. Equal timestamps are a no-op, which is what
// makes back-to-back passes converge.
func (e *Engine) uploadIfNewer(ctx context.Context, st *passState, meta *BlobMeta) error {
	if meta == nil {
		return nil // metadata query failed earlier this pass
	}

	rev, err := e.entities.Revision(ctx)
	if err != nil {
		st.res.Errors = append(st.res.Errors, fmt.Errorf("reading local revision: %w", err))
		return nil
	}

	if meta.Exists && !rev.After(meta.LastModified) {
		return nil
	}

	snap := &Snapshot{
		Timestamp: rev,
		Version:   meta.Version + 1,
		Entities:  st.entities,
	}
	remoteID, err := e.blob.Upload(ctx, snap)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return fmt.Errorf("uploading snapshot: %w", err)
		}
		st.res.Errors = append(st.res.Errors, fmt.Errorf("uploading snapshot: %w", err))
		return nil
	}

	e.logger.Info("snapshot uploaded", "remote_id", remoteID, "version", snap.Version, "entities", len(snap.Entities))
	return nil
}

func (e *Engine) itemFromEntity(ent *Entity) RemoteItem {
	return RemoteItem{
		RemoteID:     ent.RemoteRef,
		CollectionID: e.collectionID,
		Title:        ent.Title,
		Description:  ent.Description,
		Location:     ent.Location,
		StartTime:    ent.StartTime,
		EndTime:      ent.EndTime,
		Completed:    ent.Completed,
	}
}

func (e *Engine) collectionIDFor(item RemoteItem) string {
	if item.CollectionID != "" {
		return item.CollectionID
	}
	return e.collectionID
}
