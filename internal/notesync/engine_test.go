package notesync_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"notesync-go/internal/blob"
	"notesync-go/internal/events"
	"notesync-go/internal/notesync"
	"notesync-go/internal/store"
	"notesync-go/internal/testutil"
)

type engineFixture struct {
	store  *store.Memory
	events *events.Memory
	blob   *blob.Memory
	clock  *testutil.StubClock
	engine *notesync.Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	f := &engineFixture{
		store:  testutil.NewTestStore(),
		events: testutil.NewTestEvents("cal-1"),
		blob:   testutil.NewTestBlob(),
		clock:  testutil.FixedClock(),
	}
	f.engine = notesync.NewEngine("cal-1", f.store, f.store, f.events, f.blob,
		nil, f.clock, testutil.NewStubIDGenerator())
	return f
}

// saveLocal replaces the local collection, advancing the clock first so the
// revision moves the way a real edit would.
func (f *engineFixture) saveLocal(t *testing.T, ents ...notesync.Entity) {
	t.Helper()
	f.clock.Advance(time.Minute)
	if err := f.store.Save(context.Background(), ents, f.clock.Now()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
}

func (f *engineFixture) run(t *testing.T) *notesync.PassResult {
	t.Helper()
	f.clock.Advance(time.Minute)
	res, err := f.engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return res
}

func task(localID, title string, day int) notesync.Entity {
	start := time.Date(2024, 1, day, 9, 0, 0, 0, time.UTC)
	return notesync.Entity{LocalID: localID, Title: title, StartTime: &start}
}

func TestEngine_ExportsNewLocalTask(t *testing.T) {
	f := newEngineFixture(t)
	f.saveLocal(t, task("l1", "Dentist", 20))

	res := f.run(t)

	if res.Exported != 1 {
		t.Errorf("Exported = %d, want 1", res.Exported)
	}
	if f.events.CreateCalls != 1 {
		t.Errorf("CreateCalls = %d, want 1", f.events.CreateCalls)
	}
	if f.events.Len() != 1 {
		t.Errorf("remote item count = %d, want 1", f.events.Len())
	}

	m, err := f.store.Get(context.Background(), "l1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if m == nil {
		t.Fatal("no mapping recorded for exported entity")
	}
	if m.RemoteID == "" {
		t.Error("mapping has empty remote id")
	}

	ents, _ := f.store.Load(context.Background())
	if len(ents) != 1 || ents[0].RemoteRef != m.RemoteID {
		t.Error("entity RemoteRef not backfilled after export")
	}
}

func TestEngine_SecondPassIsNoOp(t *testing.T) {
	f := newEngineFixture(t)
	f.saveLocal(t, task("l1", "Dentist", 20))
	f.run(t)

	creates, updates, deletes := f.events.CreateCalls, f.events.UpdateCalls, f.events.DeleteCalls
	uploads := f.blob.UploadCalls

	res := f.run(t)

	if res.Imported+res.Updated+res.Exported != 0 {
		t.Errorf("second pass result = %+v, want all zero", res)
	}
	if f.events.CreateCalls != creates || f.events.UpdateCalls != updates || f.events.DeleteCalls != deletes {
		t.Error("second pass made remote event calls")
	}
	if f.blob.UploadCalls != uploads {
		t.Errorf("second pass re-uploaded the snapshot: %d -> %d", uploads, f.blob.UploadCalls)
	}
}

func TestEngine_SkipsUnscheduledEntities(t *testing.T) {
	f := newEngineFixture(t)
	f.saveLocal(t, notesync.Entity{LocalID: "l1", Title: "plain note"})

	res := f.run(t)

	if res.Exported != 0 {
		t.Errorf("Exported = %d, want 0", res.Exported)
	}
	if f.events.CreateCalls != 0 {
		t.Errorf("CreateCalls = %d, want 0", f.events.CreateCalls)
	}
	// The note still reaches the backup snapshot.
	snap, err := f.blob.Download(context.Background())
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if len(snap.Entities) != 1 {
		t.Errorf("snapshot entities = %d, want 1", len(snap.Entities))
	}
}

func TestEngine_ImportsRemoteItem(t *testing.T) {
	f := newEngineFixture(t)
	start := time.Date(2024, 1, 22, 9, 0, 0, 0, time.UTC)
	id := f.events.Seed(notesync.RemoteItem{Title: "Buy milk", StartTime: &start})

	res := f.run(t)

	if res.Imported != 1 {
		t.Fatalf("Imported = %d, want 1", res.Imported)
	}

	ents, _ := f.store.Load(context.Background())
	if len(ents) != 1 {
		t.Fatalf("local entities = %d, want 1", len(ents))
	}
	if ents[0].Title != "Buy milk" {
		t.Errorf("Title = %q, want %q", ents[0].Title, "Buy milk")
	}
	if ents[0].RemoteRef != id {
		t.Errorf("RemoteRef = %q, want %q", ents[0].RemoteRef, id)
	}

	m, _ := f.store.GetByRemoteID(context.Background(), id)
	if m == nil {
		t.Fatal("no mapping recorded for imported item")
	}
}

func TestEngine_PullsRemoteEdit(t *testing.T) {
	f := newEngineFixture(t)
	start := time.Date(2024, 1, 22, 9, 0, 0, 0, time.UTC)
	id := f.events.Seed(notesync.RemoteItem{Title: "Buy milk", StartTime: &start})
	f.run(t)

	if err := f.events.Mutate(id, func(it *notesync.RemoteItem) { it.Title = "Buy oat milk" }); err != nil {
		t.Fatal(err)
	}

	res := f.run(t)

	if res.Updated != 1 {
		t.Errorf("Updated = %d, want 1", res.Updated)
	}
	ents, _ := f.store.Load(context.Background())
	if ents[0].Title != "Buy oat milk" {
		t.Errorf("Title = %q, want %q", ents[0].Title, "Buy oat milk")
	}
	// The pulled edit must not bounce back as a push.
	if f.events.UpdateCalls != 0 {
		t.Errorf("UpdateCalls = %d, want 0", f.events.UpdateCalls)
	}
}

func TestEngine_ConflictRemoteWins(t *testing.T) {
	f := newEngineFixture(t)
	start := time.Date(2024, 1, 22, 9, 0, 0, 0, time.UTC)
	id := f.events.Seed(notesync.RemoteItem{Title: "Buy milk", StartTime: &start})
	f.run(t)

	// Both sides edit the same item between passes.
	ents, _ := f.store.Load(context.Background())
	ents[0].Title = "Buy milk (local edit)"
	f.saveLocal(t, ents...)
	if err := f.events.Mutate(id, func(it *notesync.RemoteItem) { it.Title = "Buy oat milk" }); err != nil {
		t.Fatal(err)
	}

	res := f.run(t)

	ents, _ = f.store.Load(context.Background())
	if ents[0].Title != "Buy oat milk" {
		t.Errorf("Title = %q, want remote version %q", ents[0].Title, "Buy oat milk")
	}
	if res.Updated != 1 {
		t.Errorf("Updated = %d, want 1", res.Updated)
	}
	// The superseded local edit is not pushed.
	if f.events.UpdateCalls != 0 {
		t.Errorf("UpdateCalls = %d, want 0", f.events.UpdateCalls)
	}
}

func TestEngine_PushesLocalEdit(t *testing.T) {
	f := newEngineFixture(t)
	f.saveLocal(t, task("l1", "Dentist", 20))
	f.run(t)

	ents, _ := f.store.Load(context.Background())
	ents[0].Title = "Dentist (rescheduled)"
	f.saveLocal(t, ents...)

	res := f.run(t)

	if res.Updated != 1 {
		t.Errorf("Updated = %d, want 1", res.Updated)
	}
	if f.events.UpdateCalls != 1 {
		t.Errorf("UpdateCalls = %d, want 1", f.events.UpdateCalls)
	}

	m, _ := f.store.Get(context.Background(), "l1")
	it, ok := f.events.Get(m.RemoteID)
	if !ok || it.Title != "Dentist (rescheduled)" {
		t.Errorf("remote title = %q, want %q", it.Title, "Dentist (rescheduled)")
	}
}

func TestEngine_PropagatesLocalDelete(t *testing.T) {
	f := newEngineFixture(t)
	f.saveLocal(t, task("l1", "Dentist", 20))
	f.run(t)

	// Delete the entity locally.
	f.saveLocal(t)

	f.run(t)

	if f.events.DeleteCalls != 1 {
		t.Errorf("DeleteCalls = %d, want 1", f.events.DeleteCalls)
	}
	if f.events.Len() != 0 {
		t.Errorf("remote item count = %d, want 0", f.events.Len())
	}
	mappings, _ := f.store.All(context.Background())
	if len(mappings) != 0 {
		t.Errorf("mappings = %d, want 0", len(mappings))
	}
}

func TestEngine_UpdateFallsBackToCreate(t *testing.T) {
	f := newEngineFixture(t)
	f.saveLocal(t, task("l1", "Dentist", 20))
	f.run(t)

	m, _ := f.store.Get(context.Background(), "l1")
	oldRemoteID := m.RemoteID

	// The remote counterpart vanishes out-of-band, then the entity changes.
	if err := f.events.Delete(context.Background(), oldRemoteID); err != nil {
		t.Fatal(err)
	}
	ents, _ := f.store.Load(context.Background())
	ents[0].Title = "Dentist moved"
	f.saveLocal(t, ents...)

	res := f.run(t)

	if res.Exported != 1 {
		t.Errorf("Exported = %d, want 1", res.Exported)
	}
	m, _ = f.store.Get(context.Background(), "l1")
	if m == nil || m.RemoteID == oldRemoteID {
		t.Error("mapping still points at the vanished remote id")
	}
	if f.events.Len() != 1 {
		t.Errorf("remote item count = %d, want 1", f.events.Len())
	}
}

func TestEngine_CheckpointInvalidRecovery(t *testing.T) {
	f := newEngineFixture(t)
	start := time.Date(2024, 1, 22, 9, 0, 0, 0, time.UTC)
	f.events.Seed(notesync.RemoteItem{Title: "existing", StartTime: &start})
	f.run(t)

	f.events.InvalidateCheckpoints()
	listCalls := f.events.ListCalls

	res := f.run(t)

	// Exactly one retry: the rejected incremental call plus one full scan.
	if f.events.ListCalls != listCalls+2 {
		t.Errorf("ListCalls = %d, want %d", f.events.ListCalls, listCalls+2)
	}
	if res.Imported != 0 {
		t.Errorf("Imported = %d after rescan, want 0 (item already mapped)", res.Imported)
	}
}

func TestEngine_UnauthorizedAbortsPass(t *testing.T) {
	f := newEngineFixture(t)
	f.saveLocal(t, task("l1", "Dentist", 20))

	f.events.FailNextWith(notesync.ErrUnauthorized)
	f.clock.Advance(time.Minute)
	_, err := f.engine.Run(context.Background())
	if !errors.Is(err, notesync.ErrUnauthorized) {
		t.Fatalf("Run() error = %v, want ErrUnauthorized", err)
	}
}

func TestEngine_TransientListFailureAbortsPass(t *testing.T) {
	f := newEngineFixture(t)
	f.events.FailNextWith(notesync.ErrNetwork)
	f.clock.Advance(time.Minute)
	_, err := f.engine.Run(context.Background())
	if !notesync.IsTransient(err) {
		t.Fatalf("Run() error = %v, want transient", err)
	}
}

func TestEngine_SnapshotNewerReplacesLocal(t *testing.T) {
	f := newEngineFixture(t)
	f.saveLocal(t, task("l1", "old local state", 20))

	// A newer snapshot exists remotely, uploaded by another device.
	snapTime := f.clock.Now().Add(time.Hour)
	remote := task("r1", "from other device", 21)
	remote.RemoteRef = "evt-other"
	if _, err := f.blob.Upload(context.Background(), &notesync.Snapshot{
		Timestamp: snapTime,
		Version:   7,
		Entities:  []notesync.Entity{remote},
	}); err != nil {
		t.Fatal(err)
	}
	uploads := f.blob.UploadCalls

	res := f.run(t)

	ents, _ := f.store.Load(context.Background())
	if len(ents) != 1 || ents[0].Title != "from other device" {
		t.Fatalf("local state not replaced by snapshot: %+v", ents)
	}
	rev, _ := f.store.Revision(context.Background())
	if !rev.Equal(snapTime) {
		t.Errorf("revision = %v, want snapshot timestamp %v", rev, snapTime)
	}

	// The replace skips the push phase and does not re-upload.
	if res.Exported != 0 {
		t.Errorf("Exported = %d, want 0", res.Exported)
	}
	if f.events.CreateCalls != 0 {
		t.Errorf("CreateCalls = %d, want 0", f.events.CreateCalls)
	}
	if f.blob.UploadCalls != uploads {
		t.Error("pass re-uploaded the snapshot it just downloaded")
	}

	// Mappings follow the snapshot: the stale local entity's mapping is gone,
	// the snapshot entity keeps its remote link.
	m, _ := f.store.GetByRemoteID(context.Background(), "evt-other")
	if m == nil {
		t.Error("no mapping for snapshot entity with RemoteRef")
	}
	stale, _ := f.store.Get(context.Background(), "l1")
	if stale != nil {
		t.Error("mapping survived for entity absent from snapshot")
	}
}

func TestEngine_LocalNewerUploadsSnapshot(t *testing.T) {
	f := newEngineFixture(t)

	// Seed an older remote snapshot.
	if _, err := f.blob.Upload(context.Background(), &notesync.Snapshot{
		Timestamp: f.clock.Now().Add(-time.Hour),
		Version:   3,
	}); err != nil {
		t.Fatal(err)
	}

	f.saveLocal(t, notesync.Entity{LocalID: "l1", Title: "newer note"})
	f.run(t)

	meta, _ := f.blob.Metadata(context.Background())
	if meta.Version != 4 {
		t.Errorf("snapshot version = %d, want 4", meta.Version)
	}
	snap, err := f.blob.Download(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Entities) != 1 || snap.Entities[0].Title != "newer note" {
		t.Errorf("uploaded snapshot entities = %+v", snap.Entities)
	}
}

func TestEngine_BlobFailureIsSoft(t *testing.T) {
	f := newEngineFixture(t)
	f.saveLocal(t, task("l1", "Dentist", 20))

	f.blob.FailNextWith(notesync.ErrNetwork)
	res := f.run(t)

	// The event push still went through.
	if res.Exported != 1 {
		t.Errorf("Exported = %d, want 1", res.Exported)
	}
	if len(res.Errors) == 0 {
		t.Error("blob failure not collected in result errors")
	}
}

func TestEngine_RunBackupSkipsEventChannel(t *testing.T) {
	f := newEngineFixture(t)
	f.saveLocal(t, task("l1", "Dentist", 20))

	f.clock.Advance(time.Minute)
	if _, err := f.engine.RunBackup(context.Background()); err != nil {
		t.Fatalf("RunBackup() error = %v", err)
	}

	if f.events.ListCalls+f.events.CreateCalls != 0 {
		t.Error("backup pass touched the event channel")
	}
	if f.blob.UploadCalls != 1 {
		t.Errorf("UploadCalls = %d, want 1", f.blob.UploadCalls)
	}
}

// malformedInjector appends an id-less item and a recorded decode failure to
// every listing, covering both ways a channel reports a bad item.
type malformedInjector struct {
	*events.Memory
}

func (m *malformedInjector) ListChanged(ctx context.Context, cp notesync.Checkpoint, w notesync.Window) (*notesync.ChangeList, error) {
	list, err := m.Memory.ListChanged(ctx, cp, w)
	if err != nil {
		return nil, err
	}
	list.Items = append(list.Items, notesync.RemoteItem{Title: "no id"})
	list.Malformed = append(list.Malformed,
		&notesync.MalformedItemError{RemoteID: "evt-bad", Reason: "bad start time"})
	return list, nil
}

func TestEngine_MalformedItemCollected(t *testing.T) {
	ev := &malformedInjector{Memory: testutil.NewTestEvents("cal-1")}
	start := time.Date(2024, 1, 22, 9, 0, 0, 0, time.UTC)
	ev.Seed(notesync.RemoteItem{Title: "good", StartTime: &start})

	st := testutil.NewTestStore()
	clock := testutil.FixedClock()
	engine := notesync.NewEngine("cal-1", st, st, ev, testutil.NewTestBlob(),
		nil, clock, testutil.NewStubIDGenerator())

	res, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Imported != 1 {
		t.Errorf("Imported = %d, want 1 (good item still lands)", res.Imported)
	}
	if len(res.Errors) != 2 {
		t.Fatalf("len(Errors) = %d, want 2", len(res.Errors))
	}
	for i, resErr := range res.Errors {
		var malformed *notesync.MalformedItemError
		if !errors.As(resErr, &malformed) {
			t.Errorf("Errors[%d] = %v, want MalformedItemError", i, resErr)
		}
	}
}
