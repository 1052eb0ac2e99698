package notesync

import "time"

// Entity is a local record participating in sync: a task or a note-derived
// calendar item. LocalID is assigned at creation and never reused. RemoteRef
// is set once a remote counterpart exists.
type Entity struct {
	LocalID     string     `json:"local_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	StartTime   *time.Time `json:"start_time,omitempty"` // nil means unscheduled / all-day
	EndTime     *time.Time `json:"end_time,omitempty"`
	Completed   bool       `json:"completed"`
	Archived    bool       `json:"archived,omitempty"` // UI-only flag; excluded from the fingerprint
	RemoteRef   string     `json:"remote_ref,omitempty"` // remote event id, empty until first push
	UpdatedAt   time.Time  `json:"updated_at"` // volatile; excluded from the fingerprint
}

// Fields returns the semantic fields of the entity in the shape the
// fingerprint is computed over.
func (e *Entity) Fields() Fields {
	return Fields{
		Title:       e.Title,
		Description: e.Description,
		Location:    e.Location,
		StartTime:   e.StartTime,
		EndTime:     e.EndTime,
		Completed:   e.Completed,
	}
}

// Schedulable reports whether the entity has a time field and therefore
// participates in event push. Completed-and-archived entities are final and
// are not pushed.
func (e *Entity) Schedulable() bool {
	return e.StartTime != nil && !(e.Completed && e.Archived)
}

// RemoteItem is the normalized representation of an item on the remote event
// channel. It carries the same semantic fields as Entity so the two sides
// share one fingerprint function.
type RemoteItem struct {
	RemoteID     string
	CollectionID string
	Title        string
	Description  string
	Location     string
	StartTime    *time.Time
	EndTime      *time.Time
	Completed    bool
}

// Fields returns the semantic fields of the remote item in the shape the
// fingerprint is computed over.
func (it *RemoteItem) Fields() Fields {
	return Fields{
		Title:       it.Title,
		Description: it.Description,
		Location:    it.Location,
		StartTime:   it.StartTime,
		EndTime:     it.EndTime,
		Completed:   it.Completed,
	}
}

// Mapping is the durable correspondence between a local entity and its remote
// counterpart, plus the fingerprint recorded at last successful sync.
type Mapping struct {
	LocalID            string
	RemoteID           string
	RemoteCollectionID string
	Fingerprint        string
	SyncedAt           time.Time
}

// Checkpoint is an opaque token marking the already-observed position in the
// remote change feed. The zero value means "no checkpoint": the next
// ListChanged call performs a full scan.
type Checkpoint struct {
	Token string
}

// IsZero reports whether the checkpoint is unset.
func (c Checkpoint) IsZero() bool { return c.Token == "" }

// Window bounds a full scan of the remote event channel.
type Window struct {
	Start time.Time
	End   time.Time
}

// DefaultWindow returns the standard scan window: one month back to one year
// forward from now.
func DefaultWindow(now time.Time) Window {
	return Window{
		Start: now.AddDate(0, -1, 0),
		End:   now.AddDate(1, 0, 0),
	}
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Snapshot is the whole-state backup blob. It is only ever fully replaced,
// never patched. Timestamp is the revision of the local collection at upload
// time; Version increases by one on every upload.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Version   int64     `json:"version"`
	Entities  []Entity  `json:"entities"`
}

// BlobMeta describes the remote snapshot without downloading it.
// Exists is false when no backup has ever been uploaded.
type BlobMeta struct {
	Exists       bool
	LastModified time.Time
	Size         int64
	Version      int64
}

// ChangeList is the result of an incremental query against the event channel.
// Malformed holds per-item decode failures (MalformedItemError values): those
// items are skipped but recorded, and never abort the batch.
type ChangeList struct {
	Items     []RemoteItem
	Next      Checkpoint
	Malformed []error
}

// PassResult summarizes one reconciliation pass.
type PassResult struct {
	Imported int // remote items materialized locally
	Updated  int // existing pairs refreshed (either direction)
	Exported int // local entities created remotely
	Errors   []error
}
