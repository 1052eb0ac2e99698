package events

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"notesync-go/internal/notesync"
)

// Memory is an in-memory implementation of the EventChannel interface.
// It keeps a change log with monotonically increasing sequence numbers so
// incremental listing behaves like a real service, including checkpoint
// invalidation. This implementation is safe for concurrent use.
type Memory struct {
	collectionID string

	mu          sync.Mutex
	items       map[string]notesync.RemoteItem
	log         []changeEntry
	seq         int64
	nextID      int64
	invalidated bool
	failNext    error

	// Call counters for tests.
	ListCalls   int
	CreateCalls int
	UpdateCalls int
	DeleteCalls int
}

type changeEntry struct {
	seq      int64
	remoteID string
}

// NewMemory creates a new in-memory event channel for the given collection.
func NewMemory(collectionID string) *Memory {
	return &Memory{
		collectionID: collectionID,
		items:        make(map[string]notesync.RemoteItem),
	}
}

// ListChanged returns items changed since the checkpoint. A zero checkpoint
// performs a full scan bounded by the window; a stale or invalidated token
// yields ErrCheckpointInvalid.
func (m *Memory) ListChanged(ctx context.Context, cp notesync.Checkpoint, window notesync.Window) (*notesync.ChangeList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ListCalls++
	if err := m.takeFailure(); err != nil {
		return nil, err
	}

	if cp.IsZero() {
		// Full scan resets the incremental state.
		m.invalidated = false
		list := &notesync.ChangeList{Next: m.checkpointLocked()}
		for _, it := range m.items {
			if it.StartTime != nil && !window.Contains(*it.StartTime) {
				continue
			}
			list.Items = append(list.Items, it)
		}
		return list, nil
	}

	since, err := parseToken(cp.Token)
	if err != nil || m.invalidated || since > m.seq {
		return nil, fmt.Errorf("token %q rejected: %w", cp.Token, notesync.ErrCheckpointInvalid)
	}

	seen := make(map[string]bool)
	list := &notesync.ChangeList{Next: m.checkpointLocked()}
	for _, entry := range m.log {
		if entry.seq <= since || seen[entry.remoteID] {
			continue
		}
		seen[entry.remoteID] = true
		if it, ok := m.items[entry.remoteID]; ok {
			list.Items = append(list.Items, it)
		}
	}
	return list, nil
}

// Create creates a remote event and returns its assigned id.
func (m *Memory) Create(ctx context.Context, item notesync.RemoteItem) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateCalls++
	if err := m.takeFailure(); err != nil {
		return "", err
	}

	m.nextID++
	id := fmt.Sprintf("evt-%d", m.nextID)
	item.RemoteID = id
	if item.CollectionID == "" {
		item.CollectionID = m.collectionID
	}
	m.items[id] = item
	m.record(id)
	return id, nil
}

// Update replaces the content of an existing remote event.
func (m *Memory) Update(ctx context.Context, remoteID string, item notesync.RemoteItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UpdateCalls++
	if err := m.takeFailure(); err != nil {
		return err
	}

	existing, ok := m.items[remoteID]
	if !ok {
		return fmt.Errorf("update %s: %w", remoteID, notesync.ErrRemoteNotFound)
	}
	item.RemoteID = remoteID
	item.CollectionID = existing.CollectionID
	m.items[remoteID] = item
	m.record(remoteID)
	return nil
}

// Delete removes a remote event.
func (m *Memory) Delete(ctx context.Context, remoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DeleteCalls++
	if err := m.takeFailure(); err != nil {
		return err
	}

	if _, ok := m.items[remoteID]; !ok {
		return fmt.Errorf("delete %s: %w", remoteID, notesync.ErrRemoteNotFound)
	}
	delete(m.items, remoteID)
	m.record(remoteID)
	return nil
}

// Seed inserts an item directly, bypassing Create. If the item has no
// RemoteID an id is assigned. Returns the item's id.
func (m *Memory) Seed(item notesync.RemoteItem) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if item.RemoteID == "" {
		m.nextID++
		item.RemoteID = fmt.Sprintf("evt-%d", m.nextID)
	}
	if item.CollectionID == "" {
		item.CollectionID = m.collectionID
	}
	m.items[item.RemoteID] = item
	m.record(item.RemoteID)
	return item.RemoteID
}

// Mutate applies fn to a stored item, simulating an edit made by another
// client. The change is recorded in the log.
func (m *Memory) Mutate(remoteID string, fn func(*notesync.RemoteItem)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[remoteID]
	if !ok {
		return fmt.Errorf("mutate %s: %w", remoteID, notesync.ErrRemoteNotFound)
	}
	fn(&it)
	it.RemoteID = remoteID
	m.items[remoteID] = it
	m.record(remoteID)
	return nil
}

// Get returns a stored item by id, for assertions in tests.
func (m *Memory) Get(remoteID string) (notesync.RemoteItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[remoteID]
	return it, ok
}

// Len returns the number of stored items.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.items)
}

// InvalidateCheckpoints makes every previously issued checkpoint stale, as a
// server-side resync would.
func (m *Memory) InvalidateCheckpoints() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.invalidated = true
}

// FailNextWith makes the next channel call return err.
func (m *Memory) FailNextWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failNext = err
}

func (m *Memory) takeFailure() error {
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	return nil
}

func (m *Memory) record(remoteID string) {
	m.seq++
	m.log = append(m.log, changeEntry{seq: m.seq, remoteID: remoteID})
}

func (m *Memory) checkpointLocked() notesync.Checkpoint {
	return notesync.Checkpoint{Token: fmt.Sprintf("cp-%d", m.seq)}
}

func parseToken(token string) (int64, error) {
	raw, ok := strings.CutPrefix(token, "cp-")
	if !ok {
		return 0, fmt.Errorf("malformed token %q", token)
	}
	return strconv.ParseInt(raw, 10, 64)
}

// Compile-time check that Memory implements the EventChannel interface
var _ notesync.EventChannel = (*Memory)(nil)
