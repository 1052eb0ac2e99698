package blob

import (
	"context"
	"fmt"
	"sync"

	"notesync-go/internal/notesync"
)

// Memory is an in-memory implementation of the BlobChannel interface.
// It stores the encoded snapshot bytes so the encryptor path is exercised
// even in tests. This implementation is safe for concurrent use.
type Memory struct {
	name string
	enc  notesync.Encryptor

	mu       sync.Mutex
	data     []byte
	meta     notesync.BlobMeta
	failNext error

	// Call counters for tests.
	MetadataCalls int
	DownloadCalls int
	UploadCalls   int
}

// NewMemory creates a new in-memory blob channel with the given name.
// enc may be nil for plaintext snapshots.
func NewMemory(name string, enc notesync.Encryptor) *Memory {
	return &Memory{name: name, enc: enc}
}

// Metadata describes the stored snapshot without decoding it.
func (m *Memory) Metadata(ctx context.Context) (*notesync.BlobMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.MetadataCalls++
	if err := m.takeFailure(); err != nil {
		return nil, err
	}

	meta := m.meta
	return &meta, nil
}

// Download fetches and decodes the stored snapshot.
func (m *Memory) Download(ctx context.Context) (*notesync.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DownloadCalls++
	if err := m.takeFailure(); err != nil {
		return nil, err
	}

	if !m.meta.Exists {
		return nil, fmt.Errorf("blob %s: %w", m.name, notesync.ErrNoSnapshot)
	}
	return decodeSnapshot(m.data, m.enc)
}

// Upload replaces the stored snapshot. The reported LastModified is the
// snapshot's own timestamp, not arrival time, so back-to-back passes see an
// up-to-date blob and no-op.
func (m *Memory) Upload(ctx context.Context, snap *notesync.Snapshot) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UploadCalls++
	if err := m.takeFailure(); err != nil {
		return "", err
	}

	data, err := encodeSnapshot(snap, m.enc)
	if err != nil {
		return "", err
	}

	m.data = data
	m.meta = notesync.BlobMeta{
		Exists:       true,
		LastModified: snap.Timestamp,
		Size:         int64(len(data)),
		Version:      snap.Version,
	}
	return fmt.Sprintf("mem-%d", snap.Version), nil
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

// Compile-time check that Memory implements the BlobChannel interface
var _ notesync.BlobChannel = (*Memory)(nil)
