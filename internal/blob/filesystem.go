package blob

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"notesync-go/internal/notesync"
)

// Filesystem is a filesystem-based implementation of the BlobChannel
// interface. It stores the encoded snapshot and a JSON metadata sidecar:
//
//	<root>/
//	  snapshot.bin   (encoded snapshot bytes)
//	  snapshot.meta  (JSON metadata sidecar)
type Filesystem struct {
	name string
	root string
	enc  notesync.Encryptor
}

// fsMeta is the on-disk metadata sidecar. The snapshot timestamp lives here
// so Metadata never has to decode (or decrypt) the blob itself.
type fsMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   int64     `json:"version"`
	Size      int64     `json:"size"`
}

// NewFilesystem creates a filesystem blob channel rooted at the given path.
// enc may be nil for plaintext snapshots.
func NewFilesystem(name, root string, enc notesync.Encryptor) (*Filesystem, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &Filesystem{name: name, root: root, enc: enc}, nil
}

func (f *Filesystem) dataPath() string { return filepath.Join(f.root, "snapshot.bin") }
func (f *Filesystem) metaPath() string { return filepath.Join(f.root, "snapshot.meta") }

// Metadata reads the sidecar. A missing sidecar means no snapshot exists.
func (f *Filesystem) Metadata(ctx context.Context) (*notesync.BlobMeta, error) {
	data, err := os.ReadFile(f.metaPath())
	if err != nil {
		if os.IsNotExist(err) {
			return &notesync.BlobMeta{}, nil
		}
		return nil, fmt.Errorf("reading snapshot metadata: %w", err)
	}

	var m fsMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing snapshot metadata: %w", err)
	}
	return &notesync.BlobMeta{
		Exists:       true,
		LastModified: m.Timestamp,
		Size:         m.Size,
		Version:      m.Version,
	}, nil
}

// Download fetches and decodes the stored snapshot.
func (f *Filesystem) Download(ctx context.Context) (*notesync.Snapshot, error) {
	data, err := os.ReadFile(f.dataPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %s: %w", f.name, notesync.ErrNoSnapshot)
		}
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	return decodeSnapshot(data, f.enc)
}

// Upload replaces the stored snapshot. Data is written before the sidecar,
// so a crash in between leaves the old metadata pointing at readable bytes.
func (f *Filesystem) Upload(ctx context.Context, snap *notesync.Snapshot) (string, error) {
	data, err := encodeSnapshot(snap, f.enc)
	if err != nil {
		return "", err
	}

	if err := f.writeAtomic(f.dataPath(), data); err != nil {
		return "", fmt.Errorf("writing snapshot: %w", err)
	}

	meta, err := json.Marshal(fsMeta{
		Timestamp: snap.Timestamp,
		Version:   snap.Version,
		Size:      int64(len(data)),
	})
	if err != nil {
		return "", fmt.Errorf("encoding snapshot metadata: %w", err)
	}
	if err := f.writeAtomic(f.metaPath(), meta); err != nil {
		return "", fmt.Errorf("writing snapshot metadata: %w", err)
	}

	return fmt.Sprintf("fs-%d", snap.Version), nil
}

// writeAtomic writes data to path using a temp file and rename.
func (f *Filesystem) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(f.root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Compile-time check that Filesystem implements the BlobChannel interface
var _ notesync.BlobChannel = (*Filesystem)(nil)
