package notesync

import "context"

// EventChannel abstracts the external calendar service. Implementations map
// their wire-level failures onto the sentinel errors in errors.go.
type EventChannel interface {
	// ListChanged returns items changed since the checkpoint, plus the next
	// checkpoint. A zero checkpoint requests a full scan bounded by window.
	// A stale checkpoint yields ErrCheckpointInvalid; the caller retries once
	// with a zero checkpoint before surfacing the error.
	ListChanged(ctx context.Context, cp Checkpoint, window Window) (*ChangeList, error)

	// Create creates a remote event and returns its remote id.
	Create(ctx context.Context, item RemoteItem) (string, error)

	// Update replaces the remote event's content. Updating an already-current
	// item is a safe no-op; the engine only calls this when fingerprints differ.
	Update(ctx context.Context, remoteID string, item RemoteItem) error

	// Delete removes the remote event. Deleting a missing item yields
	// ErrRemoteNotFound, which callers treat as already done.
	Delete(ctx context.Context, remoteID string) error
}

// BlobChannel abstracts the whole-state backup object. Upload and download
// are whole-document operations; the blob is never patched.
type BlobChannel interface {
	// Metadata describes the remote snapshot without downloading it.
	// A missing blob is not an error: Exists is false.
	Metadata(ctx context.Context) (*BlobMeta, error)

	// Download fetches and decodes the snapshot. Returns ErrNoSnapshot when
	// no backup exists.
	Download(ctx context.Context) (*Snapshot, error)

	// Upload replaces the remote snapshot and returns the backend's id for it.
	Upload(ctx context.Context, snap *Snapshot) (string, error)
}

// CredentialSource supplies the bearer credential for remote channels.
// An expired or missing credential surfaces as ErrUnauthorized.
type CredentialSource interface {
	BearerToken(ctx context.Context) (string, error)
}
