package notesync

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors forming the sync error taxonomy. Channel implementations
// wrap these with fmt.Errorf("...: %w", err) so callers can classify failures
// with errors.Is without knowing the backend.
var (
	// ErrUnauthorized means the bearer credential was rejected. Fatal to the
	// current pass; the scheduler signals re-authentication instead of retrying.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNetwork marks a transient transport failure, including timeouts.
	// Left for the next scheduled trigger; never retried in a tight loop.
	ErrNetwork = errors.New("network error")

	// ErrRemoteNotFound means the remote item no longer exists. Soft: an
	// update falls back to create, a delete is treated as already done.
	ErrRemoteNotFound = errors.New("remote item not found")

	// ErrCheckpointInvalid means the remote rejected the incremental sync
	// token. The engine retries exactly once with a full scan.
	ErrCheckpointInvalid = errors.New("checkpoint invalidated")

	// ErrNoSnapshot means no backup blob has ever been uploaded. Not an error
	// condition for the engine.
	ErrNoSnapshot = errors.New("no snapshot")
)

// MalformedItemError reports a single remote item that could not be
// interpreted. The item is skipped and the batch continues.
type MalformedItemError struct {
	RemoteID string
	Reason   string
}

func (e *MalformedItemError) Error() string {
	return fmt.Sprintf("malformed remote item %s: %s", e.RemoteID, e.Reason)
}

// IsTransient reports whether err should be left for the next scheduled
// trigger rather than surfaced as a hard failure. Context deadline errors
// count as network failures per the timeout policy.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, context.DeadlineExceeded)
}
