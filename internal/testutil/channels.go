package testutil

import (
	"notesync-go/internal/blob"
	"notesync-go/internal/encryption"
	"notesync-go/internal/events"
	"notesync-go/internal/notesync"
)

// NewTestEvents creates an in-memory event channel for testing.
func NewTestEvents(collectionID string) *events.Memory {
	return events.NewMemory(collectionID)
}

// NewTestBlob creates an in-memory blob channel for testing, with the
// deterministic test encryptor in the path.
func NewTestBlob() *blob.Memory {
	return blob.NewMemory("test", NewTestEncryptor())
}

// NewTestEncryptor creates a deterministic encryptor for testing.
func NewTestEncryptor() notesync.Encryptor {
	return encryption.NewTestEncryptor()
}
