package blob

import (
	"bytes"
	"encoding/json"
	"fmt"

	"notesync-go/internal/notesync"
)

// encodeSnapshot serializes a snapshot to its stored form: JSON, passed
// through the encryptor when one is configured.
func encodeSnapshot(snap *notesync.Snapshot, enc notesync.Encryptor) ([]byte, error) {
	plain, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	if enc == nil {
		return plain, nil
	}

	var sealed bytes.Buffer
	if err := enc.Encrypt(bytes.NewReader(plain), &sealed); err != nil {
		return nil, fmt.Errorf("encrypting snapshot: %w", err)
	}
	return sealed.Bytes(), nil
}

// decodeSnapshot is the inverse of encodeSnapshot.
func decodeSnapshot(data []byte, enc notesync.Encryptor) (*notesync.Snapshot, error) {
	plain := data
	if enc != nil {
		var buf bytes.Buffer
		if err := enc.Decrypt(bytes.NewReader(data), &buf); err != nil {
			return nil, fmt.Errorf("decrypting snapshot: %w", err)
		}
		plain = buf.Bytes()
	}

	var snap notesync.Snapshot
	if err := json.Unmarshal(plain, &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &snap, nil
}
