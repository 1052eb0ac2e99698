package encryption

import (
	"fmt"

	"notesync-go/internal/config"
	"notesync-go/internal/notesync"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
// Type "none" disables snapshot encryption and returns a nil Encryptor.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (notesync.Encryptor, error) {
	switch cfg.Type {
	case "age", "":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
