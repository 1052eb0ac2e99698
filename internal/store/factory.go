package store

import (
	"fmt"
	"path/filepath"

	"notesync-go/internal/config"
	"notesync-go/internal/notesync"
)

// Store is what the factory hands to the wiring layer: the local entity
// collection, the sync mappings, and the checkpoint, in one backend.
type Store interface {
	notesync.EntityStore
	notesync.MappingStore
	Close() error
}

// NewStoreFromConfig creates a Store based on the store config type.
func NewStoreFromConfig(cfg config.StoreConfig, deviceID string) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite store")
		}
		return NewSQLite(filepath.Join(cfg.DataDir, deviceID+".db"))
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}
