package events

import (
	"fmt"
	"time"

	"notesync-go/internal/config"
	"notesync-go/internal/notesync"
)

// NewChannelFromConfig creates an EventChannel implementation based on the
// events config type.
func NewChannelFromConfig(cfg config.EventsConfig, creds notesync.CredentialSource) (notesync.EventChannel, error) {
	switch cfg.Type {
	case "memory":
		return NewMemory(cfg.CollectionID), nil
	case "http":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("http event channel requires base_url to be set")
		}
		timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
		return NewHTTPChannel(nil, cfg.BaseURL, cfg.CollectionID, creds, timeout), nil
	default:
		return nil, fmt.Errorf("unknown event channel type: %s", cfg.Type)
	}
}
