package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"notesync-go/internal/notesync"
)

// FileCredentialSource reads the bearer credential from a file on every call,
// so a token refreshed by `notesync login` is picked up without restarting
// the scheduler. A missing or empty token file reads as ErrUnauthorized.
type FileCredentialSource struct {
	path string
}

var _ notesync.CredentialSource = (*FileCredentialSource)(nil)

// NewFileCredentialSource creates a credential source reading from path.
func NewFileCredentialSource(path string) *FileCredentialSource {
	return &FileCredentialSource{path: path}
}

// BearerToken returns the stored credential.
func (s *FileCredentialSource) BearerToken(ctx context.Context) (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("no credential at %s, run `notesync login`: %w", s.path, notesync.ErrUnauthorized)
		}
		return "", fmt.Errorf("reading credential: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("empty credential at %s: %w", s.path, notesync.ErrUnauthorized)
	}
	return token, nil
}

// Save writes the credential with owner-only permissions.
func (s *FileCredentialSource) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("creating credential directory: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(strings.TrimSpace(token)+"\n"), 0600); err != nil {
		return fmt.Errorf("writing credential: %w", err)
	}
	return nil
}
