package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - NOTESYNC_CONFIG_PATH: config file location (default: ~/.config/notesync.toml)
//   - NOTESYNC_HOME: base directory for notesync data (default: ~/.local/share/notesync)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// getConfigPath returns the config file path, checking NOTESYNC_CONFIG_PATH
// env var first, then falling back to the default ~/.config/notesync.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("NOTESYNC_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "notesync.toml"), nil
}

// getBaseDir returns the base directory for notesync data, checking
// NOTESYNC_HOME env var first, then falling back to the XDG default
// ~/.local/share/notesync.
func getBaseDir() (string, error) {
	if path := os.Getenv("NOTESYNC_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "notesync"), nil
}
