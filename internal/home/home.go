// Package home resolves and prepares storyforge's on-disk home directory:
// the default location for its config file and any local cache data.
// Adapted from the teacher's internal/home.Dir, generalized only in name
// (DefaultDirName/DataDirName), the layout and behavior are unchanged.
package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the storyforge home directory.
	DefaultDirName = ".storyforge"

	// DataDirName is the subdirectory for local cache data (RAG index
	// snapshots, prompt debug dumps when Defaults.DebugAgents is set).
	DataDirName = "data"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
)

// Dir represents the storyforge home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path. If path is empty, uses the
// default (~/.storyforge).
func New(path string) (*Dir, error) {
	if path == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(h, DefaultDirName)
	}
	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string { return d.path }

// DataPath returns the path to the data directory.
func (d *Dir) DataPath() string { return filepath.Join(d.path, DataDirName) }

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string { return filepath.Join(d.path, ConfigFileName) }

// EnsureExists creates the home directory and subdirectories if they
// don't exist.
func (d *Dir) EnsureExists() error {
	if err := os.MkdirAll(d.DataPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
