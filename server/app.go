package server

import (
	"errors"
	"os"
	"path"
	"strings"
)

// ErrAppNotFound is returned by an AppLocator when no application data
// directory can be found.
var ErrAppNotFound = errors.New("application data directory not found")

// AppLocator finds the panel application served by this server.
// Paths are virtual paths in the session filesystem.
type AppLocator interface {
	// PanelName returns the base name of the active panel.
	PanelName() (string, error)

	// StreamingAssets returns the path of the panel's streaming assets
	// directory, e.g. "/Panel_Data/StreamingAssets".
	StreamingAssets() (string, error)
}

// DirAppLocator locates the panel by scanning a directory for the first
// "<name>_Data" subdirectory, the layout of a built player.
type DirAppLocator struct {
	root string
}

// NewDirAppLocator returns a locator scanning root.
func NewDirAppLocator(root string) *DirAppLocator {
	return &DirAppLocator{root: root}
}

func (l *DirAppLocator) dataDir() (string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), "_Data") {
			return e.Name(), nil
		}
	}
	return "", ErrAppNotFound
}

func (l *DirAppLocator) PanelName() (string, error) {
	dir, err := l.dataDir()
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(dir, "_Data"), nil
}

func (l *DirAppLocator) StreamingAssets() (string, error) {
	dir, err := l.dataDir()
	if err != nil {
		return "", err
	}
	return path.Join("/", dir, "StreamingAssets"), nil
}
