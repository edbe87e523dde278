package server

import (
	"io"
	"os"
	"time"
)

// Driver is the interface that must be implemented by a storage backend.
// It provides a session-specific ClientContext for file operations.
//
// Authentication is handled by the server itself (single shared password),
// so the driver is asked for a context as soon as a connection is accepted.
//
// To implement a custom backend (e.g., memory, overlay), implement this
// interface.
type Driver interface {
	// NewContext returns a new filesystem view for one session.
	NewContext() (ClientContext, error)
}

// File is an open file handle returned by ClientContext.OpenFile.
// Seek is used to honor REST offsets.
type File interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
}

// ClientContext handles filesystem operations for one client session.
//
// All paths are virtual: absolute paths start at the session root "/",
// relative paths are resolved against the current directory.
//
// Error handling:
//   - Return os.ErrNotExist when files/directories don't exist
//   - Return os.ErrPermission for permission denied errors
//   - Return os.ErrExist when files/directories already exist
//
// A ClientContext is only used by its session's command goroutine.
type ClientContext interface {
	// ChangeDir changes the current working directory.
	// Returns os.ErrNotExist if the directory doesn't exist.
	ChangeDir(path string) error

	// GetWd returns the current working directory.
	GetWd() string

	// MakeDir creates a directory and any missing parents.
	MakeDir(path string) error

	// RemoveDir removes a directory and its contents.
	// Returns os.ErrNotExist if the directory doesn't exist.
	RemoveDir(path string) error

	// DeleteFile removes a file.
	// Returns os.ErrNotExist if the file doesn't exist.
	DeleteFile(path string) error

	// Rename moves or renames a file or directory.
	Rename(fromPath, toPath string) error

	// ListDir returns the entries of a directory.
	ListDir(path string) ([]os.FileInfo, error)

	// OpenFile opens a file with os.O_* flags.
	OpenFile(path string, flag int) (File, error)

	// GetFileInfo returns file or directory metadata.
	GetFileInfo(path string) (os.FileInfo, error)

	// SetTime sets the modification time of a file or directory.
	SetTime(path string, t time.Time) error

	// ClearDir removes every entry of a directory, leaving it empty.
	ClearDir(path string) error

	// Copy copies a file or directory tree into the directory dstDir,
	// keeping its base name.
	Copy(srcPath, dstDir string) error

	// Close releases any resources associated with this context.
	Close() error
}
