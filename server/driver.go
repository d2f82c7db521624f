package server

import (
	"io"
	"os"
)

// Driver is the filesystem provider used by the command handlers.
//
// Every path handed to a Driver is absolute and slash separated, exactly as
// the session resolved it against its working directory. Implementations are
// responsible for cleaning paths and confining them to their own root.
//
// Errors are reported to the client verbatim (minus the path) in a 550 reply,
// so implementations should return *fs.PathError values wrapping the
// underlying cause where possible.
//
// A Driver is shared by all sessions and must be safe for concurrent use.
type Driver interface {
	// Stat returns file metadata. Symbolic links are followed.
	Stat(path string) (os.FileInfo, error)

	// ReadDir lists a directory. Entries are sorted by name.
	ReadDir(path string) ([]os.FileInfo, error)

	// Open opens a file for reading.
	Open(path string) (io.ReadSeekCloser, error)

	// Create creates or truncates a file for writing.
	Create(path string) (io.WriteCloser, error)

	// Remove removes a file or an empty directory.
	Remove(path string) error

	// RemoveDir removes an empty directory. It fails on anything that is
	// not a directory.
	RemoveDir(path string) error

	// MakeDir creates a directory.
	MakeDir(path string) error

	// Rename moves a file or directory.
	Rename(fromPath, toPath string) error
}
