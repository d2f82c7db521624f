package server

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/afero"
)

// AferoDriver implements Driver on top of an afero.Fs.
//
// Paths are cleaned before they reach the filesystem, so "/a/../../b" becomes
// "/b". Confinement to a directory on disk is the job of the afero.Fs itself;
// NewOSDriver wraps the host filesystem in an afero.BasePathFs for that.
//
// Any afero backend works: afero.NewMemMapFs() for tests, the host
// filesystem, or remote stores such as S3.
type AferoDriver struct {
	fs       afero.Fs
	fileMode os.FileMode
	dirMode  os.FileMode
}

// AferoDriverOption is a functional option for configuring an AferoDriver.
type AferoDriverOption func(*AferoDriver)

// WithFileMode sets the permission bits used when STOR creates a file.
// The process umask still applies. Defaults to 0777.
func WithFileMode(mode os.FileMode) AferoDriverOption {
	return func(d *AferoDriver) {
		d.fileMode = mode
	}
}

// WithDirMode sets the permission bits used when MKD creates a directory.
// The process umask still applies. Defaults to 0777.
func WithDirMode(mode os.FileMode) AferoDriverOption {
	return func(d *AferoDriver) {
		d.dirMode = mode
	}
}

// NewAferoDriver creates a driver serving the given filesystem.
//
// Example with an in-memory filesystem:
//
//	driver := server.NewAferoDriver(afero.NewMemMapFs())
//	s, _ := server.NewServer(":2121", server.WithDriver(driver))
func NewAferoDriver(fsys afero.Fs, options ...AferoDriverOption) *AferoDriver {
	d := &AferoDriver{
		fs:       fsys,
		fileMode: 0o777,
		dirMode:  0o777,
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

// NewOSDriver creates a driver serving the host directory rootPath.
// All operations are jailed below rootPath.
// Returns an error if rootPath does not exist or is not a directory.
func NewOSDriver(rootPath string, options ...AferoDriverOption) (*AferoDriver, error) {
	info, err := os.Stat(rootPath)
	if err != nil {
		return nil, fmt.Errorf("root path validation failed: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", rootPath)
	}
	return NewAferoDriver(afero.NewBasePathFs(afero.NewOsFs(), rootPath), options...), nil
}

// Fs returns the underlying filesystem.
func (d *AferoDriver) Fs() afero.Fs {
	return d.fs
}

func (d *AferoDriver) clean(p string) string {
	return path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
}

// Stat implements Driver.
func (d *AferoDriver) Stat(p string) (os.FileInfo, error) {
	return d.fs.Stat(d.clean(p))
}

// ReadDir implements Driver.
func (d *AferoDriver) ReadDir(p string) ([]os.FileInfo, error) {
	entries, err := afero.ReadDir(d.fs, d.clean(p))
	if err != nil {
		return nil, err
	}
	// Not every backend returns sorted entries.
	slices.SortFunc(entries, func(a, b os.FileInfo) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return entries, nil
}

// Open implements Driver.
func (d *AferoDriver) Open(p string) (io.ReadSeekCloser, error) {
	return d.fs.Open(d.clean(p))
}

// Create implements Driver.
func (d *AferoDriver) Create(p string) (io.WriteCloser, error) {
	return d.fs.OpenFile(d.clean(p), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, d.fileMode)
}

// Remove implements Driver. A directory is removed only when it is empty.
func (d *AferoDriver) Remove(p string) error {
	name := d.clean(p)
	info, err := d.fs.Stat(name)
	if err != nil {
		return err
	}
	if info.IsDir() {
		if err := d.checkEmpty("remove", name); err != nil {
			return err
		}
	}
	return d.fs.Remove(name)
}

// RemoveDir implements Driver.
func (d *AferoDriver) RemoveDir(p string) error {
	name := d.clean(p)
	info, err := d.fs.Stat(name)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &fs.PathError{Op: "rmdir", Path: name, Err: syscall.ENOTDIR}
	}
	if err := d.checkEmpty("rmdir", name); err != nil {
		return err
	}
	return d.fs.Remove(name)
}

// checkEmpty fails with ENOTEMPTY when dir has entries. Some backends,
// MemMapFs among them, remove a directory without looking inside it.
func (d *AferoDriver) checkEmpty(op, dir string) error {
	empty, err := afero.IsEmpty(d.fs, dir)
	if err != nil {
		return err
	}
	if !empty {
		return &fs.PathError{Op: op, Path: dir, Err: syscall.ENOTEMPTY}
	}
	return nil
}

// MakeDir implements Driver.
func (d *AferoDriver) MakeDir(p string) error {
	return d.fs.Mkdir(d.clean(p), d.dirMode)
}

// Rename implements Driver.
func (d *AferoDriver) Rename(fromPath, toPath string) error {
	return d.fs.Rename(d.clean(fromPath), d.clean(toPath))
}
