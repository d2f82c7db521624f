package server

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/spf13/afero"
)

func TestAferoDriver(t *testing.T) {
	mfs := afero.NewMemMapFs()
	d := NewAferoDriver(mfs, WithFileMode(0o600), WithDirMode(0o700))

	fatalIfErr(t, d.MakeDir("/dir"), "MakeDir")
	info, err := d.Stat("/dir")
	fatalIfErr(t, err, "Stat")
	if !info.IsDir() || info.Mode().Perm() != 0o700 {
		t.Errorf("dir mode = %v", info.Mode())
	}

	w, err := d.Create("//dir/../dir/./file.txt")
	fatalIfErr(t, err, "Create")
	_, err = io.WriteString(w, "contents")
	fatalIfErr(t, err, "write")
	fatalIfErr(t, w.Close(), "close")

	info, err = d.Stat("/dir/file.txt")
	fatalIfErr(t, err, "Stat")
	if info.Mode().Perm() != 0o600 || info.Size() != 8 {
		t.Errorf("file = %v, %d bytes", info.Mode(), info.Size())
	}

	r, err := d.Open("/dir/file.txt")
	fatalIfErr(t, err, "Open")
	_, err = r.Seek(3, io.SeekStart)
	fatalIfErr(t, err, "Seek")
	b, err := io.ReadAll(r)
	fatalIfErr(t, err, "read")
	r.Close()
	if string(b) != "tents" {
		t.Errorf("read after seek = %q", b)
	}

	// Backslashes are separators and ".." cannot climb above the root.
	if _, err := d.Stat(`\dir\file.txt`); err != nil {
		t.Errorf("Stat with backslashes: %v", err)
	}
	if _, err := d.Stat("/../../dir"); err != nil {
		t.Errorf("Stat above root: %v", err)
	}

	fatalIfErr(t, d.MakeDir("/dir/b"), "MakeDir")
	fatalIfErr(t, d.MakeDir("/dir/a"), "MakeDir")
	entries, err := d.ReadDir("/dir")
	fatalIfErr(t, err, "ReadDir")
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if got, want := filepath.Join(names...), filepath.Join("a", "b", "file.txt"); got != want {
		t.Errorf("ReadDir order = %v", names)
	}

	err = d.RemoveDir("/dir/file.txt")
	if !errors.Is(err, syscall.ENOTDIR) {
		t.Errorf("RemoveDir on a file = %v", err)
	}
	if err := d.RemoveDir("/missing"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("RemoveDir on a missing path = %v", err)
	}
	fatalIfErr(t, d.MakeDir("/dir/a/inner"), "MakeDir")
	if err := d.RemoveDir("/dir/a"); !errors.Is(err, syscall.ENOTEMPTY) {
		t.Errorf("RemoveDir on a non-empty directory = %v", err)
	}
	if err := d.Remove("/dir/a"); !errors.Is(err, syscall.ENOTEMPTY) {
		t.Errorf("Remove on a non-empty directory = %v", err)
	}
	if ok, _ := afero.DirExists(mfs, "/dir/a/inner"); !ok {
		t.Error("child removed along with its parent")
	}
	fatalIfErr(t, d.RemoveDir("/dir/a/inner"), "RemoveDir")
	fatalIfErr(t, d.RemoveDir("/dir/a"), "RemoveDir")

	fatalIfErr(t, d.Rename("/dir/file.txt", "/moved.txt"), "Rename")
	if _, err := d.Stat("/moved.txt"); err != nil {
		t.Errorf("renamed file missing: %v", err)
	}
	fatalIfErr(t, d.Remove("/moved.txt"), "Remove")
	if _, err := d.Stat("/moved.txt"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Stat after Remove = %v", err)
	}

	if d.Fs() != mfs {
		t.Error("Fs() does not return the wrapped filesystem")
	}
}

func TestNewOSDriver(t *testing.T) {
	root := t.TempDir()
	fatalIfErr(t, os.WriteFile(filepath.Join(root, "in.txt"), []byte("x"), 0o644), "write")

	d, err := NewOSDriver(root)
	fatalIfErr(t, err, "NewOSDriver")

	if _, err := d.Stat("/in.txt"); err != nil {
		t.Errorf("Stat: %v", err)
	}
	// Cleaning keeps "../" from leaving the root.
	if _, err := d.Stat("/../" + filepath.Base(root) + "/in.txt"); err == nil {
		t.Error("escaped the root directory")
	}

	if _, err := NewOSDriver(filepath.Join(root, "missing")); err == nil {
		t.Error("NewOSDriver accepted a missing directory")
	}
	if _, err := NewOSDriver(filepath.Join(root, "in.txt")); err == nil {
		t.Error("NewOSDriver accepted a file")
	}
}
