package jsvm

import (
	"io/fs"
	"os"
	"strings"
)

// FS is the filesystem used by module resolution.
type FS interface {
	Stat(name string) (fs.FileInfo, error)
	ReadFile(name string) ([]byte, error)
}

// OSFS reads from the host filesystem.
type OSFS struct{}

// Stat implements FS.
func (OSFS) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(name)
}

// ReadFile implements FS.
func (OSFS) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

// IOFS adapts an io/fs.FS (embed.FS, fstest.MapFS, ...) rooted at "/".
type IOFS struct {
	fsys fs.FS
}

// NewIOFS wraps fsys so that absolute module paths map onto it.
func NewIOFS(fsys fs.FS) *IOFS {
	return &IOFS{fsys: fsys}
}

func (f *IOFS) name(path string) string {
	name := strings.TrimLeft(path, "/")
	if name == "" {
		return "."
	}
	return name
}

// Stat implements FS.
func (f *IOFS) Stat(name string) (fs.FileInfo, error) {
	return fs.Stat(f.fsys, f.name(name))
}

// ReadFile implements FS.
func (f *IOFS) ReadFile(name string) ([]byte, error) {
	return fs.ReadFile(f.fsys, f.name(name))
}

func isFile(fsys FS, name string) bool {
	fi, err := fsys.Stat(name)
	return err == nil && !fi.IsDir()
}

func isDir(fsys FS, name string) bool {
	fi, err := fsys.Stat(name)
	return err == nil && fi.IsDir()
}
