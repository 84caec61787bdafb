package action

import (
	"os"

	"selkie/internal/fileutil"
)

// FileSystem is the primitive surface the executor mutates through.
// Confinement happens in the executor, not here: implementations receive
// already-resolved absolute paths. A remote implementation (e.g. SFTP)
// can substitute for local disk without touching executor logic.
type FileSystem interface {
	Read(path string) ([]byte, error)
	WriteAtomic(path string, data []byte, perm os.FileMode) error
	Copy(src, dst string) error
	Remove(path string) error
	MkdirAll(path string, perm os.FileMode) error
	Stat(path string) (os.FileInfo, error)
}

// LocalFS implements FileSystem against the local disk.
type LocalFS struct{}

func (LocalFS) Read(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (LocalFS) WriteAtomic(path string, data []byte, perm os.FileMode) error {
	return fileutil.AtomicWrite(path, data, perm)
}

func (LocalFS) Copy(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	perm := os.FileMode(0o644)
	if info, err := os.Stat(src); err == nil {
		perm = info.Mode().Perm()
	}
	return fileutil.AtomicWrite(dst, data, perm)
}

func (LocalFS) Remove(path string) error {
	return os.Remove(path)
}

func (LocalFS) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (LocalFS) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}
