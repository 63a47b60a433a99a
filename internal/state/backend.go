package state

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ErrNotFound is returned by a Backend that holds no snapshot yet.
var ErrNotFound = os.ErrNotExist

// Backend stores the raw snapshot bytes.
type Backend interface {
	Read(ctx context.Context) ([]byte, error)
	// Write replaces the snapshot atomically from the reader's perspective.
	Write(ctx context.Context, data []byte) error
	// String names the backend in logs.
	String() string
}

// FileBackend keeps the snapshot in a local file.
type FileBackend struct {
	Path string
}

func (f *FileBackend) Read(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (f *FileBackend) Write(_ context.Context, data []byte) error {
	return writeFileAtomicDurable(f.Path, data, 0o644)
}

func (f *FileBackend) String() string {
	return "file:" + f.Path
}

// writeFileAtomicDurable writes data to a temp file in the target
// directory, syncs it, renames it over path and syncs the directory.
func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// MemoryBackend keeps the snapshot in memory.
type MemoryBackend struct {
	mu     sync.Mutex
	data   []byte
	writes int
	// Err, when set, is returned by every Read and Write.
	Err error
}

func (m *MemoryBackend) Read(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if m.data == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), m.data...), nil
}

func (m *MemoryBackend) Write(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.data = append([]byte(nil), data...)
	m.writes++
	return nil
}

// Writes returns how many snapshots have been written.
func (m *MemoryBackend) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *MemoryBackend) String() string {
	return "memory"
}

func isNotFound(err error) bool {
	return stderrors.Is(err, ErrNotFound)
}
