package fs

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"savekeeper/internal/saves"
)

// MemoryFileSystem is an in-memory file tree, useful for tests and for
// throwaway sessions. This implementation is safe for concurrent use.
type MemoryFileSystem struct {
	mu    sync.RWMutex
	dirs  map[string]bool
	files map[string][]byte
}

func NewMemoryFileSystem() *MemoryFileSystem {
	return &MemoryFileSystem{
		dirs:  map[string]bool{"/": true},
		files: make(map[string][]byte),
	}
}

func notExist(op, p string) error {
	return &fs.PathError{Op: op, Path: p, Err: fs.ErrNotExist}
}

func (m *MemoryFileSystem) CreateDirectory(_ context.Context, p string) error {
	p = cleanPath(p)
	m.mu.Lock()
	defer m.mu.Unlock()

	for dir := p; ; dir = path.Dir(dir) {
		if _, isFile := m.files[dir]; isFile {
			return fmt.Errorf("creating directory %s: %s is a file", p, dir)
		}
		m.dirs[dir] = true
		if dir == "/" {
			return nil
		}
	}
}

func (m *MemoryFileSystem) DeleteDirectory(_ context.Context, p string) error {
	p = cleanPath(p)
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.dirs[p] {
		return notExist("deletedir", p)
	}
	prefix := strings.TrimSuffix(p, "/") + "/"
	for dir := range m.dirs {
		if dir == p || strings.HasPrefix(dir, prefix) {
			delete(m.dirs, dir)
		}
	}
	for file := range m.files {
		if strings.HasPrefix(file, prefix) {
			delete(m.files, file)
		}
	}
	m.dirs["/"] = true
	return nil
}

func (m *MemoryFileSystem) ListDirectory(_ context.Context, p string) ([]string, error) {
	p = cleanPath(p)
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.dirs[p] {
		return nil, notExist("readdir", p)
	}
	var names []string
	for dir := range m.dirs {
		if dir != p && path.Dir(dir) == p {
			names = append(names, path.Base(dir))
		}
	}
	for file := range m.files {
		if path.Dir(file) == p {
			names = append(names, path.Base(file))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryFileSystem) DirectoryExists(_ context.Context, p string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dirs[cleanPath(p)], nil
}

func (m *MemoryFileSystem) WriteFile(_ context.Context, p string, data []byte) error {
	p = cleanPath(p)
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.dirs[path.Dir(p)] {
		return notExist("write", path.Dir(p))
	}
	if m.dirs[p] {
		return fmt.Errorf("writing %s: is a directory", p)
	}
	m.files[p] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryFileSystem) ReadFile(_ context.Context, p string) ([]byte, error) {
	p = cleanPath(p)
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.files[p]
	if !ok {
		return nil, notExist("read", p)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryFileSystem) DeleteFile(_ context.Context, p string) error {
	p = cleanPath(p)
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[p]; !ok {
		return notExist("remove", p)
	}
	delete(m.files, p)
	return nil
}

func (m *MemoryFileSystem) FileExists(_ context.Context, p string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[cleanPath(p)]
	return ok, nil
}

var _ saves.FileSystem = (*MemoryFileSystem)(nil)
