package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"

	"savekeeper/internal/fs"
	"savekeeper/internal/saves"
)

// ErrInjected is returned by FailingFileSystem for operations set to fail.
var ErrInjected = errors.New("injected failure")

// Op names a FileSystem operation.
type Op string

const (
	OpCreateDirectory Op = "create_directory"
	OpDeleteDirectory Op = "delete_directory"
	OpListDirectory   Op = "list_directory"
	OpWriteFile       Op = "write_file"
	OpReadFile        Op = "read_file"
	OpDeleteFile      Op = "delete_file"
)

// FailingFileSystem wraps an in-memory file system and fails selected
// operations. Safe for concurrent use.
type FailingFileSystem struct {
	*fs.MemoryFileSystem

	mu       sync.Mutex
	failures map[Op][]string
}

func NewFailingFileSystem() *FailingFileSystem {
	return &FailingFileSystem{
		MemoryFileSystem: fs.NewMemoryFileSystem(),
		failures:         make(map[Op][]string),
	}
}

// Fail makes op fail for every path containing substr. An empty substr
// matches every path.
func (f *FailingFileSystem) Fail(op Op, substr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], substr)
}

// Heal removes every injected failure.
func (f *FailingFileSystem) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = make(map[Op][]string)
}

func (f *FailingFileSystem) check(op Op, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, substr := range f.failures[op] {
		if strings.Contains(path, substr) {
			return ErrInjected
		}
	}
	return nil
}

func (f *FailingFileSystem) CreateDirectory(ctx context.Context, path string) error {
	if err := f.check(OpCreateDirectory, path); err != nil {
		return err
	}
	return f.MemoryFileSystem.CreateDirectory(ctx, path)
}

func (f *FailingFileSystem) DeleteDirectory(ctx context.Context, path string) error {
	if err := f.check(OpDeleteDirectory, path); err != nil {
		return err
	}
	return f.MemoryFileSystem.DeleteDirectory(ctx, path)
}

func (f *FailingFileSystem) ListDirectory(ctx context.Context, path string) ([]string, error) {
	if err := f.check(OpListDirectory, path); err != nil {
		return nil, err
	}
	return f.MemoryFileSystem.ListDirectory(ctx, path)
}

func (f *FailingFileSystem) WriteFile(ctx context.Context, path string, data []byte) error {
	if err := f.check(OpWriteFile, path); err != nil {
		return err
	}
	return f.MemoryFileSystem.WriteFile(ctx, path, data)
}

func (f *FailingFileSystem) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := f.check(OpReadFile, path); err != nil {
		return nil, err
	}
	return f.MemoryFileSystem.ReadFile(ctx, path)
}

func (f *FailingFileSystem) DeleteFile(ctx context.Context, path string) error {
	if err := f.check(OpDeleteFile, path); err != nil {
		return err
	}
	return f.MemoryFileSystem.DeleteFile(ctx, path)
}

var _ saves.FileSystem = (*FailingFileSystem)(nil)
