package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"savekeeper/internal/saves"
)

const tempPrefix = ".tmp-"

// OSFileSystem stores files in a directory on the local disk.
// Logical paths are resolved below root; they can never escape it.
type OSFileSystem struct {
	root string
}

// NewOSFileSystem creates a file system rooted at root, creating it if needed.
func NewOSFileSystem(root string) (*OSFileSystem, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &OSFileSystem{root: root}, nil
}

func (f *OSFileSystem) resolve(p string) string {
	return filepath.Join(f.root, filepath.FromSlash(cleanPath(p)))
}

func (f *OSFileSystem) CreateDirectory(_ context.Context, p string) error {
	if err := os.MkdirAll(f.resolve(p), 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", p, err)
	}
	return nil
}

func (f *OSFileSystem) DeleteDirectory(_ context.Context, p string) error {
	full := f.resolve(p)
	info, err := os.Stat(full)
	if err != nil {
		return fmt.Errorf("deleting directory %s: %w", p, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("deleting directory %s: not a directory", p)
	}
	if err := os.RemoveAll(full); err != nil {
		return fmt.Errorf("deleting directory %s: %w", p, err)
	}
	return nil
}

// ListDirectory returns entry names sorted by name. Temp files left behind by
// interrupted writes are not listed.
func (f *OSFileSystem) ListDirectory(_ context.Context, p string) ([]string, error) {
	entries, err := os.ReadDir(f.resolve(p))
	if err != nil {
		return nil, fmt.Errorf("listing directory %s: %w", p, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func (f *OSFileSystem) DirectoryExists(_ context.Context, p string) (bool, error) {
	info, err := os.Stat(f.resolve(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", p, err)
	}
	return info.IsDir(), nil
}

// WriteFile writes data using atomic write (temp file + rename).
func (f *OSFileSystem) WriteFile(_ context.Context, p string, data []byte) error {
	destPath := f.resolve(p)
	// Create temp file in the same directory to ensure atomic rename works
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", p, err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data for %s: %w", p, err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file for %s: %w", p, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file for %s: %w", p, err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file for %s: %w", p, err)
	}

	success = true
	return nil
}

func (f *OSFileSystem) ReadFile(_ context.Context, p string) ([]byte, error) {
	data, err := os.ReadFile(f.resolve(p))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}
	return data, nil
}

func (f *OSFileSystem) DeleteFile(_ context.Context, p string) error {
	if err := os.Remove(f.resolve(p)); err != nil {
		return fmt.Errorf("deleting %s: %w", p, err)
	}
	return nil
}

func (f *OSFileSystem) FileExists(_ context.Context, p string) (bool, error) {
	info, err := os.Stat(f.resolve(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", p, err)
	}
	return info.Mode().IsRegular(), nil
}

// cleanPath normalises a logical path to a rooted, slash separated form.
func cleanPath(p string) string {
	return path.Clean("/" + p)
}

var _ saves.FileSystem = (*OSFileSystem)(nil)
