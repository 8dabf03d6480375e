package saves

import "context"

// FileSystem is the byte-storage capability the file based backends are built on.
//
// Paths are slash separated and absolute within the store ("/saves/<cmdr>/auto").
// Operations on a missing path return an error matching fs.ErrNotExist.
type FileSystem interface {
	// CreateDirectory creates the directory and any missing parents.
	CreateDirectory(ctx context.Context, path string) error

	// DeleteDirectory removes the directory and everything beneath it.
	DeleteDirectory(ctx context.Context, path string) error

	// ListDirectory returns the names of the direct children of path, sorted.
	ListDirectory(ctx context.Context, path string) ([]string, error)

	DirectoryExists(ctx context.Context, path string) (bool, error)

	// WriteFile replaces the content of path. The parent directory must exist.
	// Readers never observe a partially written file.
	WriteFile(ctx context.Context, path string, data []byte) error

	ReadFile(ctx context.Context, path string) ([]byte, error)
	DeleteFile(ctx context.Context, path string) error
	FileExists(ctx context.Context, path string) (bool, error)
}
