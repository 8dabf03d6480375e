package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"savekeeper/internal/config"
	"savekeeper/internal/fs"
	"savekeeper/internal/saves"
)

// NewBackendFromConfig creates a Backend implementation based on the storage config type.
func NewBackendFromConfig(ctx context.Context, cfg config.StorageConfig, opts Options) (saves.Backend, error) {
	switch cfg.Type {
	case "multifile", "singlefile":
		fsys, err := fs.NewFileSystemFromConfig(ctx, cfg.Filesystem)
		if err != nil {
			return nil, fmt.Errorf("creating filesystem: %w", err)
		}
		if cfg.Type == "multifile" {
			return NewMultiFile(ctx, fsys, opts)
		}
		return NewSingleFile(ctx, fsys, opts)
	case "badger":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for badger storage")
		}
		return NewBadger(filepath.Join(cfg.DataDir, "badger"), opts)
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite storage")
		}
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return NewSQLite(filepath.Join(cfg.DataDir, "saves.db"), opts)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
