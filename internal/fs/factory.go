package fs

import (
	"context"
	"fmt"

	"savekeeper/internal/config"
	"savekeeper/internal/saves"
)

// NewFileSystemFromConfig creates a FileSystem implementation based on the filesystem config type.
func NewFileSystemFromConfig(ctx context.Context, cfg config.FilesystemConfig) (saves.FileSystem, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryFileSystem(), nil
	case "os":
		if cfg.Root == "" {
			return nil, fmt.Errorf("os filesystem requires root to be set")
		}
		return NewOSFileSystem(cfg.Root)
	case "s3":
		return NewS3FileSystem(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
	default:
		return nil, fmt.Errorf("unknown filesystem type: %s", cfg.Type)
	}
}
