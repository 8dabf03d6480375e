package backend

import (
	"context"
	"testing"

	"savekeeper/internal/config"
)

func TestNewBackendFromConfig(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		cfg     config.StorageConfig
		wantErr bool
	}{
		{
			name: "multifile on memory",
			cfg:  config.StorageConfig{Type: "multifile", Filesystem: config.FilesystemConfig{Type: "memory"}},
		},
		{
			name: "singlefile on os",
			cfg:  config.StorageConfig{Type: "singlefile", Filesystem: config.FilesystemConfig{Type: "os", Root: dir + "/single"}},
		},
		{
			name: "badger",
			cfg:  config.StorageConfig{Type: "badger", DataDir: dir + "/badger-data"},
		},
		{
			name: "sqlite",
			cfg:  config.StorageConfig{Type: "sqlite", DataDir: dir + "/sqlite-data"},
		},
		{
			name:    "badger without data dir",
			cfg:     config.StorageConfig{Type: "badger"},
			wantErr: true,
		},
		{
			name:    "sqlite without data dir",
			cfg:     config.StorageConfig{Type: "sqlite"},
			wantErr: true,
		},
		{
			name:    "unknown filesystem",
			cfg:     config.StorageConfig{Type: "multifile", Filesystem: config.FilesystemConfig{Type: "floppy"}},
			wantErr: true,
		},
		{
			name:    "unknown storage",
			cfg:     config.StorageConfig{Type: "cloud"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewBackendFromConfig(context.Background(), tt.cfg, testOptions())
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewBackendFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			defer b.Close()
			if _, err := b.GetCmdrUUIDs(context.Background()); err != nil {
				t.Errorf("GetCmdrUUIDs() error = %v", err)
			}
		})
	}
}

func TestOptionsValidate(t *testing.T) {
	if _, err := (Options{MaxAutoSaves: 5}).validate(); err == nil {
		t.Error("validate() without codec succeeded")
	}
	opts := testOptions()
	opts.MaxAutoSaves = 0
	if _, err := opts.validate(); err == nil {
		t.Error("validate() with zero bound succeeded")
	}
	opts.MaxAutoSaves = 1
	got, err := opts.validate()
	if err != nil || got.Logger == nil || got.Clock == nil {
		t.Errorf("validate() = %+v, %v; want defaults filled", got, err)
	}
}
