package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultMaxAutoSaves is the number of auto saves kept per commander when the
// config does not say otherwise.
const DefaultMaxAutoSaves = 5

// Config represents the main configuration for savekeeper.
type Config struct {
	BaseDir      string        `toml:"base_dir"`
	LogDir       string        `toml:"log_dir"`
	MaxAutoSaves int           `toml:"max_auto_saves"`
	Storage      StorageConfig `toml:"storage"`
	Catalog      CatalogConfig `toml:"catalog"`
}

// StorageConfig selects the storage strategy.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StorageConfig struct {
	Type string `toml:"type"` // "multifile", "singlefile", "badger" or "sqlite"

	// DataDir is only used for type=badger and type=sqlite.
	DataDir string `toml:"data_dir,omitempty"`

	// Filesystem is only used for type=multifile and type=singlefile.
	Filesystem FilesystemConfig `toml:"filesystem"`
}

// FilesystemConfig selects the byte storage under the file based strategies.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type FilesystemConfig struct {
	Type string `toml:"type"` // "os", "memory" or "s3"

	// OS-specific fields (only used when Type == "os")
	Root string `toml:"root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// CatalogConfig points at the universe catalog used to validate saves.
type CatalogConfig struct {
	// Path to the YAML catalog. Empty means every reference is accepted.
	Path string `toml:"path,omitempty"`

	// AllowUnknown accepts references the catalog does not list. The catalog
	// is then only used to translate legacy object ids.
	AllowUnknown bool `toml:"allow_unknown"`
}

// NewConfig creates a new Config with default storage under baseDir.
func NewConfig(baseDir string) *Config {
	dataDir := filepath.Join(baseDir, "data")
	return &Config{
		BaseDir:      baseDir,
		LogDir:       filepath.Join(baseDir, "log"),
		MaxAutoSaves: DefaultMaxAutoSaves,
		Storage: StorageConfig{
			Type:    "multifile",
			DataDir: dataDir,
			Filesystem: FilesystemConfig{
				Type: "os",
				Root: dataDir,
			},
		},
	}
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.MaxAutoSaves < 1 {
		return fmt.Errorf("max_auto_saves must be at least 1, got %d", c.MaxAutoSaves)
	}
	switch c.Storage.Type {
	case "multifile", "singlefile":
		switch c.Storage.Filesystem.Type {
		case "memory":
		case "os":
			if c.Storage.Filesystem.Root == "" {
				return fmt.Errorf("os filesystem requires root to be set")
			}
		case "s3":
			if c.Storage.Filesystem.S3Bucket == "" {
				return fmt.Errorf("s3 filesystem requires s3_bucket to be set")
			}
		default:
			return fmt.Errorf("unknown filesystem type: %q", c.Storage.Filesystem.Type)
		}
	case "badger", "sqlite":
		if c.Storage.DataDir == "" {
			return fmt.Errorf("%s storage requires data_dir to be set", c.Storage.Type)
		}
	default:
		return fmt.Errorf("unknown storage type: %q", c.Storage.Type)
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
// A missing max_auto_saves falls back to DefaultMaxAutoSaves.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if !md.IsDefined("max_auto_saves") {
		cfg.MaxAutoSaves = DefaultMaxAutoSaves
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
