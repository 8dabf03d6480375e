package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Defaults are the paths savectl falls back to before a config file exists.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// GetDefaults resolves each path from its SAVEKEEPER_* override, then the
// matching XDG variable, then the user's home directory.
func GetDefaults() (Defaults, error) {
	configPath, err := resolvePath("SAVEKEEPER_CONFIG_PATH", "XDG_CONFIG_HOME", ".config", "savekeeper.toml")
	if err != nil {
		return Defaults{}, err
	}
	baseDir, err := resolvePath("SAVEKEEPER_HOME", "XDG_DATA_HOME", filepath.Join(".local", "share"), "savekeeper")
	if err != nil {
		return Defaults{}, err
	}
	return Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}

// resolvePath returns $override verbatim, or name under $xdgVar, or name
// under ~/homeRel.
func resolvePath(override, xdgVar, homeRel, name string) (string, error) {
	if p := os.Getenv(override); p != "" {
		return p, nil
	}
	if root := os.Getenv(xdgVar); root != "" && filepath.IsAbs(root) {
		return filepath.Join(root, name), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", override, err)
	}
	return filepath.Join(home, homeRel, name), nil
}
