package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - ARC_CONFIG_PATH: config file location (default: ~/.config/arc.toml)
//   - ARC_HOME: base directory for arc data (default: ~/.local/share/arc)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"index_dir":   filepath.Join(baseDir, "index"),
		"export_dir":  filepath.Join(baseDir, "exports"),
	}, nil
}

// getConfigPath returns the config file path, checking ARC_CONFIG_PATH env var first,
// then falling back to the default ~/.config/arc.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("ARC_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "arc.toml"), nil
}

// getBaseDir returns the base directory for arc data, checking ARC_HOME env var first,
// then falling back to the XDG default ~/.local/share/arc.
func getBaseDir() (string, error) {
	if path := os.Getenv("ARC_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "arc"), nil
}
