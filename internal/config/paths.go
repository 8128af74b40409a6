package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HomeEnv overrides the jsbox home directory.
const HomeEnv = "JSBOX_HOME"

// DefaultConfigDir returns the jsbox home: $JSBOX_HOME, or ~/.jsbox.
func DefaultConfigDir() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return ExpandPath(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".jsbox"), nil
}

// DefaultConfigPath returns config.yaml inside the jsbox home.
func DefaultConfigPath() (string, error) {
	return homeFile("config.yaml")
}

// DefaultDataPath returns the kv database path inside the jsbox home.
func DefaultDataPath() (string, error) {
	return homeFile("data.db")
}

func homeFile(name string) (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// ExpandPath expands environment variables and a leading ~ in path.
func ExpandPath(path string) (string, error) {
	path = os.ExpandEnv(path)
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}
