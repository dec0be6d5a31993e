package main

import (
	"os"
	"path/filepath"

	"github.com/benaskins/gateboot/internal/config"
)

// gatebootHome returns the path to the gateboot home directory (~/.gateboot).
func gatebootHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".gateboot"), nil
}

func defaultSocketPath() string {
	dir, err := gatebootHome()
	if err != nil {
		return "/tmp/gateboot.sock"
	}
	return filepath.Join(dir, "gateboot.sock")
}

// resolveConfigPath returns the --config flag or the default location.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}
