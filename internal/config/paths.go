package config

import (
	"os"
	"path/filepath"
)

// MagpiePath returns the root directory for Magpie data.
// It uses $MAGPIE_PATH if set, otherwise defaults to ~/.magpie.
func MagpiePath() string {
	if v := os.Getenv("MAGPIE_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".magpie")
	}
	return filepath.Join(home, ".magpie")
}

// ConfigPath returns the path to the Magpie config file.
func ConfigPath() string {
	return filepath.Join(MagpiePath(), "config.jsonc")
}

// DotenvPath returns the path to the Magpie .env file.
func DotenvPath() string {
	return filepath.Join(MagpiePath(), ".env")
}
