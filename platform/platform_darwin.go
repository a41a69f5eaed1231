//go:build darwin
// +build darwin

package platform

import (
	"os"
	"path/filepath"
)

func getDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "Library", "Application Support", AppDisplayName)
}

func getTempDir() string {
	if tmp := os.Getenv("TMPDIR"); tmp != "" {
		return filepath.Join(tmp, ServerName)
	}
	return filepath.Join("/tmp", ServerName)
}
