// Package platform provides cross-platform directory locations for the
// album server's database, album storage and scratch space.
package platform

import (
	"os"
	"path/filepath"
)

// AppName is the application name used for directory naming
const AppName = "dicom-album"

// AppDisplayName is the display name used on Windows
const AppDisplayName = "DICOM Album"

// ServerName is the server name used for temp directories
const ServerName = "dicom-album-server"

// ServerDisplayName is the display name for the server on Windows
const ServerDisplayName = "DICOM Album Server"

// GetDataDir returns the application data directory.
// Windows: %APPDATA%\DICOM Album
// Linux: ~/.local/share/dicom-album
func GetDataDir() string {
	return getDataDir()
}

// GetTempDir returns the scratch directory where uploaded archives are staged
// before extraction.
// Windows: %ProgramData%\DICOM Album Server\tmp
// Linux: XDG_RUNTIME_DIR/dicom-album-server or /tmp/dicom-album-server
func GetTempDir() string {
	return getTempDir()
}

// AlbumsDir is the default root for materialized album storage.
func AlbumsDir() string {
	return filepath.Join(GetDataDir(), "albums")
}

// UploadsDir is the default root for uploaded source files.
func UploadsDir() string {
	return filepath.Join(GetDataDir(), "uploads")
}

// EnsureDirs creates every directory in dirs, stopping at the first failure.
func EnsureDirs(dirs ...string) error {
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}
	return nil
}
