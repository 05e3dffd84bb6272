package session

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// AppDirName is the per-user directory under $HOME.
	AppDirName = ".pr-viewer"

	// LogsDirName holds debug.log and crash dumps.
	LogsDirName = "logs"

	// WorkspacesDirName is the parent of per-archive extraction workspaces.
	WorkspacesDirName = "workspaces"
)

// Environment variables.
const (
	EnvHome    = "PRVIEWER_HOME"
	EnvArchive = "PRVIEWER_ARCHIVE"
	EnvImages  = "PRVIEWER_IMAGES"
	EnvRepo    = "PRVIEWER_REPO"
	EnvDebug   = "PRVIEWER_DEBUG"
)

// GetAppDir returns the base directory (~/.pr-viewer, or $PRVIEWER_HOME).
func GetAppDir() (string, error) {
	if dir := os.Getenv(EnvHome); dir != "" {
		return ExpandPath(dir), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, AppDirName), nil
}

// GetLogsDir returns the directory debug logs are written to.
func GetLogsDir() (string, error) {
	dir, err := GetAppDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, LogsDirName), nil
}

// GetWorkspacesDir returns the default parent for extraction workspaces.
func GetWorkspacesDir() (string, error) {
	dir, err := GetAppDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, WorkspacesDirName), nil
}

// DebugEnabled reports whether PRVIEWER_DEBUG is set.
func DebugEnabled() bool {
	return os.Getenv(EnvDebug) != ""
}
