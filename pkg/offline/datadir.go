package offline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultDataDirName = ".healthnet"
	databaseFileName   = "offline.db"
	chatLogFileName    = "chat.log"
)

// ResolveDataDir normalizes the agent data directory and creates it when
// missing. An empty path selects ~/.healthnet.
func ResolveDataDir(dataDir string) (string, error) {
	trimmed := strings.TrimSpace(dataDir)
	if trimmed == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed = filepath.Join(homeDir, defaultDataDirName)
	}

	expanded, err := expandHome(trimmed)
	if err != nil {
		return "", err
	}

	absPath, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve absolute data path: %w", err)
	}

	cleanPath := filepath.Clean(absPath)
	if err := os.MkdirAll(cleanPath, 0o755); err != nil {
		return "", NormalizeIOError(err, "create data directory")
	}

	resolved, err := filepath.EvalSymlinks(cleanPath)
	if err != nil {
		return "", NormalizeIOError(err, "resolve data directory")
	}

	return filepath.Clean(resolved), nil
}

// DatabasePath is the sqlite file holding the cache and the queue.
func DatabasePath(dataDir string) string {
	return filepath.Join(dataDir, databaseFileName)
}

// ChatLogPath is where interactive chat sessions write their logs.
func ChatLogPath(dataDir string) string {
	return filepath.Join(dataDir, chatLogFileName)
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	if path == "~" {
		return homeDir, nil
	}

	return filepath.Join(homeDir, strings.TrimPrefix(path, "~/")), nil
}
