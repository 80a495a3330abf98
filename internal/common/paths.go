package common

import (
	"os"
	"path/filepath"
	"strings"
)

// GetDataDir returns the base data directory path.
// Priority:
// 1. SHEETFLOW_DIR from config
// 2. $HOME/.sheetflow (default)
// 3. ./data (fallback if HOME is not set)
func GetDataDir() string {
	if cfg := GetConfig(); cfg != nil && cfg.Directory.DataDir != "" {
		return cfg.Directory.DataDir
	}
	return getDataDir()
}

// GetConfigPath returns the default config file path.
// Default: {DataDir}/config.yaml
func GetConfigPath() string {
	return filepath.Join(GetDataDir(), "config.yaml")
}

// GetDatabasePath returns the SQLite database file path.
// Default: {DataDir}/sheetflow.db
func GetDatabasePath() string {
	if cfg := GetConfig(); cfg != nil && cfg.Directory.SQLiteDatabase != "" {
		return cfg.Directory.SQLiteDatabase
	}
	return filepath.Join(GetDataDir(), "sheetflow.db")
}

// EnsureDataDir creates the data directory when the DSN points at a local sqlite file.
func EnsureDataDir(dsn string) error {
	if IsPostgresDSN(dsn) || strings.HasPrefix(dsn, "file::memory:") || dsn == ":memory:" {
		return nil
	}
	dir := filepath.Dir(strings.TrimPrefix(dsn, "file:"))
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// IsPostgresDSN reports whether dsn is a postgres connection string.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}
