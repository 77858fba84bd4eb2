// Package pathutil resolves the files the clearing engine keeps under its data directory.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultRoot is the data directory used when CLEARING_HOME is unset.
const DefaultRoot = "./data"

// PathResolver manages the data directory, the database file and the chart of accounts.
type PathResolver struct {
	root         string
	databasePath string
	chartFile    string
}

// Config represents the configuration for PathResolver.
type Config struct {
	// Root is the data directory (e.g., ~/compta/clearing)
	Root string
	// DatabasePath is the SQLite database file
	DatabasePath string
	// ChartFile is the YAML chart of accounts
	ChartFile string
}

// New creates a new PathResolver with the given configuration.
// If Root is empty, it defaults to DefaultRoot.
// If DatabasePath is empty, it defaults to {Root}/clearing.db.
// If ChartFile is empty, {Root}/chart.yaml is used when that file exists.
// A leading ~ in any path is expanded to the user's home directory.
func New(config Config) *PathResolver {
	root := ExpandHome(config.Root)
	if root == "" {
		root = DefaultRoot
	}

	dbPath := ExpandHome(config.DatabasePath)
	if dbPath == "" {
		dbPath = filepath.Join(root, "clearing.db")
	}

	chartFile := ExpandHome(config.ChartFile)
	if chartFile == "" {
		if candidate := filepath.Join(root, "chart.yaml"); FileExists(candidate) {
			chartFile = candidate
		}
	}

	return &PathResolver{
		root:         root,
		databasePath: dbPath,
		chartFile:    chartFile,
	}
}

// FromEnv creates a PathResolver from environment variables.
// Expected environment variables (all optional):
//   - CLEARING_HOME: data directory
//   - CLEARING_DB_PATH: database file path
//   - CLEARING_CHART_FILE: chart of accounts file
func FromEnv() *PathResolver {
	return New(Config{
		Root:         os.Getenv("CLEARING_HOME"),
		DatabasePath: os.Getenv("CLEARING_DB_PATH"),
		ChartFile:    os.Getenv("CLEARING_CHART_FILE"),
	})
}

// GetRoot returns the data directory.
func (p *PathResolver) GetRoot() string {
	return p.root
}

// GetDatabasePath returns the database file path.
func (p *PathResolver) GetDatabasePath() string {
	return p.databasePath
}

// GetChartFile returns the chart of accounts path, or "" for the built-in chart.
func (p *PathResolver) GetChartFile() string {
	return p.chartFile
}

// GetImportArchivePath returns where an imported file is archived.
// kind is "bank" or "ledger"; date should be in YYYY-MM-DD format.
// Example: data/imports/bank/2025/01/statement.csv
func (p *PathResolver) GetImportArchivePath(kind, date, filename string) (string, error) {
	parts := strings.Split(date, "-")
	if len(parts) < 2 || len(parts[0]) != 4 || len(parts[1]) != 2 {
		return "", fmt.Errorf("invalid date format: %s. Expected YYYY-MM-DD", date)
	}
	return filepath.Join(p.root, "imports", kind, parts[0], parts[1], filepath.Base(filename)), nil
}

// EnsureParentDir ensures the parent directory of a file exists.
func (p *PathResolver) EnsureParentDir(filePath string) error {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// FileExists checks if a regular file exists.
func FileExists(filePath string) bool {
	info, err := os.Stat(filePath)
	return err == nil && !info.IsDir()
}
