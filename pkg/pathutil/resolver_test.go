package pathutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "chart.yaml"), []byte("{}"), 0644))

	tests := []struct {
		name      string
		config    Config
		wantRoot  string
		wantDB    string
		wantChart string
	}{
		{
			name:     "defaults",
			config:   Config{},
			wantRoot: DefaultRoot,
			wantDB:   filepath.Join(DefaultRoot, "clearing.db"),
		},
		{
			name:      "root with chart",
			config:    Config{Root: root},
			wantRoot:  root,
			wantDB:    filepath.Join(root, "clearing.db"),
			wantChart: filepath.Join(root, "chart.yaml"),
		},
		{
			name:      "explicit paths",
			config:    Config{Root: root, DatabasePath: "/var/lib/clearing.db", ChartFile: "/etc/chart.yaml"},
			wantRoot:  root,
			wantDB:    "/var/lib/clearing.db",
			wantChart: "/etc/chart.yaml",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.config)
			assert.Equal(t, tt.wantRoot, p.GetRoot())
			assert.Equal(t, tt.wantDB, p.GetDatabasePath())
			assert.Equal(t, tt.wantChart, p.GetChartFile())
		})
	}
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	assert.Equal(t, filepath.Join(home, "compta", "clearing.db"), ExpandHome("~/compta/clearing.db"))
	assert.Equal(t, home, ExpandHome("~"))
	assert.Equal(t, "/abs/path", ExpandHome("/abs/path"))
	assert.Equal(t, "~user/x", ExpandHome("~user/x"))
}

func TestGetImportArchivePath(t *testing.T) {
	p := New(Config{Root: "/data"})

	path, err := p.GetImportArchivePath("bank", "2025-01-31", "/tmp/in/statement.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data", "imports", "bank", "2025", "01", "statement.csv"), path)

	_, err = p.GetImportArchivePath("bank", "202501", "statement.csv")
	assert.Error(t, err)
}

func TestEnsureParentDir(t *testing.T) {
	p := New(Config{Root: t.TempDir()})
	file := filepath.Join(p.GetRoot(), "a", "b", "clearing.db")

	require.NoError(t, p.EnsureParentDir(file))
	info, err := os.Stat(filepath.Dir(file))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.False(t, FileExists(filepath.Dir(file)))
}
