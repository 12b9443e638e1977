package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPruneFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a_2024-01-01.log", "a_2024-01-02.log", "a_2024-01-03.log", "keep.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	removed := PruneFiles(dir, ".log", 2)
	assert.Equal(t, []string{filepath.Join(dir, "a_2024-01-01.log")}, removed)
	assert.FileExists(t, filepath.Join(dir, "keep.txt"))
	assert.FileExists(t, filepath.Join(dir, "a_2024-01-03.log"))
}

func TestInitLogger_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultLogConfig()
	cfg.Directory = dir
	cfg.Console = false
	cfg.Level = "debug"

	require.NoError(t, InitLogger(cfg))

	matches, err := filepath.Glob(filepath.Join(dir, "loginserver_*.log"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}
