package fileutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "positions.json")

	require.NoError(t, WriteAtomic(path, []byte("first"), 0o644))
	require.NoError(t, WriteAtomic(path, []byte("second"), 0o600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files are cleaned up")
	assert.Equal(t, "positions.json", entries[0].Name())
}

func TestWriteAtomicMissingDir(t *testing.T) {
	t.Parallel()

	err := WriteAtomic(filepath.Join(t.TempDir(), "missing", "out.json"), []byte("x"), 0o644)
	assert.Error(t, err)
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, WriteJSON(path, map[string][]int{"sender_pos": {3, 1}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sender_pos":[3,1]}`, string(data))
	assert.True(t, data[len(data)-1] == '\n')

	assert.Error(t, WriteJSON(path, make(chan int)))
}
