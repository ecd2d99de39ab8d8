package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string `json:"name" yaml:"name"`
	Count int    `json:"count" yaml:"count"`
}

func TestIsFileExists(t *testing.T) {
	fs := NewFileService()
	dir := t.TempDir()

	exists, err := fs.IsFileExists(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.False(t, exists)

	path := filepath.Join(dir, "present.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	exists, err = fs.IsFileExists(path)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestWriteAndReadJsonFile(t *testing.T) {
	fs := NewFileService()
	path := filepath.Join(t.TempDir(), "nested", "db.json")

	require.NoError(t, fs.WriteJsonFile(path, doc{Name: "plant", Count: 3}))

	var got doc
	require.NoError(t, fs.ReadJsonFile(path, &got))
	assert.Equal(t, doc{Name: "plant", Count: 3}, got)

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestWriteJsonFile_FailureKeepsOriginal(t *testing.T) {
	fs := NewFileService()
	path := filepath.Join(t.TempDir(), "db.json")
	require.NoError(t, fs.WriteJsonFile(path, doc{Name: "old"}))

	err := fs.WriteJsonFile(path, map[string]any{"bad": make(chan int)})
	require.Error(t, err)

	var got doc
	require.NoError(t, fs.ReadJsonFile(path, &got))
	assert.Equal(t, "old", got.Name)
}

func TestReadYamlFile(t *testing.T) {
	fs := NewFileService()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: plant\ncount: 7\n"), 0o644))

	var got doc
	require.NoError(t, fs.ReadYamlFile(path, &got))
	assert.Equal(t, doc{Name: "plant", Count: 7}, got)

	raw, err := fs.ReadFileRaw(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "count: 7")
}
