package yaml

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yamlv3 "gopkg.in/yaml.v3"
)

func readYAML(t *testing.T, path string, v any) {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, yamlv3.Unmarshal(content, v))
}

func TestAtomicWrite_Success(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, AtomicWrite(path, map[string]any{"key": "value", "count": 42}))

	var result map[string]any
	readYAML(t, path, &result)
	assert.Equal(t, "value", result["key"])
	assert.Equal(t, 42, result["count"])

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())
}

func TestAtomicWrite_CreatesBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	require.NoError(t, AtomicWrite(path, map[string]string{"version": "1"}))
	require.NoError(t, AtomicWrite(path, map[string]string{"version": "2"}))

	var bak, cur map[string]string
	readYAML(t, BackupPath(path), &bak)
	readYAML(t, path, &cur)
	assert.Equal(t, "1", bak["version"])
	assert.Equal(t, "2", cur["version"])
}

func TestAtomicWriteRaw_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	err := AtomicWriteRaw(path, []byte(":\n  invalid: [\n    broken"))
	require.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "file should not exist after failed write")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".dbtpilot-tmp-"), "temp file left behind: %s", e.Name())
	}
}

func TestAtomicWrite_StructData(t *testing.T) {
	type python struct {
		Path string            `yaml:"path"`
		Env  map[string]string `yaml:"env"`
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	in := python{Path: "/opt/venv/bin/python", Env: map[string]string{"DBT_TARGET": "dev"}}
	require.NoError(t, AtomicWrite(path, &in))

	var out python
	readYAML(t, path, &out)
	assert.Equal(t, in, out)
}
