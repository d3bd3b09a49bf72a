package yaml

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuarantine(t *testing.T) {
	dataDir := t.TempDir()
	path := filepath.Join(dataDir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("broken: ["), 0644))

	dst, err := Quarantine(dataDir, path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dataDir, QuarantineDir), filepath.Dir(dst))
	assert.FileExists(t, dst)
	assert.NoFileExists(t, path)
}

func TestRestoreFromBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	assert.Error(t, RestoreFromBackup(path), "no backup yet")

	require.NoError(t, os.WriteFile(BackupPath(path), []byte("broken: ["), 0644))
	assert.ErrorContains(t, RestoreFromBackup(path), "backup is also corrupted")

	require.NoError(t, os.WriteFile(BackupPath(path), []byte("project:\n  name: shop\n"), 0644))
	require.NoError(t, RestoreFromBackup(path))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "project:\n  name: shop\n", string(content))
}

func TestRecover_WithBackup(t *testing.T) {
	dataDir := t.TempDir()
	path := filepath.Join(dataDir, "config.yaml")
	require.NoError(t, AtomicWrite(path, map[string]string{"generation": "1"}))
	require.NoError(t, AtomicWrite(path, map[string]string{"generation": "2"}))
	require.NoError(t, os.WriteFile(path, []byte("generation: [oops"), 0644))

	require.NoError(t, Recover(dataDir, path, map[string]string{"generation": "default"}))

	var got map[string]string
	readYAML(t, path, &got)
	assert.Equal(t, "1", got["generation"])

	quarantined, err := os.ReadDir(filepath.Join(dataDir, QuarantineDir))
	require.NoError(t, err)
	assert.Len(t, quarantined, 1)
}

func TestRecover_WithoutBackup(t *testing.T) {
	dataDir := t.TempDir()
	path := filepath.Join(dataDir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{{"), 0644))

	require.NoError(t, Recover(dataDir, path, map[string]string{"generation": "default"}))

	var got map[string]string
	readYAML(t, path, &got)
	assert.Equal(t, "default", got["generation"])
}
