package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/dbtpilot/internal/model"
	yamlutil "github.com/msageha/dbtpilot/internal/yaml"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0644))
}

func TestFindDir(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, DirName)
	nested := filepath.Join(root, "models", "staging")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.MkdirAll(nested, 0755))

	got, err := FindDir(nested)
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	gotResolved, err := filepath.EvalSymlinks(got)
	require.NoError(t, err)
	assert.Equal(t, want, gotResolved)
}

func TestFindDir_NotFound(t *testing.T) {
	_, err := FindDir(t.TempDir())
	// A developer machine may carry a .dbtpilot directory above the temp dir.
	if err != nil {
		assert.ErrorIs(t, err, ErrNotFound)
	}
}

func TestNewPaths(t *testing.T) {
	p := NewPaths("/work/shop/.dbtpilot")
	assert.Equal(t, "/work/shop", p.Root)
	assert.Equal(t, "/work/shop/.dbtpilot/config.yaml", p.Config)
	assert.Equal(t, "/work/shop/.dbtpilot/locks/daemon.lock", p.LockFile)
	assert.Equal(t, "/work/shop/.dbtpilot/daemon.sock", p.Socket)
	assert.Equal(t, "/work/shop/.dbtpilot/logs/audit.jsonl", p.Audit)
	assert.Equal(t, "/work/shop/.dbtpilot/logs/terminal.log", p.Terminal)
	assert.Equal(t, "/work/shop/.dbtpilot/logs/daemon.log", p.DaemonLog)
}

func TestPaths_ProjectDir(t *testing.T) {
	p := NewPaths("/work/shop/.dbtpilot")
	cfg := model.DefaultConfig()
	assert.Equal(t, "/work/shop", p.ProjectDir(cfg))

	cfg.Project.Dir = "transform"
	assert.Equal(t, "/work/shop/transform", p.ProjectDir(cfg))

	cfg.Project.Dir = "/srv/dbt"
	assert.Equal(t, "/srv/dbt", p.ProjectDir(cfg))
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, model.DefaultConfig(), cfg)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `schema_version: 1
file_type: config
project:
  name: shop
  dir: transform
python:
  path: /opt/venv/bin/python
  env:
    DBT_PROFILES_DIR: /etc/dbt
queue:
  event_buffer_size: 64
metrics:
  addr: 127.0.0.1:9109
logging:
  level: debug
`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "shop", cfg.Project.Name)
	assert.Equal(t, "transform", cfg.Project.Dir)
	assert.Equal(t, "/opt/venv/bin/python", cfg.Python.Path)
	assert.Equal(t, map[string]string{"DBT_PROFILES_DIR": "/etc/dbt"}, cfg.Python.Env)
	assert.Equal(t, 64, cfg.Queue.EventBufferSize)
	assert.Equal(t, int64(10*1024*1024), cfg.Queue.AuditMaxBytes)
	assert.Equal(t, "127.0.0.1:9109", cfg.Metrics.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Notify.Desktop)
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "schema_version: 1\nfile_type: config\npython:\n  path: /from/file\n")
	t.Setenv("DBTPILOT_PYTHON_PATH", "/from/env")
	t.Setenv("DBTPILOT_NOTIFY_DESKTOP", "false")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.Python.Path)
	assert.False(t, cfg.Notify.Desktop)
}

func TestLoad_SchemaMismatch(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "schema_version: 9\nfile_type: config\n")

	_, err := Load(dir)
	assert.ErrorContains(t, err, "unsupported schema_version 9")
}

func TestLoad_InvalidValues(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `schema_version: 1
file_type: config
queue:
  event_buffer_size: 0
logging:
  format: xml
`)

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue.event_buffer_size")
	assert.Contains(t, err.Error(), "logging.format")
}

func TestLoad_CorruptedRecoversFromBackup(t *testing.T) {
	dir := t.TempDir()
	saved := model.DefaultConfig()
	saved.Project.Name = "first"
	require.NoError(t, Save(dir, saved))
	saved.Project.Name = "second"
	require.NoError(t, Save(dir, saved))
	writeConfig(t, dir, "project: [broken")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "first", cfg.Project.Name)

	entries, err := os.ReadDir(filepath.Join(dir, yamlutil.QuarantineDir))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := model.DefaultConfig()
	cfg.Project.Name = "shop"
	cfg.Python.Path = "/opt/venv/bin/python"
	cfg.Python.Env = map[string]string{"DBT_TARGET": "ci"}
	require.NoError(t, Save(dir, cfg))

	got, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}
