package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProject(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644))
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	dir := writeProject(t, "name: jaffle_shop\nprofile: jaffle\n")

	p, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "jaffle_shop", p.Name)
	assert.Equal(t, "jaffle", p.Profile)
	assert.Equal(t, filepath.Join(dir, "target"), p.TargetDir())
	assert.Equal(t, []string{filepath.Join(dir, "models")}, p.ModelDirs())
	assert.Equal(t, []string{filepath.Join(dir, "macros")}, p.MacroDirs())
	assert.Equal(t, "dbt_packages", p.PackagesInstallPath)
	assert.Equal(t, filepath.Join(dir, FileName), p.Path())
}

func TestLoad_ExplicitPaths(t *testing.T) {
	dir := writeProject(t, `
name: analytics
version: "1.0.0"
target-path: build
model-paths: ["models", "staging"]
macro-paths: ["/shared/macros"]
packages-install-path: packages
`)

	p, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", p.Version)
	assert.Equal(t, filepath.Join(dir, "build"), p.TargetDir())
	assert.Equal(t, []string{filepath.Join(dir, "models"), filepath.Join(dir, "staging")}, p.ModelDirs())
	assert.Equal(t, []string{"/shared/macros"}, p.MacroDirs())
	assert.Equal(t, "packages", p.PackagesInstallPath)
}

func TestLoad_LegacySourcePaths(t *testing.T) {
	dir := writeProject(t, "name: legacy\nsource-paths: [src]\n")

	p, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"src"}, p.ModelPaths)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = Load(writeProject(t, "profile: x\n"))
	assert.ErrorContains(t, err, "missing required field: name")

	_, err = Load(writeProject(t, "name: [unterminated\n"))
	assert.ErrorContains(t, err, "parse "+FileName)
}

func TestStatus(t *testing.T) {
	dir := writeProject(t, "name: shop\nprofile: shop\n")
	p, err := Load(dir)
	require.NoError(t, err)

	s := p.Status()
	assert.Equal(t, "shop", s.Name)
	assert.Equal(t, dir, s.Root)
	assert.Equal(t, filepath.Join(dir, "target"), s.TargetPath)
	assert.Len(t, s.ModelPaths, 1)
}
