package pyenv

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/dbtpilot/internal/model"
)

func fakeVenv(t *testing.T) string {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "venv", "bin")
	require.NoError(t, os.MkdirAll(bin, 0755))
	python := filepath.Join(bin, "python")
	require.NoError(t, os.WriteFile(python, []byte("#!/bin/sh\n"), 0755))
	return python
}

func TestFromConfig(t *testing.T) {
	t.Setenv(OverrideEnvVar, "")
	cfg := model.PythonConfig{Path: "/usr/bin/python3", Env: map[string]string{"DBT_TARGET": "dev"}}

	env := FromConfig(cfg)
	assert.Equal(t, "/usr/bin/python3", env.PythonPath)
	assert.Equal(t, "dev", env.EnvVars["DBT_TARGET"])

	env.EnvVars["DBT_TARGET"] = "prod"
	assert.Equal(t, "dev", cfg.Env["DBT_TARGET"], "config map must not be shared")
}

func TestFromConfig_Override(t *testing.T) {
	t.Setenv(OverrideEnvVar, "/opt/venv/bin/python")
	env := FromConfig(model.PythonConfig{Path: "/usr/bin/python3"})
	assert.Equal(t, "/opt/venv/bin/python", env.PythonPath)
	assert.NotNil(t, env.EnvVars)
}

func TestValidate(t *testing.T) {
	python := fakeVenv(t)

	tests := []struct {
		name    string
		env     Environment
		wantErr bool
	}{
		{name: "valid", env: Environment{PythonPath: python, EnvVars: map[string]string{}}},
		{name: "no path", env: Environment{EnvVars: map[string]string{}}, wantErr: true},
		{name: "missing file", env: Environment{PythonPath: python + "3.99", EnvVars: map[string]string{}}, wantErr: true},
		{name: "directory", env: Environment{PythonPath: filepath.Dir(python), EnvVars: map[string]string{}}, wantErr: true},
		{name: "no env vars", env: Environment{PythonPath: python}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.env.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.False(t, tt.env.Available())
			} else {
				assert.NoError(t, err)
				assert.True(t, tt.env.Available())
			}
		})
	}
	assert.ErrorIs(t, Environment{}.Validate(), ErrNoInterpreter)
}

func TestBin(t *testing.T) {
	python := fakeVenv(t)
	env := Environment{PythonPath: python}

	assert.Equal(t, "dbt", env.Bin("dbt"), "falls back to PATH lookup when not installed next to python")

	dbt := filepath.Join(filepath.Dir(python), "dbt")
	require.NoError(t, os.WriteFile(dbt, []byte("#!/bin/sh\n"), 0755))
	assert.Equal(t, dbt, env.Bin("dbt"))

	assert.Equal(t, "dbt", Environment{}.Bin("dbt"))
}

func TestEnviron(t *testing.T) {
	t.Setenv("PATH", "/usr/bin")
	env := Environment{
		PythonPath: "/opt/venv/bin/python",
		EnvVars:    map[string]string{"DBT_PROFILES_DIR": "/profiles"},
	}

	got := env.Environ()
	assert.Equal(t, "/profiles", got["DBT_PROFILES_DIR"])
	assert.True(t, strings.HasPrefix(got["PATH"], "/opt/venv/bin"+string(os.PathListSeparator)))
	assert.True(t, strings.HasSuffix(got["PATH"], "/usr/bin"))
	_, touched := env.EnvVars["PATH"]
	assert.False(t, touched)
}
