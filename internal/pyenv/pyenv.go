// Package pyenv resolves the Python interpreter dbt runs under.
package pyenv

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/msageha/dbtpilot/internal/model"
)

// OverrideEnvVar replaces the configured interpreter path when set.
const OverrideEnvVar = "DBTPILOT_PYTHON"

// ErrNoInterpreter is returned when no interpreter path is configured.
var ErrNoInterpreter = errors.New("python interpreter path is not set")

// Environment is the interpreter plus the variables every dbt process gets.
type Environment struct {
	PythonPath string
	EnvVars    map[string]string
}

// FromConfig builds the environment from cfg, applying OverrideEnvVar.
func FromConfig(cfg model.PythonConfig) Environment {
	env := Environment{
		PythonPath: cfg.Path,
		EnvVars:    make(map[string]string, len(cfg.Env)),
	}
	for k, v := range cfg.Env {
		env.EnvVars[k] = v
	}
	if p := os.Getenv(OverrideEnvVar); p != "" {
		env.PythonPath = p
	}
	return env
}

// Validate reports why the environment cannot run dbt, if it cannot.
func (e Environment) Validate() error {
	if e.PythonPath == "" {
		return ErrNoInterpreter
	}
	info, err := os.Stat(e.PythonPath)
	if err != nil {
		return fmt.Errorf("python interpreter %s: %w", e.PythonPath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("python interpreter %s is a directory", e.PythonPath)
	}
	if e.EnvVars == nil {
		return fmt.Errorf("python environment variables are not loaded")
	}
	return nil
}

// Available reports whether Validate passes.
func (e Environment) Available() bool {
	return e.Validate() == nil
}

// BinDir is the directory holding the interpreter, where virtualenvs install
// their console scripts.
func (e Environment) BinDir() string {
	if e.PythonPath == "" {
		return ""
	}
	return filepath.Dir(e.PythonPath)
}

// Bin resolves name next to the interpreter, falling back to a PATH lookup
// by bare name.
func (e Environment) Bin(name string) string {
	if dir := e.BinDir(); dir != "" {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0111 != 0 {
			return candidate
		}
	}
	return name
}

// Environ is the overlay applied to every dbt process: the configured
// variables plus PATH with the interpreter directory first.
func (e Environment) Environ() map[string]string {
	out := make(map[string]string, len(e.EnvVars)+1)
	for k, v := range e.EnvVars {
		out[k] = v
	}
	if dir := e.BinDir(); dir != "" {
		path := out["PATH"]
		if path == "" {
			path = os.Getenv("PATH")
		}
		if path == "" {
			out["PATH"] = dir
		} else {
			out["PATH"] = dir + string(os.PathListSeparator) + path
		}
	}
	return out
}
