// Package setup initializes the .dbtpilot directory of a workspace.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/dbtpilot/internal/config"
	"github.com/msageha/dbtpilot/internal/model"
	"github.com/msageha/dbtpilot/internal/project"
	atomicyaml "github.com/msageha/dbtpilot/internal/yaml"
	"github.com/msageha/dbtpilot/templates"
)

// Options override the values setup would otherwise detect.
type Options struct {
	// ProjectName defaults to the dbt project name, then the directory name.
	ProjectName string
	// ProjectDir is the dbt project root relative to the workspace.
	ProjectDir string
	// PythonPath defaults to $VIRTUAL_ENV/bin/python, then python3 on PATH.
	PythonPath string
}

// lookPath is replaced in tests.
var lookPath = exec.LookPath

// Run creates <workspace>/.dbtpilot with its logs, locks and quarantine
// directories and writes config.yaml. It fails if .dbtpilot already exists.
func Run(workspace string, opts Options) (model.Config, error) {
	absDir, err := filepath.Abs(workspace)
	if err != nil {
		return model.Config{}, fmt.Errorf("resolve workspace dir: %w", err)
	}

	base := filepath.Join(absDir, config.DirName)
	if _, err := os.Stat(base); err == nil {
		return model.Config{}, fmt.Errorf("%s already exists", base)
	}

	paths := config.NewPaths(base)
	for _, d := range []string{paths.Logs, paths.Locks, filepath.Join(base, atomicyaml.QuarantineDir)} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return model.Config{}, fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	cfg, err := generateConfig(absDir, opts)
	if err != nil {
		return model.Config{}, fmt.Errorf("generate config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return model.Config{}, fmt.Errorf("generated config is invalid: %w", err)
	}
	if err := config.Save(base, cfg); err != nil {
		return model.Config{}, fmt.Errorf("write %s: %w", config.ConfigFileName, err)
	}
	return cfg, nil
}

func generateConfig(workspace string, opts Options) (model.Config, error) {
	data, err := fs.ReadFile(templates.FS, "config.yaml")
	if err != nil {
		return model.Config{}, fmt.Errorf("read config template: %w", err)
	}

	cfg := model.DefaultConfig()
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("parse config template: %w", err)
	}
	if cfg.Python.Env == nil {
		cfg.Python.Env = map[string]string{}
	}

	cfg.Project.Dir = opts.ProjectDir
	cfg.Project.Created = time.Now().Format(time.RFC3339)

	projectRoot := workspace
	if opts.ProjectDir != "" {
		projectRoot = config.NewPaths(filepath.Join(workspace, config.DirName)).ProjectDir(cfg)
	}
	switch p, err := project.Load(projectRoot); {
	case opts.ProjectName != "":
		cfg.Project.Name = opts.ProjectName
	case err == nil && p.Name != "":
		cfg.Project.Name = p.Name
	default:
		cfg.Project.Name = filepath.Base(workspace)
	}

	cfg.Python.Path = opts.PythonPath
	if cfg.Python.Path == "" {
		cfg.Python.Path = detectPython()
	}
	return cfg, nil
}

// detectPython prefers the active virtualenv. It returns "" when no
// interpreter is found; the daemon then reports dbt as not installed.
func detectPython() string {
	if venv := os.Getenv("VIRTUAL_ENV"); venv != "" {
		candidate := filepath.Join(venv, "bin", "python")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	for _, name := range []string{"python3", "python"} {
		if path, err := lookPath(name); err == nil {
			return path
		}
	}
	return ""
}
