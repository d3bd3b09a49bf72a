// Package project reads the dbt_project.yml of the project dbtpilot serves.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/msageha/dbtpilot/internal/model"
)

// FileName is the dbt project definition file.
const FileName = "dbt_project.yml"

// dbt's defaults for paths left unset.
var (
	defaultTargetPath          = "target"
	defaultModelPaths          = []string{"models"}
	defaultMacroPaths          = []string{"macros"}
	defaultPackagesInstallPath = "dbt_packages"
)

// ErrNotFound is returned when the directory has no dbt_project.yml.
var ErrNotFound = errors.New(FileName + " not found")

// Project is the subset of dbt_project.yml dbtpilot cares about.
type Project struct {
	Root string `yaml:"-"`

	Name                string   `yaml:"name"`
	Version             string   `yaml:"version"`
	Profile             string   `yaml:"profile"`
	TargetPath          string   `yaml:"target-path"`
	ModelPaths          []string `yaml:"model-paths"`
	MacroPaths          []string `yaml:"macro-paths"`
	PackagesInstallPath string   `yaml:"packages-install-path"`

	// dbt < 1.0 spelling of model-paths.
	SourcePaths []string `yaml:"source-paths"`
}

// Load parses <root>/dbt_project.yml and fills dbt's defaults.
func Load(root string) (*Project, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(abs, FileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", abs, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", FileName, err)
	}

	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse %s: %w", FileName, err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("parse %s: missing required field: name", FileName)
	}

	p.Root = abs
	p.applyDefaults()
	return &p, nil
}

func (p *Project) applyDefaults() {
	if p.TargetPath == "" {
		p.TargetPath = defaultTargetPath
	}
	if len(p.ModelPaths) == 0 {
		if len(p.SourcePaths) > 0 {
			p.ModelPaths = p.SourcePaths
		} else {
			p.ModelPaths = append([]string(nil), defaultModelPaths...)
		}
	}
	if len(p.MacroPaths) == 0 {
		p.MacroPaths = append([]string(nil), defaultMacroPaths...)
	}
	if p.PackagesInstallPath == "" {
		p.PackagesInstallPath = defaultPackagesInstallPath
	}
}

// Path returns the project definition file.
func (p *Project) Path() string {
	return filepath.Join(p.Root, FileName)
}

// TargetDir resolves target-path against the project root.
func (p *Project) TargetDir() string {
	return p.resolve(p.TargetPath)
}

// ModelDirs resolves model-paths against the project root.
func (p *Project) ModelDirs() []string {
	out := make([]string, 0, len(p.ModelPaths))
	for _, m := range p.ModelPaths {
		out = append(out, p.resolve(m))
	}
	return out
}

// MacroDirs resolves macro-paths against the project root.
func (p *Project) MacroDirs() []string {
	out := make([]string, 0, len(p.MacroPaths))
	for _, m := range p.MacroPaths {
		out = append(out, p.resolve(m))
	}
	return out
}

func (p *Project) resolve(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(p.Root, rel)
}

// Status converts the project into its wire form.
func (p *Project) Status() *model.ProjectStatus {
	return &model.ProjectStatus{
		Name:       p.Name,
		Root:       p.Root,
		Profile:    p.Profile,
		TargetPath: p.TargetDir(),
		ModelPaths: p.ModelDirs(),
	}
}
