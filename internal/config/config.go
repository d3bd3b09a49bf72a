// Package config locates the .dbtpilot directory and loads config.yaml.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/dbtpilot/internal/model"
	"github.com/msageha/dbtpilot/internal/uds"
	yamlutil "github.com/msageha/dbtpilot/internal/yaml"
)

const (
	DirName        = ".dbtpilot"
	ConfigFileName = "config.yaml"
	EnvPrefix      = "DBTPILOT"
)

// ErrNotFound is returned by FindDir when no .dbtpilot directory exists in
// the start directory or any of its parents.
var ErrNotFound = errors.New("no " + DirName + " directory found (run: dbtpilot setup)")

// Paths lists every file the daemon and CLI share below a .dbtpilot directory.
type Paths struct {
	Root      string
	Dir       string
	Config    string
	Logs      string
	Locks     string
	LockFile  string
	Socket    string
	Audit     string
	Terminal  string
	DaemonLog string
}

// NewPaths derives Paths from the .dbtpilot directory.
func NewPaths(dir string) Paths {
	logs := filepath.Join(dir, "logs")
	locks := filepath.Join(dir, "locks")
	return Paths{
		Root:      filepath.Dir(dir),
		Dir:       dir,
		Config:    filepath.Join(dir, ConfigFileName),
		Logs:      logs,
		Locks:     locks,
		LockFile:  filepath.Join(locks, "daemon.lock"),
		Socket:    filepath.Join(dir, uds.DefaultSocketName),
		Audit:     filepath.Join(logs, "audit.jsonl"),
		Terminal:  filepath.Join(logs, "terminal.log"),
		DaemonLog: filepath.Join(logs, "daemon.log"),
	}
}

// ProjectDir resolves cfg.Project.Dir against the workspace root.
func (p Paths) ProjectDir(cfg model.Config) string {
	switch {
	case cfg.Project.Dir == "":
		return p.Root
	case filepath.IsAbs(cfg.Project.Dir):
		return cfg.Project.Dir
	default:
		return filepath.Join(p.Root, cfg.Project.Dir)
	}
}

// FindDir walks up from start looking for a .dbtpilot directory.
func FindDir(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, DirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotFound
		}
		dir = parent
	}
}

// Load reads <dir>/config.yaml over the defaults and applies DBTPILOT_*
// environment overrides (DBTPILOT_PYTHON_PATH overrides python.path). A
// missing file yields the defaults. A file that is not valid YAML is
// quarantined and replaced from its backup or the defaults.
func Load(dir string) (model.Config, error) {
	path := filepath.Join(dir, ConfigFileName)

	v := newViper()
	content, err := readConfigFile(dir, path)
	if err != nil {
		return model.Config{}, err
	}
	if content != nil {
		if err := yamlutil.ValidateSchemaHeader(content, model.ConfigFileType); err != nil {
			return model.Config{}, fmt.Errorf("%s: %w", path, err)
		}
		if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
			return model.Config{}, fmt.Errorf("read %s: %w", path, err)
		}
	}

	var cfg model.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return model.Config{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if content != nil {
		env, err := pythonEnv(content)
		if err != nil {
			return model.Config{}, fmt.Errorf("decode %s: %w", path, err)
		}
		if env != nil {
			cfg.Python.Env = env
		}
	}
	if cfg.Python.Env == nil {
		cfg.Python.Env = map[string]string{}
	}

	if err := Validate(cfg); err != nil {
		return model.Config{}, fmt.Errorf("invalid %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to <dir>/config.yaml atomically.
func Save(dir string, cfg model.Config) error {
	return yamlutil.AtomicWrite(filepath.Join(dir, ConfigFileName), cfg)
}

// Validate reports every out-of-range setting at once.
func Validate(cfg model.Config) error {
	var errs []error
	if cfg.Queue.EventBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("queue.event_buffer_size must be > 0, got %d", cfg.Queue.EventBufferSize))
	}
	if cfg.Queue.AuditMaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("queue.audit_max_bytes must be > 0, got %d", cfg.Queue.AuditMaxBytes))
	}
	if cfg.Daemon.ShutdownTimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("daemon.shutdown_timeout_sec must be > 0, got %d", cfg.Daemon.ShutdownTimeoutSec))
	}
	if cfg.Daemon.ConnTimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("daemon.conn_timeout_sec must be > 0, got %d", cfg.Daemon.ConnTimeoutSec))
	}
	if cfg.Daemon.ExecuteTimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("daemon.execute_timeout_sec must be > 0, got %d", cfg.Daemon.ExecuteTimeoutSec))
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unsupported value %q", cfg.Logging.Level))
	}
	switch cfg.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unsupported value %q", cfg.Logging.Format))
	}
	return errors.Join(errs...)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := model.DefaultConfig()
	v.SetDefault("schema_version", d.SchemaVersion)
	v.SetDefault("file_type", d.FileType)
	v.SetDefault("project.name", d.Project.Name)
	v.SetDefault("project.dir", d.Project.Dir)
	v.SetDefault("project.created", d.Project.Created)
	v.SetDefault("python.path", d.Python.Path)
	v.SetDefault("queue.event_buffer_size", d.Queue.EventBufferSize)
	v.SetDefault("queue.audit_max_bytes", d.Queue.AuditMaxBytes)
	v.SetDefault("daemon.shutdown_timeout_sec", d.Daemon.ShutdownTimeoutSec)
	v.SetDefault("daemon.conn_timeout_sec", d.Daemon.ConnTimeoutSec)
	v.SetDefault("daemon.execute_timeout_sec", d.Daemon.ExecuteTimeoutSec)
	v.SetDefault("notify.desktop", d.Notify.Desktop)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	return v
}

// readConfigFile returns nil content when the file does not exist.
func readConfigFile(dir, path string) ([]byte, error) {
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var probe any
	if yamlv3.Unmarshal(content, &probe) == nil {
		return content, nil
	}

	if err := yamlutil.Recover(dir, path, model.DefaultConfig()); err != nil {
		return nil, fmt.Errorf("recover %s: %w", path, err)
	}
	content, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return content, nil
}

// pythonEnv decodes python.env directly since viper lowercases map keys and
// environment variable names are case sensitive.
func pythonEnv(content []byte) (map[string]string, error) {
	var raw struct {
		Python struct {
			Env map[string]string `yaml:"env"`
		} `yaml:"python"`
	}
	if err := yamlv3.Unmarshal(content, &raw); err != nil {
		return nil, err
	}
	return raw.Python.Env, nil
}
