package daemon

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/msageha/dbtpilot/internal/config"
	"github.com/msageha/dbtpilot/internal/project"
	"github.com/msageha/dbtpilot/internal/pyenv"
)

// redetectDelay coalesces the burst of events a pip install produces.
const redetectDelay = 500 * time.Millisecond

// openWatcher watches the dbt project root, the .dbtpilot directory and the
// python interpreter directory. Directories are watched rather than files so
// that editors replacing a file by rename are still seen.
func (d *Daemon) openWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	d.watcher = watcher

	dirs := []string{d.paths.Dir, d.paths.ProjectDir(d.config)}
	if bin := d.infra.Environment().BinDir(); bin != "" {
		dirs = append(dirs, bin)
	}
	for _, dir := range dirs {
		d.watchDir(dir)
	}
	return nil
}

// watchDir adds dir when it exists. Missing directories are logged only.
func (d *Daemon) watchDir(dir string) {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		d.logger.Debug("not watching missing directory", "dir", dir)
		return
	}
	if err := d.watcher.Add(dir); err != nil {
		d.logger.Warn("watch failed", "dir", dir, "error", err.Error())
	}
}

// watchLoop processes filesystem change events.
func (d *Daemon) watchLoop(ctx context.Context) error {
	var redetect <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-d.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			d.logger.Debug("fsnotify", "event", event.Op.String(), "file", event.Name)
			if d.handleFileEvent(event.Name) {
				redetect = time.After(redetectDelay)
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return nil
			}
			d.logger.Error(err, "fsnotify error")
		case <-redetect:
			redetect = nil
			d.detect(ctx)
		}
	}
}

// handleFileEvent reacts to a change of name and reports whether dbt must be
// detected again.
func (d *Daemon) handleFileEvent(name string) bool {
	switch {
	case name == filepath.Join(d.paths.ProjectDir(d.config), project.FileName):
		d.loadProject()
		return false
	case name == d.paths.Config:
		return d.reloadConfig()
	}

	bin := d.infra.Environment().BinDir()
	return bin != "" && filepath.Dir(name) == bin
}

// reloadConfig applies a changed python section of config.yaml. Other
// settings take effect on restart.
func (d *Daemon) reloadConfig() bool {
	cfg, err := config.Load(d.paths.Dir)
	if err != nil {
		d.logger.Warn("config reload failed, keeping current settings", "error", err.Error())
		return false
	}

	env := pyenv.FromConfig(cfg.Python)
	old := d.infra.Environment()
	if env.PythonPath == old.PythonPath && maps.Equal(env.EnvVars, old.EnvVars) {
		return false
	}

	d.logger.Info("python environment changed", "python", env.PythonPath)
	d.infra.SetEnvironment(env)
	if bin := env.BinDir(); bin != "" && bin != old.BinDir() {
		if oldBin := old.BinDir(); oldBin != "" && oldBin != d.paths.Dir && oldBin != d.paths.ProjectDir(d.config) {
			_ = d.watcher.Remove(oldBin)
		}
		d.watchDir(bin)
	}
	return true
}
