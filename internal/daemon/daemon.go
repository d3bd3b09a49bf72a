// Package daemon hosts the dbt command queue behind the unix socket.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/msageha/dbtpilot/internal/config"
	"github.com/msageha/dbtpilot/internal/dbt"
	"github.com/msageha/dbtpilot/internal/events"
	"github.com/msageha/dbtpilot/internal/lock"
	"github.com/msageha/dbtpilot/internal/log"
	"github.com/msageha/dbtpilot/internal/metrics"
	"github.com/msageha/dbtpilot/internal/model"
	"github.com/msageha/dbtpilot/internal/notify"
	"github.com/msageha/dbtpilot/internal/process"
	"github.com/msageha/dbtpilot/internal/progress"
	"github.com/msageha/dbtpilot/internal/project"
	"github.com/msageha/dbtpilot/internal/pyenv"
	"github.com/msageha/dbtpilot/internal/queue"
	"github.com/msageha/dbtpilot/internal/terminal"
	"github.com/msageha/dbtpilot/internal/uds"
)

var errShuttingDown = errors.New("daemon is shutting down")

// Daemon owns the queue and every component around it for one project.
type Daemon struct {
	paths  config.Paths
	config model.Config
	logger log.Logger

	fileLock *lock.FileLock
	bus      *events.Bus
	audit    *events.AuditLogger
	metrics  *metrics.Metrics
	notifier *notify.Notifier
	queue    *queue.Queue
	terminal *terminal.Terminal
	infra    *dbt.Infrastructure
	detector *dbt.Detector
	server   *uds.Server
	watcher  *fsnotify.Watcher
	httpSrv  *metrics.Server

	projectMu sync.RWMutex
	project   *project.Project

	// handleSignals is disabled by tests that drive shutdown themselves.
	handleSignals bool

	ctx      context.Context
	cancel   context.CancelFunc
	ready    chan struct{}
	stopping chan struct{}
	shutdown sync.Once
}

// New builds a Daemon for the .dbtpilot directory described by paths.
// Nothing is started until Run.
func New(paths config.Paths, cfg model.Config) *Daemon {
	bus := events.NewBus(cfg.Queue.EventBufferSize)
	notifier := notify.NewNotifier(cfg.Notify.Desktop, bus)
	logger := log.WithName("daemon")

	d := &Daemon{
		paths:         paths,
		config:        cfg,
		logger:        logger,
		fileLock:      lock.NewFileLock(paths.LockFile),
		bus:           bus,
		metrics:       metrics.New(),
		notifier:      notifier,
		server:        uds.NewServer(paths.Socket),
		handleSignals: true,
		ready:         make(chan struct{}),
		stopping:      make(chan struct{}),
	}
	d.queue = queue.New(
		queue.WithBus(bus),
		queue.WithNotifier(notifier),
		queue.WithProgress(progress.NewReporter(bus, notifier)),
		queue.WithLogger(log.WithName("queue")),
	)
	d.server.SetConnTimeout(time.Duration(cfg.Daemon.ConnTimeoutSec) * time.Second)
	return d
}

// Ready is closed once the daemon accepts requests.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Run starts the daemon and blocks until ctx ends, a signal arrives or a
// shutdown request is received.
func (d *Daemon) Run(ctx context.Context) error {
	for _, dir := range []string{d.paths.Logs, d.paths.Locks} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("ensure dir %s: %w", dir, err)
		}
	}
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.logger.Info("daemon starting", "pid", os.Getpid(), "dir", d.paths.Dir)

	d.ctx, d.cancel = context.WithCancel(ctx)
	defer d.cancel()

	// A Shutdown issued before Run still stops it.
	go func() {
		select {
		case <-d.stopping:
			d.cancel()
		case <-d.ctx.Done():
		}
	}()

	if err := d.open(); err != nil {
		d.cleanup()
		return err
	}

	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		d.cleanup()
		return fmt.Errorf("start UDS server: %w", err)
	}

	d.queue.Start(d.ctx)

	g, gctx := errgroup.WithContext(d.ctx)
	g.Go(func() error { return d.watchLoop(gctx) })
	if d.httpSrv != nil {
		g.Go(func() error { return d.httpSrv.Serve(gctx) })
	}
	if d.handleSignals {
		g.Go(func() error { return d.waitSignals(gctx) })
	}
	g.Go(func() error {
		d.detect(gctx)
		return nil
	})

	close(d.ready)
	d.logger.Info("daemon ready", "socket", d.paths.Socket)

	<-gctx.Done()
	d.Shutdown()
	d.drain(g)
	return nil
}

// open wires the bus consumers, the terminal, dbt and the watchers.
func (d *Daemon) open() error {
	audit, err := events.NewAuditLogger(d.paths.Audit, d.config.Queue.AuditMaxBytes)
	if err != nil {
		return err
	}
	d.audit = audit
	d.audit.Attach(d.bus)

	d.metrics.Attach(d.bus)
	d.metrics.ObserveQueue(d.queue.Snapshot)

	term, err := terminal.Open(d.paths.Terminal, terminal.WithBus(d.bus))
	if err != nil {
		return err
	}
	d.terminal = term

	projectDir := d.paths.ProjectDir(d.config)
	d.infra = dbt.NewInfrastructure(d.queue, process.NewFactory(), term, pyenv.FromConfig(d.config.Python), projectDir)
	d.detector = dbt.NewDetector(d.infra, d.bus)
	d.loadProject()

	if err := d.openWatcher(); err != nil {
		return err
	}

	if addr := d.config.Metrics.Addr; addr != "" {
		srv, err := metrics.Listen(addr, metrics.NewRouter(d.metrics, d.health))
		if err != nil {
			return err
		}
		d.httpSrv = srv
		d.logger.Info("metrics listening", "addr", srv.Addr())
	}
	return nil
}

func (d *Daemon) health() error {
	if d.ctx.Err() != nil {
		return errShuttingDown
	}
	return nil
}

func (d *Daemon) detect(ctx context.Context) {
	if _, err := d.detector.Detect(ctx); err != nil && ctx.Err() == nil {
		d.logger.Error(err, "dbt detection failed")
	}
}

// loadProject reads dbt_project.yml from the project directory. A missing or
// invalid project leaves the daemon usable; commands then fail in dbt.
func (d *Daemon) loadProject() {
	dir := d.paths.ProjectDir(d.config)
	p, err := project.Load(dir)

	d.projectMu.Lock()
	d.project = p
	d.projectMu.Unlock()

	data := map[string]any{"root": dir}
	if err != nil {
		d.logger.Warn("dbt project not loaded", "dir", dir, "error", err.Error())
		data["error"] = err.Error()
	} else {
		d.logger.Info("dbt project loaded", "name", p.Name, "root", p.Root)
		data["name"] = p.Name
	}
	d.bus.Publish(events.EventProjectReloaded, data)
}

func (d *Daemon) currentProject() *project.Project {
	d.projectMu.RLock()
	defer d.projectMu.RUnlock()
	return d.project
}

// waitSignals cancels the daemon on SIGINT or SIGTERM. A second signal exits
// immediately.
func (d *Daemon) waitSignals(ctx context.Context) error {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case <-ctx.Done():
		signal.Stop(sigCh)
		return nil
	case sig := <-sigCh:
		d.logger.Info("received signal, initiating graceful shutdown", "signal", sig.String())
	}

	go func() {
		<-sigCh
		d.logger.Warn("received second signal, forcing exit")
		os.Exit(1)
	}()

	d.Shutdown()
	return nil
}

// Shutdown begins a graceful shutdown. Idempotent, and may be called before
// Run. Run returns once the in-flight command has returned or the shutdown
// timeout has passed.
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.logger.Info("shutdown started")
		close(d.stopping)
	})
}

// drain waits for the queue and background loops, then releases resources.
func (d *Daemon) drain(g *errgroup.Group) {
	_ = d.server.Stop()
	if d.watcher != nil {
		_ = d.watcher.Close()
	}

	timeout := time.Duration(d.config.Daemon.ShutdownTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	done := make(chan error, 1)
	go func() {
		<-d.queue.Done()
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			d.logger.Error(err, "background loop failed")
		}
		d.logger.Info("all goroutines drained")
	case <-time.After(timeout):
		d.logger.Warn("shutdown timeout, some operations may be incomplete", "timeout", timeout.String())
	}

	d.cleanup()
	d.logger.Info("daemon stopped")
}

// cleanup releases resources.
func (d *Daemon) cleanup() {
	_ = os.Remove(d.paths.Socket)
	d.bus.Close()
	if d.terminal != nil {
		_ = d.terminal.Close()
	}
	if d.audit != nil {
		_ = d.audit.Close()
	}
	_ = d.fileLock.Unlock()
}
