package dbt

import (
	"context"
	"regexp"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/msageha/dbtpilot/internal/events"
	"github.com/msageha/dbtpilot/internal/log"
	"github.com/msageha/dbtpilot/internal/model"
	"github.com/msageha/dbtpilot/internal/process"
)

// DefaultDetectTimeout bounds a single `dbt --version` run.
const DefaultDetectTimeout = 60 * time.Second

// Matches both "installed: 1.7.4" (dbt >= 1.0) and "installed version: 0.21.0".
var versionPattern = regexp.MustCompile(`installed(?: version)?:\s*v?([0-9]+\.[0-9]+\.[0-9]+\S*)`)

// Installation is the outcome of a detection run.
type Installation struct {
	PythonInstalled bool
	DBTInstalled    bool
	Version         string
	Error           string
	CheckedAt       time.Time
}

// Status converts the installation into its wire form.
func (in Installation) Status() model.DetectionStatus {
	s := model.DetectionStatus{
		PythonInstalled: in.PythonInstalled,
		DBTInstalled:    in.DBTInstalled,
		Version:         in.Version,
		Error:           in.Error,
	}
	if !in.CheckedAt.IsZero() {
		s.CheckedAt = in.CheckedAt.Format(time.RFC3339)
	}
	return s
}

// Detector checks whether dbt is usable in the configured environment.
// Concurrent Detect calls share a single run.
type Detector struct {
	infra   *Infrastructure
	bus     *events.Bus
	timeout time.Duration
	logger  log.Logger
	group   singleflight.Group

	mu   sync.RWMutex
	last *Installation
}

// NewDetector returns a Detector running through infra. bus may be nil.
func NewDetector(infra *Infrastructure, bus *events.Bus) *Detector {
	return &Detector{
		infra:   infra,
		bus:     bus,
		timeout: DefaultDetectTimeout,
		logger:  log.WithName("dbt-detect"),
	}
}

// Detect runs `dbt --version`. A failing dbt is reported in the
// Installation, not as an error; the error is only set when ctx ends first.
func (d *Detector) Detect(ctx context.Context) (Installation, error) {
	ch := d.group.DoChan("detect", func() (any, error) {
		// Shared by every waiter, so it must not die with the first caller.
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		return d.detect(runCtx), nil
	})

	select {
	case res := <-ch:
		return res.Val.(Installation), nil
	case <-ctx.Done():
		return Installation{}, ctx.Err()
	}
}

// Last returns the most recent detection, if any.
func (d *Detector) Last() (Installation, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.last == nil {
		return Installation{}, false
	}
	return *d.last, true
}

func (d *Detector) detect(ctx context.Context) Installation {
	d.publish(map[string]any{"in_progress": true})

	env := d.infra.Environment()
	in := Installation{PythonInstalled: env.Available()}

	exec, err := d.infra.ExecuteCommand(ctx, VersionCommand())
	if err == nil {
		var res process.Result
		res, err = exec.Complete()
		if err == nil {
			in.DBTInstalled = true
			in.Version = ParseVersion(res.Stdout)
		}
	}
	if err != nil {
		in.Error = err.Error()
		d.logger.Info("dbt not detected", "error", in.Error)
	} else {
		d.logger.Info("dbt detected", "version", in.Version)
	}
	in.CheckedAt = time.Now().UTC()

	d.mu.Lock()
	d.last = &in
	d.mu.Unlock()

	data := map[string]any{
		"in_progress":      false,
		"python_installed": in.PythonInstalled,
		"installed":        in.DBTInstalled,
		"version":          in.Version,
	}
	if in.Error != "" {
		data["error"] = in.Error
	}
	d.publish(data)
	return in
}

func (d *Detector) publish(data map[string]any) {
	if d.bus != nil {
		d.bus.Publish(events.EventDBTDetection, data)
	}
}

// ParseVersion extracts the installed dbt-core version from `dbt --version`
// output. It returns "" when no version is found.
func ParseVersion(output string) string {
	m := versionPattern.FindStringSubmatch(output)
	if m == nil {
		return ""
	}
	return m[1]
}
