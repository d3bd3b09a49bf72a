// Package terminal is the log sink dbt output is streamed into.
package terminal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/msageha/dbtpilot/internal/events"
)

// FileName is the terminal log inside the logs directory.
const FileName = "terminal.log"

// Terminal appends dbt output to a file and optionally mirrors it to another
// writer. It is safe for concurrent use.
type Terminal struct {
	mu   sync.Mutex
	file *os.File
	tee  io.Writer
	bus  *events.Bus
	path string
}

// Option configures a Terminal.
type Option func(*Terminal)

// WithTee mirrors everything written to w.
func WithTee(w io.Writer) Option {
	return func(t *Terminal) { t.tee = w }
}

// WithBus publishes terminal_show events on bus.
func WithBus(bus *events.Bus) Option {
	return func(t *Terminal) { t.bus = bus }
}

// Open opens (or creates) path for appending.
func Open(path string, opts ...Option) (*Terminal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create terminal log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open terminal log: %w", err)
	}

	t := &Terminal{file: f, path: path}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Write implements io.Writer.
func (t *Terminal) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		return 0, os.ErrClosed
	}
	n, err := t.file.Write(p)
	if err != nil {
		return n, err
	}
	if t.tee != nil {
		_, _ = t.tee.Write(p)
	}
	return n, nil
}

// Log writes a single line.
func (t *Terminal) Log(line string) error {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	_, err := io.WriteString(t, line)
	return err
}

// Show asks clients to reveal the terminal. focus requests that it also take
// input focus.
func (t *Terminal) Show(focus bool) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(events.EventTerminalShow, map[string]any{
		"path":  t.path,
		"focus": focus,
	})
}

// Path returns the log file path.
func (t *Terminal) Path() string {
	return t.path
}

// Close closes the log file.
func (t *Terminal) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}
