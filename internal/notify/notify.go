// Package notify raises desktop notifications.
package notify

import (
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// ErrUnsupported is returned on platforms without a known notifier.
var ErrUnsupported = errors.New("desktop notifications are not supported on " + runtime.GOOS)

// runCommand is replaced in tests.
var runCommand = func(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// Send shows a desktop notification: osascript on macOS, notify-send on
// Linux.
func Send(title, message string) error {
	return send(runtime.GOOS, title, message)
}

func send(goos, title, message string) error {
	var name string
	var args []string

	switch goos {
	case "darwin":
		name = "osascript"
		script := fmt.Sprintf(`display notification "%s" with title "%s" sound name "default"`,
			escapeAppleScript(message), escapeAppleScript(title))
		args = []string{"-e", script}
	case "linux":
		name = "notify-send"
		args = []string{"--app-name=dbtpilot", title, message}
	default:
		return ErrUnsupported
	}

	if out, err := runCommand(name, args...); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
