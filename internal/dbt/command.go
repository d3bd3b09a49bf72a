// Package dbt runs dbt commands through the command queue or immediately.
package dbt

import (
	"strings"
)

// Executable is the dbt console script name.
const Executable = "dbt"

// Command is a dbt invocation. Args are passed to dbt verbatim.
type Command struct {
	StatusMessage string
	Args          []string
	Focus         bool
}

// NewCommand returns a command running dbt with args.
func NewCommand(statusMessage string, focus bool, args ...string) *Command {
	return &Command{
		StatusMessage: statusMessage,
		Args:          append([]string(nil), args...),
		Focus:         focus,
	}
}

// VersionCommand asks dbt for its version.
func VersionCommand() *Command {
	return NewCommand("Detecting dbt version...", false, "--version")
}

// AddArgument appends arg to the command line.
func (c *Command) AddArgument(arg string) {
	c.Args = append(c.Args, arg)
}

// String renders the command the way a user would type it.
func (c *Command) String() string {
	return Executable + " " + strings.Join(c.Args, " ")
}
