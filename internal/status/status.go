// Package status renders the daemon status for the CLI.
package status

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/gosuri/uitable"

	"github.com/msageha/dbtpilot/internal/model"
	"github.com/msageha/dbtpilot/internal/uds"
)

type Report struct {
	Daemon DaemonStatus        `json:"daemon"`
	Status *model.StatusResult `json:"status,omitempty"`
}

type DaemonStatus struct {
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Fetch asks the daemon behind socketPath for its status. An unreachable
// daemon is reported as stopped, not as an error.
func Fetch(socketPath string) Report {
	var st model.StatusResult
	if err := uds.NewClient(socketPath).Call(uds.CommandStatus, nil, &st); err != nil {
		return Report{Daemon: DaemonStatus{Error: err.Error()}}
	}
	return Report{
		Daemon: DaemonStatus{Running: true, PID: st.PID},
		Status: &st,
	}
}

// Run fetches the status and writes it to w as tables or JSON.
func Run(w io.Writer, socketPath string, jsonOutput bool) error {
	report := Fetch(socketPath)
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return Print(w, report)
}

// Print renders report as tables.
func Print(w io.Writer, r Report) error {
	var b strings.Builder

	if !r.Daemon.Running {
		b.WriteString("Daemon: stopped\n")
		_, err := io.WriteString(w, b.String())
		return err
	}
	fmt.Fprintf(&b, "Daemon: running (pid %d)\n", r.Daemon.PID)

	st := r.Status
	b.WriteString("\nQueue:\n")
	table := uitable.New()
	table.AddRow("STATE", "RUNNING", "PENDING", "SUBMITTED", "SUCCEEDED", "FAILED", "CANCELLED")
	table.AddRow(
		string(st.Queue.State),
		orDash(st.Queue.Running),
		len(st.Queue.Pending),
		st.Queue.Counters.Submitted,
		st.Queue.Counters.Succeeded,
		st.Queue.Counters.Failed,
		st.Queue.Counters.Cancelled,
	)
	b.WriteString(table.String())
	b.WriteString("\n")

	if len(st.Queue.Pending) > 0 {
		b.WriteString("\nPending:\n")
		table = uitable.New()
		table.MaxColWidth = 80
		table.AddRow("#", "LABEL")
		for i, label := range st.Queue.Pending {
			table.AddRow(i+1, label)
		}
		b.WriteString(table.String())
		b.WriteString("\n")
	}

	b.WriteString("\ndbt:\n")
	table = uitable.New()
	table.AddRow("PYTHON", "DBT", "VERSION", "CHECKED")
	table.AddRow(
		yesNo(st.Detection.PythonInstalled),
		yesNo(st.Detection.DBTInstalled),
		orDash(st.Detection.Version),
		orDash(st.Detection.CheckedAt),
	)
	b.WriteString(table.String())
	b.WriteString("\n")
	if st.Detection.Error != "" {
		fmt.Fprintf(&b, "  error: %s\n", st.Detection.Error)
	}

	b.WriteString("\nProject:\n")
	if p := st.Project; p != nil {
		table = uitable.New()
		table.MaxColWidth = 60
		table.Wrap = true
		table.AddRow("NAME", p.Name)
		table.AddRow("ROOT", p.Root)
		table.AddRow("PROFILE", orDash(p.Profile))
		table.AddRow("TARGET", p.TargetPath)
		table.AddRow("MODELS", strings.Join(p.ModelPaths, ", "))
		b.WriteString(table.String())
		b.WriteString("\n")
	} else {
		b.WriteString("  not loaded\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
