package model

// SubmitParams is the payload of the "submit" daemon command.
type SubmitParams struct {
	Label string   `json:"label"`
	Args  []string `json:"args"`
	Focus bool     `json:"focus"`
}

// SubmitResult reports where the command landed in the queue.
// Position 0 means it was picked up immediately.
type SubmitResult struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}

// ExecuteParams is the payload of the "execute" daemon command.
type ExecuteParams struct {
	Args  []string `json:"args"`
	Focus bool     `json:"focus"`
}

// ExecuteResult carries the completed process of an immediate execution.
type ExecuteResult struct {
	Command    string `json:"command"`
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	DurationMs int64  `json:"duration_ms"`
}

type CancelResult struct {
	Cancelled bool   `json:"cancelled"`
	Label     string `json:"label,omitempty"`
}

// QueueCounters accumulate over the lifetime of the daemon.
type QueueCounters struct {
	Submitted uint64 `json:"submitted" yaml:"submitted"`
	Succeeded uint64 `json:"succeeded" yaml:"succeeded"`
	Failed    uint64 `json:"failed" yaml:"failed"`
	Cancelled uint64 `json:"cancelled" yaml:"cancelled"`
}

type QueueStatus struct {
	State    QueueState    `json:"state"`
	Running  string        `json:"running,omitempty"`
	Pending  []string      `json:"pending"`
	Counters QueueCounters `json:"counters"`
}

type DetectionStatus struct {
	PythonInstalled bool   `json:"python_installed"`
	DBTInstalled    bool   `json:"dbt_installed"`
	Version         string `json:"version,omitempty"`
	Error           string `json:"error,omitempty"`
	CheckedAt       string `json:"checked_at,omitempty"`
}

type ProjectStatus struct {
	Name       string   `json:"name"`
	Root       string   `json:"root"`
	Profile    string   `json:"profile,omitempty"`
	TargetPath string   `json:"target_path"`
	ModelPaths []string `json:"model_paths"`
}

// StatusResult is returned by the "status" daemon command.
type StatusResult struct {
	PID       int             `json:"pid"`
	Queue     QueueStatus     `json:"queue"`
	Detection DetectionStatus `json:"detection"`
	Project   *ProjectStatus  `json:"project,omitempty"`
}
