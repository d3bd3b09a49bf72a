// Package model defines dbtpilot's configuration and the payloads exchanged between CLI and daemon.
package model

type Config struct {
	SchemaVersion int    `yaml:"schema_version" mapstructure:"schema_version"`
	FileType      string `yaml:"file_type" mapstructure:"file_type"`

	Project ProjectConfig `yaml:"project" mapstructure:"project"`
	Python  PythonConfig  `yaml:"python" mapstructure:"python"`
	Queue   QueueConfig   `yaml:"queue" mapstructure:"queue"`
	Daemon  DaemonConfig  `yaml:"daemon" mapstructure:"daemon"`
	Notify  NotifyConfig  `yaml:"notify" mapstructure:"notify"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

type ProjectConfig struct {
	Name string `yaml:"name" mapstructure:"name"`
	// Dir is the dbt project root (the directory holding dbt_project.yml).
	Dir     string `yaml:"dir" mapstructure:"dir"`
	Created string `yaml:"created" mapstructure:"created"`
}

type PythonConfig struct {
	// Path is the interpreter of the environment dbt is installed in.
	Path string            `yaml:"path" mapstructure:"path"`
	Env  map[string]string `yaml:"env,omitempty" mapstructure:"env"`
}

type QueueConfig struct {
	EventBufferSize int   `yaml:"event_buffer_size" mapstructure:"event_buffer_size"`
	AuditMaxBytes   int64 `yaml:"audit_max_bytes" mapstructure:"audit_max_bytes"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec" mapstructure:"shutdown_timeout_sec"`
	ConnTimeoutSec     int `yaml:"conn_timeout_sec" mapstructure:"conn_timeout_sec"`
	// ExecuteTimeoutSec bounds UDS connections for the execute command, which
	// hold the connection open until dbt exits.
	ExecuteTimeoutSec int `yaml:"execute_timeout_sec" mapstructure:"execute_timeout_sec"`
}

type NotifyConfig struct {
	Desktop bool `yaml:"desktop" mapstructure:"desktop"`
}

type MetricsConfig struct {
	// Addr enables the /metrics and /healthz listener when non-empty.
	Addr string `yaml:"addr" mapstructure:"addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

const (
	ConfigSchemaVersion = 1
	ConfigFileType      = "config"
)

// DefaultConfig returns the configuration written by setup and used as the base
// for every load.
func DefaultConfig() Config {
	return Config{
		SchemaVersion: ConfigSchemaVersion,
		FileType:      ConfigFileType,
		Python: PythonConfig{Env: map[string]string{}},
		Queue: QueueConfig{
			EventBufferSize: 256,
			AuditMaxBytes:   10 * 1024 * 1024,
		},
		Daemon: DaemonConfig{
			ShutdownTimeoutSec: 30,
			ConnTimeoutSec:     30,
			ExecuteTimeoutSec:  3600,
		},
		Notify:  NotifyConfig{Desktop: true},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}
