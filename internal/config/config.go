// Package config provides configuration for the wayfind DAP core.
//
// Configuration controls adapter executable paths, protocol timeouts, the
// stop-drain grace period, and session limits. It can be loaded from a JSON
// file or use defaults that assume the adapters are on PATH.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Config holds the core configuration.
type Config struct {
	// Adapter executables.
	Adapters AdapterConfigs `json:"adapters"`

	// RequestTimeout bounds ordinary request/response round trips.
	RequestTimeout Duration `json:"requestTimeout"`

	// LaunchTimeout bounds launch/attach responses, which some adapters
	// (debugpy) hold back until configurationDone.
	LaunchTimeout Duration `json:"launchTimeout"`

	// StoppedTimeout bounds the wait for the first stopped event.
	StoppedTimeout Duration `json:"stoppedTimeout"`

	// StopDrainGrace is the window with no further stopped event after
	// which the debuggee is presumed to have run to completion. This is a
	// probabilistic heuristic, not a protocol guarantee; raise it for slow
	// targets.
	StopDrainGrace Duration `json:"stopDrainGrace"`

	// ConnectRetries is the number of TCP connect attempts to a freshly
	// spawned adapter, spaced 200ms apart.
	ConnectRetries int `json:"connectRetries"`

	// Session limits.
	MaxSessions    int      `json:"maxSessions"`
	SessionTimeout Duration `json:"sessionTimeout"`
}

// AdapterConfigs holds per-adapter settings.
type AdapterConfigs struct {
	Debugpy DebugpyConfig `json:"python"`
	JSDebug JSDebugConfig `json:"javascript"`
	LLDB    LLDBConfig    `json:"lldb"`
	Delve   DelveConfig   `json:"go"`
}

// DebugpyConfig holds debugpy settings.
type DebugpyConfig struct {
	PythonPath string `json:"pythonPath"`
}

// JSDebugConfig holds vscode-js-debug settings.
type JSDebugConfig struct {
	NodePath   string `json:"nodePath"`
	ServerPath string `json:"serverPath"` // path to dapDebugServer.js
}

// LLDBConfig holds lldb-dap settings.
type LLDBConfig struct {
	Path  string `json:"path"`
	Stdio bool   `json:"stdio"` // connect over stdin/stdout instead of TCP
}

// DelveConfig holds Delve settings.
type DelveConfig struct {
	Path       string `json:"path"`
	BuildFlags string `json:"buildFlags"`
}

// Duration wraps time.Duration with JSON string encoding ("5s", "500ms").
type Duration time.Duration

// UnmarshalJSON accepts either a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON encodes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the default configuration, resolving adapter executables
// from PATH.
func Default() *Config {
	cfg := &Config{
		RequestTimeout: Duration(10 * time.Second),
		LaunchTimeout:  Duration(30 * time.Second),
		StoppedTimeout: Duration(15 * time.Second),
		StopDrainGrace: Duration(1 * time.Second),
		ConnectRetries: 20,
		MaxSessions:    10,
		SessionTimeout: Duration(30 * time.Minute),
	}
	cfg.Adapters.Debugpy.PythonPath = findExecutable("python3", "python")
	cfg.Adapters.JSDebug.NodePath = findExecutable("node")
	cfg.Adapters.LLDB.Path = findExecutable("lldb-dap")
	cfg.Adapters.Delve.Path = findExecutable("dlv")
	return cfg
}

// Load reads configuration from path, layered over defaults. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.MaxSessions <= 0 {
		return fmt.Errorf("maxSessions must be positive, got %d", c.MaxSessions)
	}
	if c.RequestTimeout <= 0 || c.StopDrainGrace <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}

// findExecutable returns the first of names found on PATH, or the first name
// as-is when none resolve.
func findExecutable(names ...string) string {
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return names[0]
}
