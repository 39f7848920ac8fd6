// Package types defines shared data types used across the wayfind DAP core.
package types

// Language represents a supported debuggee language.
type Language string

const (
	LanguagePython     Language = "python"
	LanguageJavaScript Language = "javascript"
	LanguageTypeScript Language = "typescript"
	LanguageGo         Language = "go"
	LanguageRust       Language = "rust"
	LanguageC          Language = "c"
	LanguageCpp        Language = "cpp"
)

// SessionState is a state of the session lifecycle machine.
type SessionState string

const (
	StateIdle         SessionState = "idle"
	StateInitializing SessionState = "initializing"
	StateConfiguring  SessionState = "configuring"
	StateRunning      SessionState = "running"
	StateStopped      SessionState = "stopped"
	StateTerminating  SessionState = "terminating"
	StateTerminated   SessionState = "terminated"
)

// StartMode selects how the session reaches the configuration phase.
type StartMode string

const (
	// ModeLaunch sends a launch request only.
	ModeLaunch StartMode = "launch"
	// ModeAttach sends an attach request only.
	ModeAttach StartMode = "attach"
	// ModeLaunchThenAttach sends launch to start the debuggee host and then
	// attach to complete a reverse handshake. js-debug works this way.
	ModeLaunchThenAttach StartMode = "launch+attach"
)

// BreakpointSpec is an ordered list of 1-based line numbers for one source
// file. Submitting a spec replaces all previously set breakpoints in that
// file; an empty Lines list clears them.
type BreakpointSpec struct {
	Path  string `json:"path"`
	Lines []int  `json:"lines"`
}

// SessionInfo is a point-in-time snapshot of one session.
type SessionInfo struct {
	SessionID string       `json:"sessionId"`
	Language  Language     `json:"language"`
	State     SessionState `json:"state"`
	PID       int          `json:"pid,omitempty"`
	Program   string       `json:"program"`
	Children  int          `json:"children,omitempty"`
}

// LaunchSpec describes a debuggee to launch or attach to.
type LaunchSpec struct {
	Language    Language          `json:"language"`
	Program     string            `json:"program"`
	Args        []string          `json:"args,omitempty"`
	Cwd         string            `json:"cwd,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	StopOnEntry bool              `json:"stopOnEntry,omitempty"`
	Mode        StartMode         `json:"mode,omitempty"`
	Breakpoints []BreakpointSpec  `json:"breakpoints,omitempty"`
}
