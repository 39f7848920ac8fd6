package adapters

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"

	"github.com/mtn/wayfind/internal/config"
	"github.com/mtn/wayfind/internal/dap"
	"github.com/mtn/wayfind/internal/errors"
	"github.com/mtn/wayfind/pkg/types"
)

// DebugpyAdapter debugs Python via debugpy. The debuggee is launched under
// `python -m debugpy --listen <addr> --wait-for-client <program>`, and the
// client completes the handshake with an attach request carrying the
// endpoint. debugpy holds the attach response until configurationDone.
type DebugpyAdapter struct {
	cfg config.DebugpyConfig
}

// NewDebugpyAdapter creates the Python adapter.
func NewDebugpyAdapter(cfg config.DebugpyConfig) *DebugpyAdapter {
	return &DebugpyAdapter{cfg: cfg}
}

func (a *DebugpyAdapter) Language() types.Language { return types.LanguagePython }

func (a *DebugpyAdapter) StartMode() types.StartMode { return types.ModeAttach }

func (a *DebugpyAdapter) Formatter() dap.ResultFormatter { return dap.PlainFormatter{} }

func (a *DebugpyAdapter) Spawn(ctx context.Context, spec types.LaunchSpec) (string, *exec.Cmd, error) {
	port, err := findAvailablePort()
	if err != nil {
		return "", nil, errors.SpawnFailed("debugpy", err)
	}
	address := fmt.Sprintf("127.0.0.1:%d", port)

	args := []string{"-m", "debugpy", "--listen", address, "--wait-for-client", spec.Program}
	args = append(args, spec.Args...)

	//nolint:gosec // G204: spawning the debuggee is this component's job
	cmd := exec.CommandContext(ctx, a.cfg.PythonPath, args...)
	cmd.Env = buildEnv(spec.Env)
	if spec.Cwd != "" {
		cmd.Dir = spec.Cwd
	}
	setProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return "", nil, errors.SpawnFailed("debugpy", err)
	}
	return address, cmd, nil
}

func (a *DebugpyAdapter) BuildLaunchArgs(spec types.LaunchSpec, address string) map[string]any {
	// debugpy is attach-only in this flow; launch is unused.
	return map[string]any{
		"program":     spec.Program,
		"args":        spec.Args,
		"cwd":         spec.Cwd,
		"stopOnEntry": spec.StopOnEntry,
	}
}

func (a *DebugpyAdapter) BuildAttachArgs(spec types.LaunchSpec, address string) map[string]any {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		host, portStr = "127.0.0.1", "5678"
	}
	port, _ := strconv.Atoi(portStr)
	return map[string]any{
		"host": host,
		"port": port,
	}
}
