package adapters

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/mtn/wayfind/internal/config"
	"github.com/mtn/wayfind/internal/dap"
	"github.com/mtn/wayfind/internal/errors"
	"github.com/mtn/wayfind/pkg/types"
)

// LLDBAdapter debugs native binaries (Rust, C, C++) via lldb-dap. It speaks
// DAP over TCP (`lldb-dap --port N`) or over the process's stdio, and its
// evaluate replies carry lldb's "(type) $N = value" dressing, which the
// LLDBFormatter strips.
type LLDBAdapter struct {
	cfg config.LLDBConfig
}

// NewLLDBAdapter creates the native-code adapter.
func NewLLDBAdapter(cfg config.LLDBConfig) *LLDBAdapter {
	return &LLDBAdapter{cfg: cfg}
}

func (a *LLDBAdapter) Language() types.Language { return types.LanguageRust }

func (a *LLDBAdapter) StartMode() types.StartMode { return types.ModeLaunch }

func (a *LLDBAdapter) Formatter() dap.ResultFormatter { return dap.LLDBFormatter{} }

// IsStdio reports whether this adapter is configured for stdio transport.
func (a *LLDBAdapter) IsStdio() bool { return a.cfg.Stdio }

func (a *LLDBAdapter) Spawn(ctx context.Context, spec types.LaunchSpec) (string, *exec.Cmd, error) {
	port, err := findAvailablePort()
	if err != nil {
		return "", nil, errors.SpawnFailed("lldb-dap", err)
	}
	address := fmt.Sprintf("127.0.0.1:%d", port)

	//nolint:gosec // G204: spawning the adapter is this component's job
	cmd := exec.CommandContext(ctx, a.cfg.Path, "--port", strconv.Itoa(port))
	cmd.Env = buildEnv(spec.Env)
	setProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return "", nil, errors.SpawnFailed("lldb-dap", err)
	}
	return address, cmd, nil
}

// SpawnStdio starts lldb-dap speaking DAP on its stdin/stdout.
func (a *LLDBAdapter) SpawnStdio(ctx context.Context, spec types.LaunchSpec) (*dap.Transport, *exec.Cmd, error) {
	//nolint:gosec // G204: spawning the adapter is this component's job
	cmd := exec.CommandContext(ctx, a.cfg.Path)
	cmd.Env = buildEnv(spec.Env)
	setProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, errors.SpawnFailed("lldb-dap", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, errors.SpawnFailed("lldb-dap", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, errors.SpawnFailed("lldb-dap", err)
	}
	return dap.NewStdioTransport(stdin, stdout), cmd, nil
}

func (a *LLDBAdapter) BuildLaunchArgs(spec types.LaunchSpec, address string) map[string]any {
	args := map[string]any{
		"program":     spec.Program,
		"args":        spec.Args,
		"stopOnEntry": spec.StopOnEntry,
	}
	if spec.Cwd != "" {
		args["cwd"] = spec.Cwd
	}
	return args
}

func (a *LLDBAdapter) BuildAttachArgs(spec types.LaunchSpec, address string) map[string]any {
	return map[string]any{"program": spec.Program}
}
