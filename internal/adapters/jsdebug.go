package adapters

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/mtn/wayfind/internal/config"
	"github.com/mtn/wayfind/internal/dap"
	"github.com/mtn/wayfind/internal/errors"
	"github.com/mtn/wayfind/pkg/types"
)

// JSDebugAdapter debugs JavaScript/TypeScript via vscode-js-debug's
// standalone DAP server (dapDebugServer.js). The handshake is
// launch-then-attach: launch starts the Node debuggee, attach completes the
// reverse wiring. js-debug also issues startDebugging reverse requests to
// hand each spawned target its own child session.
type JSDebugAdapter struct {
	cfg config.JSDebugConfig
}

// NewJSDebugAdapter creates the JavaScript adapter.
func NewJSDebugAdapter(cfg config.JSDebugConfig) *JSDebugAdapter {
	return &JSDebugAdapter{cfg: cfg}
}

func (a *JSDebugAdapter) Language() types.Language { return types.LanguageJavaScript }

func (a *JSDebugAdapter) StartMode() types.StartMode { return types.ModeLaunchThenAttach }

func (a *JSDebugAdapter) Formatter() dap.ResultFormatter { return dap.PlainFormatter{} }

func (a *JSDebugAdapter) Spawn(ctx context.Context, spec types.LaunchSpec) (string, *exec.Cmd, error) {
	if a.cfg.ServerPath == "" {
		return "", nil, errors.SpawnFailed("js-debug", fmt.Errorf("dapDebugServer.js path not configured"))
	}
	port, err := findAvailablePort()
	if err != nil {
		return "", nil, errors.SpawnFailed("js-debug", err)
	}
	address := fmt.Sprintf("127.0.0.1:%d", port)

	//nolint:gosec // G204: spawning the adapter is this component's job
	cmd := exec.CommandContext(ctx, a.cfg.NodePath, a.cfg.ServerPath, strconv.Itoa(port), "127.0.0.1")
	cmd.Env = buildEnv(spec.Env)
	setProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return "", nil, errors.SpawnFailed("js-debug", err)
	}
	return address, cmd, nil
}

func (a *JSDebugAdapter) BuildLaunchArgs(spec types.LaunchSpec, address string) map[string]any {
	cwd := spec.Cwd
	if cwd == "" {
		cwd = filepath.Dir(spec.Program)
	}
	return map[string]any{
		"type":        "pwa-node",
		"program":     spec.Program,
		"args":        spec.Args,
		"cwd":         cwd,
		"stopOnEntry": spec.StopOnEntry,
	}
}

func (a *JSDebugAdapter) BuildAttachArgs(spec types.LaunchSpec, address string) map[string]any {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return map[string]any{"host": "127.0.0.1", "port": 0}
	}
	port, _ := strconv.Atoi(portStr)
	return map[string]any{
		"host": host,
		"port": port,
	}
}
