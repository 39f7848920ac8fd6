package adapters

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/mtn/wayfind/internal/config"
	"github.com/mtn/wayfind/internal/dap"
	"github.com/mtn/wayfind/internal/errors"
	"github.com/mtn/wayfind/pkg/types"
)

// DelveAdapter debugs Go programs via `dlv dap`.
type DelveAdapter struct {
	cfg config.DelveConfig
}

// NewDelveAdapter creates the Go adapter.
func NewDelveAdapter(cfg config.DelveConfig) *DelveAdapter {
	return &DelveAdapter{cfg: cfg}
}

func (a *DelveAdapter) Language() types.Language { return types.LanguageGo }

func (a *DelveAdapter) StartMode() types.StartMode { return types.ModeLaunch }

func (a *DelveAdapter) Formatter() dap.ResultFormatter { return dap.PlainFormatter{} }

func (a *DelveAdapter) Spawn(ctx context.Context, spec types.LaunchSpec) (string, *exec.Cmd, error) {
	port, err := findAvailablePort()
	if err != nil {
		return "", nil, errors.SpawnFailed("dlv", err)
	}
	address := fmt.Sprintf("127.0.0.1:%d", port)

	args := []string{"dap", "--listen", address}
	if a.cfg.BuildFlags != "" {
		args = append(args, "--build-flags", a.cfg.BuildFlags)
	}

	//nolint:gosec // G204: spawning the adapter is this component's job
	cmd := exec.CommandContext(ctx, a.cfg.Path, args...)
	cmd.Env = buildEnv(spec.Env)
	setProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return "", nil, errors.SpawnFailed("dlv", err)
	}
	return address, cmd, nil
}

func (a *DelveAdapter) BuildLaunchArgs(spec types.LaunchSpec, address string) map[string]any {
	args := map[string]any{
		"mode":        "debug",
		"program":     spec.Program,
		"args":        spec.Args,
		"stopOnEntry": spec.StopOnEntry,
	}
	if spec.Cwd != "" {
		args["cwd"] = spec.Cwd
	}
	return args
}

func (a *DelveAdapter) BuildAttachArgs(spec types.LaunchSpec, address string) map[string]any {
	return map[string]any{"mode": "local"}
}
