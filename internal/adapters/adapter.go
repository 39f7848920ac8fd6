// Package adapters provides language-specific debug adapter integrations.
//
// Each Adapter knows how to spawn its debugger process (debugpy, the
// vscode-js-debug DAP server, lldb-dap, Delve) and how to shape the
// launch/attach arguments that debugger expects. The Connector glues an
// Adapter to the session core: it spawns, connects with retries, and hands
// back a live connection plus a process handle, and it can dial additional
// connections to the same endpoint for adapter-initiated child sessions.
package adapters

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/mtn/wayfind/internal/config"
	"github.com/mtn/wayfind/internal/dap"
	"github.com/mtn/wayfind/internal/errors"
	"github.com/mtn/wayfind/pkg/types"
)

// Adapter is a language-specific debug adapter integration.
type Adapter interface {
	// Language returns the debuggee language this adapter serves.
	Language() types.Language

	// Spawn starts the debug adapter process, returning the TCP address to
	// connect to. Stdio adapters return an empty address.
	Spawn(ctx context.Context, spec types.LaunchSpec) (address string, cmd *exec.Cmd, err error)

	// StartMode selects the handshake shape this adapter needs.
	StartMode() types.StartMode

	// BuildLaunchArgs shapes the launch request arguments.
	BuildLaunchArgs(spec types.LaunchSpec, address string) map[string]any

	// BuildAttachArgs shapes the attach request arguments.
	BuildAttachArgs(spec types.LaunchSpec, address string) map[string]any

	// Formatter post-processes this backend's evaluate results.
	Formatter() dap.ResultFormatter
}

// StdioAdapter is implemented by adapters that speak DAP over the spawned
// process's stdin/stdout instead of TCP.
type StdioAdapter interface {
	Adapter
	IsStdio() bool
	SpawnStdio(ctx context.Context, spec types.LaunchSpec) (*dap.Transport, *exec.Cmd, error)
}

// Registry holds the registered adapters keyed by language.
type Registry struct {
	adapters map[types.Language]Adapter
}

// NewRegistry builds a registry with the standard adapters.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{adapters: make(map[types.Language]Adapter)}

	r.Register(NewDebugpyAdapter(cfg.Adapters.Debugpy))

	js := NewJSDebugAdapter(cfg.Adapters.JSDebug)
	r.adapters[types.LanguageJavaScript] = js
	r.adapters[types.LanguageTypeScript] = js

	lldb := NewLLDBAdapter(cfg.Adapters.LLDB)
	r.adapters[types.LanguageRust] = lldb
	r.adapters[types.LanguageC] = lldb
	r.adapters[types.LanguageCpp] = lldb

	r.Register(NewDelveAdapter(cfg.Adapters.Delve))
	return r
}

// Register adds or replaces the adapter for its language.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Language()] = a
}

// Get returns the adapter for a language.
func (r *Registry) Get(lang types.Language) (Adapter, error) {
	a, ok := r.adapters[lang]
	if !ok {
		return nil, errors.NotSupported(string(lang))
	}
	return a, nil
}

// Connector binds one adapter and one launch spec to the session core. Its
// Dial method satisfies dap.Dialer, so a session can be restarted by
// dialing again (fresh process, fresh connection, fresh sequence space),
// and DialChild opens sibling connections to the live endpoint for
// startDebugging child sessions.
type Connector struct {
	adapter Adapter
	cfg     *config.Config
	spec    types.LaunchSpec
	log     *zap.Logger

	mu   sync.Mutex
	addr string
}

// NewConnector builds a connector for one debuggee.
func NewConnector(adapter Adapter, cfg *config.Config, spec types.LaunchSpec, log *zap.Logger) *Connector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Connector{adapter: adapter, cfg: cfg, spec: spec, log: log}
}

// Dial spawns the adapter process and connects to it.
func (c *Connector) Dial(ctx context.Context) (*dap.Conn, dap.ProcessHandle, error) {
	if sa, ok := c.adapter.(StdioAdapter); ok && sa.IsStdio() {
		t, cmd, err := sa.SpawnStdio(ctx, c.spec)
		if err != nil {
			return nil, nil, err
		}
		return dap.NewConn(t, c.log), dap.NewCmdHandle(cmd), nil
	}

	address, cmd, err := c.adapter.Spawn(ctx, c.spec)
	if err != nil {
		return nil, nil, err
	}
	handle := dap.NewCmdHandle(cmd)

	t, err := dap.DialTCP(address, c.cfg.ConnectRetries)
	if err != nil {
		// Best-effort cleanup of the process we just spawned.
		_ = handle.Terminate()
		return nil, nil, err
	}

	c.mu.Lock()
	c.addr = address
	c.mu.Unlock()

	c.log.Info("connected to debug adapter",
		zap.String("language", string(c.adapter.Language())),
		zap.String("address", address))
	return dap.NewConn(t, c.log), handle, nil
}

func (c *Connector) address() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

// DialChild opens another connection to the current adapter endpoint.
func (c *Connector) DialChild() (*dap.Conn, error) {
	c.mu.Lock()
	address := c.addr
	c.mu.Unlock()
	if address == "" {
		return nil, fmt.Errorf("no adapter endpoint to dial")
	}
	t, err := dap.DialTCP(address, c.cfg.ConnectRetries)
	if err != nil {
		return nil, err
	}
	return dap.NewConn(t, c.log.With(zap.String("conn", "child"))), nil
}

// SessionOptions assembles dap.Options for this connector's adapter and
// spec: start mode, adapter-shaped launch/attach arguments, breakpoints,
// result formatter, and the configured timeouts.
func (c *Connector) SessionOptions(log *zap.Logger) dap.Options {
	opts := dap.Options{
		Mode:           c.adapter.StartMode(),
		Breakpoints:    c.spec.Breakpoints,
		Formatter:      c.adapter.Formatter(),
		Logger:         log,
		RequestTimeout: c.cfg.RequestTimeout.Std(),
		LaunchTimeout:  c.cfg.LaunchTimeout.Std(),
		StoppedTimeout: c.cfg.StoppedTimeout.Std(),
		StopDrainGrace: c.cfg.StopDrainGrace.Std(),
	}
	if c.spec.Mode != "" {
		opts.Mode = c.spec.Mode
	}
	// Argument builders need the live endpoint, which exists only after
	// Dial; resolve them lazily at send time.
	opts.LaunchArgs = dap.ArgsFunc(func() any {
		return c.adapter.BuildLaunchArgs(c.spec, c.address())
	})
	opts.AttachArgs = dap.ArgsFunc(func() any {
		return c.adapter.BuildAttachArgs(c.spec, c.address())
	})
	if sa, ok := c.adapter.(StdioAdapter); !ok || !sa.IsStdio() {
		opts.ChildDial = c.DialChild
	}
	return opts
}

// findAvailablePort binds port 0 to let the kernel pick a free port.
func findAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	addr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address %T", listener.Addr())
	}
	return addr.Port, nil
}

// buildEnv merges extra variables over the inherited environment.
func buildEnv(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
