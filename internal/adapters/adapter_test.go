package adapters

import (
	"testing"

	"github.com/mtn/wayfind/internal/config"
	"github.com/mtn/wayfind/internal/dap"
	"github.com/mtn/wayfind/internal/errors"
	"github.com/mtn/wayfind/pkg/types"
)

func TestRegistry_LanguageRouting(t *testing.T) {
	r := NewRegistry(config.Default())

	cases := []struct {
		lang types.Language
		mode types.StartMode
	}{
		{types.LanguagePython, types.ModeAttach},
		{types.LanguageJavaScript, types.ModeLaunchThenAttach},
		{types.LanguageTypeScript, types.ModeLaunchThenAttach},
		{types.LanguageRust, types.ModeLaunch},
		{types.LanguageC, types.ModeLaunch},
		{types.LanguageCpp, types.ModeLaunch},
		{types.LanguageGo, types.ModeLaunch},
	}
	for _, tc := range cases {
		a, err := r.Get(tc.lang)
		if err != nil {
			t.Errorf("Get(%s): %v", tc.lang, err)
			continue
		}
		if a.StartMode() != tc.mode {
			t.Errorf("%s start mode %s, want %s", tc.lang, a.StartMode(), tc.mode)
		}
	}

	// JavaScript and TypeScript share one adapter instance.
	js, _ := r.Get(types.LanguageJavaScript)
	ts, _ := r.Get(types.LanguageTypeScript)
	if js != ts {
		t.Error("javascript and typescript resolved to different adapters")
	}
}

func TestRegistry_UnknownLanguage(t *testing.T) {
	r := NewRegistry(config.Default())
	_, err := r.Get(types.Language("fortran"))
	if errors.CodeOf(err) != errors.CodeNotSupported {
		t.Errorf("got %v, want not-supported", err)
	}
}

func TestDebugpy_AttachArgs(t *testing.T) {
	a := NewDebugpyAdapter(config.DebugpyConfig{PythonPath: "python3"})
	args := a.BuildAttachArgs(types.LaunchSpec{Program: "/tmp/a.py"}, "127.0.0.1:5901")
	if args["host"] != "127.0.0.1" || args["port"] != 5901 {
		t.Errorf("attach args %+v", args)
	}
}

func TestDebugpy_AttachArgs_BadAddressFallsBack(t *testing.T) {
	a := NewDebugpyAdapter(config.DebugpyConfig{PythonPath: "python3"})
	args := a.BuildAttachArgs(types.LaunchSpec{}, "garbage")
	if args["host"] != "127.0.0.1" || args["port"] != 5678 {
		t.Errorf("attach args %+v", args)
	}
}

func TestJSDebug_LaunchArgs(t *testing.T) {
	a := NewJSDebugAdapter(config.JSDebugConfig{NodePath: "node"})
	spec := types.LaunchSpec{
		Program:     "/srv/app/index.js",
		Args:        []string{"--flag"},
		StopOnEntry: true,
	}
	args := a.BuildLaunchArgs(spec, "127.0.0.1:9000")
	if args["type"] != "pwa-node" {
		t.Errorf("launch type %v", args["type"])
	}
	if args["program"] != "/srv/app/index.js" || args["stopOnEntry"] != true {
		t.Errorf("launch args %+v", args)
	}
	// Cwd defaults to the program's directory.
	if args["cwd"] != "/srv/app" {
		t.Errorf("cwd %v, want /srv/app", args["cwd"])
	}

	attach := a.BuildAttachArgs(spec, "127.0.0.1:9000")
	if attach["host"] != "127.0.0.1" || attach["port"] != 9000 {
		t.Errorf("attach args %+v", attach)
	}
}

func TestLLDB_LaunchArgsAndFormatter(t *testing.T) {
	a := NewLLDBAdapter(config.LLDBConfig{Path: "lldb-dap"})
	spec := types.LaunchSpec{Program: "/tmp/bin", Cwd: "/tmp"}
	args := a.BuildLaunchArgs(spec, "")
	if args["program"] != "/tmp/bin" || args["cwd"] != "/tmp" {
		t.Errorf("launch args %+v", args)
	}
	if _, ok := a.Formatter().(dap.LLDBFormatter); !ok {
		t.Errorf("formatter %T, want dap.LLDBFormatter", a.Formatter())
	}

	// Absent cwd stays absent rather than becoming an empty string.
	args = a.BuildLaunchArgs(types.LaunchSpec{Program: "/tmp/bin"}, "")
	if _, present := args["cwd"]; present {
		t.Error("empty cwd was forwarded")
	}
}

func TestDelve_LaunchArgs(t *testing.T) {
	a := NewDelveAdapter(config.DelveConfig{Path: "dlv"})
	args := a.BuildLaunchArgs(types.LaunchSpec{Program: "./cmd/app"}, "")
	if args["mode"] != "debug" || args["program"] != "./cmd/app" {
		t.Errorf("launch args %+v", args)
	}
}

func TestConnector_SessionOptions(t *testing.T) {
	cfg := config.Default()
	spec := types.LaunchSpec{
		Program:     "/tmp/a.py",
		Breakpoints: []types.BreakpointSpec{{Path: "/tmp/a.py", Lines: []int{3}}},
	}
	a := NewDebugpyAdapter(cfg.Adapters.Debugpy)
	c := NewConnector(a, cfg, spec, nil)

	opts := c.SessionOptions(nil)
	if opts.Mode != types.ModeAttach {
		t.Errorf("mode %s", opts.Mode)
	}
	if len(opts.Breakpoints) != 1 {
		t.Errorf("breakpoints %+v", opts.Breakpoints)
	}
	if opts.ChildDial == nil {
		t.Error("TCP adapter should support child connections")
	}
	if opts.RequestTimeout != cfg.RequestTimeout.Std() {
		t.Errorf("request timeout %s", opts.RequestTimeout)
	}

	// Attach args resolve lazily against the connector's endpoint; before any
	// Dial the builder still produces a well-formed shape.
	f, ok := opts.AttachArgs.(dap.ArgsFunc)
	if !ok {
		t.Fatalf("attach args %T, want dap.ArgsFunc", opts.AttachArgs)
	}
	if _, ok := f().(map[string]any); !ok {
		t.Errorf("attach builder returned %T", f())
	}
}

func TestConnector_SessionOptions_StdioDisablesChildDial(t *testing.T) {
	cfg := config.Default()
	cfg.Adapters.LLDB.Stdio = true
	a := NewLLDBAdapter(cfg.Adapters.LLDB)
	c := NewConnector(a, cfg, types.LaunchSpec{Program: "/tmp/bin"}, nil)

	if opts := c.SessionOptions(nil); opts.ChildDial != nil {
		t.Error("stdio adapter cannot dial child connections")
	}
}

func TestSpecModeOverridesAdapterMode(t *testing.T) {
	cfg := config.Default()
	a := NewLLDBAdapter(cfg.Adapters.LLDB)
	spec := types.LaunchSpec{Program: "/tmp/bin", Mode: types.ModeAttach}
	c := NewConnector(a, cfg, spec, nil)

	if opts := c.SessionOptions(nil); opts.Mode != types.ModeAttach {
		t.Errorf("mode %s, want attach override", opts.Mode)
	}
}
