// Command wayfind-dap runs one scripted debug session against a language's
// debug adapter: set breakpoints, stop, inspect, evaluate, and run the
// debuggee to completion.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/mtn/wayfind/internal/adapters"
	"github.com/mtn/wayfind/internal/config"
	"github.com/mtn/wayfind/internal/dap"
	"github.com/mtn/wayfind/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	language := flag.String("lang", "python", "Debuggee language: python, javascript, rust, go")
	program := flag.String("program", "", "Path to the program to debug")
	breakLines := flag.String("break", "", "Comma-separated 1-based breakpoint lines in the program")
	expression := flag.String("eval", "", "Expression to evaluate at each stop")
	stopOnEntry := flag.Bool("stop-on-entry", false, "Stop at program entry")
	verbose := flag.Bool("v", false, "Verbose protocol logging")
	flag.Parse()

	if *program == "" {
		fmt.Fprintln(os.Stderr, "usage: wayfind-dap -lang <language> -program <path> [-break 15,19] [-eval expr]")
		os.Exit(2)
	}

	log, err := buildLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}

	lines, err := parseLines(*breakLines)
	if err != nil {
		log.Fatal("invalid -break value", zap.Error(err))
	}

	spec := types.LaunchSpec{
		Language:    types.Language(*language),
		Program:     *program,
		StopOnEntry: *stopOnEntry,
	}
	if len(lines) > 0 {
		spec.Breakpoints = []types.BreakpointSpec{{Path: *program, Lines: lines}}
	}

	if err := run(cfg, spec, *expression, log); err != nil {
		log.Fatal("session failed", zap.Error(err))
	}
}

func run(cfg *config.Config, spec types.LaunchSpec, expression string, log *zap.Logger) error {
	registry := adapters.NewRegistry(cfg)
	adapter, err := registry.Get(spec.Language)
	if err != nil {
		return err
	}

	connector := adapters.NewConnector(adapter, cfg, spec, log)
	opts := connector.SessionOptions(log)
	opts.OnStopped = func(s *dap.Session, info *dap.StoppedInfo) {
		reportStop(s, info, expression)
	}

	session := dap.NewSession("main", connector.Dial, opts)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	defer session.Close()

	if err := session.Start(ctx); err != nil {
		return err
	}

	expectStop := spec.StopOnEntry || len(spec.Breakpoints) > 0
	if expectStop {
		info, err := session.WaitStopped(cfg.StoppedTimeout.Std())
		if err != nil {
			return err
		}
		reportStop(session, info, expression)
	}

	if err := session.RunToCompletion(); err != nil {
		return err
	}
	if err := session.WaitTerminated(cfg.StoppedTimeout.Std()); err != nil {
		log.Warn("no terminal signal observed", zap.Error(err))
	}
	return session.Terminate()
}

func reportStop(s *dap.Session, info *dap.StoppedInfo, expression string) {
	frame, err := s.StackTrace()
	if err != nil {
		fmt.Printf("stopped (%s) thread %d\n", info.Reason, info.ThreadID)
		return
	}
	fmt.Printf("stopped (%s) thread %d at %s:%d\n", info.Reason, info.ThreadID, frame.Source, frame.Line)
	if expression != "" {
		result, err := s.Evaluate(expression, "hover")
		if err != nil {
			fmt.Printf("  %s = <error: %v>\n", expression, err)
			return
		}
		fmt.Printf("  %s = %s\n", expression, result)
	}
}

func parseLines(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	lines := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 1 {
			return nil, fmt.Errorf("bad line number %q", p)
		}
		lines = append(lines, n)
	}
	return lines, nil
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}
