package dap

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/go-dap"

	"github.com/mtn/wayfind/internal/wire"
)

// Extraction helpers pull the handful of values the session controller
// needs out of response and event bodies: the stopped thread, the top stack
// frame, and evaluation results.

// StoppedInfo describes why the debuggee stopped.
type StoppedInfo struct {
	Reason      string
	ThreadID    int
	Description string
	AllStopped  bool
}

// ExtractStopped reads a stopped event body. A missing threadId defaults to
// 1, matching adapters that omit it for single-threaded targets.
func ExtractStopped(ev *wire.Message) (*StoppedInfo, error) {
	var body dap.StoppedEventBody
	if err := ev.DecodeBody(&body); err != nil {
		return nil, err
	}
	info := &StoppedInfo{
		Reason:      body.Reason,
		ThreadID:    body.ThreadId,
		Description: body.Description,
		AllStopped:  body.AllThreadsStopped,
	}
	if info.ThreadID == 0 {
		info.ThreadID = 1
	}
	return info, nil
}

// Frame is the slice of a stack frame the controller cares about: the
// adapter-assigned id (valid only while the thread stays stopped) and the
// source position.
type Frame struct {
	ID     int
	Name   string
	Line   int
	Column int
	Source string
}

// ExtractTopFrame reads a stackTrace response body and returns its first
// frame.
func ExtractTopFrame(resp *wire.Message) (*Frame, error) {
	var body dap.StackTraceResponseBody
	if err := resp.DecodeBody(&body); err != nil {
		return nil, err
	}
	if len(body.StackFrames) == 0 {
		return nil, fmt.Errorf("stackTrace returned no frames")
	}
	f := body.StackFrames[0]
	frame := &Frame{ID: f.Id, Name: f.Name, Line: f.Line, Column: f.Column}
	if f.Source != nil {
		frame.Source = f.Source.Path
	}
	return frame, nil
}

// ExtractEvalResult reads an evaluate response body and returns its result
// string.
func ExtractEvalResult(resp *wire.Message) (string, error) {
	var body dap.EvaluateResponseBody
	if err := resp.DecodeBody(&body); err != nil {
		return "", err
	}
	return body.Result, nil
}

// ResultFormatter post-processes backend-specific evaluation result strings.
// Formatting quirks belong to individual backends, not to the protocol core,
// so the controller applies whichever formatter it was given.
type ResultFormatter interface {
	Format(raw string) string
}

// PlainFormatter returns results unchanged.
type PlainFormatter struct{}

func (PlainFormatter) Format(raw string) string { return raw }

// LLDBFormatter strips the dressing lldb-dap wraps around expression
// results, e.g.
//
//	(lldb) p a + b
//	(int) $0 = 42
//
// becomes "42". Unrecognized shapes are returned trimmed.
type LLDBFormatter struct{}

var (
	lldbFullResult = regexp.MustCompile(`\(lldb\).*\n\(\w+\)\s+\$\d+\s+=\s+(.+)`)
	lldbBareResult = regexp.MustCompile(`\(\w+\)\s+\$\d+\s+=\s+(.+)`)
)

func (LLDBFormatter) Format(raw string) string {
	if m := lldbFullResult.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := lldbBareResult.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(raw)
}
