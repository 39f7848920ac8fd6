package dap

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/go-dap"
	"go.uber.org/zap"

	"github.com/mtn/wayfind/internal/errors"
	"github.com/mtn/wayfind/internal/wire"
	"github.com/mtn/wayfind/pkg/types"
)

// ProcessHandle is the process-launcher collaborator: a running adapter or
// debuggee process the session can terminate or wait on.
type ProcessHandle interface {
	Terminate() error
	// Wait blocks until the process exits or the timeout elapses, returning
	// the exit code.
	Wait(timeout time.Duration) (int, error)
}

// Dialer establishes the session's connection, spawning the adapter process
// when needed. Restart calls it again, so it must be reusable. The returned
// handle may be nil when the dialer attaches to an externally managed
// process.
type Dialer func(ctx context.Context) (*Conn, ProcessHandle, error)

// ChildDialer opens an additional connection to the same adapter endpoint,
// used when the adapter requests a child debug session via startDebugging.
type ChildDialer func() (*Conn, error)

// ArgsFunc defers launch/attach argument construction until the request is
// actually sent, after the dialer has established the endpoint.
type ArgsFunc func() any

// Options configures a Session.
type Options struct {
	Mode        types.StartMode
	LaunchArgs  any
	AttachArgs  any
	Breakpoints []types.BreakpointSpec

	// ChildDial enables adapter-initiated child sessions. Nil disables them:
	// startDebugging is still acknowledged, but no child connects (stdio
	// adapters cannot accept a second stream).
	ChildDial ChildDialer

	// Formatter post-processes evaluate results. Defaults to PlainFormatter.
	Formatter ResultFormatter

	// OnStopped is invoked for every stop observed by RunToCompletion.
	OnStopped func(s *Session, info *StoppedInfo)

	Logger *zap.Logger

	RequestTimeout time.Duration // default 10s
	LaunchTimeout  time.Duration // default 30s
	StoppedTimeout time.Duration // default 15s

	// StopDrainGrace is the window with no further stopped event after which
	// the debuggee is presumed done. A heuristic, not a protocol guarantee.
	StopDrainGrace time.Duration // default 1s
}

func (o *Options) fillDefaults() {
	if o.Mode == "" {
		o.Mode = types.ModeLaunch
	}
	if o.Formatter == nil {
		o.Formatter = PlainFormatter{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.LaunchTimeout == 0 {
		o.LaunchTimeout = 30 * time.Second
	}
	if o.StoppedTimeout == 0 {
		o.StoppedTimeout = 15 * time.Second
	}
	if o.StopDrainGrace == 0 {
		o.StopDrainGrace = time.Second
	}
}

// Session drives the DAP lifecycle over one parent connection and any child
// connections the adapter spawns.
//
// threadID and frameID are snapshots of the most recent stop; both are
// invalidated the moment the thread resumes and re-acquired after the next
// stop.
type Session struct {
	ID   string
	dial Dialer
	opts Options
	log  *zap.Logger

	mu           sync.RWMutex
	state        types.SessionState
	conn         *Conn
	process      ProcessHandle
	threadID     int
	frameID      int
	hasFrame     bool
	capabilities dap.Capabilities
	children     []*Session

	// Deferred launch/attach response seqs; some adapters hold these until
	// after configurationDone.
	pendingStart []pendingRequest
}

type pendingRequest struct {
	command string
	seq     int
}

// NewSession builds a session in the Idle state. Start runs the handshake.
func NewSession(id string, dial Dialer, opts Options) *Session {
	opts.fillDefaults()
	return &Session{
		ID:    id,
		dial:  dial,
		opts:  opts,
		log:   opts.Logger.With(zap.String("session", id)),
		state: types.StateIdle,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() types.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ThreadID returns the thread from the most recent stop, or 0 while running.
func (s *Session) ThreadID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threadID
}

// Capabilities returns the adapter capabilities from initialize.
func (s *Session) Capabilities() dap.Capabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capabilities
}

// Children returns the child sessions spawned by reverse requests.
func (s *Session) Children() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, len(s.children))
	copy(out, s.children)
	return out
}

func (s *Session) setState(next types.SessionState) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	if prev != next {
		s.log.Info("state transition",
			zap.String("from", string(prev)), zap.String("to", string(next)))
	}
}

// Start dials the adapter and runs the canonical sequence: initialize,
// launch and/or attach, wait for the initialized event, set breakpoints,
// configurationDone. On return the session is Running (or already Stopped if
// stopOnEntry fired first). Any failure tears the session down.
func (s *Session) Start(ctx context.Context) error {
	conn, proc, err := s.dial(ctx)
	if err != nil {
		return errors.Phase("initialize", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.process = proc
	s.pendingStart = nil
	s.mu.Unlock()

	if err := s.startOnConn(conn); err != nil {
		s.Close()
		return err
	}
	return nil
}

// startOnConn runs the handshake on an already-established connection. Child
// sessions enter here directly.
func (s *Session) startOnConn(conn *Conn) error {
	conn.OnReverseRequest(s.handleReverseRequest)

	s.setState(types.StateInitializing)
	if err := s.initialize(conn); err != nil {
		return errors.Phase("initialize", err)
	}

	if err := s.startDebuggee(conn); err != nil {
		return err
	}

	// The initialized event may race with the launch/attach response; wait
	// for the event explicitly rather than assuming an ordering.
	if _, err := conn.AwaitEvent("initialized", s.opts.RequestTimeout); err != nil {
		return errors.Phase("initialize", err)
	}

	s.setState(types.StateConfiguring)
	for _, bp := range s.opts.Breakpoints {
		if err := s.setBreakpoints(conn, bp); err != nil {
			// A rejected breakpoint is not fatal to the session.
			s.log.Warn("setBreakpoints failed",
				zap.String("path", bp.Path), zap.Error(err))
		}
	}
	if _, err := conn.Call("configurationDone", struct{}{}, s.opts.RequestTimeout); err != nil {
		return errors.Phase("configure", err)
	}

	if err := s.collectStartResponses(conn); err != nil {
		return err
	}

	s.setState(types.StateRunning)
	return nil
}

// initializeArguments mirrors the client capability flags the wayfind
// harnesses always send. This is a superset of go-dap's typed struct: some
// adapters key off flags (supportsEvaluateForHovers) that the published
// schema files under adapter capabilities.
type initializeArguments struct {
	ClientID                      string `json:"clientID"`
	ClientName                    string `json:"clientName"`
	AdapterID                     string `json:"adapterID"`
	Locale                        string `json:"locale"`
	LinesStartAt1                 bool   `json:"linesStartAt1"`
	ColumnsStartAt1               bool   `json:"columnsStartAt1"`
	PathFormat                    string `json:"pathFormat"`
	SupportsVariableType          bool   `json:"supportsVariableType"`
	SupportsEvaluateForHovers     bool   `json:"supportsEvaluateForHovers"`
	SupportsStartDebuggingRequest bool   `json:"supportsStartDebuggingRequest"`
}

func (s *Session) initialize(conn *Conn) error {
	args := initializeArguments{
		ClientID:                      "wayfind",
		ClientName:                    "Wayfind",
		AdapterID:                     "wayfind",
		Locale:                        "en-US",
		LinesStartAt1:                 true,
		ColumnsStartAt1:               true,
		PathFormat:                    "path",
		SupportsVariableType:          true,
		SupportsEvaluateForHovers:     true,
		SupportsStartDebuggingRequest: true,
	}
	resp, err := conn.Call("initialize", args, s.opts.RequestTimeout)
	if err != nil {
		return err
	}
	var caps dap.Capabilities
	if err := resp.DecodeBody(&caps); err != nil {
		return err
	}
	s.mu.Lock()
	s.capabilities = caps
	s.mu.Unlock()
	return nil
}

// startDebuggee issues launch and/or attach per the start mode. Responses
// are deferred: debugpy and js-debug do not answer until configuration
// completes, so the seqs are collected after configurationDone.
func (s *Session) startDebuggee(conn *Conn) error {
	send := func(command string, args any) error {
		if f, ok := args.(ArgsFunc); ok {
			args = f()
		}
		if args == nil {
			args = struct{}{}
		}
		seq, err := conn.Send(command, args)
		if err != nil {
			return errors.Phase(command, err)
		}
		s.mu.Lock()
		s.pendingStart = append(s.pendingStart, pendingRequest{command, seq})
		s.mu.Unlock()
		return nil
	}

	switch s.opts.Mode {
	case types.ModeLaunch:
		return send("launch", s.opts.LaunchArgs)
	case types.ModeAttach:
		return send("attach", s.opts.AttachArgs)
	case types.ModeLaunchThenAttach:
		// js-debug reverse handshake: launch starts the debuggee host,
		// attach completes the wiring.
		if err := send("launch", s.opts.LaunchArgs); err != nil {
			return err
		}
		return send("attach", s.opts.AttachArgs)
	default:
		return errors.Phase("launch", fmt.Errorf("unknown start mode %q", s.opts.Mode))
	}
}

func (s *Session) collectStartResponses(conn *Conn) error {
	s.mu.Lock()
	pending := s.pendingStart
	s.pendingStart = nil
	s.mu.Unlock()

	for _, p := range pending {
		resp, err := conn.AwaitResponse(p.seq, s.opts.LaunchTimeout)
		if err != nil {
			return errors.Phase(p.command, err)
		}
		if !resp.Success {
			return errors.Phase(p.command, errors.AdapterError(p.command, resp.ErrMessage))
		}
	}
	return nil
}

func (s *Session) setBreakpoints(conn *Conn, spec types.BreakpointSpec) error {
	bps := make([]dap.SourceBreakpoint, len(spec.Lines))
	for i, line := range spec.Lines {
		bps[i] = dap.SourceBreakpoint{Line: line}
	}
	args := dap.SetBreakpointsArguments{
		Source: dap.Source{
			Path: spec.Path,
			Name: filepath.Base(spec.Path),
		},
		Breakpoints: bps,
	}
	_, err := conn.Call("setBreakpoints", args, s.opts.RequestTimeout)
	if err != nil {
		return errors.Phase("breakpoints", err)
	}
	return nil
}

// WaitStopped blocks until the debuggee stops (breakpoint, entry, step) and
// records the stopped thread.
func (s *Session) WaitStopped(timeout time.Duration) (*StoppedInfo, error) {
	conn := s.connection()
	if conn == nil {
		return nil, errors.Phase("stopped-wait", errors.ConnClosed(nil))
	}
	ev, err := conn.AwaitEvent("stopped", timeout)
	if err != nil {
		return nil, errors.Phase("stopped-wait", err)
	}
	info, err := ExtractStopped(ev)
	if err != nil {
		return nil, errors.Phase("stopped-wait", err)
	}
	s.mu.Lock()
	s.state = types.StateStopped
	s.threadID = info.ThreadID
	s.hasFrame = false
	s.mu.Unlock()
	s.log.Info("stopped",
		zap.String("reason", info.Reason), zap.Int("threadId", info.ThreadID))
	return info, nil
}

// StackTrace fetches the top stack frame of the stopped thread, caching its
// id for subsequent Evaluate calls.
func (s *Session) StackTrace() (*Frame, error) {
	conn := s.connection()
	if conn == nil {
		return nil, errors.Phase("stackTrace", errors.ConnClosed(nil))
	}
	s.mu.RLock()
	threadID := s.threadID
	s.mu.RUnlock()

	args := dap.StackTraceArguments{ThreadId: threadID, StartFrame: 0, Levels: 1}
	resp, err := conn.Call("stackTrace", args, s.opts.RequestTimeout)
	if err != nil {
		return nil, errors.Phase("stackTrace", err)
	}
	frame, err := ExtractTopFrame(resp)
	if err != nil {
		return nil, errors.Phase("stackTrace", err)
	}
	s.mu.Lock()
	s.frameID = frame.ID
	s.hasFrame = true
	s.mu.Unlock()
	return frame, nil
}

// Evaluate evaluates an expression in the given context ("hover" or "repl")
// against the current top frame, fetching one if none is cached. The result
// passes through the session's ResultFormatter.
func (s *Session) Evaluate(expression, context string) (string, error) {
	s.mu.RLock()
	hasFrame := s.hasFrame
	s.mu.RUnlock()
	if !hasFrame {
		if _, err := s.StackTrace(); err != nil {
			return "", err
		}
	}

	s.mu.RLock()
	frameID := s.frameID
	s.mu.RUnlock()

	conn := s.connection()
	if conn == nil {
		return "", errors.Phase("evaluate", errors.ConnClosed(nil))
	}
	args := dap.EvaluateArguments{
		Expression: expression,
		Context:    context,
		FrameId:    frameID,
	}
	resp, err := conn.Call("evaluate", args, s.opts.RequestTimeout)
	if err != nil {
		return "", errors.Phase("evaluate", err)
	}
	raw, err := ExtractEvalResult(resp)
	if err != nil {
		return "", errors.Phase("evaluate", err)
	}
	return s.opts.Formatter.Format(raw), nil
}

// StepOver executes one step-over and returns the new top frame once the
// resulting stop arrives.
func (s *Session) StepOver() (*Frame, error) {
	conn := s.connection()
	if conn == nil {
		return nil, errors.Phase("continue", errors.ConnClosed(nil))
	}
	s.mu.Lock()
	threadID := s.threadID
	s.state = types.StateRunning
	s.hasFrame = false
	s.mu.Unlock()

	if _, err := conn.Call("next", dap.NextArguments{ThreadId: threadID}, s.opts.RequestTimeout); err != nil {
		return nil, errors.Phase("continue", err)
	}
	if _, err := s.WaitStopped(s.opts.StoppedTimeout); err != nil {
		return nil, err
	}
	return s.StackTrace()
}

// Continue resumes the stopped thread. The cached threadID/frameID become
// stale immediately.
func (s *Session) Continue() error {
	conn := s.connection()
	if conn == nil {
		return errors.Phase("continue", errors.ConnClosed(nil))
	}
	s.mu.Lock()
	threadID := s.threadID
	s.state = types.StateRunning
	s.threadID = 0
	s.hasFrame = false
	s.mu.Unlock()

	if _, err := conn.Call("continue", dap.ContinueArguments{ThreadId: threadID}, s.opts.RequestTimeout); err != nil {
		return errors.Phase("continue", err)
	}
	return nil
}

// RunToCompletion resumes the debuggee and answers every further stop with
// another continue until no stopped event arrives within the drain grace
// window. Absence of a stop within the window is the termination heuristic:
// DAP has no "no more breakpoints" signal, so a quiet window is read as
// done.
func (s *Session) RunToCompletion() error {
	if s.State() == types.StateStopped {
		if err := s.Continue(); err != nil {
			return err
		}
	}
	for {
		info, err := s.WaitStopped(s.opts.StopDrainGrace)
		if err != nil {
			if errors.CodeOf(err) == errors.CodeEventTimeout {
				return nil
			}
			if errors.CodeOf(err) == errors.CodeConnClosed {
				// Adapter hung up after the debuggee finished.
				return nil
			}
			return err
		}
		if s.opts.OnStopped != nil {
			s.opts.OnStopped(s, info)
		}
		if err := s.Continue(); err != nil {
			return err
		}
	}
}

// WaitTerminated blocks until a terminal signal: a terminated event, an
// exited event, or debuggee process exit, whichever comes first.
func (s *Session) WaitTerminated(timeout time.Duration) error {
	conn := s.connection()
	if conn == nil {
		s.setState(types.StateTerminated)
		return nil
	}
	s.mu.RLock()
	proc := s.process
	s.mu.RUnlock()

	done := make(chan struct{})
	defer close(done)
	result := make(chan error, 3)

	// Losing awaiters are canceled when the first terminal signal wins, so
	// they do not linger as registered waiters and eat a later event.
	await := func(event string) {
		_, err := conn.awaitEvent(event, timeout, done)
		select {
		case result <- err:
		case <-done:
		}
	}
	go await("terminated")
	go await("exited")
	if proc != nil {
		go func() {
			_, err := proc.Wait(timeout)
			select {
			case result <- err:
			case <-done:
			}
		}()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	var firstErr error
	for {
		select {
		case err := <-result:
			if err == nil || errors.CodeOf(err) == errors.CodeConnClosed {
				s.setState(types.StateTerminated)
				return nil
			}
			if firstErr == nil {
				firstErr = err
			}
		case <-timer.C:
			if firstErr == nil {
				firstErr = errors.EventTimeout("terminated", timeout)
			}
			return errors.Phase("terminate", firstErr)
		}
	}
}

// Terminate ends the session explicitly: disconnect with
// terminateDebuggee=true, then tear everything down. Children go first.
func (s *Session) Terminate() error {
	s.setState(types.StateTerminating)

	conn := s.connection()
	if conn != nil && conn.Alive() {
		args := dap.DisconnectArguments{TerminateDebuggee: true}
		if _, err := conn.Call("disconnect", args, s.opts.RequestTimeout); err != nil {
			// The adapter may have gone away with the debuggee; teardown
			// proceeds regardless.
			s.log.Debug("disconnect failed", zap.Error(err))
		}
	}
	s.Close()
	return nil
}

// Close releases every session resource: child sessions, the connection,
// and the adapter process. Safe to call more than once and on any failure
// path.
func (s *Session) Close() {
	s.mu.Lock()
	children := s.children
	conn := s.conn
	proc := s.process
	s.children = nil
	s.conn = nil
	s.process = nil
	s.mu.Unlock()

	for _, child := range children {
		child.Close()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			s.log.Debug("connection close", zap.Error(err))
		}
	}
	if proc != nil {
		if err := proc.Terminate(); err != nil {
			s.log.Warn("failed to terminate adapter process", zap.Error(err))
		}
	}
	s.setState(types.StateTerminated)
}

// Restart emulates a restart for adapters that do not implement the restart
// command (debugpy does not): full teardown, then the entire sequence again
// from initialize with a fresh connection, sequence counter, response table
// and event queues. In-flight responses from the old session are discarded
// with the old connection.
func (s *Session) Restart(ctx context.Context) error {
	s.Close()
	s.setState(types.StateIdle)
	return s.Start(ctx)
}

func (s *Session) connection() *Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// startDebuggingArguments is the payload of the adapter-initiated
// startDebugging reverse request.
type startDebuggingArguments struct {
	Request       string          `json:"request"` // "launch" or "attach"
	Configuration json.RawMessage `json:"configuration"`
}

// handleReverseRequest answers adapter-to-client requests. startDebugging is
// acknowledged before any side effects so the adapter never times out
// waiting on the response, then a child session runs its own full handshake
// on a new connection, independent of the parent's state.
func (s *Session) handleReverseRequest(conn *Conn, req *wire.Message) {
	switch req.Command {
	case "startDebugging":
		if err := conn.Respond(req, true, nil); err != nil {
			s.log.Warn("failed to acknowledge startDebugging", zap.Error(err))
			return
		}
		s.startChild(req)
	default:
		s.log.Warn("unsupported reverse request", zap.String("command", req.Command))
		if err := conn.Respond(req, false, nil); err != nil {
			s.log.Warn("failed to reject reverse request", zap.Error(err))
		}
	}
}

func (s *Session) startChild(req *wire.Message) {
	if s.opts.ChildDial == nil {
		s.log.Warn("startDebugging received but child sessions are not enabled")
		return
	}

	var args startDebuggingArguments
	if err := req.DecodeArguments(&args); err != nil {
		s.log.Warn("malformed startDebugging arguments", zap.Error(err))
		return
	}

	childID := fmt.Sprintf("%s/child-%d", s.ID, len(s.Children())+1)
	childOpts := s.opts
	var config map[string]any
	if len(args.Configuration) > 0 {
		if err := json.Unmarshal(args.Configuration, &config); err != nil {
			s.log.Warn("malformed startDebugging configuration", zap.Error(err))
			return
		}
	}
	if args.Request == "launch" {
		childOpts.Mode = types.ModeLaunch
		childOpts.LaunchArgs = config
	} else {
		childOpts.Mode = types.ModeAttach
		childOpts.AttachArgs = config
	}

	child := NewSession(childID, nil, childOpts)

	conn, err := s.opts.ChildDial()
	if err != nil {
		s.log.Warn("failed to dial child connection", zap.Error(err))
		return
	}
	s.mu.Lock()
	child.conn = conn
	s.children = append(s.children, child)
	s.mu.Unlock()

	if err := child.startOnConn(conn); err != nil {
		s.log.Warn("child session failed", zap.String("child", childID), zap.Error(err))
		child.Close()
		return
	}
	s.log.Info("child session started", zap.String("child", childID))
}
