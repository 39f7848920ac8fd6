package dap

import (
	stderrors "errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mtn/wayfind/internal/errors"
	"github.com/mtn/wayfind/internal/wire"
)

// ReverseHandler answers an adapter-initiated request. It runs on its own
// goroutine, never on the receive loop, so it may freely send on the Conn or
// dial new ones.
type ReverseHandler func(c *Conn, req *wire.Message)

// Conn multiplexes DAP traffic over one Transport.
//
// A Conn owns its sequence counter, its response table and its event queues;
// parent and child connections share nothing. One receive goroutine is the
// only writer into the table and queues, and waiters are the only readers,
// so handoff is the sole synchronization concern.
type Conn struct {
	t   *Transport
	log *zap.Logger

	reverseMu sync.RWMutex
	reverse   ReverseHandler

	mu           sync.Mutex
	seq          int
	responses    map[int]*wire.Message
	respWaiters  map[int][]chan *wire.Message
	events       map[string][]*wire.Message
	eventWaiters map[string][]chan *wire.Message
	dead         bool
	cause        error

	done chan struct{}
	wg   sync.WaitGroup
}

// NewConn wraps a transport and starts its receive loop.
func NewConn(t *Transport, log *zap.Logger) *Conn {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Conn{
		t:            t,
		log:          log,
		responses:    make(map[int]*wire.Message),
		respWaiters:  make(map[int][]chan *wire.Message),
		events:       make(map[string][]*wire.Message),
		eventWaiters: make(map[string][]chan *wire.Message),
		done:         make(chan struct{}),
	}
	c.wg.Add(1)
	go c.readLoop()
	return c
}

// OnReverseRequest installs the handler for adapter-initiated requests.
// Without one, reverse requests are answered with success=false.
func (c *Conn) OnReverseRequest(h ReverseHandler) {
	c.reverseMu.Lock()
	c.reverse = h
	c.reverseMu.Unlock()
}

// Send allocates the next sequence number, writes the request, and returns
// the seq without waiting for the response.
func (c *Conn) Send(command string, arguments any) (int, error) {
	req, err := wire.NewRequest(command, arguments)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	if c.dead {
		cause := c.cause
		c.mu.Unlock()
		return 0, errors.ConnClosed(cause)
	}
	c.seq++
	req.Seq = c.seq
	c.mu.Unlock()

	if err := c.t.Write(req); err != nil {
		return 0, err
	}
	c.log.Debug("sent request", zap.Int("seq", req.Seq), zap.String("command", command))
	return req.Seq, nil
}

// Respond answers an inbound (reverse) request.
func (c *Conn) Respond(req *wire.Message, success bool, body any) error {
	resp, err := wire.NewResponse(req, success, body)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.dead {
		cause := c.cause
		c.mu.Unlock()
		return errors.ConnClosed(cause)
	}
	c.seq++
	resp.Seq = c.seq
	c.mu.Unlock()
	return c.t.Write(resp)
}

// AwaitResponse blocks until the response matching seq is available, removes
// it from the table and returns it. Each response is claimed exactly once;
// a second wait on an already-claimed seq times out.
func (c *Conn) AwaitResponse(seq int, timeout time.Duration) (*wire.Message, error) {
	c.mu.Lock()
	if m, ok := c.responses[seq]; ok {
		delete(c.responses, seq)
		c.mu.Unlock()
		return m, nil
	}
	if c.dead {
		cause := c.cause
		c.mu.Unlock()
		return nil, errors.ConnClosed(cause)
	}
	ch := make(chan *wire.Message, 1)
	c.respWaiters[seq] = append(c.respWaiters[seq], ch)
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m := <-ch:
		return m, nil
	case <-timer.C:
		c.removeRespWaiter(seq, ch)
		// The message may have been delivered concurrently with the timeout.
		select {
		case m := <-ch:
			return m, nil
		default:
		}
		return nil, errors.ResponseTimeout(seq, timeout)
	case <-c.done:
		c.mu.Lock()
		cause := c.cause
		c.mu.Unlock()
		return nil, errors.ConnClosed(cause)
	}
}

// AwaitEvent blocks until an event with the given name is queued, pops the
// oldest one and returns it. Events of the same name preserve arrival order.
func (c *Conn) AwaitEvent(name string, timeout time.Duration) (*wire.Message, error) {
	return c.awaitEvent(name, timeout, nil)
}

// errWaitCanceled is returned by a wait abandoned via its cancel channel.
var errWaitCanceled = stderrors.New("wait canceled")

// awaitEvent is AwaitEvent with an optional cancel channel. A canceled wait
// deregisters itself, and an event that raced the cancellation goes back to
// the front of its queue instead of being dropped.
func (c *Conn) awaitEvent(name string, timeout time.Duration, cancel <-chan struct{}) (*wire.Message, error) {
	c.mu.Lock()
	if q := c.events[name]; len(q) > 0 {
		m := q[0]
		c.events[name] = q[1:]
		c.mu.Unlock()
		return m, nil
	}
	if c.dead {
		cause := c.cause
		c.mu.Unlock()
		return nil, errors.ConnClosed(cause)
	}
	ch := make(chan *wire.Message, 1)
	c.eventWaiters[name] = append(c.eventWaiters[name], ch)
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m := <-ch:
		select {
		case <-cancel:
			c.requeueEvent(name, m)
			return nil, errWaitCanceled
		default:
			return m, nil
		}
	case <-timer.C:
		c.removeEventWaiter(name, ch)
		select {
		case m := <-ch:
			return m, nil
		default:
		}
		return nil, errors.EventTimeout(name, timeout)
	case <-cancel:
		c.removeEventWaiter(name, ch)
		select {
		case m := <-ch:
			c.requeueEvent(name, m)
		default:
		}
		return nil, errWaitCanceled
	case <-c.done:
		c.mu.Lock()
		cause := c.cause
		c.mu.Unlock()
		return nil, errors.ConnClosed(cause)
	}
}

// requeueEvent puts an event back at the head of its queue, or hands it to a
// live waiter if one registered in the meantime.
func (c *Conn) requeueEvent(name string, m *wire.Message) {
	c.mu.Lock()
	if waiters := c.eventWaiters[name]; len(waiters) > 0 {
		ch := waiters[0]
		if len(waiters) == 1 {
			delete(c.eventWaiters, name)
		} else {
			c.eventWaiters[name] = waiters[1:]
		}
		c.mu.Unlock()
		ch <- m
		return
	}
	c.events[name] = append([]*wire.Message{m}, c.events[name]...)
	c.mu.Unlock()
}

// Call sends a request and waits for its response, translating a
// success=false response into an AdapterError.
func (c *Conn) Call(command string, arguments any, timeout time.Duration) (*wire.Message, error) {
	seq, err := c.Send(command, arguments)
	if err != nil {
		return nil, err
	}
	resp, err := c.AwaitResponse(seq, timeout)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return resp, errors.AdapterError(command, resp.ErrMessage)
	}
	return resp, nil
}

// Alive reports whether the receive loop is still running.
func (c *Conn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.dead
}

// Close terminates the receive loop and closes the transport. Pending and
// future waits fail with a connection-closed error.
func (c *Conn) Close() error {
	c.fail(nil)
	err := c.t.Close()
	c.wg.Wait()
	return err
}

func (c *Conn) readLoop() {
	defer c.wg.Done()
	for {
		m, err := c.t.Read()
		if err != nil {
			// Wire and transport errors are both fatal to this connection;
			// the loop is never resurrected.
			c.log.Debug("receive loop terminating", zap.Error(err))
			c.fail(classifyReadError(err))
			return
		}
		c.dispatch(m)
	}
}

// classifyReadError maps a receive failure to its error code: the wire
// codec's framing failures keep their own codes, anything else is a
// transport error.
func classifyReadError(err error) *errors.DebugError {
	switch {
	case stderrors.Is(err, wire.ErrFraming):
		return errors.Wrap(errors.CodeFraming, err.Error(), err)
	case stderrors.Is(err, wire.ErrHeader):
		return errors.Wrap(errors.CodeHeader, err.Error(), err)
	case stderrors.Is(err, wire.ErrTruncatedBody):
		return errors.Wrap(errors.CodeTruncatedBody, err.Error(), err)
	}
	return errors.Transport("read", err)
}

func (c *Conn) dispatch(m *wire.Message) {
	switch {
	case m.IsResponse():
		c.deliverResponse(m)
	case m.IsEvent():
		c.deliverEvent(m)
	case m.IsRequest():
		c.dispatchReverse(m)
	default:
		c.log.Warn("dropping message of unknown type",
			zap.String("type", m.Type), zap.Int("seq", m.Seq))
	}
}

func (c *Conn) deliverResponse(m *wire.Message) {
	c.mu.Lock()
	if waiters := c.respWaiters[m.RequestSeq]; len(waiters) > 0 {
		ch := waiters[0]
		if len(waiters) == 1 {
			delete(c.respWaiters, m.RequestSeq)
		} else {
			c.respWaiters[m.RequestSeq] = waiters[1:]
		}
		c.mu.Unlock()
		ch <- m
		return
	}
	// Unclaimed. A duplicate request_seq should not happen under a
	// well-behaved adapter; keep the newer one but make it visible.
	if _, dup := c.responses[m.RequestSeq]; dup {
		c.log.Warn("overwriting unclaimed response",
			zap.Int("request_seq", m.RequestSeq), zap.String("command", m.Command))
	}
	c.responses[m.RequestSeq] = m
	c.mu.Unlock()
}

func (c *Conn) deliverEvent(m *wire.Message) {
	// output events are high-volume; keep them out of normal logs but never
	// out of the queues.
	if m.Event == "output" {
		c.log.Debug("event", zap.String("event", m.Event))
	} else {
		c.log.Info("event", zap.String("event", m.Event))
	}

	c.mu.Lock()
	if waiters := c.eventWaiters[m.Event]; len(waiters) > 0 {
		ch := waiters[0]
		if len(waiters) == 1 {
			delete(c.eventWaiters, m.Event)
		} else {
			c.eventWaiters[m.Event] = waiters[1:]
		}
		c.mu.Unlock()
		ch <- m
		return
	}
	c.events[m.Event] = append(c.events[m.Event], m)
	c.mu.Unlock()
}

func (c *Conn) dispatchReverse(req *wire.Message) {
	c.reverseMu.RLock()
	h := c.reverse
	c.reverseMu.RUnlock()

	if h == nil {
		c.log.Warn("unhandled reverse request", zap.String("command", req.Command))
		if err := c.Respond(req, false, nil); err != nil {
			c.log.Warn("failed to reject reverse request", zap.Error(err))
		}
		return
	}
	go h(c, req)
}

// fail marks the connection dead and wakes every waiter. Idempotent.
func (c *Conn) fail(cause error) {
	c.mu.Lock()
	if c.dead {
		c.mu.Unlock()
		return
	}
	c.dead = true
	c.cause = cause
	c.respWaiters = make(map[int][]chan *wire.Message)
	c.eventWaiters = make(map[string][]chan *wire.Message)
	c.mu.Unlock()
	close(c.done)
}

func (c *Conn) removeRespWaiter(seq int, ch chan *wire.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	waiters := c.respWaiters[seq]
	for i, w := range waiters {
		if w == ch {
			c.respWaiters[seq] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(c.respWaiters[seq]) == 0 {
		delete(c.respWaiters, seq)
	}
}

func (c *Conn) removeEventWaiter(name string, ch chan *wire.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	waiters := c.eventWaiters[name]
	for i, w := range waiters {
		if w == ch {
			c.eventWaiters[name] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(c.eventWaiters[name]) == 0 {
		delete(c.eventWaiters, name)
	}
}
