// Package dap implements the wayfind client core for the Debug Adapter
// Protocol (DAP).
//
// The package is layered leaf-first:
//   - Transport: one connected byte stream (TCP or stdio) with serialized
//     framed writes
//   - Conn: one transport plus a receive loop that demultiplexes inbound
//     traffic into a response table, per-event-name queues, and
//     reverse-request dispatch
//   - Session: the lifecycle state machine (initialize, configure, run,
//     stop/inspect, resume, terminate) over one parent Conn and any child
//     Conns spawned by adapter-initiated startDebugging requests
//   - Manager: tracks live sessions, enforces limits, and tears down
//     adapter processes
//
// The protocol is described at: https://microsoft.github.io/debug-adapter-protocol/
package dap

import (
	"bufio"
	"io"
	"net"
	"sync"
	"time"

	"github.com/mtn/wayfind/internal/errors"
	"github.com/mtn/wayfind/internal/wire"
)

// Transport owns one connected byte stream to a debug adapter. Writes are
// serialized; reads are owned by exactly one receive loop.
type Transport struct {
	conn    io.ReadWriteCloser
	reader  *bufio.Reader
	writeMu sync.Mutex
}

// DialTCP connects to a debug adapter at address, retrying up to retries
// times with 200ms between attempts. Freshly spawned adapters need a moment
// before they listen.
func DialTCP(address string, retries int) (*Transport, error) {
	var conn net.Conn
	var err error
	for i := 0; i <= retries; i++ {
		conn, err = net.Dial("tcp", address)
		if err == nil {
			return newTransport(conn), nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return nil, errors.ConnectFailed(address, err)
}

// NewStdioTransport wraps a process's stdin/stdout pipes as a transport.
func NewStdioTransport(stdin io.WriteCloser, stdout io.ReadCloser) *Transport {
	return newTransport(&stdioRWC{reader: stdout, writer: stdin})
}

func newTransport(conn io.ReadWriteCloser) *Transport {
	return &Transport{conn: conn, reader: bufio.NewReader(conn)}
}

type stdioRWC struct {
	reader io.ReadCloser
	writer io.WriteCloser
}

func (s *stdioRWC) Read(p []byte) (int, error)  { return s.reader.Read(p) }
func (s *stdioRWC) Write(p []byte) (int, error) { return s.writer.Write(p) }

func (s *stdioRWC) Close() error {
	err1 := s.reader.Close()
	err2 := s.writer.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Write frames and sends one message.
func (t *Transport) Write(m *wire.Message) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := wire.Encode(t.conn, m); err != nil {
		return errors.Transport("write", err)
	}
	return nil
}

// Read blocks until one framed message is available. Only the receive loop
// may call it.
func (t *Transport) Read() (*wire.Message, error) {
	return wire.Decode(t.reader)
}

// Close closes the underlying stream, unblocking any pending Read.
func (t *Transport) Close() error {
	return t.conn.Close()
}
