// Package wire implements the base framing and message envelope of the
// Debug Adapter Protocol (DAP).
//
// Every DAP message travels as an ASCII header
//
//	Content-Length: <N>\r\n\r\n
//
// followed by exactly N bytes of UTF-8 JSON. This package frames and
// unframes that envelope without committing to a closed set of commands:
// arguments and bodies are kept as raw JSON so that the connection layer can
// queue events by name and route reverse requests it has never heard of.
// Command-specific payloads are decoded on demand, typically into the
// structs from github.com/google/go-dap.
//
// The protocol is described at: https://microsoft.github.io/debug-adapter-protocol/
package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Message types carried in the envelope's "type" field.
const (
	TypeRequest  = "request"
	TypeResponse = "response"
	TypeEvent    = "event"
)

// Framing errors. Each is fatal to the stream it occurred on.
var (
	// ErrFraming indicates the stream ended before the header terminator
	// (\r\n\r\n) was seen.
	ErrFraming = errors.New("dap wire: stream closed before header terminator")

	// ErrHeader indicates the header block carried no Content-Length field.
	ErrHeader = errors.New("dap wire: missing Content-Length header")

	// ErrTruncatedBody indicates the stream ended before the declared body
	// length was read.
	ErrTruncatedBody = errors.New("dap wire: stream closed mid-body")
)

// Message is the common envelope of all three DAP message kinds. Fields not
// applicable to a kind are left at their zero value and omitted on the wire.
type Message struct {
	Seq  int    `json:"seq"`
	Type string `json:"type"`

	// Request and response.
	Command string `json:"command,omitempty"`

	// Request.
	Arguments json.RawMessage `json:"arguments,omitempty"`

	// Response.
	RequestSeq int    `json:"request_seq,omitempty"`
	Success    bool   `json:"success,omitempty"`
	ErrMessage string `json:"message,omitempty"`

	// Event.
	Event string `json:"event,omitempty"`

	// Response and event.
	Body json.RawMessage `json:"body,omitempty"`
}

// MarshalJSON always emits the success field on responses, where the
// protocol requires it even when false, and keeps it off requests and
// events, where it does not exist.
func (m *Message) MarshalJSON() ([]byte, error) {
	type plain Message
	if m.Type == TypeResponse {
		return json.Marshal(struct {
			*plain
			Success bool `json:"success"`
		}{(*plain)(m), m.Success})
	}
	return json.Marshal((*plain)(m))
}

// NewRequest builds a request envelope. The sequence number is assigned by
// the sending connection, not here. Arguments may be any JSON-marshalable
// value or nil.
func NewRequest(command string, arguments any) (*Message, error) {
	m := &Message{Type: TypeRequest, Command: command}
	if arguments != nil {
		raw, err := json.Marshal(arguments)
		if err != nil {
			return nil, fmt.Errorf("marshal %s arguments: %w", command, err)
		}
		m.Arguments = raw
	}
	return m, nil
}

// NewResponse builds a response envelope answering the given request.
func NewResponse(req *Message, success bool, body any) (*Message, error) {
	m := &Message{
		Type:       TypeResponse,
		Command:    req.Command,
		RequestSeq: req.Seq,
		Success:    success,
	}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s response body: %w", req.Command, err)
		}
		m.Body = raw
	}
	return m, nil
}

// NewEvent builds an event envelope.
func NewEvent(name string, body any) (*Message, error) {
	m := &Message{Type: TypeEvent, Event: name}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s event body: %w", name, err)
		}
		m.Body = raw
	}
	return m, nil
}

// IsRequest reports whether the envelope is a request. On an inbound
// connection this means a reverse request from the adapter.
func (m *Message) IsRequest() bool { return m.Type == TypeRequest }

// IsResponse reports whether the envelope is a response.
func (m *Message) IsResponse() bool { return m.Type == TypeResponse }

// IsEvent reports whether the envelope is an event.
func (m *Message) IsEvent() bool { return m.Type == TypeEvent }

// DecodeArguments unmarshals the request arguments into v.
func (m *Message) DecodeArguments(v any) error {
	if len(m.Arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Arguments, v); err != nil {
		return fmt.Errorf("decode %s arguments: %w", m.Command, err)
	}
	return nil
}

// DecodeBody unmarshals the response or event body into v.
func (m *Message) DecodeBody(v any) error {
	if len(m.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Body, v); err != nil {
		return fmt.Errorf("decode body of %s: %w", m.describe(), err)
	}
	return nil
}

func (m *Message) describe() string {
	switch m.Type {
	case TypeResponse:
		return fmt.Sprintf("%s response (request_seq %d)", m.Command, m.RequestSeq)
	case TypeEvent:
		return fmt.Sprintf("%s event", m.Event)
	default:
		return fmt.Sprintf("%s request (seq %d)", m.Command, m.Seq)
	}
}

// Encode writes one framed message to w. The declared length is the exact
// byte length of the JSON body, not its rune count.
func Encode(w io.Writer, m *Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(body)); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// Decode reads one framed message from r, blocking until a full message is
// available. The header block is scanned for Content-Length specifically;
// any other headers before the blank line are tolerated and ignored.
func Decode(r *bufio.Reader) (*Message, error) {
	header, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	length, err := contentLength(header)
	if err != nil {
		return nil, err
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: wanted %d bytes: %v", ErrTruncatedBody, length, err)
	}
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	return &m, nil
}

// readHeader consumes bytes up to and including the \r\n\r\n terminator and
// returns the header block without the terminator.
func readHeader(r *bufio.Reader) ([]byte, error) {
	var buf bytes.Buffer
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFraming, err)
		}
		buf.WriteByte(b)
		if tail := buf.Bytes(); len(tail) >= 4 && bytes.Equal(tail[len(tail)-4:], []byte("\r\n\r\n")) {
			return tail[:len(tail)-4], nil
		}
	}
}

// contentLength extracts the Content-Length value from a header block,
// case-insensitively and tolerating whitespace around the colon.
func contentLength(header []byte) (int, error) {
	for _, line := range strings.Split(string(header), "\r\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: bad value %q", ErrHeader, strings.TrimSpace(value))
		}
		return n, nil
	}
	return 0, ErrHeader
}
