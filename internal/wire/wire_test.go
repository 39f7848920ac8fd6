package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-dap"
)

// TestEncodeDecode_RoundTrip verifies requests survive a frame round trip.
func TestEncodeDecode_RoundTrip(t *testing.T) {
	cases := []struct {
		command   string
		arguments any
	}{
		{"initialize", dap.InitializeRequestArguments{
			ClientID:        "wayfind",
			AdapterID:       "debugpy",
			LinesStartAt1:   true,
			ColumnsStartAt1: true,
			PathFormat:      "path",
		}},
		{"setBreakpoints", dap.SetBreakpointsArguments{
			Source:      dap.Source{Path: "/tmp/b.py", Name: "b.py"},
			Breakpoints: []dap.SourceBreakpoint{{Line: 15}, {Line: 19}},
		}},
		{"continue", dap.ContinueArguments{ThreadId: 7}},
		{"configurationDone", nil},
	}

	for _, tc := range cases {
		req, err := NewRequest(tc.command, tc.arguments)
		if err != nil {
			t.Fatalf("NewRequest(%s): %v", tc.command, err)
		}
		req.Seq = 42

		var buf bytes.Buffer
		if err := Encode(&buf, req); err != nil {
			t.Fatalf("Encode(%s): %v", tc.command, err)
		}

		got, err := Decode(bufio.NewReader(&buf))
		if err != nil {
			t.Fatalf("Decode(%s): %v", tc.command, err)
		}
		if got.Seq != 42 || got.Type != TypeRequest || got.Command != tc.command {
			t.Errorf("%s: round trip changed envelope: %+v", tc.command, got)
		}
		if tc.arguments != nil {
			want, _ := json.Marshal(tc.arguments)
			if !bytes.Equal(got.Arguments, want) {
				t.Errorf("%s: arguments changed: got %s want %s", tc.command, got.Arguments, want)
			}
		}
	}
}

// TestEncode_DeclaredLengthIsByteLength checks the header counts bytes, not
// runes, for multi-byte payloads.
func TestEncode_DeclaredLengthIsByteLength(t *testing.T) {
	ev, err := NewEvent("output", map[string]string{"output": "héllo → wörld ✓"})
	if err != nil {
		t.Fatal(err)
	}
	ev.Seq = 1

	var buf bytes.Buffer
	if err := Encode(&buf, ev); err != nil {
		t.Fatal(err)
	}

	raw := buf.String()
	head, body, ok := strings.Cut(raw, "\r\n\r\n")
	if !ok {
		t.Fatalf("no header terminator in %q", raw)
	}
	var declared int
	if _, err := fmt.Sscanf(head, "Content-Length: %d", &declared); err != nil {
		t.Fatalf("bad header %q: %v", head, err)
	}
	if declared != len(body) {
		t.Errorf("declared %d bytes, body is %d bytes", declared, len(body))
	}
}

// TestDecode_ExtraHeaders verifies unknown headers and odd casing are
// tolerated as long as a Content-Length is present.
func TestDecode_ExtraHeaders(t *testing.T) {
	body := `{"seq":3,"type":"event","event":"initialized"}`
	raw := "X-Custom: yes\r\ncontent-length :  " + fmt.Sprint(len(body)) + "\r\nAnother: header\r\n\r\n" + body

	m, err := Decode(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !m.IsEvent() || m.Event != "initialized" {
		t.Errorf("unexpected message: %+v", m)
	}
}

func TestDecode_Errors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"no terminator", "Content-Length: 10\r\n", ErrFraming},
		{"empty stream", "", ErrFraming},
		{"no content length", "X-Other: 1\r\n\r\n{}", ErrHeader},
		{"bad length value", "Content-Length: ten\r\n\r\n{}", ErrHeader},
		{"short body", "Content-Length: 50\r\n\r\n{\"seq\":1}", ErrTruncatedBody},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(bufio.NewReader(strings.NewReader(tc.raw)))
			if !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}
}

// TestEncode_FailureResponseCarriesSuccess verifies success=false survives to
// the wire: the field is required on every response, so a rejection must not
// lose it to empty-field elision. Requests and events carry no success field
// at all.
func TestEncode_FailureResponseCarriesSuccess(t *testing.T) {
	req := &Message{Seq: 7, Type: TypeRequest, Command: "startDebugging"}
	resp, err := NewResponse(req, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Seq = 1

	var buf bytes.Buffer
	if err := Encode(&buf, resp); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"success":false`) {
		t.Errorf("failure response lost its success field: %s", buf.String())
	}

	buf.Reset()
	if err := Encode(&buf, req); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), `"success"`) {
		t.Errorf("request grew a success field: %s", buf.String())
	}

	ev, err := NewEvent("terminated", nil)
	if err != nil {
		t.Fatal(err)
	}
	ev.Seq = 2
	buf.Reset()
	if err := Encode(&buf, ev); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), `"success"`) {
		t.Errorf("event grew a success field: %s", buf.String())
	}
}

// TestNewResponse_BackReference verifies request_seq echoes the request seq.
func TestNewResponse_BackReference(t *testing.T) {
	req := &Message{Seq: 9, Type: TypeRequest, Command: "startDebugging"}
	resp, err := NewResponse(req, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.RequestSeq != 9 || resp.Command != "startDebugging" || !resp.Success {
		t.Errorf("bad response envelope: %+v", resp)
	}
}

func TestDecodeBody(t *testing.T) {
	m := &Message{
		Type:  TypeEvent,
		Event: "stopped",
		Body:  json.RawMessage(`{"reason":"breakpoint","threadId":4}`),
	}
	var body dap.StoppedEventBody
	if err := m.DecodeBody(&body); err != nil {
		t.Fatal(err)
	}
	if body.Reason != "breakpoint" || body.ThreadId != 4 {
		t.Errorf("bad body: %+v", body)
	}

	// Absent body decodes to the zero value without error.
	empty := &Message{Type: TypeEvent, Event: "terminated"}
	var tb dap.TerminatedEventBody
	if err := empty.DecodeBody(&tb); err != nil {
		t.Errorf("empty body: %v", err)
	}
}
