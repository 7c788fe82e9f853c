package protocol

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// envelope peeks the "type" discriminator shared by every inbound line
// before deciding which concrete struct to unmarshal into.
type envelope struct {
	Type string `json:"type"`
}

// Decoder reads line-delimited inbound JSON from r. One line is one
// JSON object, per spec.md §6.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder wraps r. The scanner's buffer is grown as needed for long
// user messages.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Decoder{scanner: scanner}
}

// Next reads and decodes the next inbound line. It returns exactly one
// of (*InboundUser, *InboundControl) non-nil, or io.EOF when the stream
// is exhausted.
func (d *Decoder) Next() (*InboundUser, *InboundControl, error) {
	if !d.scanner.Scan() {
		if err := d.scanner.Err(); err != nil {
			return nil, nil, errors.Wrap(err, "protocol: read inbound line")
		}
		return nil, nil, io.EOF
	}
	line := d.scanner.Bytes()
	if len(line) == 0 {
		return d.Next()
	}

	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, nil, errors.Wrap(err, "protocol: decode inbound envelope")
	}

	switch env.Type {
	case "control":
		var c InboundControl
		if err := json.Unmarshal(line, &c); err != nil {
			return nil, nil, errors.Wrap(err, "protocol: decode control line")
		}
		return nil, &c, nil
	case "user":
		var u InboundUser
		if err := json.Unmarshal(line, &u); err != nil {
			return nil, nil, errors.Wrap(err, "protocol: decode user line")
		}
		return &u, nil, nil
	default:
		return nil, nil, errors.Errorf("protocol: unknown inbound type %q", env.Type)
	}
}

// Encoder writes line-delimited outbound JSON to w, one object per
// call, serialized with a mutex since assistant output, tool results,
// and system notices can be produced from different goroutines within
// one turn.
type Encoder struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
}

// NewEncoder wraps w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w, enc: json.NewEncoder(w)}
}

func (e *Encoder) write(v any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(v); err != nil {
		return errors.Wrap(err, "protocol: write outbound line")
	}
	return nil
}

// Assistant writes one outbound assistant line.
func (e *Encoder) Assistant(a OutboundAssistant) error { return e.write(a) }

// ToolResult writes one outbound tool-result line.
func (e *Encoder) ToolResult(r OutboundToolResult) error { return e.write(r) }

// Result writes the outbound line that closes a turn.
func (e *Encoder) Result(r OutboundResult) error { return e.write(r) }

// System writes one outbound system notice.
func (e *Encoder) System(s OutboundSystem) error { return e.write(s) }
