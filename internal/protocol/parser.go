package protocol

import (
	"bytes"
	"encoding/json"
)

// LineParser decodes the line-prefixed upstream format.
//
// Bytes are buffered until a '\n' arrives, so chunk boundaries may fall anywhere,
// including inside a multi-byte codepoint or an escape sequence.
type LineParser struct {
	buf          []byte
	unrecognized int
}

func NewLineParser() *LineParser {
	return &LineParser{}
}

func (p *LineParser) Feed(chunk []byte) []Event {
	if len(chunk) == 0 {
		return nil
	}
	p.buf = append(p.buf, chunk...)

	var out []Event
	for {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		line := p.buf[:i]
		p.buf = p.buf[i+1:]
		if ev, ok := p.decodeLine(line); ok {
			out = append(out, ev)
		}
	}
	if len(p.buf) == 0 {
		p.buf = nil
	}
	return out
}

// Flush ends the stream. A whitespace-only remainder is dropped; anything else
// is reported as a *ParseError and discarded.
func (p *LineParser) Flush() ([]Event, error) {
	rest := p.buf
	p.buf = nil
	if len(bytes.TrimSpace(rest)) == 0 {
		return nil, nil
	}
	return nil, &ParseError{Pending: len(rest)}
}

// Unrecognized counts non-empty lines whose tag is unknown.
func (p *LineParser) Unrecognized() int {
	return p.unrecognized
}

func (p *LineParser) decodeLine(line []byte) (Event, bool) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if len(line) == 0 {
		return Event{}, false
	}
	if len(line) < 2 || line[1] != ':' {
		p.unrecognized++
		return Event{}, false
	}
	kind, ok := prefixKinds[line[0]]
	if !ok {
		p.unrecognized++
		return Event{}, false
	}

	payload := string(line[2:])
	ev := Event{Kind: kind, Prefix: line[0], Raw: payload}
	if kind == KindText {
		ev.Text = decodeTextPayload(payload)
	}
	return ev, true
}

func decodeTextPayload(payload string) string {
	n := len(payload)
	if n < 2 || payload[0] != '"' || payload[n-1] != '"' {
		return payload
	}
	var s string
	if err := json.Unmarshal([]byte(payload), &s); err == nil {
		return s
	}
	return payload[1 : n-1]
}
