package protocol

import "unicode/utf8"

// PlainTextDecoder treats the body as plain text. Each chunk becomes one text
// event, holding back a trailing incomplete UTF-8 sequence until the next chunk.
type PlainTextDecoder struct {
	pending []byte
}

func NewPlainTextDecoder() *PlainTextDecoder {
	return &PlainTextDecoder{}
}

func (d *PlainTextDecoder) Feed(chunk []byte) []Event {
	if len(chunk) == 0 {
		return nil
	}
	data := append(d.pending, chunk...)
	cut := completeRunesPrefix(data)
	text := string(data[:cut])
	d.pending = append([]byte(nil), data[cut:]...)
	if text == "" {
		return nil
	}
	return []Event{TextEvent(text)}
}

func (d *PlainTextDecoder) Flush() ([]Event, error) {
	rest := d.pending
	d.pending = nil
	if len(rest) == 0 {
		return nil, nil
	}
	return []Event{TextEvent(string(rest))}, nil
}

// completeRunesPrefix returns the length of the longest prefix of b that does
// not end inside a multi-byte sequence.
func completeRunesPrefix(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if !utf8.FullRune(b[i:]) {
			return i
		}
		break
	}
	return len(b)
}
