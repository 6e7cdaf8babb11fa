package frame

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownTerminator = errors.New("frame: unknown terminator")

// Terminator is the byte sequence that ends one frame on the wire.
type Terminator string

const (
	TerminatorLF   Terminator = "\n"
	TerminatorCRLF Terminator = "\r\n"
)

func (t Terminator) Name() string {
	switch t {
	case TerminatorLF:
		return "lf"
	case TerminatorCRLF:
		return "crlf"
	default:
		return fmt.Sprintf("%q", string(t))
	}
}

// ParseTerminator maps a deployment setting ("lf", "crlf") to a Terminator.
func ParseTerminator(name string) (Terminator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "lf", "\\n":
		return TerminatorLF, nil
	case "crlf", "", "\\r\\n":
		return TerminatorCRLF, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTerminator, name)
	}
}

// Decoder turns arbitrarily chunked bytes into complete lines.
//
// Every call to Feed splits and drains immediately: complete lines are
// returned in receipt order and the incomplete suffix stays buffered until a
// later chunk completes it or Reset discards it. Empty lines carry no
// message and are skipped.
//
// A Decoder is not safe for concurrent use; the link read loop owns it.
type Decoder struct {
	term []byte
	buf  []byte
}

func NewDecoder(term Terminator) *Decoder {
	if term == "" {
		term = TerminatorCRLF
	}
	return &Decoder{term: []byte(term)}
}

// Feed appends chunk to the pending buffer and returns the frames it completes.
func (d *Decoder) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var frames []string
	consumed := 0
	for {
		i := bytes.Index(d.buf[consumed:], d.term)
		if i < 0 {
			break
		}
		line := d.buf[consumed : consumed+i]
		if len(line) > 0 {
			frames = append(frames, string(line))
		}
		consumed += i + len(d.term)
	}

	if consumed > 0 {
		n := copy(d.buf, d.buf[consumed:])
		d.buf = d.buf[:n]
	}
	return frames
}

// Pending returns a copy of the buffered, not yet terminated bytes.
func (d *Decoder) Pending() []byte {
	return append([]byte(nil), d.buf...)
}

// Buffered reports how many bytes are waiting for a terminator.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Reset discards the incomplete trailing fragment.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}
