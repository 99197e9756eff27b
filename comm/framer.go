package comm

import (
	"errors"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// DefaultDelimiter terminates every frame on the wire.
const DefaultDelimiter byte = '\n'

// ErrFrameTooLong is reported by Framer.Feed when a partial frame grew past
// the configured maximum and was discarded. It is not fatal to the session.
var ErrFrameTooLong = errors.New("comm: frame exceeds maximum length")

// Framer splits a byte stream into delimiter-terminated text frames.
// Text is one byte per character (ISO-8859-1). No escaping is applied.
//
// A Framer is owned by a single reader and is not safe for concurrent use.
type Framer struct {
	delim byte
	max   int // 0 = unbounded
	buf   []byte
	skip  bool // discarding the rest of an oversized frame
}

// NewFramer returns a Framer using delim. maxLen bounds a pending frame;
// zero keeps the buffer unbounded.
func NewFramer(delim byte, maxLen int) *Framer {
	return &Framer{delim: delim, max: maxLen}
}

// Feed consumes p and returns the frames it completed, in stream order.
// Each delimiter closes the pending frame, even an empty one. Bytes after
// the last delimiter stay buffered for the next call.
func (f *Framer) Feed(p []byte) ([]string, error) {
	var (
		frames []string
		err    error
	)
	for _, b := range p {
		if b == f.delim {
			if f.skip {
				f.skip = false
			} else {
				frames = append(frames, decodeText(f.buf))
			}
			f.buf = f.buf[:0]
			continue
		}
		if f.skip {
			continue
		}
		f.buf = append(f.buf, b)
		if f.max > 0 && len(f.buf) > f.max {
			f.buf = f.buf[:0]
			f.skip = true
			err = ErrFrameTooLong
		}
	}
	return frames, err
}

// Pending returns the number of buffered bytes not yet closed by a delimiter.
func (f *Framer) Pending() int { return len(f.buf) }

// EncodeFrame converts text to its wire form: one byte per character
// followed by delim. Characters outside ISO-8859-1 are substituted.
func EncodeFrame(text string, delim byte) []byte {
	enc := encoding.ReplaceUnsupported(charmap.ISO8859_1.NewEncoder())
	b, err := enc.Bytes([]byte(text))
	if err != nil {
		// ReplaceUnsupported never reports unsupported runes; keep the raw
		// bytes as a last resort.
		b = []byte(text)
	}
	return append(b, delim)
}

func decodeText(b []byte) string {
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}
