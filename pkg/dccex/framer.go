package dccex

import (
	"bytes"
)

// Frame delimiters.
const (
	frameOpen  = '<'
	frameClose = '>'
)

// Framer extracts complete <...> messages from a chunked byte stream.
//
// The receive buffer is owned exclusively by the Framer and grows as
// needed; a partial message is retained until its closing bracket
// arrives. Bytes outside any frame are protocol noise and are dropped.
// Framer is not safe for concurrent use; the owning connection's
// receive path is the only caller.
type Framer struct {
	buf []byte
}

// Push appends data to the receive buffer and drains every complete
// message now available, in arrival order. Each returned message
// includes its delimiters. Push never splits a message across calls
// and never returns the same message twice.
func (f *Framer) Push(data []byte) []string {
	f.buf = append(f.buf, data...)

	var msgs []string
	for {
		open := bytes.IndexByte(f.buf, frameOpen)
		if open < 0 {
			// No message start anywhere: everything buffered is noise.
			f.buf = f.buf[:0]
			return msgs
		}

		rel := bytes.IndexByte(f.buf[open:], frameClose)
		if rel < 0 {
			// Partial message: discard the leading noise, keep the rest
			// and wait for more bytes.
			f.buf = append(f.buf[:0], f.buf[open:]...)
			return msgs
		}

		end := open + rel + 1
		msgs = append(msgs, string(f.buf[open:end]))
		f.buf = append(f.buf[:0], f.buf[end:]...)
	}
}

// Pending returns the number of buffered bytes awaiting completion.
func (f *Framer) Pending() int {
	return len(f.buf)
}

// Reset discards any buffered bytes. Called on disconnect so a
// reconnect does not resume mid-message.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}
