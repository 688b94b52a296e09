package source

import "bytes"

// maxPartial caps a buffered unterminated line; longer runs are emitted
// as a line of their own.
const maxPartial = 64 * 1024

// LineBuffer splits a byte stream into lines, holding back a trailing
// partial line until its newline arrives.
type LineBuffer struct {
	partial []byte
}

// Feed appends p and calls fn for each complete line, without the
// newline. It returns true if fn asked to stop; unconsumed data is then
// discarded.
func (b *LineBuffer) Feed(p []byte, fn func(string) bool) bool {
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			b.partial = append(b.partial, p...)
			if len(b.partial) >= maxPartial {
				line := string(b.partial)
				b.partial = b.partial[:0]
				if fn(line) {
					return true
				}
			}
			return false
		}
		var line string
		if len(b.partial) > 0 {
			b.partial = append(b.partial, p[:i]...)
			line = string(b.partial)
			b.partial = b.partial[:0]
		} else {
			line = string(p[:i])
		}
		p = p[i+1:]
		if fn(trimCR(line)) {
			b.partial = b.partial[:0]
			return true
		}
	}
	return false
}

// Flush emits a buffered partial line, if any.
func (b *LineBuffer) Flush(fn func(string) bool) bool {
	if len(b.partial) == 0 {
		return false
	}
	line := string(b.partial)
	b.partial = b.partial[:0]
	return fn(trimCR(line))
}

// Reset drops any buffered partial line.
func (b *LineBuffer) Reset() { b.partial = b.partial[:0] }

// Buffered is the length of the pending partial line.
func (b *LineBuffer) Buffered() int { return len(b.partial) }

func trimCR(s string) string {
	if n := len(s); n > 0 && s[n-1] == '\r' {
		return s[:n-1]
	}
	return s
}
