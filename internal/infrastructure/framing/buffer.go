// Package framing extracts newline-delimited frames from a byte stream.
package framing

import (
	"bytes"

	sherrors "github.com/FreePeak/golang-mcp-gateway/internal/domain/shared/errors"
)

// ErrFrameTooLarge is returned by Next once for every frame that exceeds the
// configured limit. The offending bytes are dropped up to the next newline.
var ErrFrameTooLarge = sherrors.NewFrameError("frame too large", nil)

// Buffer accumulates stream bytes and yields complete frames. Bytes may
// arrive in arbitrary chunks; a partial frame is kept until its newline shows
// up. Buffer is not safe for concurrent use.
type Buffer struct {
	max        int
	buf        []byte
	discarding bool
}

// NewBuffer returns a buffer that rejects frames longer than max bytes.
// A max of zero disables the limit.
func NewBuffer(max int) *Buffer {
	return &Buffer{max: max}
}

// Write appends p. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	n := len(p)
	if b.discarding {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			return n, nil
		}
		b.discarding = false
		p = p[i+1:]
	}
	b.buf = append(b.buf, p...)
	return n, nil
}

// Next returns the next complete frame without its line terminator. It
// returns (nil, nil) when no complete frame is buffered yet. Blank lines are
// skipped.
func (b *Buffer) Next() ([]byte, error) {
	for {
		i := bytes.IndexByte(b.buf, '\n')
		if i < 0 {
			if b.max > 0 && len(b.buf) > b.max {
				b.buf = b.buf[:0]
				b.discarding = true
				return nil, ErrFrameTooLarge
			}
			return nil, nil
		}

		line := b.buf[:i]
		b.buf = b.buf[i+1:]
		if len(b.buf) == 0 {
			b.buf = nil
		}

		line = bytes.TrimSuffix(line, []byte{'\r'})
		if b.max > 0 && len(line) > b.max {
			return nil, ErrFrameTooLarge
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		frame := make([]byte, len(line))
		copy(frame, line)
		return frame, nil
	}
}

// Flush returns whatever partial frame remains once the stream has ended.
// It returns nil if nothing but whitespace is left.
func (b *Buffer) Flush() ([]byte, error) {
	rest := bytes.TrimSuffix(b.buf, []byte{'\r'})
	b.buf = nil
	discarding := b.discarding
	b.discarding = false

	if discarding || len(bytes.TrimSpace(rest)) == 0 {
		return nil, nil
	}
	if b.max > 0 && len(rest) > b.max {
		return nil, ErrFrameTooLarge
	}
	frame := make([]byte, len(rest))
	copy(frame, rest)
	return frame, nil
}

// Buffered returns the number of bytes held for an incomplete frame.
func (b *Buffer) Buffered() int {
	return len(b.buf)
}
