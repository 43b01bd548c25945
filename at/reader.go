package at

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrLineTooLong is returned when a modem response line exceeds the
// maximum allowed length.
//
// This typically indicates malformed input, unexpected binary data,
// or a protocol framing error. The offending bytes are discarded and the
// Reader can be used again.
var ErrLineTooLong = errors.New("response line too long")

const (
	// DefaultIdleInterval is how long the Reader sleeps after a read that
	// returned no data.
	DefaultIdleInterval = 100 * time.Millisecond
	// DefaultMaxLineLength bounds a single buffered line.
	DefaultMaxLineLength = 4096

	readChunk = 256
)

// Reader frames a byte stream from the modem into tokens using Splitter.
//
// Serial ports opened with a read timeout return (0, nil) when no data
// arrived in time. Reader treats that as "nothing available" and sleeps for
// the idle interval before polling again, so it never busy-spins on a quiet
// line.
type Reader struct {
	r       io.Reader
	buf     []byte
	chunk   []byte
	idle    time.Duration
	maxLine int
	eof     bool
}

// NewReader returns a Reader polling r. Non-positive idle and maxLine values
// select the defaults.
func NewReader(r io.Reader, idle time.Duration, maxLine int) *Reader {
	if idle <= 0 {
		idle = DefaultIdleInterval
	}
	if maxLine <= 0 {
		maxLine = DefaultMaxLineLength
	}
	return &Reader{
		r:       r,
		chunk:   make([]byte, readChunk),
		idle:    idle,
		maxLine: maxLine,
	}
}

// ReadToken returns the next raw token. Empty tokens (blank lines) are
// returned as well; it is up to the caller to skip them.
//
// It returns io.EOF once the underlying reader is exhausted and every
// buffered byte has been handed out, ErrLineTooLong when a line overflows
// the buffer, and ctx.Err() if the context ends while idling.
func (r *Reader) ReadToken(ctx context.Context) ([]byte, error) {
	for {
		advance, token, _ := Splitter(r.buf, r.eof)
		if advance > 0 || token != nil {
			out := append([]byte(nil), token...)
			r.buf = r.buf[advance:]
			return out, nil
		}
		if r.eof {
			return nil, io.EOF
		}

		if len(r.buf) > r.maxLine {
			r.buf = r.buf[:0]
			return nil, ErrLineTooLong
		}

		n, err := r.r.Read(r.chunk)
		if n > 0 {
			r.buf = append(r.buf, r.chunk[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.eof = true
				continue
			}
			return nil, err
		}
		if n == 0 {
			t := time.NewTimer(r.idle)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
	}
}
