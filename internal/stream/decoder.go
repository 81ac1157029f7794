// Package stream implements the wire format of the document processing event
// stream: blank-line delimited frames made of "event:" and "data:" lines.
package stream

import (
	"bytes"
	"errors"
	"io"
	"iter"
)

// defaultReadSize is the size of each read from the underlying transport.
const defaultReadSize = 4096

// Frame is one complete blank-line terminated unit of the stream, without
// its terminator.
type Frame string

// Decoder splits a byte stream into frames. Frames may arrive split across
// any number of reads, including inside the terminator; incomplete trailing
// data is buffered until the next read. An unterminated remainder at end of
// stream is discarded.
//
// A Decoder is single-use and not safe for concurrent use.
type Decoder struct {
	r    io.Reader
	buf  []byte
	read []byte
	err  error
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, read: make([]byte, defaultReadSize)}
}

// Next returns the next complete frame. It returns io.EOF once the stream is
// exhausted, or the transport's read error.
func (d *Decoder) Next() (Frame, error) {
	for {
		if f, ok := d.pop(); ok {
			return f, nil
		}
		if d.err != nil {
			d.buf = nil
			return "", d.err
		}
		n, err := d.r.Read(d.read)
		if n > 0 {
			d.buf = append(d.buf, d.read[:n]...)
		}
		if err != nil {
			d.err = err
		}
	}
}

// Frames yields frames until the stream ends. A clean end of stream ends the
// sequence silently; any other read error is yielded once as the last pair.
func (d *Decoder) Frames() iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		for {
			f, err := d.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", err)
				return
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}

// pop removes the first complete frame from the buffer.
func (d *Decoder) pop() (Frame, bool) {
	i, width := frameEnd(d.buf)
	if i < 0 {
		return "", false
	}
	f := Frame(d.buf[:i])
	rest := d.buf[i+width:]
	if len(rest) == 0 {
		d.buf = d.buf[:0]
	} else {
		d.buf = append(d.buf[:0], rest...)
	}
	return f, true
}

// frameEnd locates the earliest frame terminator ("\n\n" or "\n\r\n") and
// returns its index and width.
func frameEnd(b []byte) (int, int) {
	off := 0
	for {
		i := bytes.IndexByte(b[off:], '\n')
		if i < 0 {
			return -1, 0
		}
		i += off
		rest := b[i+1:]
		switch {
		case len(rest) >= 1 && rest[0] == '\n':
			return i, 2
		case len(rest) >= 2 && rest[0] == '\r' && rest[1] == '\n':
			return i, 3
		}
		off = i + 1
	}
}

// SplitFrames decodes every complete frame in data. It is a convenience for
// callers that already hold the whole stream.
func SplitFrames(data []byte) []Frame {
	var frames []Frame
	for f, err := range NewDecoder(bytes.NewReader(data)).Frames() {
		if err != nil {
			break
		}
		frames = append(frames, f)
	}
	return frames
}
