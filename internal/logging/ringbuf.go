package logging

import (
	"bytes"
	"sync"
)

// RingBuffer keeps the most recent bytes of an output stream so its last
// lines can be recovered after the writer dies.
type RingBuffer struct {
	mu   sync.Mutex
	buf  []byte
	pos  int
	full bool
	// dropped is the last byte overwritten once the buffer wrapped. The
	// oldest stored line is whole only if it was a newline.
	dropped byte
}

// NewRingBuffer creates a ring buffer holding up to size bytes.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{buf: make([]byte, size)}
}

// Write appends p, overwriting the oldest bytes once full.
func (rb *RingBuffer) Write(p []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for _, b := range p {
		if rb.full {
			rb.dropped = rb.buf[rb.pos]
		}
		rb.buf[rb.pos] = b
		rb.pos++
		if rb.pos == len(rb.buf) {
			rb.pos = 0
			rb.full = true
		}
	}
}

// Bytes returns a copy of the stored bytes, oldest first.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.bytesLocked()
}

func (rb *RingBuffer) bytesLocked() []byte {
	if !rb.full {
		return append([]byte(nil), rb.buf[:rb.pos]...)
	}
	out := make([]byte, 0, len(rb.buf))
	out = append(out, rb.buf[rb.pos:]...)
	return append(out, rb.buf[:rb.pos]...)
}

// Lines returns up to n of the most recent lines, oldest first. A line
// whose beginning was overwritten is left out. The last line is returned
// even when it has no newline yet.
func (rb *RingBuffer) Lines(n int) []string {
	if n <= 0 {
		return nil
	}
	rb.mu.Lock()
	data := rb.bytesLocked()
	cut := rb.full && rb.dropped != '\n'
	rb.mu.Unlock()

	if cut {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			return nil
		}
		data = data[i+1:]
	}
	data = bytes.TrimSuffix(data, []byte("\n"))
	if len(data) == 0 {
		return nil
	}
	lines := bytes.Split(data, []byte("\n"))
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = string(l)
	}
	return out
}
