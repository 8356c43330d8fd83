package remote

import (
	"strings"
	"sync"
)

// OutputBuffer keeps the most recent bytes written to it, bounding memory for
// commands like `yes` or large cat outputs.
type OutputBuffer struct {
	buf     []byte
	size    int
	head    int // write position
	tail    int // read position
	full    bool
	dropped int64
	mu      sync.RWMutex
}

// NewOutputBuffer creates a buffer holding at most size bytes.
func NewOutputBuffer(size int) *OutputBuffer {
	if size <= 0 {
		size = 64 * 1024
	}
	return &OutputBuffer{
		buf:  make([]byte, size),
		size: size,
	}
}

// Write implements io.Writer. When the buffer is full the oldest bytes are
// overwritten.
func (b *OutputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range p {
		if b.full {
			b.tail = (b.tail + 1) % b.size
			b.dropped++
		}
		b.buf[b.head] = c
		b.head = (b.head + 1) % b.size
		if b.head == b.tail {
			b.full = true
		}
	}
	return len(p), nil
}

// String returns the retained bytes in write order.
func (b *OutputBuffer) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var s string
	switch {
	case !b.full && b.head == b.tail:
		return ""
	case b.full && b.head == b.tail:
		s = string(b.buf[b.tail:]) + string(b.buf[:b.head])
	case b.head > b.tail:
		s = string(b.buf[b.tail:b.head])
	default:
		s = string(b.buf[b.tail:]) + string(b.buf[:b.head])
	}
	if b.dropped > 0 {
		// The cut may have split a multi-byte rune.
		s = strings.ToValidUTF8(s, "")
	}
	return s
}

// Len returns the number of retained bytes.
func (b *OutputBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	switch {
	case !b.full && b.head == b.tail:
		return 0
	case b.full:
		return b.size
	case b.head > b.tail:
		return b.head - b.tail
	default:
		return (b.size - b.tail) + b.head
	}
}

// Dropped returns how many bytes were discarded.
func (b *OutputBuffer) Dropped() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
