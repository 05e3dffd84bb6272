package logging

import (
	"os"
	"sync"
)

// RingBuffer keeps the most recent log output in memory so it can be dumped
// after a failure. It implements io.Writer and overwrites the oldest bytes
// once full.
type RingBuffer struct {
	mu      sync.Mutex
	data    []byte
	next    int
	wrapped bool
}

// NewRingBuffer creates a ring buffer holding capacity bytes.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 2 * 1024 * 1024
	}
	return &RingBuffer{data: make([]byte, capacity)}
}

// Write implements io.Writer.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p)
	capacity := len(rb.data)
	if n >= capacity {
		copy(rb.data, p[n-capacity:])
		rb.next = 0
		rb.wrapped = true
		return n, nil
	}

	tail := copy(rb.data[rb.next:], p)
	if tail < n {
		copy(rb.data, p[tail:])
		rb.next = n - tail
		rb.wrapped = true
		return n, nil
	}
	rb.next += n
	if rb.next == capacity {
		rb.next = 0
		rb.wrapped = true
	}
	return n, nil
}

// Len reports how many bytes are currently held.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.wrapped {
		return len(rb.data)
	}
	return rb.next
}

// Bytes returns the held bytes oldest first.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.wrapped {
		return append([]byte(nil), rb.data[:rb.next]...)
	}
	out := make([]byte, 0, len(rb.data))
	out = append(out, rb.data[rb.next:]...)
	return append(out, rb.data[:rb.next]...)
}

// DumpToFile writes Bytes to path.
func (rb *RingBuffer) DumpToFile(path string) error {
	return os.WriteFile(path, rb.Bytes(), 0o600)
}
