// Package ringbuf provides a fixed-capacity byte FIFO used to buffer
// received stream data until the application drains it.
package ringbuf

// Buffer is a bounded byte ring. It never grows: writes beyond the free
// space are truncated and the caller is told how much was accepted.
// Buffer is not safe for concurrent use.
type Buffer struct {
	data []byte
	head int // next read position
	size int // bytes currently stored
}

// New returns an empty Buffer holding at most capacity bytes.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{data: make([]byte, capacity)}
}

// Cap returns the fixed capacity of the buffer.
func (b *Buffer) Cap() int { return len(b.data) }

// Len returns the number of unread bytes.
func (b *Buffer) Len() int { return b.size }

// Free returns the number of bytes that can be written without loss.
func (b *Buffer) Free() int { return len(b.data) - b.size }

// Write stores as much of p as fits and returns the count stored.
// It never returns an error; a short count means the buffer is full.
func (b *Buffer) Write(p []byte) (int, error) {
	n := min(len(p), b.Free())
	tail := (b.head + b.size) % len(b.data)
	first := copy(b.data[tail:], p[:n])
	if first < n {
		copy(b.data, p[first:n])
	}
	b.size += n
	return n, nil
}

// Read copies up to len(p) unread bytes into p. It returns 0 when empty
// and never blocks.
func (b *Buffer) Read(p []byte) (int, error) {
	n := min(len(p), b.size)
	first := copy(p[:n], b.data[b.head:])
	if first < n {
		copy(p[first:n], b.data)
	}
	b.head = (b.head + n) % len(b.data)
	b.size -= n
	if b.size == 0 {
		b.head = 0
	}
	return n, nil
}

// Reset discards all unread bytes.
func (b *Buffer) Reset() {
	b.head = 0
	b.size = 0
}
