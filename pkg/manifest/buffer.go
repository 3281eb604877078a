package manifest

import "io"

// DefaultBufferSize is the receive capacity of the reference device.
const DefaultBufferSize = 200

// Buffer is a bounded receive buffer. Its capacity is fixed at construction;
// bytes beyond it are dropped and recorded rather than written.
type Buffer struct {
	data      []byte
	capacity  int
	truncated bool
}

// NewBuffer returns a Buffer holding at most capacity bytes. A non-positive
// capacity selects DefaultBufferSize.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &Buffer{
		data:     make([]byte, 0, capacity),
		capacity: capacity,
	}
}

// Write stores as much of p as fits. It always reports len(p) written so that
// producers are not failed for the buffer's limit.
func (b *Buffer) Write(p []byte) (int, error) {
	room := b.capacity - len(b.data)
	if len(p) > room {
		b.truncated = true
		b.data = append(b.data, p[:room]...)
		return len(p), nil
	}
	b.data = append(b.data, p...)
	return len(p), nil
}

// ReadFrom fills the buffer from r and stops reading once the buffer is full
// and one more byte has shown the source to be longer.
func (b *Buffer) ReadFrom(r io.Reader) (int64, error) {
	var total int64
	for {
		if len(b.data) == b.capacity {
			var probe [1]byte
			n, err := io.ReadFull(r, probe[:])
			if n > 0 {
				b.truncated = true
			}
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				err = nil
			}
			return total, err
		}
		n, err := r.Read(b.data[len(b.data):b.capacity])
		b.data = b.data[:len(b.data)+n]
		total += int64(n)
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// Bytes returns the buffered content. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte {
	return b.data
}

func (b *Buffer) Len() int {
	return len(b.data)
}

func (b *Buffer) Cap() int {
	return b.capacity
}

// Truncated reports whether any input was dropped.
func (b *Buffer) Truncated() bool {
	return b.truncated
}

// Reset empties the buffer for reuse.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.truncated = false
}
