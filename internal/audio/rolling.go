package audio

import "fmt"

// RollingBuffer holds the most recent interleaved samples in a fixed-size ring.
// Writes overwrite the oldest samples once the ring is full.
//
// A RollingBuffer is owned by the audio producer and is not safe for
// concurrent use. Consumers receive independent copies through Snapshot.
type RollingBuffer struct {
	data         []float32
	writePos     int
	wrapped      bool
	totalWritten int64
}

// NewRollingBuffer returns a buffer that retains the last capacity samples.
func NewRollingBuffer(capacity int) (*RollingBuffer, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("rolling buffer capacity must be positive, got %d", capacity)
	}
	return &RollingBuffer{data: make([]float32, capacity)}, nil
}

// Write appends samples to the ring. A block larger than the capacity keeps
// only its last Capacity samples.
func (b *RollingBuffer) Write(samples []float32) {
	n := len(samples)
	if n == 0 {
		return
	}
	b.totalWritten += int64(n)

	capacity := len(b.data)
	if n >= capacity {
		copy(b.data, samples[n-capacity:])
		b.writePos = 0
		b.wrapped = true
		return
	}

	first := copy(b.data[b.writePos:], samples)
	if first < n {
		copy(b.data, samples[first:])
		b.writePos = n - first
		b.wrapped = true
		return
	}

	b.writePos += n
	if b.writePos == capacity {
		b.writePos = 0
		b.wrapped = true
	}
}

// Snapshot returns a copy of the retained samples in chronological order.
// The result shares no memory with the ring.
func (b *RollingBuffer) Snapshot() []float32 {
	if !b.wrapped {
		out := make([]float32, b.writePos)
		copy(out, b.data[:b.writePos])
		return out
	}
	out := make([]float32, len(b.data))
	n := copy(out, b.data[b.writePos:])
	copy(out[n:], b.data[:b.writePos])
	return out
}

// Len returns the number of retained samples.
func (b *RollingBuffer) Len() int {
	if b.wrapped {
		return len(b.data)
	}
	return b.writePos
}

// Capacity returns the maximum number of retained samples.
func (b *RollingBuffer) Capacity() int {
	return len(b.data)
}

// TotalWritten returns the number of samples written since creation or the last Reset.
func (b *RollingBuffer) TotalWritten() int64 {
	return b.totalWritten
}

// Wrapped reports whether the ring has been filled at least once.
func (b *RollingBuffer) Wrapped() bool {
	return b.wrapped
}

// Reset discards all retained samples.
func (b *RollingBuffer) Reset() {
	clear(b.data)
	b.writePos = 0
	b.wrapped = false
	b.totalWritten = 0
}
