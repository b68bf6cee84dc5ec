package timeseries

// RingBuffer is a fixed-capacity circular buffer. Pushing onto a full buffer
// overwrites the oldest entry. It is not safe for concurrent use.
type RingBuffer[T any] struct {
	data     []T
	head     int
	size     int
	capacity int
}

// NewRingBuffer returns an empty buffer. Capacity below 1 is raised to 1.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{
		data:     make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends v, evicting the oldest entry when full.
func (rb *RingBuffer[T]) Push(v T) {
	idx := (rb.head + rb.size) % rb.capacity
	rb.data[idx] = v
	if rb.size < rb.capacity {
		rb.size++
	} else {
		rb.head = (rb.head + 1) % rb.capacity
	}
}

// Slice returns all entries in chronological order.
func (rb *RingBuffer[T]) Slice() []T {
	out := make([]T, rb.size)
	for i := 0; i < rb.size; i++ {
		out[i] = rb.data[(rb.head+i)%rb.capacity]
	}
	return out
}

// Reset drops every entry.
func (rb *RingBuffer[T]) Reset() {
	var zero T
	for i := range rb.data {
		rb.data[i] = zero
	}
	rb.head = 0
	rb.size = 0
}

func (rb *RingBuffer[T]) Len() int { return rb.size }
