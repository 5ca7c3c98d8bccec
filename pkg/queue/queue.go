package queue

import "errors"

// ErrQueueFull is returned by Enqueue when the buffer has no free slot.
var ErrQueueFull = errors.New("queue is full")

// Queue represents a basic FIFO queue.
type Queue[T any] interface {
	// Enqueue adds an item without blocking.
	Enqueue(item T) error
	// C exposes the receiving side so consumers can select on it.
	C() <-chan T
	Size() int
	ReadAllMessages() []T
	ClearQueue()
}
