// queue package

package queue

const (
	// QueueBufferSize represents the default maximum size of a queue
	QueueBufferSize = 1024
)

var _ Queue[int] = &InMemoryQueue[int]{}

// InMemoryQueue implements an in-memory queue backed by a buffered channel.
type InMemoryQueue[T any] struct {
	ch chan T
}

// NewInMemoryQueue creates a new queue holding up to size items.
// A size of zero or less uses QueueBufferSize.
func NewInMemoryQueue[T any](size int) *InMemoryQueue[T] {
	if size <= 0 {
		size = QueueBufferSize
	}
	return &InMemoryQueue[T]{
		ch: make(chan T, size),
	}
}

// Enqueue adds an item to the end of the queue.
func (q *InMemoryQueue[T]) Enqueue(item T) error {
	select {
	case q.ch <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *InMemoryQueue[T]) C() <-chan T {
	return q.ch
}

// Size returns the current size of the queue.
func (q *InMemoryQueue[T]) Size() int {
	return len(q.ch)
}

// ReadAllMessages drains the items pending in the queue.
func (q *InMemoryQueue[T]) ReadAllMessages() []T {
	var items []T
	for {
		select {
		case item := <-q.ch:
			items = append(items, item)
		default:
			return items
		}
	}
}

// ClearQueue clears all items from the queue.
func (q *InMemoryQueue[T]) ClearQueue() {
	q.ReadAllMessages()
}
