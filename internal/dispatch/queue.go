package dispatch

import (
	"sync"

	"github.com/roach88/mnemo/internal/ir"
)

// eventQueue is a bounded, thread-safe FIFO queue of events.
//
// Publishers enqueue from any goroutine; the Dispatcher's Run loop is the
// only consumer. Waiting uses a signal channel so the Run loop can select on
// context cancellation.
type eventQueue struct {
	mu       sync.Mutex
	events   []ir.Event
	capacity int
	closed   bool
	signal   chan struct{} // Signals event availability (buffered, size 1)
}

func newEventQueue(capacity int) *eventQueue {
	return &eventQueue{
		events:   make([]ir.Event, 0, min(capacity, 64)),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue without blocking.
// Returns ErrClosed after Close and ErrQueueFull at capacity.
func (q *eventQueue) Enqueue(e ir.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if len(q.events) >= q.capacity {
		return ErrQueueFull
	}

	q.events = append(q.events, e)

	// Buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// TryDequeue removes the front event without blocking.
// Returns false if the queue is empty.
func (q *eventQueue) TryDequeue() (ir.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return ir.Event{}, false
	}

	e := q.events[0]

	// Clear the slot so the payload snapshots can be collected.
	q.events[0] = ir.Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel that signals when events may be available.
// The channel is closed by Close.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close rejects further enqueues and wakes the consumer.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
