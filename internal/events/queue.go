package events

import (
	"sync"
)

// DefaultQueueSize is the default capacity of the client event queue.
const DefaultQueueSize = 1024

// Publisher accepts client lifecycle events.
type Publisher interface {
	Publish(event Event)
}

// Queue is the multi-producer, single-consumer channel that carries
// client lifecycle events from readers to the Hub. Events from one
// producer goroutine are delivered in publish order.
type Queue struct {
	ch        chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue creates a Queue with the given capacity.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		ch:   make(chan Event, size),
		done: make(chan struct{}),
	}
}

// Publish enqueues an event, blocking while the queue is full.
// Events published after Close are dropped.
func (q *Queue) Publish(event Event) {
	select {
	case <-q.done:
		return
	default:
	}

	select {
	case q.ch <- event:
	case <-q.done:
	}
}

// Events returns the receive side of the queue.
func (q *Queue) Events() <-chan Event {
	return q.ch
}

// Done is closed once the queue stops accepting events.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Close stops accepting new events. Events already queued stay readable.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
