package event

import (
	"sync"
	"time"
)

// Queue is an unbounded FIFO of events drained by a single consumer
// goroutine. Publish never blocks, and handlers see events in the order
// they were published.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []Event
	handlers []Handler
	closed   bool
	done     chan struct{}
}

// NewQueue creates a queue and starts its consumer goroutine.
// The given handlers are subscribed immediately.
func NewQueue(handlers ...Handler) *Queue {
	q := &Queue{
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	for _, h := range handlers {
		if h != nil {
			q.handlers = append(q.handlers, h)
		}
	}
	go q.run()
	return q
}

// Subscribe registers h for every event published after this call.
func (q *Queue) Subscribe(h Handler) {
	if h == nil {
		return
	}
	q.mu.Lock()
	q.handlers = append(q.handlers, h)
	q.mu.Unlock()
}

// Publish appends e to the queue. Events published after Close are
// dropped.
func (q *Queue) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, e)
	q.cond.Signal()
}

// Len returns the number of events waiting for delivery.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting events and waits until the pending ones have been
// delivered. It is safe to call more than once, but not from a handler.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.cond.Signal()
	}
	q.mu.Unlock()
	<-q.done
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		e := q.items[0]
		q.items[0] = Event{}
		q.items = q.items[1:]
		handlers := q.handlers
		q.mu.Unlock()

		for _, h := range handlers {
			h(e)
		}
	}
}
