package event

import (
	"sync"

	"github.com/ramseymcgrath/Hurricane/wire"
)

// QueueCapacity bounds the fixed-size event queue between the HAL's ISR
// context and the cooperative polling context: a fixed-size lock-free event
// queue between ISR and the polling context is the recommended pattern, with
// the core only ever consuming from the queue. A plain mutex stands in for a
// true lock-free ring since the core is otherwise single-threaded
// cooperative; see DESIGN.md.
const QueueCapacity = 32

// Queue is a bounded FIFO of raw HAL events. Push is meant to be called from
// an interrupt bottom-half; Pop is meant to be called from the
// cooperative polling context (task()).
type Queue struct {
	mu   sync.Mutex
	buf  [QueueCapacity]wire.Event
	head int
	size int
}

// Push enqueues ev. It returns false and drops the event if the queue is
// full, matching the fixed-capacity, no-dynamic-allocation resource model
// the rest of this module follows.
func (q *Queue) Push(ev wire.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == QueueCapacity {
		return false
	}

	tail := (q.head + q.size) % QueueCapacity
	q.buf[tail] = ev
	q.size++
	return true
}

// Pop dequeues the oldest event, if any.
func (q *Queue) Pop() (wire.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return wire.Event{}, false
	}

	ev := q.buf[q.head]
	q.buf[q.head] = wire.Event{}
	q.head = (q.head + 1) % QueueCapacity
	q.size--
	return ev, true
}

// Len reports the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}
