package event

import (
	"sync/atomic"

	"github.com/driftworks/levelstream/parameter"
)

// Queue carries stream events from the workers and the scheduler tick to the
// single consumer that drains them each frame
//
// It is a fixed-size ring: producers claim a slot by CAS on the write index
// and mark it published once the event is fully written; the consumer skips
// slots whose flag is not yet set. When producers outrun the consumer the
// oldest unread events are overwritten and the read index jumps forward, so
// a stalled consumer sees a lossy tail rather than stalling the workers
type Queue struct {
	slots     [parameter.EventQueueSize]StreamEvent
	published [parameter.EventQueueSize]atomic.Bool
	read      atomic.Uint64
	write     atomic.Uint64
}

// NewQueue creates an empty event queue
func NewQueue() *Queue {
	return &Queue{}
}

func slot(i uint64) uint64 {
	return i & parameter.EventBufferMask
}

// Push appends ev; safe for any number of concurrent producers
func (q *Queue) Push(ev StreamEvent) {
	for {
		at := q.write.Load()
		if !q.write.CompareAndSwap(at, at+1) {
			continue
		}

		q.slots[slot(at)] = ev
		q.published[slot(at)].Store(true) // after the event write

		// Lapped the consumer: drag the read index past the overwrite
		if r := q.read.Load(); at+1-r > parameter.EventQueueSize {
			q.read.CompareAndSwap(r, at+1-parameter.EventQueueSize)
		}
		return
	}
}

// Consume drains all published events in FIFO order
// Single consumer only. An unpublished slot ends the batch early; the rest
// are picked up on the next call
func (q *Queue) Consume() []StreamEvent {
	for {
		from := q.read.Load()
		to := q.write.Load()

		if to == from {
			return nil
		}
		avail := to - from
		if avail > parameter.EventQueueSize {
			avail = parameter.EventQueueSize
			from = to - parameter.EventQueueSize
		}

		batch := make([]StreamEvent, 0, avail)
		for i := uint64(0); i < avail; i++ {
			idx := slot(from + i)
			if !q.published[idx].Load() {
				break
			}
			batch = append(batch, q.slots[idx])
			q.published[idx].Store(false)
		}

		if q.read.CompareAndSwap(from, from+uint64(len(batch))) {
			if len(batch) == 0 {
				return nil
			}
			return batch
		}
	}
}
