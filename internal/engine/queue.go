package engine

import "github.com/roach88/murelay/internal/ir"

// workItem is one outbox entry waiting to be processed.
type workItem struct {
	parent int // Arena index of the node whose outbox produced msg
	depth  int
	msg    ir.Message
}

// workQueue is the FIFO worklist of a crank.
//
// The queue is unbounded; the crank's node quota bounds how much is ever
// enqueued. Not safe for concurrent use: only the crank loop touches it,
// between waves.
type workQueue struct {
	items []workItem
}

// newWorkQueue creates an empty work queue.
func newWorkQueue() *workQueue {
	return &workQueue{
		items: make([]workItem, 0, 64),
	}
}

// Enqueue adds an item to the back of the queue.
func (q *workQueue) Enqueue(it workItem) {
	q.items = append(q.items, it)
}

// TryDequeue removes and returns the front item.
// Returns (workItem{}, false) if the queue is empty.
func (q *workQueue) TryDequeue() (workItem, bool) {
	if len(q.items) == 0 {
		return workItem{}, false
	}

	it := q.items[0]

	// Clear the slot so the backing array does not pin the message.
	q.items[0] = workItem{}

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return it, true
}

// DrainWave removes every queued item, in order. Items enqueued while
// the wave runs form the next wave.
func (q *workQueue) DrainWave() []workItem {
	wave := make([]workItem, 0, len(q.items))
	for {
		it, ok := q.TryDequeue()
		if !ok {
			return wave
		}
		wave = append(wave, it)
	}
}

// Len returns the current queue length.
func (q *workQueue) Len() int {
	return len(q.items)
}
