package audio

import (
	"sync"
)

// Queue is a thread-safe FIFO of audio fragments awaiting playback.
// Fragments are removed only in arrival order, in batches.
type Queue struct {
	mu      sync.Mutex
	items   []*Fragment
	nextSeq uint64
}

// NewQueue creates an empty fragment queue
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends a fragment and assigns its arrival sequence number
func (q *Queue) Push(f *Fragment) {
	q.mu.Lock()
	defer q.mu.Unlock()

	f.Seq = q.nextSeq
	q.nextSeq++
	q.items = append(q.items, f)
}

// PopN removes and returns up to n fragments in FIFO order
func (q *Queue) PopN(n int) []*Fragment {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.items) {
		n = len(q.items)
	}
	if n <= 0 {
		return nil
	}

	batch := make([]*Fragment, n)
	copy(batch, q.items[:n])
	q.items = q.items[n:]
	return batch
}

// Len returns the number of queued fragments
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsEmpty returns true if no fragments are queued
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// Clear discards all queued fragments. Sequence numbering continues so a
// late fragment from the same turn cannot collide with an earlier one.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	q.items = nil
	return n
}
