// Copyright 2026 The DSA Historian Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package watchgroup

import (
	"sync"

	"github.com/dsahistorian/historian/core/value"
)

// updateQueue is the group's FIFO of pending WatchUpdates. spec.md §5
// allows lock-free MPMC semantics ("source uses a concurrent deque"); a
// mutex-guarded slice gives the same FIFO ordering guarantee with no
// pack library offering a ready-made lock-free deque, so stdlib
// synchronization is used here (see DESIGN.md).
type updateQueue struct {
	mu    sync.Mutex
	items []value.WatchUpdate
}

// Push enqueues wu at the tail.
func (q *updateQueue) Push(wu value.WatchUpdate) {
	q.mu.Lock()
	q.items = append(q.items, wu)
	q.mu.Unlock()
}

// Len reports the current queue size.
func (q *updateQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// DrainAll removes and returns every queued entry, in FIFO order.
func (q *updateQueue) DrainAll() []value.WatchUpdate {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// PopN removes and returns up to n entries from the head, in FIFO order.
func (q *updateQueue) PopN(n int) []value.WatchUpdate {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.items) {
		n = len(q.items)
	}
	out := q.items[:n:n]
	q.items = q.items[n:]
	return out
}
