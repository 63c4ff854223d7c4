package conversation

import (
	"container/heap"
	"time"
)

// expiryEntry schedules id for a check at deadline. Entries are never
// updated in place: a mutation pushes a fresh entry and the old one is
// recognised as stale when popped.
type expiryEntry struct {
	id       string
	deadline time.Time
}

// expiryQueue is a min-heap of entries ordered by deadline.
type expiryQueue []expiryEntry

func (q expiryQueue) Len() int           { return len(q) }
func (q expiryQueue) Less(i, j int) bool { return q[i].deadline.Before(q[j].deadline) }
func (q expiryQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *expiryQueue) Push(x any) {
	*q = append(*q, x.(expiryEntry))
}

func (q *expiryQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	*q = old[:n-1]
	return e
}

func (q *expiryQueue) schedule(id string, deadline time.Time) {
	heap.Push(q, expiryEntry{id: id, deadline: deadline})
}

// popDue removes and returns the earliest entry if its deadline has passed.
func (q *expiryQueue) popDue(now time.Time) (expiryEntry, bool) {
	if q.Len() == 0 || !now.After((*q)[0].deadline) {
		return expiryEntry{}, false
	}
	return heap.Pop(q).(expiryEntry), true
}
