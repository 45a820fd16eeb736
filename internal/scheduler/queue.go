package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/bf1942ingest/scoutd/internal/model"
)

// entry is a single Poll Entry: an address due for its next probe at a
// given time.
type entry struct {
	addr model.Address
	due  time.Time
}

// entryHeap is a container/heap ordered by due time, tie-broken by
// address string for deterministic fairness between entries that become
// due at the same instant.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].addr.String() < h[j].addr.String()
	}
	return h[i].due.Before(h[j].due)
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)   { *h = append(*h, x.(*entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue is the adaptive scheduler's due-time priority queue. Workers
// block in PopDue on the earliest due entry rather than polling on a
// fixed tick, satisfying the no-busy-spin requirement: a worker is
// either doing work or asleep on a timer/wake channel, never spinning.
type Queue struct {
	mu   sync.Mutex
	heap entryHeap
	wake chan struct{}
}

// NewQueue builds an empty Queue.
func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Push adds addr with the given due time and wakes any worker that might
// now have an earlier entry to wait on.
func (q *Queue) Push(addr model.Address, due time.Time) {
	q.mu.Lock()
	heap.Push(&q.heap, &entry{addr: addr, due: due})
	q.mu.Unlock()
	q.signal()
}

// Len reports the number of entries currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// PopDue blocks until the earliest entry's due time has arrived, then
// pops and returns it. It returns false if ctx is canceled first.
func (q *Queue) PopDue(ctx context.Context) (model.Address, bool) {
	for {
		q.mu.Lock()
		if len(q.heap) == 0 {
			q.mu.Unlock()
			select {
			case <-q.wake:
				continue
			case <-ctx.Done():
				return model.Address{}, false
			}
		}

		top := q.heap[0]
		now := time.Now()
		if !top.due.After(now) {
			heap.Pop(&q.heap)
			q.mu.Unlock()
			return top.addr, true
		}
		wait := top.due.Sub(now)
		q.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-q.wake:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return model.Address{}, false
		}
	}
}
