package escalation

import (
	"container/heap"
	"time"
)

// deadline is one armed entry in the queue. gen must match the item's
// current generation for the entry to be live; re-arming or closing an item
// bumps the generation and leaves stale entries to be skipped.
type deadline struct {
	id  string
	at  time.Time
	gen uint64
}

// deadlineHeap orders entries by time, then id for determinism.
type deadlineHeap []deadline

func (h deadlineHeap) Len() int { return len(h) }

func (h deadlineHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].id < h[j].id
	}
	return h[i].at.Before(h[j].at)
}

func (h deadlineHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *deadlineHeap) Push(x any) { *h = append(*h, x.(deadline)) }

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	d := old[n-1]
	*h = old[:n-1]
	return d
}

func (h *deadlineHeap) push(d deadline) { heap.Push(h, d) }

func (h *deadlineHeap) pop() deadline { return heap.Pop(h).(deadline) }

func (h deadlineHeap) peek() (deadline, bool) {
	if len(h) == 0 {
		return deadline{}, false
	}
	return h[0], true
}
