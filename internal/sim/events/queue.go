package events

import (
	"container/heap"
	"sort"
)

type scheduledHeap []Scheduled

func (h scheduledHeap) Len() int { return len(h) }
func (h scheduledHeap) Less(i, j int) bool {
	if h[i].Due != h[j].Due {
		return h[i].Due < h[j].Due
	}
	if pi, pj := h[i].Event.Priority(), h[j].Event.Priority(); pi != pj {
		return pi < pj
	}
	return h[i].Seq < h[j].Seq
}
func (h scheduledHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *scheduledHeap) Push(x any)   { *h = append(*h, x.(Scheduled)) }
func (h *scheduledHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = Scheduled{}
	*h = old[:n-1]
	return it
}

// Queue is a min-heap of scheduled events keyed by due tick. Seq is
// assigned on push so equal keys pop in insertion order.
type Queue struct {
	h   scheduledHeap
	seq uint64
}

func NewQueue() *Queue { return &Queue{} }

func (q *Queue) Push(ev Event, due uint64, src Source) Scheduled {
	q.seq++
	s := Scheduled{Event: ev, Due: due, Seq: q.seq, Source: src}
	heap.Push(&q.h, s)
	return s
}

func (q *Queue) Len() int { return len(q.h) }

func (q *Queue) Peek() (Scheduled, bool) {
	if len(q.h) == 0 {
		return Scheduled{}, false
	}
	return q.h[0], true
}

// PopDue removes every event due at or before tick and returns them in
// application order: priority first, then due tick, then push order.
func (q *Queue) PopDue(tick uint64) []Scheduled {
	var out []Scheduled
	for len(q.h) > 0 && q.h[0].Due <= tick {
		out = append(out, heap.Pop(&q.h).(Scheduled))
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Event.Priority(), out[j].Event.Priority()
		if pi != pj {
			return pi < pj
		}
		if out[i].Due != out[j].Due {
			return out[i].Due < out[j].Due
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// Pending returns a copy of the queue contents in pop order.
func (q *Queue) Pending() []Scheduled {
	out := append([]Scheduled(nil), q.h...)
	sort.Slice(out, func(i, j int) bool { return scheduledHeap(out).Less(i, j) })
	return out
}
