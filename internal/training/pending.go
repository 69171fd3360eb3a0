// ABOUTME: Pending trigger list evaluated once per tick
// ABOUTME: Replaces "wait N seconds then continue" with (deadline, action) entries
package training

import (
	"container/heap"
	"time"
)

// pendingTrigger runs action once the session clock reaches deadline
type pendingTrigger struct {
	deadline time.Duration
	seq      uint64 // keeps same-deadline entries in scheduling order
	name     string
	action   func()
}

// pendingQueue is a priority queue of triggers ordered by deadline
type pendingQueue struct {
	items []pendingTrigger
	next  uint64
}

func newPendingQueue() *pendingQueue {
	q := &pendingQueue{}
	heap.Init(q)
	return q
}

// schedule adds an action to run at deadline
func (q *pendingQueue) schedule(deadline time.Duration, name string, action func()) {
	q.next++
	heap.Push(q, pendingTrigger{deadline: deadline, seq: q.next, name: name, action: action})
}

// due pops every trigger whose deadline is at or before now, in order
func (q *pendingQueue) due(now time.Duration) []pendingTrigger {
	var out []pendingTrigger
	for q.Len() > 0 && q.peek().deadline <= now {
		out = append(out, heap.Pop(q).(pendingTrigger))
	}
	return out
}

func (q *pendingQueue) clear() {
	q.items = nil
}

// names lists scheduled trigger names in deadline order, for snapshots
func (q *pendingQueue) names() []string {
	sorted := make([]pendingTrigger, len(q.items))
	copy(sorted, q.items)
	h := &pendingQueue{items: sorted}
	heap.Init(h)

	out := make([]string, 0, len(sorted))
	for h.Len() > 0 {
		out = append(out, heap.Pop(h).(pendingTrigger).name)
	}
	return out
}

// Implement heap.Interface
func (q *pendingQueue) Len() int { return len(q.items) }

func (q *pendingQueue) Less(i, j int) bool {
	if q.items[i].deadline == q.items[j].deadline {
		return q.items[i].seq < q.items[j].seq
	}
	return q.items[i].deadline < q.items[j].deadline
}

func (q *pendingQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
}

func (q *pendingQueue) Push(x interface{}) {
	q.items = append(q.items, x.(pendingTrigger))
}

func (q *pendingQueue) Pop() interface{} {
	n := len(q.items)
	item := q.items[n-1]
	q.items = q.items[:n-1]
	return item
}

func (q *pendingQueue) peek() pendingTrigger {
	return q.items[0]
}
