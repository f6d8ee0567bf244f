package resources

import "container/heap"

// taskHeap implements container/heap.Interface over TaskQueueEntry,
// ordered by (Priority, EnqueuedAt) ascending so Pop always returns the
// lexicographically smallest entry.
type taskHeap []*TaskQueueEntry

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].EnqueuedAt.Before(h[j].EnqueuedAt)
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x interface{}) {
	*h = append(*h, x.(*TaskQueueEntry))
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// priorityQueue wraps taskHeap with an id index for O(1) lookup by
// task_id; cancel/update-priority then scan the heap linearly for the
// entry's position before the O(log n) heap fix-up.
type priorityQueue struct {
	heap  taskHeap
	index map[string]*TaskQueueEntry
}

func newPriorityQueue() *priorityQueue {
	q := &priorityQueue{index: make(map[string]*TaskQueueEntry)}
	heap.Init(&q.heap)
	return q
}

func (q *priorityQueue) contains(taskID string) bool {
	_, ok := q.index[taskID]
	return ok
}

func (q *priorityQueue) push(entry *TaskQueueEntry) {
	q.index[entry.TaskID] = entry
	heap.Push(&q.heap, entry)
}

// pop removes and returns the highest-priority entry, or nil if empty.
func (q *priorityQueue) pop() *TaskQueueEntry {
	if q.heap.Len() == 0 {
		return nil
	}
	entry := heap.Pop(&q.heap).(*TaskQueueEntry)
	delete(q.index, entry.TaskID)
	return entry
}

// peek returns the highest-priority entry without removing it, or nil.
func (q *priorityQueue) peek() *TaskQueueEntry {
	if q.heap.Len() == 0 {
		return nil
	}
	return q.heap[0]
}

// remove deletes a specific task id from the queue, rebuilding heap
// ordering. Returns true if the task was present.
func (q *priorityQueue) remove(taskID string) bool {
	entry, ok := q.index[taskID]
	if !ok {
		return false
	}
	for i, e := range q.heap {
		if e == entry {
			heap.Remove(&q.heap, i)
			break
		}
	}
	delete(q.index, taskID)
	return true
}

// updatePriority changes a queued task's priority, preserving its
// original EnqueuedAt so arrival order within the new priority band is
// unaffected. Returns false if the task is not queued.
func (q *priorityQueue) updatePriority(taskID string, newPriority Priority) bool {
	entry, ok := q.index[taskID]
	if !ok {
		return false
	}
	entry.Priority = newPriority
	for i, e := range q.heap {
		if e == entry {
			heap.Fix(&q.heap, i)
			break
		}
	}
	return true
}

func (q *priorityQueue) len() int { return q.heap.Len() }

// countByPriority returns the number of queued entries per priority band.
func (q *priorityQueue) countByPriority() map[Priority]int {
	counts := make(map[Priority]int, 5)
	for _, e := range q.heap {
		counts[e.Priority]++
	}
	return counts
}
