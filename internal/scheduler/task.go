package scheduler

// Task is a transient scheduling entry: a message_id waiting to become
// eligible for delivery (in the delay wheel) or already eligible (in the
// ready heap). A task's id lives in exactly one of those two places at a
// time; see readyHeap and Scheduler.wheel.
type Task struct {
	Priority int32
	Due      int64 // absolute wall-clock milliseconds
	ID       uint64
}

// readyHeap orders tasks by (priority ASC, due ASC, id ASC), the monotone
// priority order required by the ready-side hand-off.
type readyHeap []Task

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	if h[i].Due != h[j].Due {
		return h[i].Due < h[j].Due
	}
	return h[i].ID < h[j].ID
}

func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *readyHeap) Push(x any) {
	*h = append(*h, x.(Task))
}

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	*h = old[:n-1]
	return t
}
