package builds

import "sync"

// queuedBuild is a build waiting for a free slot.
type queuedBuild struct {
	id      string
	startFn func()
}

// Queue limits the number of concurrently running builds. Builds beyond
// the limit wait in FIFO order.
type Queue struct {
	maxConcurrent int

	mu      sync.Mutex
	active  map[string]bool
	pending []queuedBuild
}

// NewQueue creates a queue with the given concurrency limit.
func NewQueue(maxConcurrent int) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Queue{
		maxConcurrent: maxConcurrent,
		active:        make(map[string]bool),
	}
}

// Enqueue registers a build and returns its queue position. Position 0
// means the build started immediately; startFn runs on its own goroutine.
func (q *Queue) Enqueue(id string, startFn func()) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.active) < q.maxConcurrent {
		q.active[id] = true
		go startFn()
		return 0
	}

	q.pending = append(q.pending, queuedBuild{id: id, startFn: startFn})
	return len(q.pending)
}

// MarkComplete releases a build's slot and starts the next queued build,
// if any.
func (q *Queue) MarkComplete(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.active, id)

	if len(q.pending) > 0 && len(q.active) < q.maxConcurrent {
		next := q.pending[0]
		q.pending = q.pending[1:]
		q.active[next.id] = true
		go next.startFn()
	}
}

// Remove drops a pending build from the queue. Returns false if the
// build is not pending (it may already be running or done).
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, b := range q.pending {
		if b.id == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Position returns the 1-based queue position for a pending build, or
// nil when the build is running or absent.
func (q *Queue) Position(id string) *int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active[id] {
		return nil
	}
	for i, b := range q.pending {
		if b.id == id {
			pos := i + 1
			return &pos
		}
	}
	return nil
}

// ActiveCount returns the number of builds currently running.
func (q *Queue) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

// PendingCount returns the number of builds waiting in the queue.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
