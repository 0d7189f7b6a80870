// Package schedule provides a delayed task queue: fire a callback after
// a delay, cancel a pending callback by id.
package schedule

import (
	"sync"
	"time"
)

// TaskID identifies one dispatched task. TaskNone is never assigned.
type TaskID uint64

// TaskNone is the zero TaskID, used by callers to mean "no outstanding
// task".
const TaskNone TaskID = 0

// CancelResult is the outcome of a Cancel call.
//
// Cancellation is three-valued because callers need to know who owns
// cleanup when a cancel races with the firing callback:
//   - CancelOK: the task was still pending and will never run; the
//     canceller reclaims any resources the callback would have consumed.
//   - CancelNotFound: no such task (never dispatched, or already
//     finished); nothing to reclaim.
//   - CancelRunning: the callback is firing right now; its own
//     completion path owns cleanup.
type CancelResult int

const (
	CancelOK CancelResult = iota
	CancelNotFound
	CancelRunning
)

// String returns a human-readable name for the cancel outcome.
func (r CancelResult) String() string {
	switch r {
	case CancelOK:
		return "canceled"
	case CancelNotFound:
		return "not-found"
	case CancelRunning:
		return "running"
	default:
		return "unknown"
	}
}

type task struct {
	id      TaskID
	timer   *time.Timer
	running bool
	done    chan struct{}
}

// Queue dispatches callbacks after a delay on background goroutines.
//
// Thread Safety: Safe for concurrent use. Callbacks run concurrently
// with each other and with Dispatch/Cancel callers; a callback must not
// call Cancel on its own id.
type Queue struct {
	mu      sync.Mutex
	tasks   map[TaskID]*task
	nextID  TaskID
	stopped bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		tasks:  make(map[TaskID]*task),
		nextID: 1,
	}
}

// Dispatch schedules fn to run once after delay and returns its id.
// A non-positive delay fires (asynchronously) right away. Returns
// TaskNone if the queue has been stopped.
func (q *Queue) Dispatch(delay time.Duration, fn func()) TaskID {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return TaskNone
	}

	t := &task{
		id:   q.nextID,
		done: make(chan struct{}),
	}
	q.nextID++

	t.timer = time.AfterFunc(delay, func() {
		q.run(t, fn)
	})
	q.tasks[t.id] = t
	return t.id
}

// Cancel cancels a pending task.
//
// Returns CancelOK when the task was removed before firing,
// CancelNotFound when no task with this id is pending or firing, and
// CancelRunning when the callback is already executing (in which case
// the callback keeps running to completion; Cancel does not wait for
// it).
func (q *Queue) Cancel(id TaskID) CancelResult {
	q.mu.Lock()

	t, ok := q.tasks[id]
	if !ok {
		q.mu.Unlock()
		return CancelNotFound
	}

	if !t.running && t.timer.Stop() {
		delete(q.tasks, id)
		q.mu.Unlock()
		return CancelOK
	}

	// Timer already fired: the callback holds (or is about to take)
	// the queue lock in run().
	q.mu.Unlock()
	return CancelRunning
}

// Wait blocks until the task with this id has finished executing.
// Returns immediately when the id is unknown or already complete.
func (q *Queue) Wait(id TaskID) {
	q.mu.Lock()
	t, ok := q.tasks[id]
	q.mu.Unlock()
	if ok {
		<-t.done
	}
}

// Len returns the number of tasks that are pending or currently firing.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Stop cancels every pending task, waits for firing callbacks to
// finish, and rejects further dispatches.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	var inflight []*task
	for id, t := range q.tasks {
		if !t.running && t.timer.Stop() {
			delete(q.tasks, id)
			continue
		}
		inflight = append(inflight, t)
	}
	q.mu.Unlock()

	for _, t := range inflight {
		<-t.done
	}
}

// run is the timer callback wrapper. It publishes the running state so
// Cancel can distinguish pending from firing, then executes fn and
// retires the task.
func (q *Queue) run(t *task, fn func()) {
	q.mu.Lock()
	if _, ok := q.tasks[t.id]; !ok {
		// Lost the race against a successful Cancel.
		q.mu.Unlock()
		close(t.done)
		return
	}
	t.running = true
	q.mu.Unlock()

	fn()

	q.mu.Lock()
	delete(q.tasks, t.id)
	q.mu.Unlock()
	close(t.done)
}
