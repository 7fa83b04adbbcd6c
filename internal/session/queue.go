package session

import (
	"context"
	"sync"
)

// task is one unit of work submitted to a session queue. done is nil for
// fire-and-forget tasks.
type task struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// taskQueue is an unbounded FIFO of tasks drained by a single worker
// goroutine, so tasks of one session never run concurrently.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []task
	closed bool
	signal chan struct{} // buffered, size 1

	start  sync.Once
	onFail func(error)
}

func newTaskQueue(onFail func(error)) *taskQueue {
	return &taskQueue{
		tasks:  make([]task, 0, 8),
		signal: make(chan struct{}, 1),
		onFail: onFail,
	}
}

// Enqueue adds t to the back of the queue and starts the worker on first
// use. Returns false if the queue is closed.
func (q *taskQueue) Enqueue(t task) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, t)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	q.mu.Unlock()

	q.start.Do(func() { go q.run() })
	return true
}

// TryDequeue removes the front task without blocking.
func (q *taskQueue) TryDequeue() (task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return task{}, false
	}
	t := q.tasks[0]
	q.tasks[0] = task{}
	if len(q.tasks) == 1 {
		q.tasks = q.tasks[:0]
	} else {
		q.tasks = q.tasks[1:]
	}
	return t, true
}

// Len returns the number of tasks waiting to run.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close rejects further tasks. Tasks already queued still run.
func (q *taskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

func (q *taskQueue) run() {
	for {
		if t, ok := q.TryDequeue(); ok {
			q.execute(t)
			continue
		}
		q.mu.Lock()
		if q.closed && len(q.tasks) == 0 {
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()
		<-q.signal
	}
}

func (q *taskQueue) execute(t task) {
	ctx := withQueue(t.ctx, q)
	var err error
	if ctx.Err() != nil {
		err = ctx.Err()
	} else {
		err = t.fn(ctx)
	}
	if t.done != nil {
		t.done <- err
		return
	}
	if err != nil && q.onFail != nil {
		q.onFail(err)
	}
}

type queueKey struct{}

// queueMark records which queues the current goroutine is running on.
type queueMark struct {
	q    *taskQueue
	next *queueMark
}

func withQueue(ctx context.Context, q *taskQueue) context.Context {
	next, _ := ctx.Value(queueKey{}).(*queueMark)
	return context.WithValue(ctx, queueKey{}, &queueMark{q: q, next: next})
}

func onQueue(ctx context.Context, q *taskQueue) bool {
	for m, _ := ctx.Value(queueKey{}).(*queueMark); m != nil; m = m.next {
		if m.q == q {
			return true
		}
	}
	return false
}
