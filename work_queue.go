package chronicle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task is a unit of background work.
type Task func(ctx context.Context) error

// QueueStats reports work queue counters.
type QueueStats struct {
	Workers   int
	Capacity  int
	Pending   int64
	Submitted int64
	Completed int64
	Failed    int64
	Dropped   int64
}

// QueueOption configures a WorkQueue.
type QueueOption func(*WorkQueue)

// WithWorkers sets the number of worker goroutines.
func WithWorkers(n int) QueueOption {
	return func(q *WorkQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithQueueCapacity sets the number of tasks that may wait for a worker.
func WithQueueCapacity(n int) QueueOption {
	return func(q *WorkQueue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// WithQueueLogger sets the logger for task failures.
func WithQueueLogger(logger Logger) QueueOption {
	return func(q *WorkQueue) {
		q.logger = logger
	}
}

// WithTaskTimeout bounds the run time of each task.
func WithTaskTimeout(d time.Duration) QueueOption {
	return func(q *WorkQueue) {
		if d > 0 {
			q.taskTimeout = d
		}
	}
}

type queuedTask struct {
	key  string
	name string
	run  Task
}

// WorkQueue is a bounded queue drained by a fixed pool of workers.
// Submit never blocks: when the queue is full the task is dropped and
// ErrQueueFull returned.
type WorkQueue struct {
	workers     int
	capacity    int
	taskTimeout time.Duration
	logger      Logger

	mu       sync.RWMutex
	tasks    chan queuedTask
	inflight map[string]struct{}
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	pending   atomic.Int64
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewWorkQueue creates a WorkQueue and starts its workers.
// Defaults are 4 workers, 256 queued tasks and a 30 second task timeout.
func NewWorkQueue(opts ...QueueOption) *WorkQueue {
	q := &WorkQueue{
		workers:     4,
		capacity:    256,
		taskTimeout: 30 * time.Second,
		logger:      &noopLogger{},
		inflight:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}

	q.tasks = make(chan queuedTask, q.capacity)
	q.ctx, q.cancel = context.WithCancel(context.Background())
	q.group = &errgroup.Group{}

	for i := 0; i < q.workers; i++ {
		q.group.Go(q.work)
	}

	return q
}

// Submit enqueues a task. It returns ErrQueueFull when no slot is free and
// ErrQueueClosed after Close.
func (q *WorkQueue) Submit(name string, task Task) error {
	return q.submit(queuedTask{name: name, run: task})
}

// SubmitKeyed enqueues a task unless a task with the same key is already
// queued or running, in which case it returns false and no error.
func (q *WorkQueue) SubmitKeyed(key, name string, task Task) (bool, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false, ErrQueueClosed
	}
	if _, busy := q.inflight[key]; busy {
		q.mu.Unlock()
		return false, nil
	}
	q.inflight[key] = struct{}{}
	q.mu.Unlock()

	if err := q.submit(queuedTask{key: key, name: name, run: task}); err != nil {
		q.release(key)
		return false, err
	}
	return true, nil
}

func (q *WorkQueue) submit(t queuedTask) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.pending.Add(1)
	select {
	case q.tasks <- t:
		q.submitted.Add(1)
		return nil
	default:
		q.pending.Add(-1)
		q.dropped.Add(1)
		return fmt.Errorf("%w: %s", ErrQueueFull, t.name)
	}
}

func (q *WorkQueue) release(key string) {
	if key == "" {
		return
	}
	q.mu.Lock()
	delete(q.inflight, key)
	q.mu.Unlock()
}

func (q *WorkQueue) work() error {
	for t := range q.tasks {
		q.execute(t)
	}
	return nil
}

func (q *WorkQueue) execute(t queuedTask) {
	defer q.pending.Add(-1)
	defer q.release(t.key)

	ctx, cancel := context.WithTimeout(q.ctx, q.taskTimeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("chronicle: task %s panicked: %v", t.name, r)
			}
		}()
		return t.run(ctx)
	}()

	if err != nil {
		q.failed.Add(1)
		q.logger.Warn("Background task failed", "task", t.name, "key", t.key, "error", err)
		return
	}
	q.completed.Add(1)
}

// Flush waits until every submitted task has finished or ctx is done.
func (q *WorkQueue) Flush(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()

	for q.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Stats returns a snapshot of the queue counters.
func (q *WorkQueue) Stats() QueueStats {
	return QueueStats{
		Workers:   q.workers,
		Capacity:  q.capacity,
		Pending:   q.pending.Load(),
		Submitted: q.submitted.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
		Dropped:   q.dropped.Load(),
	}
}

// Close stops accepting tasks and waits for queued tasks to finish. When ctx
// expires first, running tasks are cancelled and Close returns ctx.Err().
func (q *WorkQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- q.group.Wait()
	}()

	select {
	case err := <-done:
		q.cancel()
		return err
	case <-ctx.Done():
		q.cancel()
		return ctx.Err()
	}
}
