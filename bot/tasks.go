package bot

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultTaskTimeout = 10 * time.Second

type task struct {
	name string
	f    func(ctx context.Context) error
}

// TaskQueue runs detached jobs one at a time in the background. Submit never
// blocks: when the queue is full the job is dropped.
type TaskQueue struct {
	tasks   chan task
	timeout time.Duration
	logger  *zap.SugaredLogger
	onDrop  func(name string)

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewTaskQueue starts a queue holding up to size pending jobs. onDrop may be
// nil.
func NewTaskQueue(size int, l *zap.SugaredLogger, onDrop func(name string)) *TaskQueue {
	if size < 1 {
		size = 1
	}
	q := &TaskQueue{
		tasks:   make(chan task, size),
		timeout: defaultTaskTimeout,
		logger:  l,
		onDrop:  onDrop,
		done:    make(chan struct{}),
	}
	go q.work()
	return q
}

// Submit enqueues f and reports whether it was accepted.
func (q *TaskQueue) Submit(name string, f func(ctx context.Context) error) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.drop(name, "queue is closed")
		return false
	}

	select {
	case q.tasks <- task{name: name, f: f}:
		return true
	default:
		q.drop(name, "queue is full")
		return false
	}
}

func (q *TaskQueue) drop(name, reason string) {
	q.logger.Warnw("dropped background task", "task", name, "reason", reason)
	if q.onDrop != nil {
		q.onDrop(name)
	}
}

func (q *TaskQueue) work() {
	defer close(q.done)

	for t := range q.tasks {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		if err := t.f(ctx); err != nil {
			q.logger.Errorw("failed background task", "task", t.name, "err", err)
		}
		cancel()
	}
}

// Close stops accepting jobs and waits for the pending ones to finish.
func (q *TaskQueue) Close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()

	<-q.done
	return nil
}
