// Package shutdownqueue collects named cleanup tasks and drains them in LIFO order.
//
//	q := shutdownqueue.New(logger)
//	q.Add("db", func(ctx context.Context) error { return db.Close() })
//	defer q.Shutdown(ctx)
//
// Tasks run once. Panics are recovered and reported as errors. Shutdown is idempotent and
// returns every task error joined with errors.Join.
package shutdownqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is a shutdown function. It should honor ctx and return an error
// if it can't finish (or ctx is canceled).
type Task func(ctx context.Context) error

type namedTask struct {
	name string
	fn   Task
}

// Queue is safe for concurrent use.
type Queue struct {
	mu     sync.Mutex
	tasks  []namedTask
	closed bool
	logger *zap.Logger
}

// New returns an empty queue. A nil logger disables logging.
func New(logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Queue{
		tasks:  make([]namedTask, 0, 8),
		logger: logger,
	}
}

// Add registers a task. Nil tasks and tasks added after Shutdown started are ignored.
func (q *Queue) Add(name string, t Task) {
	if t == nil {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.logger.Warn("shutdown task added after shutdown started", zap.String("task", name))
		return
	}

	q.tasks = append(q.tasks, namedTask{name: name, fn: t})
}

// Len reports the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.tasks)
}

// Shutdown drains all registered tasks in LIFO order.
//
// If ctx is canceled mid-drain, Shutdown stops early and returns the context error joined
// with any task errors collected so far.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()

	if q.closed && len(q.tasks) == 0 {
		q.mu.Unlock()

		return nil
	}

	q.closed = true
	tasks := q.tasks
	q.tasks = nil

	q.mu.Unlock()

	var errs []error

	for i := len(tasks) - 1; i >= 0; i-- {
		select {
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("shutdown canceled: %w", ctx.Err()))

			return errors.Join(errs...)
		default:
		}

		err := q.run(ctx, tasks[i])
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (q *Queue) run(ctx context.Context, t namedTask) (err error) {
	start := time.Now()

	defer func() {
		r := recover()
		if r != nil {
			err = fmt.Errorf("panic in shutdown task %q: %v", t.name, r)
		}

		if err != nil {
			q.logger.Error("shutdown task failed", zap.String("task", t.name), zap.Error(err))
			return
		}

		q.logger.Info("shutdown task done",
			zap.String("task", t.name),
			zap.Duration("took", time.Since(start)),
		)
	}()

	err = t.fn(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", t.name, err)
	}

	return nil
}
