package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// userQueue serializes changes per user. Jobs for one user run one at a
// time in arrival order; different users proceed in parallel.
type userQueue struct {
	mu      sync.Mutex
	workers map[string]*userWorker
	logger  *slog.Logger
}

type userWorker struct {
	pending  []*queuedJob
	inflight int
	running  bool
}

type queuedJob struct {
	ctx  context.Context
	fn   func(context.Context) error
	err  error
	done chan struct{}
}

func newUserQueue(logger *slog.Logger) *userQueue {
	return &userQueue{workers: make(map[string]*userWorker), logger: defaultLogger(logger)}
}

// Do runs fn once every job queued earlier for userID has finished. A job
// whose context ends while it waits is dropped without running.
func (q *userQueue) Do(ctx context.Context, userID string, fn func(context.Context) error) error {
	job := &queuedJob{ctx: ctx, fn: fn, done: make(chan struct{})}

	q.mu.Lock()
	w, ok := q.workers[userID]
	if !ok {
		w = &userWorker{}
		q.workers[userID] = w
	}
	w.pending = append(w.pending, job)
	waiting := len(w.pending) + w.inflight
	busy := w.running
	if !w.running {
		w.running = true
		go q.drain(userID, w)
	}
	q.mu.Unlock()

	if busy {
		serviceLogger(ctx, q.logger, "PlannerService", "queue", "user_id", userID).
			InfoContext(ctx, "change queued", "error_kind", ErrorKind(ErrDisruptionQueued), "position", waiting)
	}

	select {
	case <-job.done:
		return job.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *userQueue) drain(userID string, w *userWorker) {
	for {
		q.mu.Lock()
		w.inflight = 0
		if len(w.pending) == 0 {
			w.running = false
			delete(q.workers, userID)
			q.mu.Unlock()
			return
		}
		job := w.pending[0]
		w.pending[0] = nil
		w.pending = w.pending[1:]
		w.inflight = 1
		q.mu.Unlock()

		job.err = run(job)
		close(job.done)
	}
}

func run(job *queuedJob) (err error) {
	if err := job.ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("application: queued change panicked: %v", r)
		}
	}()
	return job.fn(job.ctx)
}

// depth returns the number of jobs waiting or running for userID.
func (q *userQueue) depth(userID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if w, ok := q.workers[userID]; ok {
		return len(w.pending) + w.inflight
	}
	return 0
}
