// Package queue runs typed jobs on a bounded worker pool. Jobs carry an
// expiry and are dropped unexecuted once it passes.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"proxypool/internal/logger"
)

// ErrClosed is returned when enqueueing onto a stopped queue.
var ErrClosed = errors.New("queue closed")

// Config sizes one job class.
type Config struct {
	Name    string
	Workers int
	Buffer  int
	TTL     time.Duration
	// Delay is slept by a worker after each executed job.
	Delay time.Duration
}

// Task is one queued job.
type Task[T any] struct {
	ID         string
	Payload    T
	EnqueuedAt time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the task must no longer run.
func (t Task[T]) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// Handler executes one payload.
type Handler[T any] func(ctx context.Context, payload T)

// Stats is a snapshot of queue counters.
type Stats struct {
	Name      string `json:"name"`
	Enqueued  int64  `json:"enqueued"`
	Processed int64  `json:"processed"`
	Expired   int64  `json:"expired"`
	Pending   int    `json:"pending"`
}

type Queue[T any] struct {
	config  Config
	handler Handler[T]
	tasks   chan Task[T]
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration)
	logger  *logger.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	workers *pool.Pool

	enqueued  atomic.Int64
	processed atomic.Int64
	expired   atomic.Int64
}

// Option customises a Queue.
type Option[T any] func(*Queue[T])

// WithClock replaces the clock used for expiry.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(q *Queue[T]) { q.now = now }
}

// WithSleep replaces the post-job delay.
func WithSleep[T any](sleep func(ctx context.Context, d time.Duration)) Option[T] {
	return func(q *Queue[T]) { q.sleep = sleep }
}

func New[T any](config Config, handler Handler[T], log *logger.Logger, opts ...Option[T]) *Queue[T] {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.Buffer < 0 {
		config.Buffer = 0
	}
	q := &Queue[T]{
		config:  config,
		handler: handler,
		tasks:   make(chan Task[T], config.Buffer),
		now:     time.Now,
		sleep:   sleepContext,
		logger:  log.Named("queue").With("queue", config.Name),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Start launches the workers. Handlers receive ctx.
func (q *Queue[T]) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true

	q.workers = pool.New().WithMaxGoroutines(q.config.Workers)
	for i := 0; i < q.config.Workers; i++ {
		q.workers.Go(func() { q.work(ctx) })
	}
	q.logger.Info().Int("workers", q.config.Workers).Dur("ttl", q.config.TTL).Msg("queue started")
}

func (q *Queue[T]) work(ctx context.Context) {
	for task := range q.tasks {
		if ctx.Err() != nil || task.Expired(q.now()) {
			q.expired.Add(1)
			q.logger.Debug().Str("task", task.ID).Msg("task expired, dropped")
			continue
		}
		q.handler(ctx, task.Payload)
		q.processed.Add(1)
		q.sleep(ctx, q.config.Delay)
	}
}

// Enqueue wraps payload in a task expiring TTL from now.
func (q *Queue[T]) Enqueue(ctx context.Context, payload T) error {
	now := q.now()
	task := Task[T]{
		ID:         logger.GenerateID(),
		Payload:    payload,
		EnqueuedAt: now,
	}
	if q.config.TTL > 0 {
		task.ExpiresAt = now.Add(q.config.TTL)
	}
	return q.EnqueueTask(ctx, task)
}

// EnqueueTask queues a prepared task. It blocks while the buffer is full.
func (q *Queue[T]) EnqueueTask(ctx context.Context, task Task[T]) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}

	select {
	case q.tasks <- task:
		q.enqueued.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new tasks and waits for the workers to drain the buffer.
func (q *Queue[T]) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	workers := q.workers
	q.mu.Unlock()

	if workers != nil {
		workers.Wait()
	}
	q.logger.Info().Int64("processed", q.processed.Load()).Int64("expired", q.expired.Load()).Msg("queue stopped")
}

// Stats returns the current counters.
func (q *Queue[T]) Stats() Stats {
	return Stats{
		Name:      q.config.Name,
		Enqueued:  q.enqueued.Load(),
		Processed: q.processed.Load(),
		Expired:   q.expired.Load(),
		Pending:   len(q.tasks),
	}
}
