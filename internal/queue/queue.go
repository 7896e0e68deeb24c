// internal/queue/queue.go

// Package queue provides the in-process work queue backing the pipeline
// state machine: a buffered channel feeding a bounded worker pool.
package queue

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"collab-sync/internal/pipeline"
)

// ErrQueueFull is returned when the buffer has no room for another job.
var ErrQueueFull = errors.New("work queue is full")

// Handler processes one job of a registered kind.
type Handler func(ctx context.Context, job pipeline.Job) error

// Memory is a channel-backed queue. Enqueue never blocks: a full buffer is
// an error the caller decides what to do with.
type Memory struct {
	jobs   chan pipeline.Job
	logger *slog.Logger
}

func NewMemory(size int, logger *slog.Logger) *Memory {
	return &Memory{
		jobs:   make(chan pipeline.Job, size),
		logger: logger,
	}
}

// Enqueue implements pipeline.Queue.
func (q *Memory) Enqueue(ctx context.Context, job pipeline.Job) error {
	select {
	case q.jobs <- job:
		q.logger.Debug("Enqueued job", "kind", job.Kind, "team_id", job.TeamID)
		return nil
	default:
		return ErrQueueFull
	}
}

// Worker consumes jobs from a Memory queue, routing each to the handler
// registered for its kind. Jobs of distinct kinds run concurrently up to
// the pool limit.
type Worker struct {
	queue       *Memory
	handlers    map[string]Handler
	concurrency int
	logger      *slog.Logger
}

func NewWorker(q *Memory, handlers map[string]Handler, concurrency int, logger *slog.Logger) *Worker {
	return &Worker{
		queue:       q,
		handlers:    handlers,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run processes jobs until the context is cancelled. Handler failures are
// logged, never fatal to the pool.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("Starting workers", "concurrency", w.concurrency)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			w.logger.Info("Workers shutting down", "reason", ctx.Err())
			return
		case job := <-w.queue.jobs:
			g.Go(func() error {
				w.handle(gctx, job)
				return nil
			})
		}
	}
}

func (w *Worker) handle(ctx context.Context, job pipeline.Job) {
	handler, ok := w.handlers[job.Kind]
	if !ok {
		w.logger.Error("No handler registered for job kind", "kind", job.Kind)
		return
	}
	w.logger.Info("Processing job", "kind", job.Kind, "team_id", job.TeamID)
	if err := handler(ctx, job); err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Error("Job failed", "kind", job.Kind, "team_id", job.TeamID, "error", err)
	}
}
