// Package dispatch runs the background work HTTP handlers must not wait on:
// provider job submissions and webhook dataset ingestion. Work moves through
// an explicit bounded queue consumed by a pool of workers, so a failure in
// the background step is logged and reflected in the entry instead of being
// silently dropped, and a full queue pushes back on the caller instead of
// growing without bound.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/search/domain"
)

// ErrQueueFull is returned by Enqueue when the task queue has no room.
// Callers surface it as backpressure rather than waiting.
var ErrQueueFull = errors.New("dispatch queue is full")

// Processor executes one task. Errors are logged by the worker loop; any
// entry-state consequences are the processor's own responsibility.
type Processor interface {
	Process(ctx context.Context, task Task) error
}

// Config holds dispatch worker configuration
type Config struct {
	Logger      *slog.Logger
	QueueSize   int
	Concurrency int
}

// Worker owns the bounded task queue and its worker pool.
type Worker struct {
	logger      *slog.Logger
	tasks       chan Task
	concurrency int
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

// NewWorker creates a stopped dispatch worker.
func NewWorker(cfg *Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	return &Worker{
		logger:      logger,
		tasks:       make(chan Task, queueSize),
		concurrency: concurrency,
		stopChan:    make(chan struct{}),
	}
}

// Enqueue adds a task to the queue without blocking.
func (w *Worker) Enqueue(task Task) error {
	select {
	case w.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// EnqueueSubmit queues the provider submission for a freshly admitted or
// promoted entry. Satisfies the cache's Submitter contract.
func (w *Worker) EnqueueSubmit(e *domain.Entry) error {
	return w.Enqueue(Task{
		Kind:      TaskSubmit,
		RequestID: e.RequestID,
		Query:     e.Query,
	})
}

// Depth reports how many tasks are waiting, for health reporting.
func (w *Worker) Depth() int {
	return len(w.tasks)
}

// Start spawns the worker pool consuming the task queue.
func (w *Worker) Start(ctx context.Context, processor Processor) {
	w.logger.Info("Starting dispatch workers",
		slog.Int("concurrency", w.concurrency),
		slog.Int("queue_size", cap(w.tasks)),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, processor, i)
	}
}

// Stop signals the pool to finish and waits for every worker to return.
func (w *Worker) Stop() {
	w.logger.Info("Stopping dispatch workers...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Dispatch workers stopped")
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, processor Processor, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("dispatch-%d", workerNum)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Dispatch worker stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Info("Dispatch worker stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case task := <-w.tasks:
			w.logger.Info("Dispatch worker received task",
				slog.String("worker_name", workerName),
				slog.String("kind", string(task.Kind)),
				slog.String("request_id", task.RequestID),
				slog.String("job_id", task.JobID),
			)

			if err := processor.Process(ctx, task); err != nil {
				w.logger.Error("Task processing failed",
					slog.String("worker_name", workerName),
					slog.String("kind", string(task.Kind)),
					slog.String("request_id", task.RequestID),
					slog.String("job_id", task.JobID),
					slog.String("error", err.Error()),
				)
				continue
			}

			w.logger.Info("Task completed successfully",
				slog.String("worker_name", workerName),
				slog.String("kind", string(task.Kind)),
				slog.String("request_id", task.RequestID),
				slog.String("job_id", task.JobID),
			)
		}
	}
}
