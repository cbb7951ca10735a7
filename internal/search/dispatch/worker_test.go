package dispatch

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/search/domain"
)

type processorFunc func(context.Context, Task) error

func (f processorFunc) Process(ctx context.Context, task Task) error { return f(ctx, task) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWorker_EnqueueBackpressure(t *testing.T) {
	w := NewWorker(&Config{Logger: discardLogger(), QueueSize: 2, Concurrency: 1})

	require.NoError(t, w.Enqueue(Task{Kind: TaskSubmit, RequestID: "a"}))
	require.NoError(t, w.Enqueue(Task{Kind: TaskSubmit, RequestID: "b"}))
	assert.Equal(t, 2, w.Depth())

	err := w.Enqueue(Task{Kind: TaskSubmit, RequestID: "c"})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestWorker_EnqueueSubmitBuildsTask(t *testing.T) {
	w := NewWorker(&Config{Logger: discardLogger(), QueueSize: 1, Concurrency: 1})

	e := &domain.Entry{RequestID: "req-1", Query: "  Rust "}
	require.NoError(t, w.EnqueueSubmit(e))

	task := <-w.tasks
	assert.Equal(t, TaskSubmit, task.Kind)
	assert.Equal(t, "req-1", task.RequestID)
	assert.Equal(t, "  Rust ", task.Query)
}

func TestWorker_ProcessesQueuedTasks(t *testing.T) {
	w := NewWorker(&Config{Logger: discardLogger(), QueueSize: 8, Concurrency: 2})

	processed := make(chan Task, 8)
	w.Start(context.Background(), processorFunc(func(_ context.Context, task Task) error {
		processed <- task
		return nil
	}))
	defer w.Stop()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, w.Enqueue(Task{Kind: TaskIngest, JobID: id}))
	}

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		select {
		case task := <-processed:
			seen[task.JobID] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for tasks to be processed")
		}
	}
	assert.Len(t, seen, 3)
}

func TestWorker_StopWaitsForWorkers(t *testing.T) {
	w := NewWorker(&Config{Logger: discardLogger(), QueueSize: 1, Concurrency: 3})

	w.Start(context.Background(), processorFunc(func(context.Context, Task) error { return nil }))

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
