package dispatch

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/search/cache"
	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/search/domain"
	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/search/store"
)

type nopSubmitter struct{}

func (nopSubmitter) EnqueueSubmit(*domain.Entry) error { return nil }

type stubProvider struct {
	mu          sync.Mutex
	jobID       string
	submitErr   error
	items       []map[string]interface{}
	fetchErr    error
	submitCalls int
	fetchCalls  int
}

func (s *stubProvider) SubmitJob(_ context.Context, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitCalls++
	if s.submitErr != nil {
		return "", s.submitErr
	}
	return s.jobID, nil
}

func (s *stubProvider) FetchDataset(_ context.Context, _ string) ([]map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchCalls++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.items, nil
}

func (s *stubProvider) fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchCalls
}

func newProcessorEnv(t *testing.T, capacity int, provider *stubProvider) (*JobProcessor, *cache.Cache) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := cache.New(cache.Config{
		Logger:         logger,
		Store:          store.NewMemory(),
		Capacity:       capacity,
		EntryTTL:       30 * time.Minute,
		PendingTimeout: time.Minute,
		Submitter:      nopSubmitter{},
	})
	require.NoError(t, err)
	return NewJobProcessor(logger, provider, c), c
}

func TestJobProcessor_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("binds the provider job id", func(t *testing.T) {
		provider := &stubProvider{jobID: "job-1"}
		proc, c := newProcessorEnv(t, 1, provider)

		res, err := c.AdmitOrQueue(ctx, "rust")
		require.NoError(t, err)

		err = proc.Process(ctx, Task{Kind: TaskSubmit, RequestID: res.Entry.RequestID, Query: res.Entry.Query})
		require.NoError(t, err)

		e, err := c.StatusByID(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, res.Entry.RequestID, e.RequestID)
		assert.Equal(t, domain.StatusPending, e.Status)
	})

	t.Run("rejection marks the entry as error and frees the slot", func(t *testing.T) {
		provider := &stubProvider{submitErr: domain.NewSubmitError(429, assert.AnError)}
		proc, c := newProcessorEnv(t, 1, provider)

		res, err := c.AdmitOrQueue(ctx, "rust")
		require.NoError(t, err)

		err = proc.Process(ctx, Task{Kind: TaskSubmit, RequestID: res.Entry.RequestID, Query: res.Entry.Query})
		require.Error(t, err)

		e, err := c.StatusByID(ctx, res.Entry.RequestID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusError, e.Status)
		assert.Contains(t, e.ErrorMessage, "provider submission failed")
		assert.Equal(t, 0, c.Stats().Pending)
	})
}

func TestJobProcessor_Ingest(t *testing.T) {
	ctx := context.Background()

	admitted := func(t *testing.T, c *cache.Cache, proc *JobProcessor, query string) *domain.Entry {
		t.Helper()
		res, err := c.AdmitOrQueue(ctx, query)
		require.NoError(t, err)
		require.NoError(t, proc.Process(ctx, Task{Kind: TaskSubmit, RequestID: res.Entry.RequestID, Query: query}))
		return res.Entry
	}

	t.Run("fetches, classifies, and completes", func(t *testing.T) {
		provider := &stubProvider{
			jobID: "job-1",
			items: []map[string]interface{}{
				{"title": "Go course", "url": "https://www.coursera.org/learn/go", "description": "intro"},
				{"title": "", "url": "https://example.com/skip-me"},
				{"title": "Go talk", "url": "https://youtu.be/xyz"},
			},
		}
		proc, c := newProcessorEnv(t, 1, provider)
		admitted(t, c, proc, "golang")

		err := proc.Process(ctx, Task{Kind: TaskIngest, JobID: "job-1", DatasetID: "ds-1"})
		require.NoError(t, err)

		e, err := c.StatusByID(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, e.Status)
		require.Len(t, e.Results, 2)
		assert.Equal(t, domain.ResultTypeCourse, e.Results[0].Type)
		assert.Equal(t, "Coursera", e.Results[0].Source)
		assert.Equal(t, domain.ResultTypeVideo, e.Results[1].Type)
		assert.Equal(t, 0, c.Stats().Pending)
	})

	t.Run("fetch failure fails the entry and promotes the next one", func(t *testing.T) {
		provider := &stubProvider{jobID: "job-1", fetchErr: domain.NewFetchError(500, assert.AnError)}
		proc, c := newProcessorEnv(t, 1, provider)
		admitted(t, c, proc, "rust")

		queued, err := c.AdmitOrQueue(ctx, "go")
		require.NoError(t, err)
		require.Equal(t, domain.StatusQueued, queued.Entry.Status)

		err = proc.Process(ctx, Task{Kind: TaskIngest, JobID: "job-1", DatasetID: "ds-1"})
		require.Error(t, err)

		failed, err := c.StatusByID(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusError, failed.Status)
		assert.NotEmpty(t, failed.ErrorMessage)

		promoted, err := c.StatusByID(ctx, queued.Entry.RequestID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, promoted.Status)
	})

	t.Run("duplicate delivery does not refetch or change results", func(t *testing.T) {
		provider := &stubProvider{
			jobID: "job-1",
			items: []map[string]interface{}{{"title": "Doc", "url": "https://example.com/doc"}},
		}
		proc, c := newProcessorEnv(t, 1, provider)
		admitted(t, c, proc, "rust")

		task := Task{Kind: TaskIngest, JobID: "job-1", DatasetID: "ds-1"}
		require.NoError(t, proc.Process(ctx, task))
		require.NoError(t, proc.Process(ctx, task))

		assert.Equal(t, 1, provider.fetches())

		e, err := c.StatusByID(ctx, "job-1")
		require.NoError(t, err)
		assert.Len(t, e.Results, 1)
	})

	t.Run("unknown job with a query hint completes retroactively", func(t *testing.T) {
		provider := &stubProvider{
			items: []map[string]interface{}{{"title": "Linux journey", "url": "https://linuxjourney.com"}},
		}
		proc, c := newProcessorEnv(t, 1, provider)

		err := proc.Process(ctx, Task{Kind: TaskIngest, JobID: "job-9", DatasetID: "ds-9", QueryHint: "linux"})
		require.NoError(t, err)

		e, err := c.StatusByQuery(ctx, "linux")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, e.Status)
		assert.Equal(t, "job-9", e.JobID)
		assert.Equal(t, 0, c.Stats().Pending)
	})

	t.Run("provider failure event fails a known entry", func(t *testing.T) {
		provider := &stubProvider{jobID: "job-1"}
		proc, c := newProcessorEnv(t, 1, provider)
		admitted(t, c, proc, "rust")

		err := proc.Process(ctx, Task{Kind: TaskIngest, JobID: "job-1", ProviderFailed: true, FailureReason: "job crashed"})
		require.NoError(t, err)

		e, err := c.StatusByID(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusError, e.Status)
		assert.Equal(t, "job crashed", e.ErrorMessage)
	})

	t.Run("provider failure event for an unknown job is dropped", func(t *testing.T) {
		provider := &stubProvider{}
		proc, c := newProcessorEnv(t, 1, provider)

		err := proc.Process(ctx, Task{Kind: TaskIngest, JobID: "job-404", ProviderFailed: true, FailureReason: "crashed", QueryHint: "haskell"})
		require.NoError(t, err)

		// No retroactive registration on failure events.
		_, err = c.StatusByQuery(ctx, "haskell")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("success event without a dataset id fails the entry", func(t *testing.T) {
		provider := &stubProvider{jobID: "job-1"}
		proc, c := newProcessorEnv(t, 1, provider)
		admitted(t, c, proc, "rust")

		err := proc.Process(ctx, Task{Kind: TaskIngest, JobID: "job-1"})
		require.NoError(t, err)

		e, err := c.StatusByID(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusError, e.Status)
		assert.Contains(t, e.ErrorMessage, "no dataset id")
		assert.Equal(t, 0, provider.fetches())
	})
}

func TestJobProcessor_UnknownKind(t *testing.T) {
	proc, _ := newProcessorEnv(t, 1, &stubProvider{})
	err := proc.Process(context.Background(), Task{Kind: "bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown dispatch task kind")
}
