package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/search/classify"
	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/search/domain"
)

// ProviderClient is the slice of the scraping provider API the processor
// needs.
type ProviderClient interface {
	SubmitJob(ctx context.Context, query string) (string, error)
	FetchDataset(ctx context.Context, datasetID string) ([]map[string]interface{}, error)
}

// EntryCache is the slice of the search cache the processor drives.
type EntryCache interface {
	BindJob(ctx context.Context, requestID, jobID string) error
	Complete(ctx context.Context, id string, results []domain.Result) error
	Fail(ctx context.Context, id string, message string) error
	ResolveWebhook(ctx context.Context, jobID, queryHint string) (*domain.Entry, error)
}

// JobProcessor executes submit and ingest tasks against the provider and
// records the outcome on the entry. Every failure path lands the entry in a
// terminal state so its slot is always released.
type JobProcessor struct {
	logger   *slog.Logger
	provider ProviderClient
	cache    EntryCache
}

// NewJobProcessor creates a processor bound to a provider client and the
// entry cache.
func NewJobProcessor(logger *slog.Logger, provider ProviderClient, cache EntryCache) *JobProcessor {
	return &JobProcessor{
		logger:   logger,
		provider: provider,
		cache:    cache,
	}
}

// Process dispatches one task to its handler.
func (p *JobProcessor) Process(ctx context.Context, task Task) error {
	switch task.Kind {
	case TaskSubmit:
		return p.processSubmit(ctx, task)
	case TaskIngest:
		return p.processIngest(ctx, task)
	default:
		return fmt.Errorf("unknown dispatch task kind %q", task.Kind)
	}
}

// processSubmit sends the query to the provider and binds the job id it
// assigns. A rejected submission marks the entry as an error, which releases
// its slot and promotes the next queued entry.
func (p *JobProcessor) processSubmit(ctx context.Context, task Task) error {
	jobID, err := p.provider.SubmitJob(ctx, task.Query)
	if err != nil {
		message := fmt.Sprintf("provider submission failed: %v", err)
		if failErr := p.cache.Fail(ctx, task.RequestID, message); failErr != nil {
			p.logger.Error("Failed to record submission failure",
				slog.String("request_id", task.RequestID),
				slog.Any("error", failErr),
			)
		}
		return err
	}

	if err := p.cache.BindJob(ctx, task.RequestID, jobID); err != nil {
		return fmt.Errorf("failed to bind job %s to entry %s: %w", jobID, task.RequestID, err)
	}

	p.logger.Info("Submitted search job to provider",
		slog.String("request_id", task.RequestID),
		slog.String("job_id", jobID),
	)
	return nil
}

// processIngest resolves the webhook notification to an entry and settles
// it: failure events fail the entry, success events fetch and transform the
// dataset. Notifications for unknown jobs only register retroactively on
// success; a failure for a job this system never admitted is dropped.
func (p *JobProcessor) processIngest(ctx context.Context, task Task) error {
	if task.ProviderFailed {
		reason := task.FailureReason
		if reason == "" {
			reason = "provider reported job failure"
		}
		err := p.cache.Fail(ctx, task.JobID, reason)
		if errors.Is(err, domain.ErrNotFound) {
			p.logger.Warn("Dropping failure notification for unknown job",
				slog.String("job_id", task.JobID),
			)
			return nil
		}
		return err
	}

	entry, err := p.cache.ResolveWebhook(ctx, task.JobID, task.QueryHint)
	if err != nil {
		return err
	}
	if entry.Status.Terminal() {
		// Duplicate delivery for a settled entry; nothing left to do.
		return nil
	}

	if task.DatasetID == "" {
		return p.cache.Fail(ctx, entry.RequestID, "notification carried no dataset id")
	}

	items, err := p.provider.FetchDataset(ctx, task.DatasetID)
	if err != nil {
		message := fmt.Sprintf("dataset fetch failed: %v", err)
		if failErr := p.cache.Fail(ctx, entry.RequestID, message); failErr != nil {
			p.logger.Error("Failed to record fetch failure",
				slog.String("request_id", entry.RequestID),
				slog.Any("error", failErr),
			)
		}
		return err
	}

	results := classify.Transform(items)
	if err := p.cache.Complete(ctx, entry.RequestID, results); err != nil {
		return fmt.Errorf("failed to complete entry %s: %w", entry.RequestID, err)
	}

	p.logger.Info("Ingested search results",
		slog.String("request_id", entry.RequestID),
		slog.String("job_id", task.JobID),
		slog.Int("results", len(results)),
	)
	return nil
}
