// Package cache implements the search job cache and admission controller.
//
// The cache owns all entry mutation: admission (dedup, slot accounting, FIFO
// wait queue), lifecycle transitions driven by webhook ingestion, timeout
// sweeps, and expiry. Reads go straight to the store and never wait on the
// admission lock. Slow provider I/O (job submission, dataset fetch) happens
// on the dispatch workers, outside the lock, after the entry has already
// been persisted and its slot reserved.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/search/domain"
	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/search/store"
)

// Submitter hands entries that hold a slot to the dispatch queue for the
// actual provider submission. Implementations must not block: a full queue
// is reported as an error, not waited out.
type Submitter interface {
	EnqueueSubmit(e *domain.Entry) error
}

// EventPublisher broadcasts entries that reached a terminal status. Publish
// failures are logged and never affect the transition itself.
type EventPublisher interface {
	PublishTerminal(ctx context.Context, e *domain.Entry) error
}

// Config holds the cache configuration.
type Config struct {
	Logger *slog.Logger
	Store  store.Store

	// Capacity is the maximum number of entries holding a slot (pending)
	// at any time.
	Capacity int
	// EntryTTL bounds how long an entry is visible, measured from admission.
	EntryTTL time.Duration
	// PendingTimeout bounds how long an entry may stay pending before the
	// sweep gives up on its webhook, measured from admission.
	PendingTimeout time.Duration
	// SweepInterval is how often the timeout sweep runs.
	SweepInterval time.Duration
	// PurgeInterval is how often expired terminal entries are physically
	// removed from the store.
	PurgeInterval time.Duration

	Submitter Submitter
	Events    EventPublisher
}

// Cache is the admission controller and job state owner. All mutation runs
// under one coarse lock; contention is low since traffic is admin-only.
type Cache struct {
	logger         *slog.Logger
	store          store.Store
	capacity       int
	entryTTL       time.Duration
	pendingTimeout time.Duration
	sweepSpec      string
	purgeSpec      string
	submitter      Submitter
	events         EventPublisher

	mu      sync.Mutex
	slots   map[string]struct{} // request ids currently holding a slot
	waiting []string            // queued request ids, FIFO

	cron *cron.Cron
}

// AdmissionResult is the outcome of one admission request.
type AdmissionResult struct {
	Entry *domain.Entry
	// MustSubmit is true when this admission created a fresh pending entry
	// whose provider submission has been handed to the dispatch queue.
	MustSubmit bool
	// Reused is true when an existing entry satisfied the admission instead
	// of a new job.
	Reused bool
}

// Stats is a point-in-time snapshot of the admission state.
type Stats struct {
	Capacity int `json:"capacity"`
	Pending  int `json:"pending"`
	Queued   int `json:"queued"`
}

// New validates the configuration and creates a stopped cache. Call Start
// to restore persisted state and begin background sweeps.
func New(cfg Config) (*Cache, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if cfg.Submitter == nil {
		return nil, fmt.Errorf("cache submitter is required")
	}
	if cfg.Capacity < 1 {
		return nil, fmt.Errorf("cache capacity must be at least 1, got %d", cfg.Capacity)
	}
	if cfg.EntryTTL <= 0 {
		return nil, fmt.Errorf("cache entry TTL must be positive")
	}
	if cfg.PendingTimeout <= 0 {
		return nil, fmt.Errorf("cache pending timeout must be positive")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = 5 * time.Minute
	}

	return &Cache{
		logger:         cfg.Logger,
		store:          cfg.Store,
		capacity:       cfg.Capacity,
		entryTTL:       cfg.EntryTTL,
		pendingTimeout: cfg.PendingTimeout,
		sweepSpec:      fmt.Sprintf("@every %s", cfg.SweepInterval),
		purgeSpec:      fmt.Sprintf("@every %s", cfg.PurgeInterval),
		submitter:      cfg.Submitter,
		events:         cfg.Events,
		slots:          make(map[string]struct{}),
	}, nil
}

// Start restores slot and queue state from the store, then starts the
// periodic timeout sweep and expiry purge.
func (c *Cache) Start(ctx context.Context) error {
	if err := c.restoreState(ctx); err != nil {
		return fmt.Errorf("failed to restore cache state: %w", err)
	}

	c.cron = cron.New()
	if _, err := c.cron.AddFunc(c.sweepSpec, func() {
		if _, err := c.SweepTimeouts(context.Background()); err != nil {
			c.logger.Error("Timeout sweep failed",
				slog.Any("error", err),
			)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule timeout sweep: %w", err)
	}
	if _, err := c.cron.AddFunc(c.purgeSpec, func() {
		if _, err := c.Purge(context.Background()); err != nil {
			c.logger.Error("Expiry purge failed",
				slog.Any("error", err),
			)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule expiry purge: %w", err)
	}
	c.cron.Start()

	c.logger.Info("Search cache started",
		slog.Int("capacity", c.capacity),
		slog.Duration("entry_ttl", c.entryTTL),
		slog.Duration("pending_timeout", c.pendingTimeout),
	)
	return nil
}

// Stop halts the background sweeps. In-flight entries stay in the store and
// are re-adopted by the next Start.
func (c *Cache) Stop() {
	if c.cron != nil {
		c.cron.Stop()
	}
	c.logger.Info("Search cache stopped")
}

// restoreState re-adopts persisted in-flight entries after a restart:
// pending entries take their slots back, queued entries rebuild the FIFO
// wait list in admission order. Entries whose submission was lost to the
// crash are cleaned up by the timeout sweep rather than resubmitted, so the
// provider never receives a duplicate job.
func (c *Cache) restoreState(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending, err := c.store.ListByStatus(ctx, domain.StatusPending)
	if err != nil {
		return err
	}
	for _, e := range pending {
		c.slots[e.RequestID] = struct{}{}
	}
	if len(c.slots) > c.capacity {
		c.logger.Warn("Restored more pending entries than capacity allows; promotions pause until they finish",
			slog.Int("pending", len(c.slots)),
			slog.Int("capacity", c.capacity),
		)
	}

	queued, err := c.store.ListByStatus(ctx, domain.StatusQueued)
	if err != nil {
		return err
	}
	sort.Slice(queued, func(i, j int) bool {
		if queued[i].CreatedAt.Equal(queued[j].CreatedAt) {
			return queued[i].RequestID < queued[j].RequestID
		}
		return queued[i].CreatedAt.Before(queued[j].CreatedAt)
	})
	for _, e := range queued {
		c.waiting = append(c.waiting, e.RequestID)
	}
	if err := c.renumberWaitingLocked(ctx); err != nil {
		return err
	}

	if len(pending) > 0 || len(queued) > 0 {
		c.logger.Info("Restored in-flight search entries",
			slog.Int("pending", len(pending)),
			slog.Int("queued", len(queued)),
		)
	}
	return nil
}

// AdmitOrQueue is the single admission entry point. It normalizes the query,
// deduplicates against unexpired entries, and either reuses the existing
// entry, admits a fresh pending entry (slot held, submission enqueued), or
// appends a queued entry to the FIFO wait list when capacity is exhausted.
func (c *Cache) AdmitOrQueue(ctx context.Context, rawQuery string) (*AdmissionResult, error) {
	normalized := domain.NormalizeQuery(rawQuery)
	if normalized == "" {
		return nil, domain.ErrEmptyQuery
	}

	now := time.Now()

	c.mu.Lock()
	existing, err := c.store.GetByQuery(ctx, normalized)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		c.mu.Unlock()
		return nil, err
	}
	if existing != nil && reusable(existing, now) {
		c.mu.Unlock()
		return &AdmissionResult{Entry: existing, Reused: true}, nil
	}

	entry := &domain.Entry{
		RequestID:       uuid.NewString(),
		Query:           rawQuery,
		NormalizedQuery: normalized,
		CreatedAt:       now,
		ExpiresAt:       now.Add(c.entryTTL),
	}

	var terminal []*domain.Entry
	var result *AdmissionResult

	if len(c.slots) < c.capacity {
		entry.Status = domain.StatusPending
		if conflicted, err := c.putNewLocked(ctx, entry, normalized); err != nil {
			c.mu.Unlock()
			return nil, err
		} else if conflicted != nil {
			c.mu.Unlock()
			return &AdmissionResult{Entry: conflicted, Reused: true}, nil
		}
		c.slots[entry.RequestID] = struct{}{}

		if err := c.submitter.EnqueueSubmit(entry.Clone()); err != nil {
			// The admission fails outright so the client can retry; the
			// entry is closed out as an error and does not block the retry.
			failed := c.abandonSubmissionLocked(ctx, entry, err)
			terminal = append(terminal, failed...)
			c.mu.Unlock()
			c.publish(ctx, terminal)
			return nil, fmt.Errorf("failed to queue submission for %q: %w", rawQuery, err)
		}
		result = &AdmissionResult{Entry: entry.Clone(), MustSubmit: true}
	} else {
		entry.Status = domain.StatusQueued
		pos := len(c.waiting) + 1
		entry.QueuePosition = &pos
		if conflicted, err := c.putNewLocked(ctx, entry, normalized); err != nil {
			c.mu.Unlock()
			return nil, err
		} else if conflicted != nil {
			c.mu.Unlock()
			return &AdmissionResult{Entry: conflicted, Reused: true}, nil
		}
		c.waiting = append(c.waiting, entry.RequestID)
		result = &AdmissionResult{Entry: entry.Clone()}
	}

	c.mu.Unlock()

	c.logger.Info("Admitted search query",
		slog.String("request_id", result.Entry.RequestID),
		slog.String("query", normalized),
		slog.String("status", string(result.Entry.Status)),
	)
	return result, nil
}

// putNewLocked inserts a fresh entry. A conflict means another instance
// sharing the store won the admission race; that entry is returned so the
// caller is served instead of failed.
func (c *Cache) putNewLocked(ctx context.Context, entry *domain.Entry, normalized string) (*domain.Entry, error) {
	err := c.store.Put(ctx, entry)
	if err == nil {
		return nil, nil
	}
	if errors.Is(err, domain.ErrConflict) {
		winner, getErr := c.store.GetByQuery(ctx, normalized)
		if getErr == nil {
			return winner, nil
		}
	}
	return nil, err
}

// abandonSubmissionLocked closes out an entry whose handoff to the dispatch
// queue failed: slot released, entry marked error, next queued entry
// promoted. Returns the entries that reached a terminal status.
func (c *Cache) abandonSubmissionLocked(ctx context.Context, entry *domain.Entry, cause error) []*domain.Entry {
	entry.Status = domain.StatusError
	entry.ErrorMessage = fmt.Sprintf("failed to queue submission: %v", cause)
	if err := c.store.Put(ctx, entry); err != nil {
		c.logger.Error("Failed to record abandoned submission",
			slog.String("request_id", entry.RequestID),
			slog.Any("error", err),
		)
	}
	delete(c.slots, entry.RequestID)
	terminal := []*domain.Entry{entry.Clone()}
	return append(terminal, c.promoteLocked(ctx)...)
}

// reusable reports whether an existing entry satisfies a new admission for
// the same query. In-flight entries always do (callers poll them), completed
// entries do until they expire, and failed entries never block a retry.
func reusable(e *domain.Entry, now time.Time) bool {
	switch {
	case !e.Status.Terminal():
		return true
	case e.Status == domain.StatusCompleted:
		return !now.After(e.ExpiresAt)
	default:
		return false
	}
}

// BindJob records the provider-issued job id against an entry once the
// submission has been accepted upstream.
func (c *Cache) BindJob(ctx context.Context, requestID, jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.store.GetByID(ctx, requestID)
	if err != nil {
		return err
	}
	if e.JobID == jobID {
		return nil
	}
	if e.JobID != "" {
		return fmt.Errorf("entry %s is already bound to job %s", requestID, e.JobID)
	}
	e.JobID = jobID
	return c.store.Put(ctx, e)
}

// Complete transitions an entry to completed with its materialized results.
// id may be a job id or a request id. Completing an already-terminal entry
// is a no-op so duplicate webhook deliveries are harmless.
func (c *Cache) Complete(ctx context.Context, id string, results []domain.Result) error {
	return c.transition(ctx, id, domain.StatusCompleted, results, "")
}

// Fail transitions an entry to error with a message. Same idempotency and
// id semantics as Complete.
func (c *Cache) Fail(ctx context.Context, id string, message string) error {
	return c.transition(ctx, id, domain.StatusError, nil, message)
}

func (c *Cache) transition(ctx context.Context, id string, to domain.Status, results []domain.Result, message string) error {
	c.mu.Lock()
	e, err := c.store.GetByID(ctx, id)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	terminal, err := c.finalizeLocked(ctx, e, to, results, message)
	c.mu.Unlock()

	c.publish(ctx, terminal)
	return err
}

// finalizeLocked moves an entry to a terminal status, releases its slot if
// it holds one, and promotes waiting entries into the freed capacity. A
// queued entry passes through pending on its way out so the state machine
// stays honest. Already-terminal entries are left untouched. Returns every
// entry that reached a terminal status, for event publishing outside the
// lock.
func (c *Cache) finalizeLocked(ctx context.Context, e *domain.Entry, to domain.Status, results []domain.Result, message string) ([]*domain.Entry, error) {
	if e.Status.Terminal() {
		return nil, nil
	}

	if e.Status == domain.StatusQueued {
		c.removeWaitingLocked(e.RequestID)
		e.QueuePosition = nil
		e.Status = domain.StatusPending
		if err := c.renumberWaitingLocked(ctx); err != nil {
			c.logger.Error("Failed to renumber wait queue",
				slog.Any("error", err),
			)
		}
	}

	if !domain.CanTransition(e.Status, to) {
		return nil, fmt.Errorf("illegal transition %s -> %s for entry %s", e.Status, to, e.RequestID)
	}

	e.Status = to
	switch to {
	case domain.StatusCompleted:
		e.Results = results
	case domain.StatusError:
		e.ErrorMessage = message
	}

	if err := c.store.Put(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to persist %s transition for %s: %w", to, e.RequestID, err)
	}

	c.logger.Info("Search entry finalized",
		slog.String("request_id", e.RequestID),
		slog.String("job_id", e.JobID),
		slog.String("status", string(to)),
		slog.Int("results", len(e.Results)),
	)

	terminal := []*domain.Entry{e.Clone()}
	if _, held := c.slots[e.RequestID]; held {
		delete(c.slots, e.RequestID)
		terminal = append(terminal, c.promoteLocked(ctx)...)
	}
	return terminal, nil
}

// promoteLocked pops waiting entries into free slots in FIFO order and hands
// each one to the dispatch queue. An entry whose handoff fails is closed out
// as an error and the next one is tried, so a full queue cannot wedge the
// wait list. Returns entries that reached a terminal status during
// promotion.
func (c *Cache) promoteLocked(ctx context.Context) []*domain.Entry {
	var terminal []*domain.Entry

	for len(c.slots) < c.capacity && len(c.waiting) > 0 {
		reqID := c.waiting[0]
		c.waiting = c.waiting[1:]

		e, err := c.store.GetByID(ctx, reqID)
		if err != nil {
			c.logger.Error("Failed to load queued entry for promotion",
				slog.String("request_id", reqID),
				slog.Any("error", err),
			)
			continue
		}

		e.Status = domain.StatusPending
		e.QueuePosition = nil
		if err := c.store.Put(ctx, e); err != nil {
			c.logger.Error("Failed to persist promotion; entry stays queued",
				slog.String("request_id", reqID),
				slog.Any("error", err),
			)
			c.waiting = append([]string{reqID}, c.waiting...)
			break
		}
		c.slots[reqID] = struct{}{}

		if err := c.submitter.EnqueueSubmit(e.Clone()); err != nil {
			c.logger.Warn("Failed to queue promoted submission",
				slog.String("request_id", reqID),
				slog.Any("error", err),
			)
			terminal = append(terminal, c.abandonSubmissionLocked(ctx, e, err)...)
			continue
		}

		c.logger.Info("Promoted queued search",
			slog.String("request_id", reqID),
			slog.String("query", e.NormalizedQuery),
		)
	}

	if err := c.renumberWaitingLocked(ctx); err != nil {
		c.logger.Error("Failed to renumber wait queue",
			slog.Any("error", err),
		)
	}
	return terminal
}

// removeWaitingLocked drops one request id from the wait list, wherever it
// sits.
func (c *Cache) removeWaitingLocked(requestID string) {
	for i, id := range c.waiting {
		if id == requestID {
			c.waiting = append(c.waiting[:i], c.waiting[i+1:]...)
			return
		}
	}
}

// renumberWaitingLocked rewrites the 1-based queue position of every waiting
// entry after the list changes shape.
func (c *Cache) renumberWaitingLocked(ctx context.Context) error {
	for i, reqID := range c.waiting {
		e, err := c.store.GetByID(ctx, reqID)
		if err != nil {
			return err
		}
		pos := i + 1
		if e.QueuePosition != nil && *e.QueuePosition == pos {
			continue
		}
		e.QueuePosition = &pos
		if err := c.store.Put(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// ResolveWebhook maps an inbound notification to its entry. Unknown job ids
// register a new entry retroactively from the payload's query hint: the
// admission record may have been lost to a restart, but the provider's work
// is done and still worth caching. The retroactive entry holds no slot. If
// an in-flight entry for the hinted query already exists, the job id is
// bound to it instead of creating a duplicate.
func (c *Cache) ResolveWebhook(ctx context.Context, jobID, queryHint string) (*domain.Entry, error) {
	if jobID == "" {
		return nil, fmt.Errorf("webhook notification carries no job id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.store.GetByID(ctx, jobID)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	query := queryHint
	if domain.NormalizeQuery(query) == "" {
		// No resolvable query in the payload. Key the entry to the job id
		// so duplicate deliveries collapse onto one record.
		query = "unknown:" + jobID
	}

	now := time.Now()
	entry := &domain.Entry{
		RequestID:       uuid.NewString(),
		JobID:           jobID,
		Query:           query,
		NormalizedQuery: domain.NormalizeQuery(query),
		Status:          domain.StatusPending,
		CreatedAt:       now,
		ExpiresAt:       now.Add(c.entryTTL),
	}

	if err := c.store.Put(ctx, entry); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return c.adoptForJobLocked(ctx, entry.NormalizedQuery, jobID)
		}
		return nil, err
	}

	c.logger.Info("Registered webhook entry retroactively",
		slog.String("request_id", entry.RequestID),
		slog.String("job_id", jobID),
		slog.String("query", entry.NormalizedQuery),
	)
	return entry.Clone(), nil
}

// adoptForJobLocked binds a provider job id to the in-flight entry that beat
// the retroactive registration to the query index.
func (c *Cache) adoptForJobLocked(ctx context.Context, normalized, jobID string) (*domain.Entry, error) {
	e, err := c.store.GetByQuery(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if e.JobID == "" {
		e.JobID = jobID
		if err := c.store.Put(ctx, e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// StatusByID returns the current state of an entry by job id or request id.
// Expired entries read as absent even before the purge removes them, so
// callers see a clean "start a new search" signal.
func (c *Cache) StatusByID(ctx context.Context, id string) (*domain.Entry, error) {
	e, err := c.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Expired(time.Now()) {
		return nil, domain.ErrNotFound
	}
	return e, nil
}

// StatusByQuery returns the current state of the freshest entry for a query.
// Same expiry masking as StatusByID.
func (c *Cache) StatusByQuery(ctx context.Context, query string) (*domain.Entry, error) {
	if domain.NormalizeQuery(query) == "" {
		return nil, domain.ErrEmptyQuery
	}
	e, err := c.store.GetByQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	if e.Expired(time.Now()) {
		return nil, domain.ErrNotFound
	}
	return e, nil
}

// SweepTimeouts times out pending entries whose webhook never arrived within
// the deadline, releasing their slots and promoting waiting entries. Returns
// how many entries were timed out.
func (c *Cache) SweepTimeouts(ctx context.Context) (int, error) {
	now := time.Now()

	c.mu.Lock()
	pending, err := c.store.ListByStatus(ctx, domain.StatusPending)
	if err != nil {
		c.mu.Unlock()
		return 0, err
	}

	var terminal []*domain.Entry
	timedOut := 0
	for _, e := range pending {
		if now.Sub(e.CreatedAt) < c.pendingTimeout {
			continue
		}
		done, err := c.finalizeLocked(ctx, e, domain.StatusTimeout, nil, "")
		if err != nil {
			c.logger.Error("Failed to time out entry",
				slog.String("request_id", e.RequestID),
				slog.Any("error", err),
			)
			continue
		}
		terminal = append(terminal, done...)
		timedOut++
	}
	c.mu.Unlock()

	c.publish(ctx, terminal)

	if timedOut > 0 {
		c.logger.Warn("Timed out pending searches",
			slog.Int("count", timedOut),
			slog.Duration("deadline", c.pendingTimeout),
		)
	}
	return timedOut, nil
}

// Purge physically removes expired terminal entries from the store. It backs
// the on-demand administration endpoint and the periodic sweep alike.
func (c *Cache) Purge(ctx context.Context) (int, error) {
	return c.store.SweepExpired(ctx, time.Now())
}

// Stats reports the current admission pressure.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Capacity: c.capacity,
		Pending:  len(c.slots),
		Queued:   len(c.waiting),
	}
}

// publish broadcasts terminal transitions after the lock is released.
func (c *Cache) publish(ctx context.Context, entries []*domain.Entry) {
	if c.events == nil {
		return
	}
	for _, e := range entries {
		if err := c.events.PublishTerminal(ctx, e); err != nil {
			c.logger.Error("Failed to publish terminal event",
				slog.String("request_id", e.RequestID),
				slog.String("status", string(e.Status)),
				slog.Any("error", err),
			)
		}
	}
}
