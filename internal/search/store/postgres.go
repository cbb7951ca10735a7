package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/search/domain"
	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/shared/postgresql"
)

// activeQueryConstraint is the partial unique index that lets the database
// enforce the one-in-flight-entry-per-query invariant as a second line of
// defense behind the cache's admission lock.
const activeQueryConstraint = "search_jobs_active_query"

const schema = `
CREATE TABLE IF NOT EXISTS search_jobs (
	request_id       TEXT PRIMARY KEY,
	job_id           TEXT,
	query            TEXT NOT NULL,
	normalized_query TEXT NOT NULL,
	status           TEXT NOT NULL,
	results          JSONB,
	error_message    TEXT NOT NULL DEFAULT '',
	queue_position   INTEGER,
	created_at       TIMESTAMPTZ NOT NULL,
	expires_at       TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS search_jobs_active_query
	ON search_jobs (normalized_query) WHERE status IN ('pending', 'queued');
CREATE INDEX IF NOT EXISTS search_jobs_job_id ON search_jobs (job_id);
CREATE INDEX IF NOT EXISTS search_jobs_by_query ON search_jobs (normalized_query, created_at DESC);
CREATE INDEX IF NOT EXISTS search_jobs_by_status ON search_jobs (status);
`

// Postgres is the Store for deployments where entries must survive a
// process restart. All statements go through the shared client.
type Postgres struct {
	pg     *postgresql.Client
	logger *slog.Logger
}

// NewPostgres wraps an established PostgreSQL client.
func NewPostgres(pg *postgresql.Client, logger *slog.Logger) *Postgres {
	return &Postgres{
		pg:     pg,
		logger: logger,
	}
}

// EnsureSchema creates the search_jobs table and its indexes if missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pg.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure search_jobs schema: %w", err)
	}
	return nil
}

// entryRow mirrors one search_jobs row.
type entryRow struct {
	RequestID       string         `db:"request_id"`
	JobID           sql.NullString `db:"job_id"`
	Query           string         `db:"query"`
	NormalizedQuery string         `db:"normalized_query"`
	Status          string         `db:"status"`
	Results         []byte         `db:"results"`
	ErrorMessage    string         `db:"error_message"`
	QueuePosition   sql.NullInt64  `db:"queue_position"`
	CreatedAt       time.Time      `db:"created_at"`
	ExpiresAt       time.Time      `db:"expires_at"`
}

func (r *entryRow) toEntry() (*domain.Entry, error) {
	e := &domain.Entry{
		RequestID:       r.RequestID,
		Query:           r.Query,
		NormalizedQuery: r.NormalizedQuery,
		Status:          domain.Status(r.Status),
		ErrorMessage:    r.ErrorMessage,
		CreatedAt:       r.CreatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
	if r.JobID.Valid {
		e.JobID = r.JobID.String
	}
	if r.QueuePosition.Valid {
		pos := int(r.QueuePosition.Int64)
		e.QueuePosition = &pos
	}
	if len(r.Results) > 0 {
		if err := json.Unmarshal(r.Results, &e.Results); err != nil {
			return nil, fmt.Errorf("failed to decode results for %s: %w", r.RequestID, err)
		}
	}
	return e, nil
}

func rowArgs(e *domain.Entry) ([]interface{}, error) {
	var results []byte
	if e.Results != nil {
		var err error
		results, err = json.Marshal(e.Results)
		if err != nil {
			return nil, fmt.Errorf("failed to encode results: %w", err)
		}
	}

	var jobID sql.NullString
	if e.JobID != "" {
		jobID = sql.NullString{String: e.JobID, Valid: true}
	}
	var queuePos sql.NullInt64
	if e.QueuePosition != nil {
		queuePos = sql.NullInt64{Int64: int64(*e.QueuePosition), Valid: true}
	}

	return []interface{}{
		e.RequestID, jobID, e.Query, e.NormalizedQuery, string(e.Status),
		results, e.ErrorMessage, queuePos, e.CreatedAt, e.ExpiresAt,
	}, nil
}

func (p *Postgres) Put(ctx context.Context, e *domain.Entry) error {
	query := `
		INSERT INTO search_jobs (
			request_id, job_id, query, normalized_query, status,
			results, error_message, queue_position, created_at, expires_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10
		)
		ON CONFLICT (request_id) DO UPDATE SET
			job_id         = EXCLUDED.job_id,
			status         = EXCLUDED.status,
			results        = EXCLUDED.results,
			error_message  = EXCLUDED.error_message,
			queue_position = EXCLUDED.queue_position,
			expires_at     = EXCLUDED.expires_at
	`

	args, err := rowArgs(e)
	if err != nil {
		return err
	}

	if _, err := p.pg.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == activeQueryConstraint {
			return domain.ErrConflict
		}
		return fmt.Errorf("failed to put entry %s: %w", e.RequestID, err)
	}
	return nil
}

func (p *Postgres) GetByID(ctx context.Context, id string) (*domain.Entry, error) {
	query := `
		SELECT request_id, job_id, query, normalized_query, status,
		       results, error_message, queue_position, created_at, expires_at
		FROM search_jobs
		WHERE job_id = $1 OR request_id = $1
		ORDER BY (job_id = $1) DESC
		LIMIT 1
	`

	var row entryRow
	if err := p.pg.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get entry %s: %w", id, err)
	}
	return row.toEntry()
}

func (p *Postgres) GetByQuery(ctx context.Context, rawQuery string) (*domain.Entry, error) {
	query := `
		SELECT request_id, job_id, query, normalized_query, status,
		       results, error_message, queue_position, created_at, expires_at
		FROM search_jobs
		WHERE normalized_query = $1
		ORDER BY created_at DESC, request_id DESC
		LIMIT 1
	`

	var row entryRow
	if err := p.pg.GetContext(ctx, &row, query, domain.NormalizeQuery(rawQuery)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get entry by query: %w", err)
	}
	return row.toEntry()
}

func (p *Postgres) ListByStatus(ctx context.Context, status domain.Status) ([]*domain.Entry, error) {
	query := `
		SELECT request_id, job_id, query, normalized_query, status,
		       results, error_message, queue_position, created_at, expires_at
		FROM search_jobs
		WHERE status = $1
		ORDER BY created_at ASC, request_id ASC
	`

	var rows []entryRow
	if err := p.pg.SelectContext(ctx, &rows, query, string(status)); err != nil {
		return nil, fmt.Errorf("failed to list entries by status %s: %w", status, err)
	}

	entries := make([]*domain.Entry, 0, len(rows))
	for i := range rows {
		e, err := rows[i].toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (p *Postgres) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	query := `
		DELETE FROM search_jobs
		WHERE status IN ($1, $2, $3) AND expires_at < $4
	`

	res, err := p.pg.ExecContext(ctx, query,
		string(domain.StatusCompleted), string(domain.StatusError), string(domain.StatusTimeout), now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired entries: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept entries: %w", err)
	}

	if removed > 0 {
		p.logger.Debug("Swept expired search entries",
			slog.Int64("removed", removed),
		)
	}
	return int(removed), nil
}
