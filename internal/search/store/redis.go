package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/search/domain"
	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/shared/redisclient"
)

// Redis stores entries as JSON blobs with plain-key indexes for job id and
// normalized query, and one set per status. All writes go through the
// cache's admission lock, so the check-then-set in Put does not need WATCH.
type Redis struct {
	rdb    *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedis wraps an established Redis client. prefix namespaces every key
// so several deployments can share one Redis instance.
func NewRedis(client *redisclient.Client, prefix string, logger *slog.Logger) *Redis {
	if prefix == "" {
		prefix = "search"
	}
	return &Redis{
		rdb:    client.GetClient(),
		prefix: prefix,
		logger: logger,
	}
}

func (r *Redis) entryKey(requestID string) string {
	return fmt.Sprintf("%s:entry:%s", r.prefix, requestID)
}

func (r *Redis) jobKey(jobID string) string {
	return fmt.Sprintf("%s:job:%s", r.prefix, jobID)
}

func (r *Redis) queryKey(normalized string) string {
	return fmt.Sprintf("%s:query:%s", r.prefix, normalized)
}

func (r *Redis) statusKey(status domain.Status) string {
	return fmt.Sprintf("%s:status:%s", r.prefix, status)
}

func (r *Redis) getEntry(ctx context.Context, requestID string) (*domain.Entry, error) {
	payload, err := r.rdb.Get(ctx, r.entryKey(requestID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get entry %s: %w", requestID, err)
	}

	var e domain.Entry
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("failed to decode entry %s: %w", requestID, err)
	}
	return &e, nil
}

func (r *Redis) Put(ctx context.Context, e *domain.Entry) error {
	existing, err := r.getEntry(ctx, e.RequestID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	if existing == nil {
		otherID, err := r.rdb.Get(ctx, r.queryKey(e.NormalizedQuery)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to check query index: %w", err)
		}
		if err == nil && otherID != e.RequestID {
			other, err := r.getEntry(ctx, otherID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			if other != nil && !other.Status.Terminal() {
				return domain.ErrConflict
			}
		}
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode entry %s: %w", e.RequestID, err)
	}

	pipe := r.rdb.Pipeline()
	pipe.Set(ctx, r.entryKey(e.RequestID), payload, 0)
	if e.JobID != "" {
		pipe.Set(ctx, r.jobKey(e.JobID), e.RequestID, 0)
	}
	if existing != nil && existing.Status != e.Status {
		pipe.SRem(ctx, r.statusKey(existing.Status), e.RequestID)
	}
	pipe.SAdd(ctx, r.statusKey(e.Status), e.RequestID)
	// Inserts are always the freshest entry for their query; replacements
	// leave the index wherever it already points.
	if existing == nil {
		pipe.Set(ctx, r.queryKey(e.NormalizedQuery), e.RequestID, 0)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to put entry %s: %w", e.RequestID, err)
	}
	return nil
}

func (r *Redis) GetByID(ctx context.Context, id string) (*domain.Entry, error) {
	reqID, err := r.rdb.Get(ctx, r.jobKey(id)).Result()
	if err == nil {
		e, err := r.getEntry(ctx, reqID)
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to check job index: %w", err)
	}

	return r.getEntry(ctx, id)
}

func (r *Redis) GetByQuery(ctx context.Context, query string) (*domain.Entry, error) {
	reqID, err := r.rdb.Get(ctx, r.queryKey(domain.NormalizeQuery(query))).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to check query index: %w", err)
	}
	return r.getEntry(ctx, reqID)
}

func (r *Redis) ListByStatus(ctx context.Context, status domain.Status) ([]*domain.Entry, error) {
	members, err := r.rdb.SMembers(ctx, r.statusKey(status)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list entries by status %s: %w", status, err)
	}

	entries := make([]*domain.Entry, 0, len(members))
	for _, reqID := range members {
		e, err := r.getEntry(ctx, reqID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				r.rdb.SRem(ctx, r.statusKey(status), reqID)
				continue
			}
			return nil, err
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].RequestID < entries[j].RequestID
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

func (r *Redis) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	for _, status := range []domain.Status{domain.StatusCompleted, domain.StatusError, domain.StatusTimeout} {
		members, err := r.rdb.SMembers(ctx, r.statusKey(status)).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to sweep status %s: %w", status, err)
		}

		for _, reqID := range members {
			e, err := r.getEntry(ctx, reqID)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					r.rdb.SRem(ctx, r.statusKey(status), reqID)
					continue
				}
				return removed, err
			}
			if !e.Expired(now) {
				continue
			}

			pipe := r.rdb.Pipeline()
			pipe.Del(ctx, r.entryKey(reqID))
			pipe.SRem(ctx, r.statusKey(status), reqID)
			if e.JobID != "" {
				r.delIfPointsAt(ctx, pipe, r.jobKey(e.JobID), reqID)
			}
			r.delIfPointsAt(ctx, pipe, r.queryKey(e.NormalizedQuery), reqID)
			if _, err := pipe.Exec(ctx); err != nil {
				return removed, fmt.Errorf("failed to delete expired entry %s: %w", reqID, err)
			}
			removed++
		}
	}

	if removed > 0 {
		r.logger.Debug("Swept expired search entries",
			slog.Int("removed", removed),
		)
	}
	return removed, nil
}

// delIfPointsAt queues an index key deletion only when the index still
// references the entry being removed.
func (r *Redis) delIfPointsAt(ctx context.Context, pipe redis.Pipeliner, key, reqID string) {
	current, err := r.rdb.Get(ctx, key).Result()
	if err == nil && current == reqID {
		pipe.Del(ctx, key)
	}
}
