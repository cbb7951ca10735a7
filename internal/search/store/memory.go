package store

import (
	"context"
	"sync"
	"time"

	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/search/domain"
)

// Memory is the in-memory Store backend: a map guarded by a RWMutex plus
// two secondary indexes. Entries are deep-copied on the way in and out so
// callers never share state with the map.
type Memory struct {
	mu        sync.RWMutex
	byRequest map[string]*domain.Entry
	byJob     map[string]string // job id → request id
	byQuery   map[string]string // normalized query → freshest request id
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		byRequest: make(map[string]*domain.Entry),
		byJob:     make(map[string]string),
		byQuery:   make(map[string]string),
	}
}

func (m *Memory) Put(_ context.Context, e *domain.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, replacing := m.byRequest[e.RequestID]
	if !replacing {
		if otherID, ok := m.byQuery[e.NormalizedQuery]; ok {
			if other := m.byRequest[otherID]; other != nil && !other.Status.Terminal() {
				return domain.ErrConflict
			}
		}
	}

	stored := e.Clone()
	m.byRequest[stored.RequestID] = stored
	if stored.JobID != "" {
		m.byJob[stored.JobID] = stored.RequestID
	}

	// Inserts are always the freshest entry for their query; replacements
	// only keep the index if it already points at them.
	if !replacing || m.byQuery[stored.NormalizedQuery] == stored.RequestID {
		m.byQuery[stored.NormalizedQuery] = stored.RequestID
	}

	return nil
}

func (m *Memory) GetByID(_ context.Context, id string) (*domain.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if reqID, ok := m.byJob[id]; ok {
		if e, ok := m.byRequest[reqID]; ok {
			return e.Clone(), nil
		}
	}
	if e, ok := m.byRequest[id]; ok {
		return e.Clone(), nil
	}
	return nil, domain.ErrNotFound
}

func (m *Memory) GetByQuery(_ context.Context, query string) (*domain.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	reqID, ok := m.byQuery[domain.NormalizeQuery(query)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	e, ok := m.byRequest[reqID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return e.Clone(), nil
}

func (m *Memory) ListByStatus(_ context.Context, status domain.Status) ([]*domain.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var entries []*domain.Entry
	for _, e := range m.byRequest {
		if e.Status == status {
			entries = append(entries, e.Clone())
		}
	}
	return entries, nil
}

func (m *Memory) SweepExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for reqID, e := range m.byRequest {
		if !e.Expired(now) {
			continue
		}
		delete(m.byRequest, reqID)
		if e.JobID != "" && m.byJob[e.JobID] == reqID {
			delete(m.byJob, e.JobID)
		}
		if m.byQuery[e.NormalizedQuery] == reqID {
			delete(m.byQuery, e.NormalizedQuery)
		}
		removed++
	}
	return removed, nil
}
