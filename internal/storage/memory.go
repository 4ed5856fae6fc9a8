package storage

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/ahrav/go-sweep/internal/domain"
)

// MemoryStore is a process-local Store guarded by a RWMutex.
type MemoryStore struct {
	mu          sync.RWMutex
	experiments map[string]*domain.Experiment
	responses   map[string][]domain.Response
	closed      bool
	now         func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		experiments: make(map[string]*domain.Experiment),
		responses:   make(map[string][]domain.Response),
		now:         time.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) CreateExperiment(_ context.Context, exp *domain.Experiment) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}

	c := prepareExperiment(exp, s.now())
	s.experiments[c.ID] = c
	return c.ID, nil
}

func (s *MemoryStore) UpdateExperiment(_ context.Context, id string, patch domain.ExperimentPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	exp, ok := s.experiments[id]
	if !ok {
		return notFound(id)
	}
	next := exp.Clone()
	if err := patch.Apply(next, s.now()); err != nil {
		return err
	}
	s.experiments[id] = next
	return nil
}

func (s *MemoryStore) GetExperiment(_ context.Context, id string) (*domain.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	exp, ok := s.experiments[id]
	if !ok {
		return nil, notFound(id)
	}
	return exp.Clone(), nil
}

func (s *MemoryStore) ListExperiments(_ context.Context, limit int, cursor string) (*ExperimentPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	limit = NormalizeLimit(limit)

	all := make([]*domain.Experiment, 0, len(s.experiments))
	for _, e := range s.experiments {
		all = append(all, e)
	}
	slices.SortFunc(all, newerFirst)

	start := 0
	if cursor != "" {
		idx := slices.IndexFunc(all, func(e *domain.Experiment) bool { return e.ID == cursor })
		if idx < 0 {
			return nil, errInvalidCursor(cursor)
		}
		start = idx + 1
	}

	end := min(start+limit, len(all))
	page := &ExperimentPage{Experiments: make([]domain.Experiment, 0, end-start)}
	for _, e := range all[start:end] {
		page.Experiments = append(page.Experiments, *e.Clone())
	}
	if end < len(all) {
		page.HasMore = true
		page.NextCursor = all[end-1].ID
	}
	return page, nil
}

func (s *MemoryStore) AddResponse(_ context.Context, experimentID string, resp *domain.Response) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	if _, ok := s.experiments[experimentID]; !ok {
		return "", notFound(experimentID)
	}

	c := prepareResponse(experimentID, resp, s.now())
	if s.findResponse(experimentID, c.ID) >= 0 {
		return c.ID, nil
	}
	s.responses[experimentID] = append(s.responses[experimentID], c)
	return c.ID, nil
}

func (s *MemoryStore) GetResponse(_ context.Context, experimentID, responseID string) (*domain.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	i := s.findResponse(experimentID, responseID)
	if i < 0 {
		return nil, ErrResponseNotFound
	}
	r := s.responses[experimentID][i]
	return &r, nil
}

// findResponse returns the index of responseID, or -1. Callers hold mu.
func (s *MemoryStore) findResponse(experimentID, responseID string) int {
	return slices.IndexFunc(s.responses[experimentID], func(r domain.Response) bool {
		return r.ID == responseID
	})
}

func (s *MemoryStore) ListResponses(_ context.Context, experimentID string) ([]domain.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return slices.Clone(s.responses[experimentID]), nil
}

func (s *MemoryStore) DeleteAllResponses(_ context.Context, experimentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.responses, experimentID)
	return nil
}

func (s *MemoryStore) DeleteExperiment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.experiments[id]; !ok {
		return notFound(id)
	}
	if len(s.responses[id]) > 0 {
		return ErrHasResponses
	}
	delete(s.experiments, id)
	return nil
}

// Close marks the store closed; subsequent calls fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
