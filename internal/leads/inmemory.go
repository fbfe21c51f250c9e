package leads

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps leads in process for local/dev use and tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []Record
	closed  bool
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Create(_ context.Context, draft Draft) (string, error) {
	if err := draft.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrStoreClosed
	}
	rec := Record{
		ID:        uuid.NewString(),
		Draft:     draft,
		CreatedAt: time.Now().UTC(),
	}
	s.records = append(s.records, rec)
	return rec.ID, nil
}

// Records returns stored leads in creation order.
func (s *InMemoryStore) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
