package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/forecast-compare-service/internal/models"
	"github.com/kjstillabower/forecast-compare-service/internal/observability"
)

// InMemoryStore implements Store using a map with TTL-based expiration. Each Save refreshes
// the entry's TTL. Expired entries are removed on access or by Sweep.
type InMemoryStore struct {
	clock clockwork.Clock
	ttl   time.Duration

	mu   sync.Mutex
	data map[string]entry
}

type entry struct {
	value     models.Session
	expiresAt time.Time
}

// NewInMemoryStore creates an in-memory store whose entries live for ttl after their last Save.
func NewInMemoryStore(clock clockwork.Clock, ttl time.Duration) *InMemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &InMemoryStore{
		clock: clock,
		ttl:   ttl,
		data:  make(map[string]entry),
	}
}

// Get returns a copy of the session, or ErrNotFound when absent or expired.
func (s *InMemoryStore) Get(ctx context.Context, id string) (models.Session, error) {
	if ctx.Err() != nil {
		return models.Session{}, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[id]
	if !ok {
		return models.Session{}, ErrNotFound
	}
	if s.clock.Now().After(e.expiresAt) {
		delete(s.data, id)
		observability.SessionsExpiredTotal.Inc()
		return models.Session{}, ErrNotFound
	}
	return e.value.Clone(), nil
}

// Save stores a copy of sess and refreshes its TTL.
func (s *InMemoryStore) Save(ctx context.Context, sess models.Session) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[sess.ID] = entry{
		value:     sess.Clone(),
		expiresAt: s.clock.Now().Add(s.ttl),
	}
	return nil
}

// Delete removes the session. Deleting an unknown id is not an error.
func (s *InMemoryStore) Delete(ctx context.Context, id string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}

// Sweep removes every expired entry and returns how many were removed.
func (s *InMemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	removed := 0
	for id, e := range s.data {
		if now.After(e.expiresAt) {
			delete(s.data, id)
			removed++
		}
	}
	if removed > 0 {
		observability.SessionsExpiredTotal.Add(float64(removed))
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
