package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sent markers in process. Markers are lost on restart,
// which only widens the duplicate window back to plain at-least-once.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryStore) Seen(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.keys[key]
	if !ok {
		return false, nil
	}
	if !s.now().Before(exp) {
		delete(s.keys, key)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) MarkSent(_ context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	s.mu.Lock()
	s.keys[key] = s.now().Add(ttl)
	s.mu.Unlock()
	return nil
}
