package cartstore

import (
	"context"
	"encoding/json"
	"sync"

	"puntoventa/backend/internal/domain"
)

// MemoryStore keeps carts in the process. It round-trips items through JSON so
// it exercises the same serialization path as the Redis store.
type MemoryStore struct {
	mu        sync.Mutex
	data      map[string][]byte
	listeners []func(event string)
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Load(_ context.Context, key string) ([]domain.LineItem, error) {
	s.mu.Lock()
	payload, ok := s.data[key]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}

	var items []domain.LineItem
	if err := json.Unmarshal(payload, &items); err != nil {
		// Fail open: malformed data reads as an empty cart.
		return nil, nil
	}
	return items, nil
}

func (s *MemoryStore) Save(_ context.Context, key string, items []domain.LineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(items) == 0 {
		delete(s.data, key)
		return nil
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return err
	}
	s.data[key] = payload
	return nil
}

func (s *MemoryStore) Broadcast(_ context.Context, event string) error {
	s.mu.Lock()
	listeners := make([]func(string), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(event)
	}
	return nil
}

// Listen registers fn for broadcast events.
func (s *MemoryStore) Listen(fn func(event string)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Corrupt overwrites a key with a payload that does not unmarshal. Test hook
// for the fail-open contract.
func (s *MemoryStore) Corrupt(key string) {
	s.mu.Lock()
	s.data[key] = []byte("{not json")
	s.mu.Unlock()
}
