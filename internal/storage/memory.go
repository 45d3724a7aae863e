package storage

import (
	"context"
	"sort"
	"sync"

	"dutybot/internal/rotation"
)

// memoryStore keeps tenants in a map. It round-trips through the wire
// codec so callers never share slices with the store, same as the
// persistent drivers.
type memoryStore struct {
	mu     sync.RWMutex
	byID   map[string][]byte
	closed bool
}

func NewMemory() Store {
	return &memoryStore{byID: map[string][]byte{}}
}

func (s *memoryStore) Load(ctx context.Context, tenantID string) (*rotation.Tenant, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	data, ok := s.byID[tenantID]
	if !ok {
		return nil, nil
	}
	return decodeTenant(data)
}

func (s *memoryStore) Save(ctx context.Context, t *rotation.Tenant) error {
	_ = ctx
	data, err := encodeTenant(t)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.byID[t.ID] = data
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, tenantID string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.byID, tenantID)
	return nil
}

func (s *memoryStore) ListAll(ctx context.Context) ([]*rotation.Tenant, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*rotation.Tenant, 0, len(ids))
	for _, id := range ids {
		t, err := decodeTenant(s.byID[id])
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
