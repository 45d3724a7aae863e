package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"dutybot/internal/rotation"
	"dutybot/pkg/logx"
)

// fileStore keeps every tenant in one JSON snapshot file. Writes rewrite
// the whole snapshot to a temp file and rename it into place, so the
// file on disk is always a complete document.
type fileStore struct {
	log  logx.Logger
	path string

	mu      sync.Mutex
	tenants map[string]json.RawMessage
	closed  bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, path: path, tenants: map[string]json.RawMessage{}}
	if err := s.loadSnapshot(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) loadSnapshot() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	s.tenants = m
	if s.tenants == nil {
		s.tenants = map[string]json.RawMessage{}
	}
	return nil
}

func (s *fileStore) flushLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.tenants); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) Load(ctx context.Context, tenantID string) (*rotation.Tenant, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	data, ok := s.tenants[tenantID]
	if !ok {
		return nil, nil
	}
	return decodeTenant(data)
}

func (s *fileStore) Save(ctx context.Context, t *rotation.Tenant) error {
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
	prev, had := s.tenants[t.ID]
	s.tenants[t.ID] = data
	if err := s.flushLocked(); err != nil {
		// Keep the in-memory view consistent with disk.
		if had {
			s.tenants[t.ID] = prev
		} else {
			delete(s.tenants, t.ID)
		}
		return err
	}
	return nil
}

func (s *fileStore) Delete(ctx context.Context, tenantID string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	prev, had := s.tenants[tenantID]
	if !had {
		return nil
	}
	delete(s.tenants, tenantID)
	if err := s.flushLocked(); err != nil {
		s.tenants[tenantID] = prev
		return err
	}
	return nil
}

func (s *fileStore) ListAll(ctx context.Context) ([]*rotation.Tenant, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	ids := make([]string, 0, len(s.tenants))
	for id := range s.tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*rotation.Tenant, 0, len(ids))
	for _, id := range ids {
		t, err := decodeTenant(s.tenants[id])
		if err != nil {
			s.log.Warn("skipping unreadable tenant record", logx.String("tenant", id), logx.Err(err))
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
