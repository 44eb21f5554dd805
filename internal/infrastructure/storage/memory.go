package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryKV keeps values in process memory
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryKV creates an empty in-memory store
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

// Locate returns a memory:// pseudo path for key
func (s *MemoryKV) Locate(key string) string {
	return "memory://" + key
}

// Get returns a copy of the value for key
func (s *MemoryKV) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	if !ok {
		return nil, ErrNotExist
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Put stores a copy of data
func (s *MemoryKV) Put(ctx context.Context, key string, data []byte) error {
	v := make([]byte, len(data))
	copy(v, data)

	s.mu.Lock()
	s.data[key] = v
	s.mu.Unlock()
	return nil
}

// Delete removes key
func (s *MemoryKV) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

// List returns the app ids stored under namespace, sorted
func (s *MemoryKV) List(ctx context.Context, namespace string) ([]string, error) {
	head := namespace + "/"

	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for k := range s.data {
		if strings.HasPrefix(k, head) {
			ids = append(ids, strings.TrimPrefix(k, head))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op
func (s *MemoryKV) Close() error {
	return nil
}
