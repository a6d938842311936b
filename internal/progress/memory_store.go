package progress

import (
	"context"
	"sync"
)

// MemoryStore 将进度保存在进程内。
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Progress
}

// NewMemoryStore 创建内存缓存。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Progress)}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, venue, userWallet string) (Progress, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.items[cacheKey(venue, userWallet)]
	return p, ok, nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, venue, userWallet string, p Progress) error {
	s.mu.Lock()
	s.items[cacheKey(venue, userWallet)] = p
	s.mu.Unlock()
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, venue, userWallet string) error {
	s.mu.Lock()
	delete(s.items, cacheKey(venue, userWallet))
	s.mu.Unlock()
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
