package repository

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	updatedAt time.Time
}

// MemoryTokenStore はプロセス内メモリを使用したTokenStore。
// 開発環境とテストで使用する。プロセス終了時に内容は失われる。
type MemoryTokenStore struct {
	mu      sync.RWMutex
	entries map[string]map[string]memoryEntry
	nowFunc func() time.Time
}

// NewMemoryTokenStore はMemoryTokenStoreを生成する。
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{
		entries: make(map[string]map[string]memoryEntry),
		nowFunc: time.Now,
	}
}

// Get は指定キーの値を取得する。
func (s *MemoryTokenStore) Get(_ context.Context, browserID, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[browserID][key]
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

// Set は指定キーに値を保存する。
func (s *MemoryTokenStore) Set(_ context.Context, browserID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.entries[browserID]
	if !ok {
		m = make(map[string]memoryEntry)
		s.entries[browserID] = m
	}
	m[key] = memoryEntry{value: value, updatedAt: s.nowFunc()}
	return nil
}

// Delete は指定キーを削除する。
func (s *MemoryTokenStore) Delete(_ context.Context, browserID string, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.entries[browserID]
	if !ok {
		return nil
	}
	for _, k := range keys {
		delete(m, k)
	}
	if len(m) == 0 {
		delete(s.entries, browserID)
	}
	return nil
}

// PurgeOlderThan はcutoffより前に更新されたエントリを削除する。
func (s *MemoryTokenStore) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for browserID, m := range s.entries {
		for k, e := range m {
			if e.updatedAt.Before(cutoff) {
				delete(m, k)
				n++
			}
		}
		if len(m) == 0 {
			delete(s.entries, browserID)
		}
	}
	return n, nil
}

// compile-time interface check
var (
	_ TokenStore       = (*MemoryTokenStore)(nil)
	_ StaleEntryPurger = (*MemoryTokenStore)(nil)
)
