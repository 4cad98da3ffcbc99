package repository

import (
	"context"
	"sync"
	"time"
)

type refreshEntry struct {
	privyID   string
	expiresAt time.Time
}

// MemoryRefreshTokenStore はプロセス内メモリを使用したリフレッシュトークン管理。
// REDIS_URL未設定時に使う。単一インスタンス構成でのみ有効。
type MemoryRefreshTokenStore struct {
	mu      sync.Mutex
	entries map[string]refreshEntry
	now     func() time.Time
}

// NewMemoryRefreshTokenStore はMemoryRefreshTokenStoreを生成する。
func NewMemoryRefreshTokenStore() *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{
		entries: make(map[string]refreshEntry),
		now:     time.Now,
	}
}

// Save はjtiを登録する。期限切れエントリはこのタイミングで掃除する。
func (s *MemoryRefreshTokenStore) Save(_ context.Context, jti, privyID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
		}
	}
	s.entries[jti] = refreshEntry{privyID: privyID, expiresAt: expiresAt}
	return nil
}

// Consume はjtiを取り出して削除する。
func (s *MemoryRefreshTokenStore) Consume(_ context.Context, jti string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[jti]
	if !ok {
		return "", false, nil
	}
	delete(s.entries, jti)
	if !s.now().Before(e.expiresAt) {
		return "", false, nil
	}
	return e.privyID, true, nil
}

// Revoke はjtiを削除する。
func (s *MemoryRefreshTokenStore) Revoke(_ context.Context, jti string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, jti)
	return nil
}

// compile-time interface check
var _ RefreshTokenStore = (*MemoryRefreshTokenStore)(nil)
