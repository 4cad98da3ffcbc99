package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const refreshKeyPrefix = "hanumo:refresh:"

// RedisRefreshTokenStore はRedisを使用したリフレッシュトークン管理。
// キーはjti単位で、TTLをトークンの有効期限に合わせる。
type RedisRefreshTokenStore struct {
	client goredis.UniversalClient
	now    func() time.Time
}

// NewRedisRefreshTokenStore はRedisRefreshTokenStoreを生成する。
func NewRedisRefreshTokenStore(client goredis.UniversalClient) *RedisRefreshTokenStore {
	return &RedisRefreshTokenStore{client: client, now: time.Now}
}

// Save はjtiを有効期限付きで登録する。
func (s *RedisRefreshTokenStore) Save(ctx context.Context, jti, privyID string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("refresh token already expired: %s", jti)
	}
	if err := s.client.Set(ctx, refreshKeyPrefix+jti, privyID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}
	return nil
}

// Consume はGETDELでjtiを原子的に取り出す。
func (s *RedisRefreshTokenStore) Consume(ctx context.Context, jti string) (string, bool, error) {
	privyID, err := s.client.GetDel(ctx, refreshKeyPrefix+jti).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to consume refresh token: %w", err)
	}
	return privyID, true, nil
}

// Revoke はjtiを削除する。
func (s *RedisRefreshTokenStore) Revoke(ctx context.Context, jti string) error {
	if err := s.client.Del(ctx, refreshKeyPrefix+jti).Err(); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// compile-time interface check
var _ RefreshTokenStore = (*RedisRefreshTokenStore)(nil)
