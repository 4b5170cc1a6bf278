package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix はブラウザ保存領域のRedisキー接頭辞。
const redisKeyPrefix = "billdash:browser:"

// RedisTokenStore はRedisのハッシュを使用したTokenStore。
// browser_idごとに1つのハッシュを持ち、書き込みのたびにTTLを延長する。
type RedisTokenStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTokenStore はRedisTokenStoreを生成する。
// ttlが0以下の場合は有効期限を設定しない。
func NewRedisTokenStore(client *redis.Client, ttl time.Duration) *RedisTokenStore {
	return &RedisTokenStore{client: client, ttl: ttl}
}

// OpenRedis はURLからRedisクライアントを生成し、接続を確認する。
func OpenRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

func redisKey(browserID string) string {
	return redisKeyPrefix + browserID
}

// Get は指定キーの値を取得する。
func (s *RedisTokenStore) Get(ctx context.Context, browserID, key string) (string, bool, error) {
	value, err := s.client.HGet(ctx, redisKey(browserID), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get browser storage value: %w", err)
	}
	return value, true, nil
}

// Set は指定キーに値を保存し、ハッシュのTTLを更新する。
func (s *RedisTokenStore) Set(ctx context.Context, browserID, key, value string) error {
	k := redisKey(browserID)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, k, key, value)
	if s.ttl > 0 {
		pipe.Expire(ctx, k, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set browser storage value: %w", err)
	}
	return nil
}

// Delete は指定キーをハッシュから削除する。
func (s *RedisTokenStore) Delete(ctx context.Context, browserID string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.HDel(ctx, redisKey(browserID), keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete browser storage values: %w", err)
	}
	return nil
}

// compile-time interface check
var _ TokenStore = (*RedisTokenStore)(nil)
