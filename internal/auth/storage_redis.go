package auth

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisStorageKeyPrefix = "novelshelf:client:"

// RedisStorage はクライアントごとのRedisハッシュに保存するStorage。
// 複数のAPIレプリカ間で同じクライアントの保存内容を共有できる。
type RedisStorage struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// NewRedisStorage はRedisStorageを生成する。
// ttlが0より大きい場合、書き込みのたびにハッシュの有効期限を延長する。
func NewRedisStorage(rdb *redis.Client, clientID string, ttl time.Duration) *RedisStorage {
	return &RedisStorage{
		rdb: rdb,
		key: redisStorageKeyPrefix + clientID,
		ttl: ttl,
	}
}

// Keys は保存されている全キーを昇順で返す。
func (s *RedisStorage) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.rdb.HKeys(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list storage keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Get はキーの値を返す。
func (s *RedisStorage) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.HGet(ctx, s.key, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read storage key: %w", err)
	}
	return v, true, nil
}

// Set はキーに値を保存する。
func (s *RedisStorage) Set(ctx context.Context, key, value string) error {
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.key, key, value)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write storage key: %w", err)
	}
	return nil
}

// Remove はキーを削除する。
func (s *RedisStorage) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.HDel(ctx, s.key, keys...).Err(); err != nil {
		return fmt.Errorf("failed to remove storage keys: %w", err)
	}
	return nil
}

var _ Storage = (*RedisStorage)(nil)
