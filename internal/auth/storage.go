package auth

import (
	"context"
	"sort"
	"sync"
)

// StorageKeyPrefix は認証関連の保存キーに付与する接頭辞。
// サインアウト時はこの接頭辞を持つキーをすべて削除する。
const StorageKeyPrefix = "nv-auth-"

// sessionStorageKey は現在のセッションを保存するキー。
const sessionStorageKey = StorageKeyPrefix + "session"

// Storage はブラウザクライアントごとのキー・バリュー保存領域。
type Storage interface {
	Keys(ctx context.Context) ([]string, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, keys ...string) error
}

// MemoryStorage はプロセス内メモリに保持するStorage。
// REDIS_URL未設定時とテストで使用する。
type MemoryStorage struct {
	mu   sync.Mutex
	data map[string]string
}

// NewMemoryStorage はMemoryStorageを生成する。
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string]string)}
}

// Keys は保存されている全キーを昇順で返す。
func (s *MemoryStorage) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Get はキーの値を返す。
func (s *MemoryStorage) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.data[key]
	return v, ok, nil
}

// Set はキーに値を保存する。
func (s *MemoryStorage) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = value
	return nil
}

// Remove はキーを削除する。存在しないキーは無視する。
func (s *MemoryStorage) Remove(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

var _ Storage = (*MemoryStorage)(nil)
