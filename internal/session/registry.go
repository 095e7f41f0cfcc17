package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/novelshelf/internal/auth"
	"github.com/hitoshi/novelshelf/internal/flash"
	"github.com/hitoshi/novelshelf/internal/gate"
)

// Factory はクライアントIDに対応する認証SDKと保存領域を生成する。
type Factory func(clientID string) (AuthClient, auth.Storage)

// RegistryConfig はRegistryの設定を保持する。
type RegistryConfig struct {
	Allowlist       Allowlist
	IdleTTL         time.Duration // 最終アクセスからこの時間を過ぎたクライアントを破棄する
	CleanupInterval time.Duration
	MaxClients      int // 上限に達したら最終アクセスが最も古いクライアントを破棄する。0以下なら無制限
	StoreOptions    []Option
}

// DefaultRegistryConfig はデフォルトの設定を返す。
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		Allowlist:       DefaultAdminAllowlist,
		IdleTTL:         30 * time.Minute,
		CleanupInterval: 5 * time.Minute,
		MaxClients:      10000,
	}
}

// Entry は1クライアント分の状態。
type Entry struct {
	ID      string
	Client  AuthClient
	Store   *Store
	Notices *flash.Queue

	storage auth.Storage

	mu       sync.Mutex
	mounts   map[string]*gate.Mount
	lastSeen time.Time
}

// Mount はルートごとの認可ガードを返す。同じルートには同じMountを返す。
func (e *Entry) Mount(route string, policy gate.Policy, cfg gate.Config) *gate.Mount {
	key := policy.String() + " " + route

	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.mounts[key]
	if !ok {
		m = gate.NewMount(policy, cfg)
		e.mounts[key] = m
	}
	return m
}

func (e *Entry) touch(now time.Time) {
	e.mu.Lock()
	e.lastSeen = now
	e.mu.Unlock()
}

func (e *Entry) idleSince() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSeen
}

// Registry はクライアントIDごとのEntryを管理する。
type Registry struct {
	factory Factory
	config  RegistryConfig
	logger  *slog.Logger

	mu      sync.RWMutex
	entries map[string]*Entry

	stopCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewRegistry はRegistryを生成し、アイドルクライアントの破棄を開始する。
func NewRegistry(factory Factory, config RegistryConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	r := &Registry{
		factory: factory,
		config:  config,
		logger:  logger,
		entries: make(map[string]*Entry),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}

	go r.cleanupLoop()

	return r
}

// GetOrCreate はクライアントIDのEntryを返す。初見のIDならStoreを生成して初期化する。
func (r *Registry) GetOrCreate(ctx context.Context, clientID string) *Entry {
	now := r.now()

	r.mu.RLock()
	e, ok := r.entries[clientID]
	r.mu.RUnlock()
	if ok {
		e.touch(now)
		return e
	}

	r.mu.Lock()
	// ダブルチェック
	if e, ok := r.entries[clientID]; ok {
		r.mu.Unlock()
		e.touch(now)
		return e
	}

	var displaced *Entry
	if r.config.MaxClients > 0 && len(r.entries) >= r.config.MaxClients {
		displaced = r.removeOldestLocked()
	}

	client, storage := r.factory(clientID)
	e = &Entry{
		ID:       clientID,
		Client:   client,
		Store:    NewStore(client, storage, r.config.Allowlist, r.logger.With(slog.String("client_id", clientID)), r.config.StoreOptions...),
		Notices:  &flash.Queue{},
		storage:  storage,
		mounts:   make(map[string]*gate.Mount),
		lastSeen: now,
	}
	r.entries[clientID] = e
	r.mu.Unlock()

	if displaced != nil {
		displaced.Store.Close()
		r.logger.Debug("displaced least recently seen client", slog.String("client_id", displaced.ID))
	}

	e.Store.Init(ctx)
	return e
}

// removeOldestLocked は最終アクセスが最も古いEntryを取り除いて返す。r.muを保持して呼ぶ。
func (r *Registry) removeOldestLocked() *Entry {
	var oldest *Entry
	var oldestSeen time.Time
	for _, e := range r.entries {
		seen := e.idleSince()
		if oldest == nil || seen.Before(oldestSeen) {
			oldest, oldestSeen = e, seen
		}
	}
	if oldest != nil {
		delete(r.entries, oldest.ID)
	}
	return oldest
}

// Lookup は既存のEntryを返す。
func (r *Registry) Lookup(clientID string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[clientID]
	return e, ok
}

// Reset はクライアントの保存領域をすべて消去し、Entryを破棄する。
// エラー画面の「ローカル状態を消去して再読み込み」に使う。
func (r *Registry) Reset(ctx context.Context, clientID string) error {
	r.mu.Lock()
	e, ok := r.entries[clientID]
	delete(r.entries, clientID)
	r.mu.Unlock()

	var storage auth.Storage
	if ok {
		storage = e.storage
		e.Store.Close()
	} else {
		_, storage = r.factory(clientID)
	}

	keys, err := storage.Keys(ctx)
	if err != nil {
		return fmt.Errorf("failed to list client storage: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := storage.Remove(ctx, keys...); err != nil {
		return fmt.Errorf("failed to clear client storage: %w", err)
	}
	return nil
}

// Len は管理中のクライアント数を返す。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Stop はクリーンアップを停止し、全クライアントの購読を解除する。
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })

	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*Entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.Store.Close()
	}
}

func (r *Registry) cleanupLoop() {
	ticker := time.NewTicker(r.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.evictIdle()
		case <-r.stopCh:
			return
		}
	}
}

// evictIdle はIdleTTLを超えてアクセスのないクライアントを破棄する。
func (r *Registry) evictIdle() int {
	if r.config.IdleTTL <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.config.IdleTTL)

	var evicted []*Entry
	r.mu.Lock()
	for id, e := range r.entries {
		if e.idleSince().Before(cutoff) {
			evicted = append(evicted, e)
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()

	for _, e := range evicted {
		e.Store.Close()
	}
	if len(evicted) > 0 {
		r.logger.Info("evicted idle clients", slog.Int("count", len(evicted)))
	}
	return len(evicted)
}
