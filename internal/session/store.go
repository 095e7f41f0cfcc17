package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/novelshelf/internal/auth"
	"github.com/hitoshi/novelshelf/internal/gate"
)

// AuthClient はSession Storeが利用する認証SDKの操作。*auth.Clientが実装する。
type AuthClient interface {
	GetSession(ctx context.Context) (*auth.Session, error)
	OnSessionChange(fn auth.Listener) (unsubscribe func())
	SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error)
	SignUp(ctx context.Context, email, password string, opts auth.SignUpOptions) error
	SignOut(ctx context.Context) error
}

var _ AuthClient = (*auth.Client)(nil)

// Identity は認証済みユーザーのキャッシュ。
type Identity struct {
	UserID    string
	Email     string
	ExpiresAt time.Time
}

// State はStoreのある時点のスナップショット。
type State struct {
	Loaded   bool
	Identity *Identity
	IsAdmin  bool
}

// GateState は認可判定用の状態に変換する。
func (s State) GateState() gate.State {
	return gate.State{
		Loaded:        s.Loaded,
		Authenticated: s.Identity != nil,
		Admin:         s.IsAdmin,
	}
}

// Option はStoreの生成オプション。
type Option func(*Store)

// WithEventHook は認証イベント受信時に呼ばれる関数を設定する。
func WithEventHook(fn func(auth.Event)) Option {
	return func(s *Store) { s.onEvent = fn }
}

// Store は1クライアント分の現在のIdentityとAdminFlagを保持する。
// IdentityとAdminFlagは常に同じロック内で一緒に更新する。
type Store struct {
	client    AuthClient
	storage   auth.Storage
	allowlist Allowlist
	logger    *slog.Logger
	onEvent   func(auth.Event)

	mu       sync.RWMutex
	identity *Identity
	admin    bool
	loaded   bool

	ready     chan struct{}
	readyOnce sync.Once

	subMu   sync.Mutex
	subs    map[int]func(State)
	nextSub int

	initOnce    sync.Once
	closeOnce   sync.Once
	unsubscribe func()
	wg          sync.WaitGroup
}

// NewStore はStoreを生成する。Initを呼ぶまで変更通知は購読しない。
func NewStore(client AuthClient, storage auth.Storage, allowlist Allowlist, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		client:    client,
		storage:   storage,
		allowlist: allowlist,
		logger:    logger,
		ready:     make(chan struct{}),
		subs:      make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init は変更通知を購読し、初回のRefreshをバックグラウンドで開始する。
// 2回目以降の呼び出しは何もしない。
func (s *Store) Init(ctx context.Context) {
	s.initOnce.Do(func() {
		s.unsubscribe = s.client.OnSessionChange(s.handleChange)

		bg := context.WithoutCancel(ctx)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Refresh(bg)
		}()
	})
}

// Refresh は認証サービスに現在のセッションを問い合わせて状態を更新する。
// セッションがない場合とエラーの場合はどちらも未ログインとして扱う。
func (s *Store) Refresh(ctx context.Context) {
	sess, err := s.client.GetSession(ctx)
	if err != nil {
		s.logger.Warn("failed to get session",
			slog.String("error", err.Error()),
		)
		sess = nil
	}

	s.mu.Lock()
	s.setLocked(sess)
	s.loaded = true
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })
	s.notify(st)
}

// handleChange は変更通知のペイロードで状態を上書きする。再問い合わせはしない。
func (s *Store) handleChange(event auth.Event, sess *auth.Session) {
	if s.onEvent != nil {
		s.onEvent(event)
	}
	if event == auth.EventSignedOut {
		sess = nil
	}
	s.apply(sess)
}

// apply は状態を上書きする。通知で状態が確定した場合も初回読み込みは完了とみなす。
func (s *Store) apply(sess *auth.Session) {
	s.mu.Lock()
	s.setLocked(sess)
	s.loaded = true
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })
	s.notify(st)
}

func (s *Store) setLocked(sess *auth.Session) {
	if sess == nil || sess.User.ID == "" {
		s.identity = nil
		s.admin = false
		return
	}
	s.identity = &Identity{
		UserID:    sess.User.ID,
		Email:     sess.User.Email,
		ExpiresAt: sess.ExpiresAt,
	}
	s.admin = s.allowlist.Contains(sess.User.Email)
}

func (s *Store) snapshotLocked() State {
	st := State{Loaded: s.loaded, IsAdmin: s.admin}
	if s.identity != nil {
		id := *s.identity
		st.Identity = &id
	}
	return st
}

// Snapshot はIdentityとAdminFlagを同時に読み出す。
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Ready は初回のRefreshが完了すると閉じるチャネルを返す。
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// Subscribe は状態変化を購読し、解除関数を返す。
func (s *Store) Subscribe(fn func(State)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(st State) {
	s.subMu.Lock()
	fns := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

// SignInWithPassword はサインインする。状態は変更通知で更新される。
func (s *Store) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	return s.client.SignInWithPassword(ctx, email, password)
}

// SignUp はユーザー登録を要求する。
func (s *Store) SignUp(ctx context.Context, email, password, redirectTo string) error {
	return s.client.SignUp(ctx, email, password, auth.SignUpOptions{RedirectTo: redirectTo})
}

// SignOut はローカルの状態を即座に消去し、認証関連の保存キーを削除してから、
// 認証サービスへのサインアウトをバックグラウンドで要求する。
// バックグラウンド側の失敗はログに残すだけで、ローカルの状態は戻さない。
func (s *Store) SignOut(ctx context.Context) error {
	s.apply(nil)

	purgeErr := PurgeAuthKeys(ctx, s.storage)

	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.client.SignOut(bg); err != nil {
			s.logger.Warn("background sign-out failed",
				slog.String("error", err.Error()),
			)
		}
	}()

	return purgeErr
}

// Wait はバックグラウンド処理の完了を待つ。
func (s *Store) Wait() {
	s.wg.Wait()
}

// Close は変更通知の購読を解除し、バックグラウンド処理の完了を待つ。
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
	})
	s.wg.Wait()
}

// PurgeAuthKeys は認証用接頭辞を持つ保存キーをすべて削除する。
func PurgeAuthKeys(ctx context.Context, storage auth.Storage) error {
	keys, err := storage.Keys(ctx)
	if err != nil {
		return fmt.Errorf("failed to list storage keys: %w", err)
	}

	var targets []string
	for _, k := range keys {
		if strings.HasPrefix(k, auth.StorageKeyPrefix) {
			targets = append(targets, k)
		}
	}
	if len(targets) == 0 {
		return nil
	}
	if err := storage.Remove(ctx, targets...); err != nil {
		return fmt.Errorf("failed to remove auth keys: %w", err)
	}
	return nil
}
