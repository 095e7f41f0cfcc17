package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Backend はClientが呼び出す認証サービスの操作。*Serviceが実装する。
type Backend interface {
	SignUp(ctx context.Context, email, password, redirectTo string) error
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	Verify(accessToken string) (*SessionUser, time.Time, error)
	SignOut(ctx context.Context, refreshToken string) error
}

// SignUpOptions はサインアップ時のオプション。
type SignUpOptions struct {
	// RedirectTo はメール確認後の遷移先。
	RedirectTo string
}

// Client はブラウザクライアント1つ分の認証SDK。
// セッションはStorageに永続化し、状態変化はEventBusで通知する。
type Client struct {
	id      string
	backend Backend
	storage Storage
	bus     EventBus

	mu      sync.Mutex
	current *Session
}

// NewClient はClientを生成する。
func NewClient(id string, backend Backend, storage Storage, bus EventBus) *Client {
	return &Client{
		id:      id,
		backend: backend,
		storage: storage,
		bus:     bus,
	}
}

// GetSession は保存済みのセッションを返す。セッションがない場合は (nil, nil)。
// アクセストークンが期限切れの場合はリフレッシュし、TOKEN_REFRESHEDを通知する。
func (c *Client) GetSession(ctx context.Context) (*Session, error) {
	sess, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}

	user, _, err := c.backend.Verify(sess.AccessToken)
	switch {
	case err == nil:
		sess.User = *user
		c.setCurrent(sess)
		return sess, nil
	case errors.Is(err, ErrTokenExpired):
		refreshed, rerr := c.backend.Refresh(ctx, sess.RefreshToken)
		if rerr != nil {
			c.discard(ctx)
			return nil, fmt.Errorf("failed to refresh session: %w", rerr)
		}
		if err := c.persist(ctx, refreshed); err != nil {
			return nil, err
		}
		c.setCurrent(refreshed)
		c.publish(ctx, EventTokenRefreshed, refreshed)
		return refreshed, nil
	default:
		c.discard(ctx)
		return nil, err
	}
}

// OnSessionChange は認証状態の変化通知を購読し、解除関数を返す。
func (c *Client) OnSessionChange(fn Listener) func() {
	return c.bus.Subscribe(c.id, fn)
}

// SignInWithPassword はパスワードでサインインし、SIGNED_INを通知する。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	sess, err := c.backend.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := c.persist(ctx, sess); err != nil {
		return nil, err
	}
	c.setCurrent(sess)
	c.publish(ctx, EventSignedIn, sess)
	return sess, nil
}

// SignUp はユーザー登録を要求する。
func (c *Client) SignUp(ctx context.Context, email, password string, opts SignUpOptions) error {
	return c.backend.SignUp(ctx, email, password, opts.RedirectTo)
}

// SignOut はサーバー側のセッションを破棄し、SIGNED_OUTを通知する。
// 保存領域が先に消去されていても、メモリ上のリフレッシュトークンで破棄できる。
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	var refreshToken string
	if c.current != nil {
		refreshToken = c.current.RefreshToken
	}
	c.current = nil
	c.mu.Unlock()

	if refreshToken == "" {
		if stored, err := c.load(ctx); err == nil && stored != nil {
			refreshToken = stored.RefreshToken
		}
	}

	c.discard(ctx)
	c.publish(ctx, EventSignedOut, nil)

	if refreshToken == "" {
		return nil
	}
	return c.backend.SignOut(ctx, refreshToken)
}

func (c *Client) load(ctx context.Context) (*Session, error) {
	raw, ok, err := c.storage.Get(ctx, sessionStorageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read stored session: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}

	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		// 壊れた保存値はセッションなしとして扱う
		c.discard(ctx)
		return nil, nil
	}
	return &sess, nil
}

func (c *Client) persist(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := c.storage.Set(ctx, sessionStorageKey, string(raw)); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (c *Client) discard(ctx context.Context) {
	if err := c.storage.Remove(ctx, sessionStorageKey); err != nil {
		slog.Warn("failed to remove stored session",
			slog.String("client_id", c.id),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Client) setCurrent(sess *Session) {
	c.mu.Lock()
	c.current = sess
	c.mu.Unlock()
}

func (c *Client) publish(ctx context.Context, event Event, sess *Session) {
	if err := c.bus.Publish(ctx, c.id, event, sess); err != nil {
		slog.Warn("failed to publish auth event",
			slog.String("client_id", c.id),
			slog.String("event", string(event)),
			slog.String("error", err.Error()),
		)
	}
}
