package auth

import (
	"context"
	"sync"
)

// Event は認証状態の変化を表す。
type Event string

const (
	EventInitialSession Event = "INITIAL_SESSION"
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
)

// Listener は認証状態の変化通知を受け取る。サインアウト時のsessionはnil。
type Listener func(event Event, session *Session)

// EventBus はクライアントIDごとに認証状態の変化通知を配信する。
type EventBus interface {
	Publish(ctx context.Context, clientID string, event Event, session *Session) error
	Subscribe(clientID string, fn Listener) (unsubscribe func())
}

// LocalBus はプロセス内で同期的に通知を配信するEventBus。
type LocalBus struct {
	mu        sync.Mutex
	nextID    int
	listeners map[string]map[int]Listener
}

// NewLocalBus はLocalBusを生成する。
func NewLocalBus() *LocalBus {
	return &LocalBus{listeners: make(map[string]map[int]Listener)}
}

// Publish は購読者に通知する。呼び出し元のgoroutineで順に実行される。
func (b *LocalBus) Publish(_ context.Context, clientID string, event Event, session *Session) error {
	b.mu.Lock()
	fns := make([]Listener, 0, len(b.listeners[clientID]))
	for _, fn := range b.listeners[clientID] {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(event, session)
	}
	return nil
}

// Subscribe は購読を登録し、解除関数を返す。解除関数は複数回呼んでもよい。
func (b *LocalBus) Subscribe(clientID string, fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	if b.listeners[clientID] == nil {
		b.listeners[clientID] = make(map[int]Listener)
	}
	b.listeners[clientID][id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners[clientID], id)
		if len(b.listeners[clientID]) == 0 {
			delete(b.listeners, clientID)
		}
	}
}

func (b *LocalBus) hasListeners(clientID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[clientID]) > 0
}

// SubscriberCount は登録中の購読数を返す。
func (b *LocalBus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, fns := range b.listeners {
		n += len(fns)
	}
	return n
}

var _ EventBus = (*LocalBus)(nil)
