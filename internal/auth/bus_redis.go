package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

const redisBusChannelPrefix = "novelshelf:auth:"

type busMessage struct {
	Event   Event    `json:"event"`
	Session *Session `json:"session,omitempty"`
}

// RedisBus はRedis Pub/Subで通知を配信するEventBus。
// 別レプリカで発生したサインイン・サインアウトも購読者に届く。
// Redisへの購読はプロセスで1つのパターン購読だけで、クライアントごとの配信はプロセス内で行う。
type RedisBus struct {
	rdb    *redis.Client
	logger *slog.Logger
	local  *LocalBus

	startOnce sync.Once
	closeOnce sync.Once
	pubsub    *redis.PubSub
	done      chan struct{}
}

// NewRedisBus はRedisBusを生成する。Redisへの購読は最初のSubscribeで開始する。
func NewRedisBus(rdb *redis.Client, logger *slog.Logger) *RedisBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBus{rdb: rdb, logger: logger, local: NewLocalBus()}
}

// Publish は通知をクライアントのチャネルに送信する。
func (b *RedisBus) Publish(ctx context.Context, clientID string, event Event, session *Session) error {
	payload, err := json.Marshal(busMessage{Event: event, Session: session})
	if err != nil {
		return fmt.Errorf("failed to encode auth event: %w", err)
	}
	if err := b.rdb.Publish(ctx, redisBusChannelPrefix+clientID, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish auth event: %w", err)
	}
	return nil
}

// Subscribe はクライアントの通知を購読する。
// 戻る時点でサーバー側のパターン購読は登録済み。
func (b *RedisBus) Subscribe(clientID string, fn Listener) func() {
	b.startOnce.Do(b.start)
	return b.local.Subscribe(clientID, fn)
}

// Close はパターン購読を終了する。以降の通知は配信されない。
func (b *RedisBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		// Close後にSubscribeされても購読を始めない
		b.startOnce.Do(func() {})
		if b.pubsub != nil {
			err = b.pubsub.Close()
			<-b.done
		}
	})
	return err
}

func (b *RedisBus) start() {
	ctx := context.Background()
	b.pubsub = b.rdb.PSubscribe(ctx, redisBusChannelPrefix+"*")
	if _, err := b.pubsub.Receive(ctx); err != nil {
		b.logger.Error("auth event subscription failed", slog.String("error", err.Error()))
	}

	b.done = make(chan struct{})
	go b.dispatch()
}

func (b *RedisBus) dispatch() {
	defer close(b.done)
	for msg := range b.pubsub.Channel() {
		clientID := strings.TrimPrefix(msg.Channel, redisBusChannelPrefix)
		if !b.local.hasListeners(clientID) {
			continue
		}

		var m busMessage
		if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
			b.logger.Warn("invalid auth event payload",
				slog.String("client_id", clientID),
				slog.String("error", err.Error()),
			)
			continue
		}
		_ = b.local.Publish(context.Background(), clientID, m.Event, m.Session)
	}
}

var _ EventBus = (*RedisBus)(nil)
