package auth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestRedisStorage_SetGetKeysRemove(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()
	s := NewRedisStorage(rdb, "c1", time.Hour)

	if err := s.Set(ctx, StorageKeyPrefix+"session", `{"access_token":"x"}`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "nv-pref-theme", "dark"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, ok, err := s.Get(ctx, StorageKeyPrefix+"session")
	if err != nil || !ok || v != `{"access_token":"x"}` {
		t.Errorf("Get = (%q, %v, %v)", v, ok, err)
	}

	keys, err := s.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != StorageKeyPrefix+"session" || keys[1] != "nv-pref-theme" {
		t.Errorf("Keys = %v", keys)
	}

	if ttl := mr.TTL(redisStorageKeyPrefix + "c1"); ttl <= 0 {
		t.Errorf("hash TTL = %v, want positive", ttl)
	}

	if err := s.Remove(ctx, StorageKeyPrefix+"session"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, _ := s.Get(ctx, StorageKeyPrefix+"session"); ok {
		t.Error("key should be removed")
	}
}

func TestRedisStorage_GetMissing(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewRedisStorage(rdb, "c1", 0)

	v, ok, err := s.Get(context.Background(), "missing")
	if err != nil || ok || v != "" {
		t.Errorf("Get(missing) = (%q, %v, %v)", v, ok, err)
	}
}

func TestRedisBus_DeliversAcrossClients(t *testing.T) {
	_, rdb := newTestRedis(t)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	bus := NewRedisBus(rdb, logger)
	got := make(chan recordedEvent, 4)
	unsubscribe := bus.Subscribe("c1", func(e Event, s *Session) { got <- recordedEvent{e, s} })
	defer unsubscribe()

	sess := &Session{AccessToken: "at", RefreshToken: "rt", User: SessionUser{ID: "u1", Email: "a@x.com"}}
	if err := bus.Publish(context.Background(), "c1", EventSignedIn, sess); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := bus.Publish(context.Background(), "c2", EventSignedOut, nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case ev := <-got:
		if ev.event != EventSignedIn || ev.session == nil || ev.session.User.Email != "a@x.com" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case ev := <-got:
		t.Errorf("unexpected event for other client: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisBus_UnsubscribeIsIdempotent(t *testing.T) {
	_, rdb := newTestRedis(t)
	bus := NewRedisBus(rdb, slog.New(slog.NewJSONHandler(io.Discard, nil)))

	unsubscribe := bus.Subscribe("c1", func(Event, *Session) {})
	unsubscribe()
	unsubscribe()
}

func TestRedisBus_SharesOneRedisSubscription(t *testing.T) {
	_, rdb := newTestRedis(t)
	bus := NewRedisBus(rdb, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	defer bus.Close()

	var unsubs []func()
	for i := 0; i < 50; i++ {
		unsubs = append(unsubs, bus.Subscribe(fmt.Sprintf("c%d", i), func(Event, *Session) {}))
	}
	defer func() {
		for _, u := range unsubs {
			u()
		}
	}()

	ctx := context.Background()
	numPat, err := rdb.PubSubNumPat(ctx).Result()
	if err != nil {
		t.Fatalf("PUBSUB NUMPAT: %v", err)
	}
	if numPat != 1 {
		t.Errorf("pattern subscriptions = %d, want 1", numPat)
	}
	channels, err := rdb.PubSubChannels(ctx, redisBusChannelPrefix+"*").Result()
	if err != nil {
		t.Fatalf("PUBSUB CHANNELS: %v", err)
	}
	if len(channels) != 0 {
		t.Errorf("per-client channel subscriptions = %v, want none", channels)
	}
	if n := bus.local.SubscriberCount(); n != 50 {
		t.Errorf("local subscribers = %d, want 50", n)
	}
}

func TestRedisBus_CloseStopsDelivery(t *testing.T) {
	_, rdb := newTestRedis(t)
	bus := NewRedisBus(rdb, slog.New(slog.NewJSONHandler(io.Discard, nil)))

	got := make(chan Event, 1)
	bus.Subscribe("c1", func(e Event, _ *Session) { got <- e })
	if err := bus.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	if err := bus.Publish(context.Background(), "c1", EventSignedOut, nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case e := <-got:
		t.Errorf("closed bus delivered %s", e)
	case <-time.After(100 * time.Millisecond):
	}
}
