package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/hitoshi/novelshelf/internal/auth"
	"github.com/hitoshi/novelshelf/internal/session"
)

// fakeAuthClient は固定のセッションを返すAuthClient。
type fakeAuthClient struct {
	id           string
	bus          *auth.LocalBus
	getSessionFn func(ctx context.Context) (*auth.Session, error)
}

func (f *fakeAuthClient) GetSession(ctx context.Context) (*auth.Session, error) {
	if f.getSessionFn != nil {
		return f.getSessionFn(ctx)
	}
	return nil, nil
}

func (f *fakeAuthClient) OnSessionChange(fn auth.Listener) func() {
	return f.bus.Subscribe(f.id, fn)
}

func (f *fakeAuthClient) SignInWithPassword(context.Context, string, string) (*auth.Session, error) {
	return nil, auth.ErrInvalidCredentials
}

func (f *fakeAuthClient) SignUp(context.Context, string, string, auth.SignUpOptions) error {
	return nil
}

func (f *fakeAuthClient) SignOut(context.Context) error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// newTestRegistry はクライアントIDごとにgetSessionFnを割り当てるRegistryを返す。
func newTestRegistry(t *testing.T, sessions map[string]func(context.Context) (*auth.Session, error)) *session.Registry {
	t.Helper()
	bus := auth.NewLocalBus()
	factory := func(clientID string) (session.AuthClient, auth.Storage) {
		return &fakeAuthClient{id: clientID, bus: bus, getSessionFn: sessions[clientID]}, auth.NewMemoryStorage()
	}
	cfg := session.DefaultRegistryConfig()
	cfg.Allowlist = session.Allowlist{"a@x.com"}
	cfg.CleanupInterval = time.Hour
	reg := session.NewRegistry(factory, cfg, discardLogger())
	t.Cleanup(reg.Stop)
	return reg
}

func signedIn(id, email string) func(context.Context) (*auth.Session, error) {
	return func(context.Context) (*auth.Session, error) {
		return &auth.Session{AccessToken: "at", RefreshToken: "rt", User: auth.SessionUser{ID: id, Email: email}}, nil
	}
}

// readyEntry はStoreの初回読み込みが完了したEntryを返す。
func readyEntry(t *testing.T, reg *session.Registry, clientID string) *session.Entry {
	t.Helper()
	e := reg.GetOrCreate(context.Background(), clientID)
	select {
	case <-e.Store.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("store did not become ready")
	}
	return e
}

func withEntry(r *http.Request, e *session.Entry) *http.Request {
	return r.WithContext(ContextWithEntry(r.Context(), e))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}
