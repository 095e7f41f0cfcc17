package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/novelshelf/internal/auth"
	"github.com/hitoshi/novelshelf/internal/flash"
	"github.com/hitoshi/novelshelf/internal/middleware"
	"github.com/hitoshi/novelshelf/internal/session"
	"github.com/hitoshi/novelshelf/internal/view"
)

// --- 描画の記録 ---

type renderCall struct {
	status int
	name   string
	page   *view.Page
}

// recordingRenderer は描画内容を記録するPageRenderer。
type recordingRenderer struct {
	calls []renderCall
}

func (rr *recordingRenderer) Render(w http.ResponseWriter, status int, name string, page *view.Page) {
	rr.calls = append(rr.calls, renderCall{status: status, name: name, page: page})
	w.WriteHeader(status)
}

func (rr *recordingRenderer) last(t *testing.T) renderCall {
	t.Helper()
	if len(rr.calls) == 0 {
		t.Fatal("nothing was rendered")
	}
	return rr.calls[len(rr.calls)-1]
}

// --- 認証SDKのモック ---

// fakeAuthClient はsession.AuthClientのモック実装。
// サインイン成功時は本物のClientと同じくSIGNED_INを通知する。
type fakeAuthClient struct {
	id  string
	bus *auth.LocalBus

	getSessionFn func(ctx context.Context) (*auth.Session, error)
	signInFn     func(ctx context.Context, email, password string) (*auth.Session, error)
	signUpFn     func(ctx context.Context, email, password string, opts auth.SignUpOptions) error

	mu           sync.Mutex
	signOutCalls int
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

func (f *fakeAuthClient) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	if f.signInFn == nil {
		return nil, auth.ErrInvalidCredentials
	}
	sess, err := f.signInFn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	f.bus.Publish(ctx, f.id, auth.EventSignedIn, sess)
	return sess, nil
}

func (f *fakeAuthClient) SignUp(ctx context.Context, email, password string, opts auth.SignUpOptions) error {
	if f.signUpFn != nil {
		return f.signUpFn(ctx, email, password, opts)
	}
	return nil
}

func (f *fakeAuthClient) SignOut(ctx context.Context) error {
	f.mu.Lock()
	f.signOutCalls++
	f.mu.Unlock()
	f.bus.Publish(ctx, f.id, auth.EventSignedOut, nil)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func sessionFor(id, email string) *auth.Session {
	return &auth.Session{
		AccessToken:  "at-" + id,
		RefreshToken: "rt-" + id,
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         auth.SessionUser{ID: id, Email: email},
	}
}

func signedInAs(id, email string) func(context.Context) (*auth.Session, error) {
	return func(context.Context) (*auth.Session, error) {
		return sessionFor(id, email), nil
	}
}

// newClientEntry はfakeAuthClientを使う、初回読み込み済みのEntryを返す。
// 管理者の許可リストは {"a@x.com"}。
func newClientEntry(t *testing.T, c *fakeAuthClient) *session.Entry {
	t.Helper()
	c.id = "client-1"
	c.bus = auth.NewLocalBus()

	factory := func(string) (session.AuthClient, auth.Storage) {
		return c, auth.NewMemoryStorage()
	}
	cfg := session.DefaultRegistryConfig()
	cfg.Allowlist = session.Allowlist{"a@x.com"}
	cfg.CleanupInterval = time.Hour
	reg := session.NewRegistry(factory, cfg, discardLogger())
	t.Cleanup(reg.Stop)

	e := reg.GetOrCreate(context.Background(), c.id)
	select {
	case <-e.Store.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("store did not become ready")
	}
	t.Cleanup(e.Store.Wait)
	return e
}

// --- リクエストヘルパー ---

func withEntry(r *http.Request, e *session.Entry) *http.Request {
	return r.WithContext(middleware.ContextWithEntry(r.Context(), e))
}

// withChiURLParams はテスト用にchiのURLパラメータを注入するヘルパー。key, valueの順に渡す。
func withChiURLParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func newFormRequest(target string, form url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func assertRedirect(t *testing.T, w *httptest.ResponseRecorder, want string) {
	t.Helper()
	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusSeeOther)
	}
	if got := w.Header().Get("Location"); got != want {
		t.Errorf("Location = %q, want %q", got, want)
	}
}

// drainNotices はEntryに溜まった通知を取り出す。
func drainNotices(e *session.Entry) []flash.Notice {
	return e.Notices.Drain()
}

func hasNotice(notices []flash.Notice, level flash.Level, substr string) bool {
	for _, n := range notices {
		if n.Level == level && strings.Contains(n.Message, substr) {
			return true
		}
	}
	return false
}
