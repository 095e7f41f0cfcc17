package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/hitoshi/novelshelf/internal/auth"
)

func TestClientMiddleware_IssuesCookieForNewClient(t *testing.T) {
	reg := newTestRegistry(t, nil)

	var captured string
	handler := NewClientMiddleware(reg, ClientConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e, ok := EntryFromContext(r.Context())
		if !ok {
			t.Fatal("entry should be in context")
		}
		captured = e.ID
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == ClientCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("client cookie should be set")
	}
	if !cookie.HttpOnly || cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("cookie attributes = %+v", cookie)
	}
	if _, err := uuid.Parse(cookie.Value); err != nil {
		t.Errorf("cookie value %q is not a UUID", cookie.Value)
	}
	if captured != cookie.Value {
		t.Errorf("entry ID = %q, cookie = %q", captured, cookie.Value)
	}
	if reg.Len() != 1 {
		t.Errorf("registry Len = %d, want 1", reg.Len())
	}
}

func TestClientMiddleware_ReusesExistingClient(t *testing.T) {
	reg := newTestRegistry(t, nil)
	id := uuid.NewString()

	handler := NewClientMiddleware(reg, ClientConfig{})(okHandler())
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: ClientCookieName, Value: id})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if len(w.Result().Cookies()) != 0 {
			t.Errorf("request %d: cookie should not be reissued", i)
		}
	}
	if _, ok := reg.Lookup(id); !ok || reg.Len() != 1 {
		t.Errorf("registry should hold exactly the existing client")
	}
}

func TestClientMiddleware_ReplacesMalformedCookie(t *testing.T) {
	reg := newTestRegistry(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: ClientCookieName, Value: "../../etc"})
	w := httptest.NewRecorder()
	NewClientMiddleware(reg, ClientConfig{})(okHandler()).ServeHTTP(w, req)

	if len(w.Result().Cookies()) != 1 {
		t.Fatal("malformed client ID should be replaced")
	}
	if _, ok := reg.Lookup("../../etc"); ok {
		t.Error("malformed ID must not be registered")
	}
}

func TestUserIDFromContext(t *testing.T) {
	reg := newTestRegistry(t, map[string]func(context.Context) (*auth.Session, error){
		"reader": signedIn("u2", "b@x.com"),
	})

	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error without client")
	}

	anon := readyEntry(t, reg, "anon")
	if _, err := UserIDFromContext(ContextWithEntry(context.Background(), anon)); err == nil {
		t.Error("expected error for signed-out client")
	}

	reader := readyEntry(t, reg, "reader")
	id, err := UserIDFromContext(ContextWithEntry(context.Background(), reader))
	if err != nil || id != "u2" {
		t.Errorf("UserIDFromContext = (%q, %v), want u2", id, err)
	}
}
