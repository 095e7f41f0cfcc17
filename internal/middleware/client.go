// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/hitoshi/novelshelf/internal/session"
)

// ClientCookieName はブラウザクライアントIDを保持するCookieの名前。
const ClientCookieName = "nv_client"

// clientCookieMaxAge はクライアントCookieの有効期間（秒）。1年。
const clientCookieMaxAge = 365 * 24 * 60 * 60

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var clientEntryContextKey = contextKey("client_entry")

// ClientResolver はクライアントIDから状態を引く。*session.Registryが実装する。
type ClientResolver interface {
	GetOrCreate(ctx context.Context, clientID string) *session.Entry
}

// ClientConfig はクライアントミドルウェアの設定。
type ClientConfig struct {
	CookieSecure bool
	CookieDomain string
}

// NewClientMiddleware はCookieのクライアントIDに対応するEntryをコンテキストに注入する。
// Cookieがない、または不正な値の場合は新しいIDを発行する。
func NewClientMiddleware(resolver ClientResolver, config ClientConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := ""
			if c, err := r.Cookie(ClientCookieName); err == nil {
				if _, perr := uuid.Parse(c.Value); perr == nil {
					clientID = c.Value
				}
			}
			if clientID == "" {
				clientID = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     ClientCookieName,
					Value:    clientID,
					Path:     "/",
					Domain:   config.CookieDomain,
					MaxAge:   clientCookieMaxAge,
					HttpOnly: true,
					Secure:   config.CookieSecure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			entry := resolver.GetOrCreate(r.Context(), clientID)
			next.ServeHTTP(w, r.WithContext(ContextWithEntry(r.Context(), entry)))

			if attrs := requestAttrsFromContext(r.Context()); attrs != nil {
				attrs.clientID = clientID
				if id := entry.Store.Snapshot().Identity; id != nil {
					attrs.userID = id.UserID
				}
			}
		})
	}
}

// ContextWithEntry はコンテキストにクライアントのEntryを注入する。
func ContextWithEntry(ctx context.Context, entry *session.Entry) context.Context {
	return context.WithValue(ctx, clientEntryContextKey, entry)
}

// EntryFromContext はコンテキストからクライアントのEntryを取得する。
func EntryFromContext(ctx context.Context) (*session.Entry, bool) {
	e, ok := ctx.Value(clientEntryContextKey).(*session.Entry)
	return e, ok && e != nil
}

// UserIDFromContext は現在のクライアントの認証済みユーザーIDを返す。
func UserIDFromContext(ctx context.Context) (string, error) {
	e, ok := EntryFromContext(ctx)
	if !ok {
		return "", errors.New("client not found in context")
	}
	st := e.Store.Snapshot()
	if st.Identity == nil {
		return "", errors.New("user is not signed in")
	}
	return st.Identity.UserID, nil
}
