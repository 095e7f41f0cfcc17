package middleware

import (
	"html/template"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// RecoveryConfig はリカバリーミドルウェアの設定。
type RecoveryConfig struct {
	// ResetPath はローカル状態を消去するエンドポイント。
	ResetPath string
	CSRF      CSRFConfig
}

var fallbackPageTemplate = template.Must(template.New("fallback").Parse(`<!DOCTYPE html>
<html lang="ja">
<head><meta charset="utf-8"><title>エラーが発生しました | novelshelf</title></head>
<body>
<main class="error-boundary">
<h1>予期しないエラーが発生しました</h1>
<p>ページを再読み込みしてください。解決しない場合はローカルの状態を消去してから再読み込みしてください。</p>
<p><a href="{{.ReloadURL}}">再読み込み</a></p>
<form method="post" action="{{.ResetPath}}">
<input type="hidden" name="csrf_token" value="{{.CSRFToken}}">
<input type="hidden" name="return_to" value="{{.ReloadURL}}">
<button type="submit">ローカル状態を消去して再読み込み</button>
</form>
</main>
</body>
</html>
`))

// NewRecoveryMiddleware はpanic発生時にプロセスクラッシュを防ぎ、
// 再読み込みとローカル状態の消去を案内するフォールバックページを返す。
func NewRecoveryMiddleware(config RecoveryConfig) func(next http.Handler) http.Handler {
	if config.ResetPath == "" {
		config.ResetPath = "/client/reset"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					slog.Error("panic recovered",
						slog.Any("panic", rec),
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("stack", string(debug.Stack())),
					)
					writeFallbackPage(w, r, config)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func writeFallbackPage(w http.ResponseWriter, r *http.Request, config RecoveryConfig) {
	reloadURL := "/"
	if r.Method == http.MethodGet {
		reloadURL = r.URL.RequestURI()
	}

	token := ensureCSRFCookie(w, r, config.CSRF)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusInternalServerError)
	if err := fallbackPageTemplate.Execute(w, map[string]string{
		"ReloadURL": reloadURL,
		"ResetPath": config.ResetPath,
		"CSRFToken": token,
	}); err != nil {
		slog.Error("failed to render fallback page", slog.String("error", err.Error()))
	}
}
