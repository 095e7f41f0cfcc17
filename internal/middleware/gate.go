package middleware

import (
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/novelshelf/internal/gate"
)

// GateRecorder は認可ゲートの判定を記録する。*metrics.Collectorが実装する。
type GateRecorder interface {
	RecordGateDecision(policy, status, reason string)
}

// GateConfig は認可ゲートミドルウェアの設定。
type GateConfig struct {
	Targets     gate.Config
	LoadingWait time.Duration // 初回のセッション読み込みを待つ最大時間
	Recorder    GateRecorder
}

var loadingPageTemplate = template.Must(template.New("loading").Parse(`<!DOCTYPE html>
<html lang="ja">
<head><meta charset="utf-8"><title>読み込み中 | novelshelf</title></head>
<body><main class="loading" aria-busy="true"><p>読み込み中...</p></main></body>
</html>
`))

// NewGateMiddleware はポリシーに従って後続ハンドラーの実行可否を判定するミドルウェアを返す。
// 判定はクライアントごと、ルートごとのMountで行う。
// ClientMiddlewareの後に配置する。
func NewGateMiddleware(policy gate.Policy, config GateConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entry, ok := EntryFromContext(r.Context())
			if !ok {
				slog.Error("gate used without client middleware", slog.String("path", r.URL.Path))
				WriteInternalServerError(w)
				return
			}

			if config.LoadingWait > 0 {
				timer := time.NewTimer(config.LoadingWait)
				select {
				case <-entry.Store.Ready():
				case <-timer.C:
				case <-r.Context().Done():
				}
				timer.Stop()
			}

			mount := entry.Mount(routeKey(r), policy, config.Targets)
			out := mount.Evaluate(entry.Store.Snapshot().GateState())

			if config.Recorder != nil {
				config.Recorder.RecordGateDecision(policy.String(), out.Decision.Status.String(), out.Decision.Reason.String())
			}

			switch out.Render {
			case gate.RenderChildren:
				next.ServeHTTP(w, r)
			case gate.RenderPlaceholder:
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.Header().Set("Cache-Control", "no-store")
				w.Header().Set("Refresh", "1")
				w.WriteHeader(http.StatusOK)
				loadingPageTemplate.Execute(w, nil)
			default:
				if out.Notice != "" {
					entry.Notices.Error(out.Notice)
				}
				http.Redirect(w, r, out.RedirectTo, http.StatusSeeOther)
			}
		})
	}
}

// routeKey はMountを引くキーを返す。chiのルートパターンがあればそれを使う。
func routeKey(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
