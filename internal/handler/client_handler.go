package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/novelshelf/internal/middleware"
)

// ClientResetter はクライアントのローカル状態を破棄する。*session.Registryが実装する。
type ClientResetter interface {
	Reset(ctx context.Context, clientID string) error
}

// ClientHandler はエラー画面からのローカル状態消去を処理する。
type ClientHandler struct {
	resetter ClientResetter
	baseURL  string
}

// NewClientHandler はClientHandlerを生成する。
func NewClientHandler(resetter ClientResetter, baseURL string) *ClientHandler {
	return &ClientHandler{resetter: resetter, baseURL: baseURL}
}

// Reset はクライアントの保存領域を消去し、return_toのページを再読み込みさせる。
// POST /client/reset
func (h *ClientHandler) Reset(w http.ResponseWriter, r *http.Request) {
	target := localPath(r.PostFormValue("return_to"), h.baseURL, "/")

	entry, ok := middleware.EntryFromContext(r.Context())
	if !ok {
		redirect(w, r, target)
		return
	}

	if err := h.resetter.Reset(r.Context(), entry.ID); err != nil {
		slog.Error("failed to reset client state",
			slog.String("client_id", entry.ID),
			slog.String("error", err.Error()),
		)
	}
	redirect(w, r, target)
}

// HealthChecker はデータベースの疎通を確認する。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// Health はヘルスチェック応答を返す。
// GET /health
func Health(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte("unavailable"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}
