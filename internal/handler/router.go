package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/novelshelf/internal/gate"
	"github.com/hitoshi/novelshelf/internal/metrics"
	"github.com/hitoshi/novelshelf/internal/middleware"
)

// ResetPath はローカル状態を消去するエンドポイント。
const ResetPath = "/client/reset"

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger
	Views  PageRenderer

	// ミドルウェア依存
	Clients        middleware.ClientResolver
	ClientResetter ClientResetter
	ClientConfig   middleware.ClientConfig
	CSRFConfig     middleware.CSRFConfig
	RateLimiter    *middleware.RateLimiter
	Gate           middleware.GateConfig

	// 運用
	HealthChecker  HealthChecker
	Metrics        *metrics.Collector // nilの場合はステータス記録を行わない
	MetricsHandler http.Handler       // nilの場合は/metricsを公開しない

	// 認証
	Confirmer      Confirmer
	SignInRecorder SignInRecorder
	AuthConfig     AuthHandlerConfig

	// 閲覧・ブックマーク
	CatalogService CatalogServiceInterface
	LibraryService LibraryServiceInterface

	// 管理
	AdminService AdminServiceInterface
}

// NewRouter は全画面のルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	SecurityHeaders → Logging → Recovery → Status
//	  → Client → RateLimit(General) → CSRF → Gate（ルート単位）
//
// /health と /metrics はクライアント状態を作らないようチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(middleware.RecoveryConfig{
		ResetPath: ResetPath,
		CSRF:      deps.CSRFConfig,
	}))
	if deps.Metrics != nil {
		r.Use(metrics.NewStatusMiddleware(deps.Metrics))
	}

	catalogHandler := NewCatalogHandler(deps.CatalogService, deps.LibraryService, deps.Views, deps.AuthConfig.LoginPath)
	authHandler := NewAuthHandler(deps.Confirmer, deps.SignInRecorder, deps.Views, deps.AuthConfig)
	adminHandler := NewAdminHandler(deps.AdminService, deps.Views)
	clientHandler := NewClientHandler(deps.ClientResetter, deps.AuthConfig.BaseURL)

	requireAuth := middleware.NewGateMiddleware(gate.RequireAuth, deps.Gate)
	requireAdmin := middleware.NewGateMiddleware(gate.RequireAdmin, deps.Gate)

	// --- 運用エンドポイント ---
	r.Get("/health", Health(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 画面 ---
	// ミドルウェアスタック: Client → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewClientMiddleware(deps.Clients, deps.ClientConfig))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		// 公開ページ
		r.Get("/", catalogHandler.Home)
		r.Get("/novels", catalogHandler.Novels)
		r.Get("/novel/{novelId}", catalogHandler.Novel)
		r.Get("/novel/{novelId}/chapter/{chapterId}", catalogHandler.Chapter)
		r.Post("/novel/{novelId}/bookmark", catalogHandler.ToggleBookmark)

		// 認証（POST /auth はサインイン用レート制限を追加）
		r.Get("/auth", authHandler.Page)
		r.With(deps.RateLimiter.SignInMiddleware()).Post("/auth", authHandler.Submit)
		r.Post("/auth/signout", authHandler.SignOut)
		r.Get("/auth/confirm", authHandler.Confirm)

		r.Post(ResetPath, clientHandler.Reset)

		// ログインが必要なページ
		r.With(requireAuth).Get("/bookmarks", catalogHandler.Bookmarks)

		// 管理者専用ページ
		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)

			r.Get("/admin", adminHandler.Dashboard)
			r.Get("/admin/novels", adminHandler.Novels)
			r.Post("/admin/novels", adminHandler.CreateNovel)
			r.Post("/admin/novels/{novelId}", adminHandler.UpdateNovel)
			r.Post("/admin/novels/{novelId}/delete", adminHandler.DeleteNovel)
			r.Get("/admin/novels/{novelId}/chapters", adminHandler.Chapters)
			r.Post("/admin/novels/{novelId}/chapters", adminHandler.CreateChapter)
			r.Post("/admin/novels/{novelId}/chapters/{chapterId}", adminHandler.UpdateChapter)
			r.Post("/admin/novels/{novelId}/chapters/{chapterId}/delete", adminHandler.DeleteChapter)
			r.Post("/admin/novels/{novelId}/import", adminHandler.ImportChapters)
		})

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			deps.Views.Render(w, http.StatusNotFound, "not_found", newPage(r, "ページが見つかりません", notFoundData{}))
		})
	})

	return r
}
