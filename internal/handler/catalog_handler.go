package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/novelshelf/internal/catalog"
	"github.com/hitoshi/novelshelf/internal/flash"
	"github.com/hitoshi/novelshelf/internal/middleware"
	"github.com/hitoshi/novelshelf/internal/model"
)

// CatalogServiceInterface は作品閲覧のビジネスロジックを抽象化する。
type CatalogServiceInterface interface {
	Featured(ctx context.Context) ([]model.NovelWithCount, error)
	List(ctx context.Context, query string) ([]model.NovelWithCount, error)
	Novel(ctx context.Context, novelID string) (*catalog.NovelDetail, error)
	Chapter(ctx context.Context, novelID, chapterID string) (*catalog.ChapterView, error)
}

// LibraryServiceInterface はブックマークのビジネスロジックを抽象化する。
type LibraryServiceInterface interface {
	IsBookmarked(ctx context.Context, userID, novelID string) (bool, error)
	Toggle(ctx context.Context, userID, novelID string) (bool, error)
	List(ctx context.Context, userID string) ([]model.BookmarkWithNovel, error)
}

// CatalogHandler は読者向け画面のHTTPハンドラー。
type CatalogHandler struct {
	catalog   CatalogServiceInterface
	library   LibraryServiceInterface
	views     PageRenderer
	loginPath string
}

// NewCatalogHandler はCatalogHandlerを生成する。
func NewCatalogHandler(catalog CatalogServiceInterface, library LibraryServiceInterface, views PageRenderer, loginPath string) *CatalogHandler {
	return &CatalogHandler{
		catalog:   catalog,
		library:   library,
		views:     views,
		loginPath: loginPath,
	}
}

type homeData struct {
	Featured []model.NovelWithCount
}

type novelsData struct {
	Query  string
	Novels []model.NovelWithCount
}

type novelData struct {
	Detail     *catalog.NovelDetail
	Bookmarked bool
}

type bookmarksData struct {
	Items []model.BookmarkWithNovel
}

// Home はトップページを表示する。
// GET /
func (h *CatalogHandler) Home(w http.ResponseWriter, r *http.Request) {
	featured, err := h.catalog.Featured(r.Context())
	if err != nil {
		notifyError(r, "failed to load featured novels", err)
		featured = nil
	}
	h.views.Render(w, http.StatusOK, "home", newPage(r, "", homeData{Featured: featured}))
}

// Novels は作品一覧を表示する。qが指定された場合は検索結果を表示する。
// GET /novels?q=
func (h *CatalogHandler) Novels(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	novels, err := h.catalog.List(r.Context(), query)
	if err != nil {
		notifyError(r, "failed to list novels", err)
		novels = nil
	}
	h.views.Render(w, http.StatusOK, "novels", newPage(r, "作品一覧", novelsData{Query: query, Novels: novels}))
}

// Novel は作品詳細と目次を表示する。
// GET /novel/{novelId}
func (h *CatalogHandler) Novel(w http.ResponseWriter, r *http.Request) {
	novelID := chi.URLParam(r, "novelId")

	detail, err := h.catalog.Novel(r.Context(), novelID)
	if err != nil {
		handleServiceError(h.views, w, r, err)
		return
	}

	bookmarked := false
	if userID, uerr := middleware.UserIDFromContext(r.Context()); uerr == nil {
		bookmarked, err = h.library.IsBookmarked(r.Context(), userID, novelID)
		if err != nil {
			slog.Warn("failed to check bookmark",
				slog.String("novel_id", novelID),
				slog.String("error", err.Error()),
			)
			bookmarked = false
		}
	}

	h.views.Render(w, http.StatusOK, "novel", newPage(r, detail.Novel.Title, novelData{
		Detail:     detail,
		Bookmarked: bookmarked,
	}))
}

// Chapter は章本文を前後の章へのリンク付きで表示する。
// GET /novel/{novelId}/chapter/{chapterId}
func (h *CatalogHandler) Chapter(w http.ResponseWriter, r *http.Request) {
	v, err := h.catalog.Chapter(r.Context(), chi.URLParam(r, "novelId"), chi.URLParam(r, "chapterId"))
	if err != nil {
		handleServiceError(h.views, w, r, err)
		return
	}
	h.views.Render(w, http.StatusOK, "chapter", newPage(r, v.Chapter.Title+" | "+v.Novel.Title, v))
}

// ToggleBookmark はブックマークを付け外しして作品ページへ戻る。
// POST /novel/{novelId}/bookmark
func (h *CatalogHandler) ToggleBookmark(w http.ResponseWriter, r *http.Request) {
	novelID := chi.URLParam(r, "novelId")

	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		notify(r, flash.LevelError, "ブックマークするにはログインしてください。")
		redirect(w, r, h.loginPath)
		return
	}

	added, err := h.library.Toggle(r.Context(), userID, novelID)
	if err != nil {
		notifyError(r, "failed to toggle bookmark", err)
		redirect(w, r, "/novel/"+novelID)
		return
	}

	if added {
		notify(r, flash.LevelSuccess, "ブックマークに追加しました。")
	} else {
		notify(r, flash.LevelInfo, "ブックマークを解除しました。")
	}
	redirect(w, r, "/novel/"+novelID)
}

// Bookmarks はログインユーザーのブックマーク一覧を表示する。
// GET /bookmarks
func (h *CatalogHandler) Bookmarks(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		redirect(w, r, h.loginPath)
		return
	}

	items, err := h.library.List(r.Context(), userID)
	if err != nil {
		notifyError(r, "failed to list bookmarks", err)
		items = nil
	}
	h.views.Render(w, http.StatusOK, "bookmarks", newPage(r, "ブックマーク", bookmarksData{Items: items}))
}
