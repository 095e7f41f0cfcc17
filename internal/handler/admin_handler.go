package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/novelshelf/internal/admin"
	"github.com/hitoshi/novelshelf/internal/flash"
	"github.com/hitoshi/novelshelf/internal/importer"
	"github.com/hitoshi/novelshelf/internal/model"
)

// AdminServiceInterface は管理画面のビジネスロジックを抽象化する。
type AdminServiceInterface interface {
	Dashboard(ctx context.Context) (*model.DashboardStats, error)
	ListNovels(ctx context.Context) ([]model.NovelWithCount, error)
	CreateNovel(ctx context.Context, in admin.NovelInput) (*model.Novel, error)
	UpdateNovel(ctx context.Context, novelID string, in admin.NovelInput) (*model.Novel, error)
	DeleteNovel(ctx context.Context, novelID string) error
	NovelChapters(ctx context.Context, novelID string) (*model.Novel, []*model.Chapter, error)
	CreateChapter(ctx context.Context, novelID string, in admin.ChapterInput) (*model.Chapter, error)
	UpdateChapter(ctx context.Context, novelID, chapterID string, in admin.ChapterInput) (*model.Chapter, error)
	DeleteChapter(ctx context.Context, novelID, chapterID string) error
	ImportChapters(ctx context.Context, novelID, feedURL string) (*importer.Result, error)
}

// AdminHandler は管理画面のHTTPハンドラー。ルートはRequireAdminのゲート配下に置く。
type AdminHandler struct {
	service AdminServiceInterface
	views   PageRenderer
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(service AdminServiceInterface, views PageRenderer) *AdminHandler {
	return &AdminHandler{service: service, views: views}
}

type adminDashboardData struct {
	Stats *model.DashboardStats
}

type adminNovelsData struct {
	Error  string
	Form   admin.NovelInput
	Novels []model.NovelWithCount
}

type adminChaptersData struct {
	Novel    *model.Novel
	Error    string
	Form     admin.ChapterInput
	Chapters []*model.Chapter
}

const adminNovelsPath = "/admin/novels"

func adminChaptersPath(novelID string) string {
	return adminNovelsPath + "/" + novelID + "/chapters"
}

func novelInputFromForm(r *http.Request) admin.NovelInput {
	return admin.NovelInput{
		Title:         r.PostFormValue("title"),
		Description:   r.PostFormValue("description"),
		CoverImage:    r.PostFormValue("cover_image"),
		Genre:         r.PostFormValue("genre"),
		Status:        r.PostFormValue("status"),
		SourceFeedURL: r.PostFormValue("source_feed_url"),
	}
}

func chapterInputFromForm(r *http.Request) admin.ChapterInput {
	return admin.ChapterInput{
		Number:  r.PostFormValue("number"),
		Title:   r.PostFormValue("title"),
		Content: r.PostFormValue("content"),
	}
}

// Dashboard は集計値を表示する。
// GET /admin
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Dashboard(r.Context())
	if err != nil {
		notifyError(r, "failed to load dashboard", err)
		stats = nil
	}
	h.views.Render(w, http.StatusOK, "admin_dashboard", newPage(r, "管理ダッシュボード", adminDashboardData{Stats: stats}))
}

// Novels は作品の管理一覧を表示する。
// GET /admin/novels
func (h *AdminHandler) Novels(w http.ResponseWriter, r *http.Request) {
	h.renderNovels(w, r, http.StatusOK, adminNovelsData{Form: admin.NovelInput{Status: string(model.NovelStatusOngoing)}})
}

func (h *AdminHandler) renderNovels(w http.ResponseWriter, r *http.Request, status int, data adminNovelsData) {
	novels, err := h.service.ListNovels(r.Context())
	if err != nil {
		notifyError(r, "failed to list novels", err)
		novels = nil
	}
	data.Novels = novels
	h.views.Render(w, status, "admin_novels", newPage(r, "作品管理", data))
}

// CreateNovel は作品を追加する。入力エラーの場合は入力値を残してフォームを再表示する。
// POST /admin/novels
func (h *AdminHandler) CreateNovel(w http.ResponseWriter, r *http.Request) {
	in := novelInputFromForm(r)
	n, err := h.service.CreateNovel(r.Context(), in)
	if err != nil {
		if isFormError(err) {
			h.renderNovels(w, r, http.StatusUnprocessableEntity, adminNovelsData{Error: errorNotice(err), Form: in})
			return
		}
		notifyError(r, "failed to create novel", err)
		redirect(w, r, adminNovelsPath)
		return
	}
	notify(r, flash.LevelSuccess, fmt.Sprintf("「%s」を追加しました。", n.Title))
	redirect(w, r, adminNovelsPath)
}

// UpdateNovel は作品を更新する。
// POST /admin/novels/{novelId}
func (h *AdminHandler) UpdateNovel(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.UpdateNovel(r.Context(), chi.URLParam(r, "novelId"), novelInputFromForm(r))
	if err != nil {
		notifyError(r, "failed to update novel", err)
		redirect(w, r, adminNovelsPath)
		return
	}
	notify(r, flash.LevelSuccess, fmt.Sprintf("「%s」を更新しました。", n.Title))
	redirect(w, r, adminNovelsPath)
}

// DeleteNovel は作品を削除する。
// POST /admin/novels/{novelId}/delete
func (h *AdminHandler) DeleteNovel(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteNovel(r.Context(), chi.URLParam(r, "novelId")); err != nil {
		notifyError(r, "failed to delete novel", err)
		redirect(w, r, adminNovelsPath)
		return
	}
	notify(r, flash.LevelSuccess, "作品を削除しました。")
	redirect(w, r, adminNovelsPath)
}

// Chapters は作品の章管理画面を表示する。
// GET /admin/novels/{novelId}/chapters
func (h *AdminHandler) Chapters(w http.ResponseWriter, r *http.Request) {
	h.renderChapters(w, r, http.StatusOK, adminChaptersData{})
}

func (h *AdminHandler) renderChapters(w http.ResponseWriter, r *http.Request, status int, data adminChaptersData) {
	novel, chapters, err := h.service.NovelChapters(r.Context(), chi.URLParam(r, "novelId"))
	if err != nil {
		handleServiceError(h.views, w, r, err)
		return
	}
	if data.Form == (admin.ChapterInput{}) {
		data.Form.Number = strconv.Itoa(nextChapterNumber(chapters))
	}
	data.Novel = novel
	data.Chapters = chapters
	h.views.Render(w, status, "admin_chapters", newPage(r, novel.Title+" の章管理", data))
}

// nextChapterNumber は既存の最大章番号の次を返す。
func nextChapterNumber(chapters []*model.Chapter) int {
	next := 1
	for _, c := range chapters {
		if c.Number >= next {
			next = c.Number + 1
		}
	}
	return next
}

// CreateChapter は章を追加する。
// POST /admin/novels/{novelId}/chapters
func (h *AdminHandler) CreateChapter(w http.ResponseWriter, r *http.Request) {
	novelID := chi.URLParam(r, "novelId")
	in := chapterInputFromForm(r)

	c, err := h.service.CreateChapter(r.Context(), novelID, in)
	if err != nil {
		if isFormError(err) {
			h.renderChapters(w, r, http.StatusUnprocessableEntity, adminChaptersData{Error: errorNotice(err), Form: in})
			return
		}
		notifyError(r, "failed to create chapter", err)
		redirect(w, r, adminChaptersPath(novelID))
		return
	}
	notify(r, flash.LevelSuccess, fmt.Sprintf("第%d話を追加しました。", c.Number))
	redirect(w, r, adminChaptersPath(novelID))
}

// UpdateChapter は章を更新する。
// POST /admin/novels/{novelId}/chapters/{chapterId}
func (h *AdminHandler) UpdateChapter(w http.ResponseWriter, r *http.Request) {
	novelID := chi.URLParam(r, "novelId")
	c, err := h.service.UpdateChapter(r.Context(), novelID, chi.URLParam(r, "chapterId"), chapterInputFromForm(r))
	if err != nil {
		notifyError(r, "failed to update chapter", err)
		redirect(w, r, adminChaptersPath(novelID))
		return
	}
	notify(r, flash.LevelSuccess, fmt.Sprintf("第%d話を更新しました。", c.Number))
	redirect(w, r, adminChaptersPath(novelID))
}

// DeleteChapter は章を削除する。
// POST /admin/novels/{novelId}/chapters/{chapterId}/delete
func (h *AdminHandler) DeleteChapter(w http.ResponseWriter, r *http.Request) {
	novelID := chi.URLParam(r, "novelId")
	if err := h.service.DeleteChapter(r.Context(), novelID, chi.URLParam(r, "chapterId")); err != nil {
		notifyError(r, "failed to delete chapter", err)
		redirect(w, r, adminChaptersPath(novelID))
		return
	}
	notify(r, flash.LevelSuccess, "章を削除しました。")
	redirect(w, r, adminChaptersPath(novelID))
}

// ImportChapters はフィードから章を取り込む。URLが空なら登録済みの取り込み元を使う。
// POST /admin/novels/{novelId}/import
func (h *AdminHandler) ImportChapters(w http.ResponseWriter, r *http.Request) {
	novelID := chi.URLParam(r, "novelId")
	res, err := h.service.ImportChapters(r.Context(), novelID, strings.TrimSpace(r.PostFormValue("url")))
	if err != nil {
		notifyError(r, "failed to import chapters", err)
		redirect(w, r, adminChaptersPath(novelID))
		return
	}

	msg := fmt.Sprintf("%d件の章を取り込みました。", res.Imported)
	if res.Skipped > 0 {
		msg = fmt.Sprintf("%d件の章を取り込みました（%d件は取り込み済みのためスキップ）。", res.Imported, res.Skipped)
	}
	notify(r, flash.LevelSuccess, msg)
	redirect(w, r, adminChaptersPath(novelID))
}
