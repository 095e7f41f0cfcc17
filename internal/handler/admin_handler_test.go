package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/hitoshi/novelshelf/internal/admin"
	"github.com/hitoshi/novelshelf/internal/flash"
	"github.com/hitoshi/novelshelf/internal/importer"
	"github.com/hitoshi/novelshelf/internal/model"
)

// --- モック定義 ---

// mockAdminService はAdminServiceInterfaceのモック実装。
type mockAdminService struct {
	dashboardFn      func(ctx context.Context) (*model.DashboardStats, error)
	listNovelsFn     func(ctx context.Context) ([]model.NovelWithCount, error)
	createNovelFn    func(ctx context.Context, in admin.NovelInput) (*model.Novel, error)
	updateNovelFn    func(ctx context.Context, novelID string, in admin.NovelInput) (*model.Novel, error)
	deleteNovelFn    func(ctx context.Context, novelID string) error
	novelChaptersFn  func(ctx context.Context, novelID string) (*model.Novel, []*model.Chapter, error)
	createChapterFn  func(ctx context.Context, novelID string, in admin.ChapterInput) (*model.Chapter, error)
	updateChapterFn  func(ctx context.Context, novelID, chapterID string, in admin.ChapterInput) (*model.Chapter, error)
	deleteChapterFn  func(ctx context.Context, novelID, chapterID string) error
	importChaptersFn func(ctx context.Context, novelID, feedURL string) (*importer.Result, error)
}

func (m *mockAdminService) Dashboard(ctx context.Context) (*model.DashboardStats, error) {
	if m.dashboardFn != nil {
		return m.dashboardFn(ctx)
	}
	return &model.DashboardStats{}, nil
}

func (m *mockAdminService) ListNovels(ctx context.Context) ([]model.NovelWithCount, error) {
	if m.listNovelsFn != nil {
		return m.listNovelsFn(ctx)
	}
	return nil, nil
}

func (m *mockAdminService) CreateNovel(ctx context.Context, in admin.NovelInput) (*model.Novel, error) {
	if m.createNovelFn != nil {
		return m.createNovelFn(ctx, in)
	}
	return &model.Novel{Title: in.Title}, nil
}

func (m *mockAdminService) UpdateNovel(ctx context.Context, novelID string, in admin.NovelInput) (*model.Novel, error) {
	if m.updateNovelFn != nil {
		return m.updateNovelFn(ctx, novelID, in)
	}
	return &model.Novel{ID: novelID, Title: in.Title}, nil
}

func (m *mockAdminService) DeleteNovel(ctx context.Context, novelID string) error {
	if m.deleteNovelFn != nil {
		return m.deleteNovelFn(ctx, novelID)
	}
	return nil
}

func (m *mockAdminService) NovelChapters(ctx context.Context, novelID string) (*model.Novel, []*model.Chapter, error) {
	if m.novelChaptersFn != nil {
		return m.novelChaptersFn(ctx, novelID)
	}
	return &model.Novel{ID: novelID}, nil, nil
}

func (m *mockAdminService) CreateChapter(ctx context.Context, novelID string, in admin.ChapterInput) (*model.Chapter, error) {
	if m.createChapterFn != nil {
		return m.createChapterFn(ctx, novelID, in)
	}
	return &model.Chapter{NovelID: novelID}, nil
}

func (m *mockAdminService) UpdateChapter(ctx context.Context, novelID, chapterID string, in admin.ChapterInput) (*model.Chapter, error) {
	if m.updateChapterFn != nil {
		return m.updateChapterFn(ctx, novelID, chapterID, in)
	}
	return &model.Chapter{ID: chapterID, NovelID: novelID}, nil
}

func (m *mockAdminService) DeleteChapter(ctx context.Context, novelID, chapterID string) error {
	if m.deleteChapterFn != nil {
		return m.deleteChapterFn(ctx, novelID, chapterID)
	}
	return nil
}

func (m *mockAdminService) ImportChapters(ctx context.Context, novelID, feedURL string) (*importer.Result, error) {
	if m.importChaptersFn != nil {
		return m.importChaptersFn(ctx, novelID, feedURL)
	}
	return &importer.Result{}, nil
}

func adminEntryRequest(t *testing.T, r *http.Request) (*http.Request, func() []flash.Notice) {
	t.Helper()
	e := newClientEntry(t, &fakeAuthClient{getSessionFn: signedInAs("admin-1", "a@x.com")})
	return withEntry(r, e), func() []flash.Notice { return drainNotices(e) }
}

// --- テスト ---

func TestAdminHandler_Dashboard(t *testing.T) {
	svc := &mockAdminService{
		dashboardFn: func(ctx context.Context) (*model.DashboardStats, error) {
			return &model.DashboardStats{TotalUsers: 40, AvgChapters: 0.7}, nil
		},
	}
	views := &recordingRenderer{}
	h := NewAdminHandler(svc, views)
	req, _ := adminEntryRequest(t, httptest.NewRequest(http.MethodGet, "/admin", nil))

	w := httptest.NewRecorder()
	h.Dashboard(w, req)

	call := views.last(t)
	if call.name != "admin_dashboard" || !call.page.IsAdmin {
		t.Errorf("rendered %s, IsAdmin = %v", call.name, call.page.IsAdmin)
	}
	if got := call.page.Data.(adminDashboardData).Stats.TotalUsers; got != 40 {
		t.Errorf("TotalUsers = %d, want 40", got)
	}
}

func TestAdminHandler_Novels_DefaultsFormStatus(t *testing.T) {
	views := &recordingRenderer{}
	h := NewAdminHandler(&mockAdminService{}, views)

	w := httptest.NewRecorder()
	h.Novels(w, httptest.NewRequest(http.MethodGet, "/admin/novels", nil))

	if got := views.last(t).page.Data.(adminNovelsData).Form.Status; got != "ongoing" {
		t.Errorf("form status = %q, want ongoing", got)
	}
}

func TestAdminHandler_CreateNovel_Success(t *testing.T) {
	var got admin.NovelInput
	svc := &mockAdminService{
		createNovelFn: func(ctx context.Context, in admin.NovelInput) (*model.Novel, error) {
			got = in
			return &model.Novel{ID: "n1", Title: in.Title}, nil
		},
	}
	h := NewAdminHandler(svc, &recordingRenderer{})
	form := url.Values{
		"title":           {"星の旅"},
		"description":     {"あらすじ"},
		"genre":           {"SF"},
		"status":          {"completed"},
		"source_feed_url": {"https://novels.example/feed"},
	}
	req, notices := adminEntryRequest(t, newFormRequest("/admin/novels", form))

	w := httptest.NewRecorder()
	h.CreateNovel(w, req)

	assertRedirect(t, w, "/admin/novels")
	if got.Title != "星の旅" || got.Status != "completed" || got.SourceFeedURL != "https://novels.example/feed" {
		t.Errorf("input = %+v", got)
	}
	if !hasNotice(notices(), flash.LevelSuccess, "「星の旅」を追加しました") {
		t.Error("expected success notice")
	}
}

func TestAdminHandler_CreateNovel_ValidationKeepsForm(t *testing.T) {
	svc := &mockAdminService{
		createNovelFn: func(ctx context.Context, in admin.NovelInput) (*model.Novel, error) {
			return nil, model.NewRequiredFieldsError([]string{"タイトル"})
		},
		listNovelsFn: func(ctx context.Context) ([]model.NovelWithCount, error) {
			return []model.NovelWithCount{{Novel: &model.Novel{ID: "n9"}}}, nil
		},
	}
	views := &recordingRenderer{}
	h := NewAdminHandler(svc, views)

	w := httptest.NewRecorder()
	h.CreateNovel(w, newFormRequest("/admin/novels", url.Values{"description": {"下書き"}}))

	call := views.last(t)
	if call.status != http.StatusUnprocessableEntity || call.name != "admin_novels" {
		t.Fatalf("rendered %s with %d", call.name, call.status)
	}
	data := call.page.Data.(adminNovelsData)
	if data.Form.Description != "下書き" {
		t.Errorf("form = %+v, want input preserved", data.Form)
	}
	if data.Error != "以下の項目は必須です: タイトル" {
		t.Errorf("error = %q", data.Error)
	}
	if len(data.Novels) != 1 {
		t.Errorf("novels = %d, want 1", len(data.Novels))
	}
}

func TestAdminHandler_UpdateNovel_NotFoundNotice(t *testing.T) {
	svc := &mockAdminService{
		updateNovelFn: func(ctx context.Context, novelID string, in admin.NovelInput) (*model.Novel, error) {
			return nil, model.NewNovelNotFoundError(novelID)
		},
	}
	h := NewAdminHandler(svc, &recordingRenderer{})
	req, notices := adminEntryRequest(t, newFormRequest("/admin/novels/gone", url.Values{"title": {"x"}}))
	req = withChiURLParams(req, "novelId", "gone")

	w := httptest.NewRecorder()
	h.UpdateNovel(w, req)

	assertRedirect(t, w, "/admin/novels")
	if !hasNotice(notices(), flash.LevelError, "作品が見つかりません") {
		t.Error("expected not-found notice")
	}
}

func TestAdminHandler_DeleteNovel_ForeignKeyNotice(t *testing.T) {
	svc := &mockAdminService{
		deleteNovelFn: func(ctx context.Context, novelID string) error {
			return &model.DataError{Code: model.DataCodeForeignKeyViolation}
		},
	}
	h := NewAdminHandler(svc, &recordingRenderer{})
	req, notices := adminEntryRequest(t, newFormRequest("/admin/novels/n1/delete", nil))

	w := httptest.NewRecorder()
	h.DeleteNovel(w, withChiURLParams(req, "novelId", "n1"))

	assertRedirect(t, w, "/admin/novels")
	if !hasNotice(notices(), flash.LevelError, "関連するデータがあるため削除できません") {
		t.Error("expected foreign key notice")
	}
}

func TestAdminHandler_Chapters_SuggestsNextNumber(t *testing.T) {
	svc := &mockAdminService{
		novelChaptersFn: func(ctx context.Context, novelID string) (*model.Novel, []*model.Chapter, error) {
			return &model.Novel{ID: novelID, Title: "星の旅"},
				[]*model.Chapter{{Number: 1}, {Number: 5}}, nil
		},
	}
	views := &recordingRenderer{}
	h := NewAdminHandler(svc, views)

	w := httptest.NewRecorder()
	h.Chapters(w, withChiURLParams(httptest.NewRequest(http.MethodGet, "/admin/novels/n1/chapters", nil), "novelId", "n1"))

	data := views.last(t).page.Data.(adminChaptersData)
	if data.Form.Number != "6" {
		t.Errorf("next number = %q, want 6", data.Form.Number)
	}
	if len(data.Chapters) != 2 || data.Novel.Title != "星の旅" {
		t.Errorf("data = %+v", data)
	}
}

func TestAdminHandler_Chapters_UnknownNovel(t *testing.T) {
	svc := &mockAdminService{
		novelChaptersFn: func(ctx context.Context, novelID string) (*model.Novel, []*model.Chapter, error) {
			return nil, nil, model.NewNovelNotFoundError(novelID)
		},
	}
	views := &recordingRenderer{}
	h := NewAdminHandler(svc, views)

	w := httptest.NewRecorder()
	h.Chapters(w, withChiURLParams(httptest.NewRequest(http.MethodGet, "/admin/novels/x/chapters", nil), "novelId", "x"))

	if call := views.last(t); call.status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", call.status)
	}
}

func TestAdminHandler_CreateChapter_ValidationKeepsForm(t *testing.T) {
	svc := &mockAdminService{
		createChapterFn: func(ctx context.Context, novelID string, in admin.ChapterInput) (*model.Chapter, error) {
			return nil, model.NewValidationError("章番号は1以上の整数で入力してください。")
		},
	}
	views := &recordingRenderer{}
	h := NewAdminHandler(svc, views)
	form := url.Values{"number": {"0"}, "title": {"序章"}, "content": {"本文"}}

	w := httptest.NewRecorder()
	h.CreateChapter(w, withChiURLParams(newFormRequest("/admin/novels/n1/chapters", form), "novelId", "n1"))

	call := views.last(t)
	if call.status != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", call.status)
	}
	data := call.page.Data.(adminChaptersData)
	if data.Form.Number != "0" || data.Form.Title != "序章" {
		t.Errorf("form = %+v, want input preserved", data.Form)
	}
}

func TestAdminHandler_UpdateAndDeleteChapter_PassIDs(t *testing.T) {
	var updated, deleted [2]string
	svc := &mockAdminService{
		updateChapterFn: func(ctx context.Context, novelID, chapterID string, in admin.ChapterInput) (*model.Chapter, error) {
			updated = [2]string{novelID, chapterID}
			return &model.Chapter{ID: chapterID, Number: 3}, nil
		},
		deleteChapterFn: func(ctx context.Context, novelID, chapterID string) error {
			deleted = [2]string{novelID, chapterID}
			return nil
		},
	}
	h := NewAdminHandler(svc, &recordingRenderer{})

	w := httptest.NewRecorder()
	h.UpdateChapter(w, withChiURLParams(newFormRequest("/admin/novels/n1/chapters/c3", nil), "novelId", "n1", "chapterId", "c3"))
	assertRedirect(t, w, "/admin/novels/n1/chapters")

	w = httptest.NewRecorder()
	h.DeleteChapter(w, withChiURLParams(newFormRequest("/admin/novels/n1/chapters/c3/delete", nil), "novelId", "n1", "chapterId", "c3"))
	assertRedirect(t, w, "/admin/novels/n1/chapters")

	if updated != [2]string{"n1", "c3"} || deleted != [2]string{"n1", "c3"} {
		t.Errorf("updated = %v, deleted = %v", updated, deleted)
	}
}

func TestAdminHandler_ImportChapters(t *testing.T) {
	tests := []struct {
		name   string
		result *importer.Result
		err    error
		level  flash.Level
		text   string
	}{
		{"取り込み成功", &importer.Result{Imported: 3}, nil, flash.LevelSuccess, "3件の章を取り込みました。"},
		{"スキップあり", &importer.Result{Imported: 1, Skipped: 2}, nil, flash.LevelSuccess, "2件は取り込み済み"},
		{"取り込み元なし", nil, model.NewNoSourceFeedError(), flash.LevelError, "取り込み元フィードが設定されていません"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotURL string
			svc := &mockAdminService{
				importChaptersFn: func(ctx context.Context, novelID, feedURL string) (*importer.Result, error) {
					gotURL = feedURL
					return tt.result, tt.err
				},
			}
			h := NewAdminHandler(svc, &recordingRenderer{})
			req, notices := adminEntryRequest(t, newFormRequest("/admin/novels/n1/import", url.Values{"url": {" https://novels.example/feed "}}))

			w := httptest.NewRecorder()
			h.ImportChapters(w, withChiURLParams(req, "novelId", "n1"))

			assertRedirect(t, w, "/admin/novels/n1/chapters")
			if gotURL != "https://novels.example/feed" {
				t.Errorf("url = %q", gotURL)
			}
			if !hasNotice(notices(), tt.level, tt.text) {
				t.Errorf("expected %s notice containing %q", tt.level, tt.text)
			}
		})
	}
}
