// Package handler はサーバーレンダリングの画面とフォーム送信を処理するHTTPハンドラーを提供する。
package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/novelshelf/internal/flash"
	"github.com/hitoshi/novelshelf/internal/middleware"
	"github.com/hitoshi/novelshelf/internal/model"
	"github.com/hitoshi/novelshelf/internal/view"
)

// PageRenderer は画面を描画する。*view.Rendererが実装する。
type PageRenderer interface {
	Render(w http.ResponseWriter, status int, name string, page *view.Page)
}

// errorData はerror.htmlに渡す値。
type errorData struct {
	Message string
	Action  string
}

// notFoundData はnot_found.htmlに渡す値。
type notFoundData struct {
	Message string
}

// newPage はリクエストのクライアント状態から画面共通の描画データを組み立てる。
// 溜まっている通知はここで取り出される。
func newPage(r *http.Request, title string, data any) *view.Page {
	p := &view.Page{
		Title:     title,
		CSRFToken: middleware.CSRFToken(r.Context()),
		Data:      data,
	}
	if e, ok := middleware.EntryFromContext(r.Context()); ok {
		st := e.Store.Snapshot()
		p.Identity = st.Identity
		p.IsAdmin = st.IsAdmin
		p.Notices = e.Notices.Drain()
	}
	return p
}

// notify は現在のクライアントに通知を積む。クライアントがなければ何もしない。
func notify(r *http.Request, level flash.Level, message string) {
	if message == "" {
		return
	}
	if e, ok := middleware.EntryFromContext(r.Context()); ok {
		e.Notices.Push(level, message)
	}
}

// redirect はPOST後の画面遷移に使う。
func redirect(w http.ResponseWriter, r *http.Request, target string) {
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// errorNotice はエラーを利用者向けの通知文言に変換する。
func errorNotice(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	if notice, ok := model.DataErrorNotice(err); ok {
		return notice
	}
	return "対象のデータが見つかりません。"
}

// notifyError はエラーをログに残し、通知に変換する。
// 読み込み系の画面は空の結果で描画を続け、更新系は元の画面へ戻す。
func notifyError(r *http.Request, msg string, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		slog.Warn(msg, slog.String("code", apiErr.Code), slog.String("path", r.URL.Path))
	} else {
		slog.Error(msg,
			slog.String("error", err.Error()),
			slog.String("data_code", model.DataErrorCode(err)),
			slog.String("path", r.URL.Path),
		)
	}
	notify(r, flash.LevelError, errorNotice(err))
}

// handleServiceError は詳細画面の取得エラーをステータス付きの画面に変換する。
func handleServiceError(views PageRenderer, w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		status := mapAPIErrorToHTTPStatus(apiErr)
		if status == http.StatusNotFound {
			views.Render(w, status, "not_found", newPage(r, "ページが見つかりません", notFoundData{Message: apiErr.Message}))
			return
		}
		views.Render(w, status, "error", newPage(r, "エラー", errorData{Message: apiErr.Message, Action: apiErr.Action}))
		return
	}

	if code := model.DataErrorCode(err); code == model.DataCodeNotFound || code == model.DataCodeInvalidText {
		views.Render(w, http.StatusNotFound, "not_found", newPage(r, "ページが見つかりません", notFoundData{}))
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error",
		slog.String("error", err.Error()),
		slog.String("path", r.URL.Path),
	)
	notice, _ := model.DataErrorNotice(err)
	views.Render(w, http.StatusInternalServerError, "error", newPage(r, "エラー", errorData{
		Message: notice,
		Action:  "しばらく待ってから再度お試しください。",
	}))
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeNovelNotFound, model.ErrCodeChapterNotFound:
		return http.StatusNotFound
	case model.ErrCodeValidation, model.ErrCodeInvalidURL:
		return http.StatusBadRequest
	case model.ErrCodeSSRFBlocked:
		return http.StatusForbidden
	case model.ErrCodeUnauthenticated, model.ErrCodeInvalidCredential:
		return http.StatusUnauthorized
	case model.ErrCodeFetchFailed:
		return http.StatusBadGateway
	case model.ErrCodeParseFailed, model.ErrCodeFeedNotDetected, model.ErrCodeNoSourceFeed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// isFormError はフォームを入力値付きで再表示すべきエラーかを判定する。
func isFormError(err error) bool {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Category == "validation"
}

// localPath は遷移先をサイト内のパスに限定する。
// 絶対URLはbaseURLと同じオリジンの場合だけパス部分を採用し、それ以外はfallbackを返す。
func localPath(raw, baseURL, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fallback
	}
	if u.Scheme != "" || u.Host != "" {
		base, berr := url.Parse(baseURL)
		if berr != nil || baseURL == "" || u.Scheme != base.Scheme || u.Host != base.Host {
			return fallback
		}
	}
	if !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(u.Path, "//") || strings.Contains(u.Path, `\`) {
		return fallback
	}
	out := u.Path
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out
}
