package middleware

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hitoshi/novelshelf/internal/model"
)

var errorPageTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html lang="ja">
<head><meta charset="utf-8"><title>{{.Message}} | novelshelf</title></head>
<body>
<main class="error-page" data-code="{{.Code}}" data-category="{{.Category}}">
<h1>{{.Message}}</h1>
{{if .Action}}<p>{{.Action}}</p>{{end}}
<p><a href="/">トップへ戻る</a></p>
</main>
</body>
</html>
`))

// WriteErrorPage はAPIErrorの内容をHTMLエラーページとして書き込む。
func WriteErrorPage(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	if err := errorPageTemplate.Execute(w, apiErr); err != nil {
		slog.Error("failed to render error page", slog.String("error", err.Error()))
	}
}

// WriteInternalServerError は内部エラーページを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorPage(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
