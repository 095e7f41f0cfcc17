// Package view は埋め込みHTMLテンプレートによる画面描画を提供する。
// 各ページはlayout.htmlを複製した上にページ固有の"content"を定義して組み立てる。
package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/hitoshi/novelshelf/internal/flash"
	"github.com/hitoshi/novelshelf/internal/model"
	"github.com/hitoshi/novelshelf/internal/session"
)

//go:embed templates/*.html
var templatesFS embed.FS

const layoutFile = "templates/layout.html"

// Page は全画面共通の描画データ。Dataにページ固有の値を入れる。
type Page struct {
	Title     string
	Identity  *session.Identity
	IsAdmin   bool
	Notices   []flash.Notice
	CSRFToken string
	Data      any
}

// Renderer はページ名ごとのテンプレートを保持する。
type Renderer struct {
	pages map[string]*template.Template
}

var funcs = template.FuncMap{
	"formatDate":  formatDate,
	"statusLabel": statusLabel,
	"paragraphs":  paragraphs,
	"excerpt":     excerpt,
}

// New は埋め込みテンプレートをすべて読み込んでRendererを生成する。
func New() (*Renderer, error) {
	layout, err := template.New("layout.html").Funcs(funcs).ParseFS(templatesFS, layoutFile)
	if err != nil {
		return nil, fmt.Errorf("failed to parse layout: %w", err)
	}

	files, err := fs.Glob(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	r := &Renderer{pages: make(map[string]*template.Template)}
	for _, f := range files {
		if f == layoutFile {
			continue
		}
		t, err := layout.Clone()
		if err != nil {
			return nil, fmt.Errorf("failed to clone layout: %w", err)
		}
		if _, err := t.ParseFS(templatesFS, f); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", f, err)
		}
		r.pages[strings.TrimSuffix(path.Base(f), ".html")] = t
	}
	return r, nil
}

// MustNew はNewが失敗した場合にpanicする。
func MustNew() *Renderer {
	r, err := New()
	if err != nil {
		panic(err)
	}
	return r
}

// Render はページを描画する。テンプレートの実行が完了してからレスポンスを書き込む。
func (r *Renderer) Render(w http.ResponseWriter, status int, name string, page *Page) {
	t, ok := r.pages[name]
	if !ok {
		slog.Error("unknown template", slog.String("template", name))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout.html", page); err != nil {
		slog.Error("failed to render template",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006年1月2日")
}

func statusLabel(s model.NovelStatus) string {
	switch s {
	case model.NovelStatusOngoing:
		return "連載中"
	case model.NovelStatusCompleted:
		return "完結"
	case model.NovelStatusHiatus:
		return "休載中"
	default:
		return string(s)
	}
}

// paragraphs は本文を空行で段落に分ける。段落内の改行は保持する。
func paragraphs(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	var out []string
	for _, p := range strings.Split(content, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// excerpt はあらすじを先頭n文字に切り詰める。
func excerpt(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "…"
}
