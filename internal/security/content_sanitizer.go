// Package security は外部入力を扱う際の安全対策を提供する。
//
// フィードから取り込んだ章本文は、bluemondayの許可リストで全タグを除去してから
// プレーンテキストとして保存する。画面側はhtml/templateでエスケープして表示する。
package security

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizer はフィード由来のHTMLを本文テキストに変換する。
type ContentSanitizer interface {
	// ToPlainText はHTMLからタグを除去し、段落と改行を保ったテキストを返す。
	// script、styleなどの要素は中身ごと捨てる。同一入力に対して常に同一出力を返す。
	ToPlainText(rawHTML string) string
}

var (
	// blockBreak は段落区切りとして扱う終了タグと改行タグ。
	blockBreak = regexp.MustCompile(`(?i)<br\s*/?>|</(p|div|li|blockquote|h[1-6]|pre)\s*>`)
	extraLines = regexp.MustCompile(`\n{3,}`)
	lineSpace  = regexp.MustCompile(`[ \t\r\f\v]+\n`)
)

type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerを生成する。
func NewContentSanitizer() ContentSanitizer {
	return &contentSanitizer{policy: bluemonday.StrictPolicy()}
}

func (s *contentSanitizer) ToPlainText(rawHTML string) string {
	if strings.TrimSpace(rawHTML) == "" {
		return ""
	}

	marked := blockBreak.ReplaceAllStringFunc(rawHTML, func(tag string) string {
		if strings.HasPrefix(strings.ToLower(tag), "<br") {
			return "\n"
		}
		return tag + "\n\n"
	})

	text := html.UnescapeString(s.policy.Sanitize(marked))
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = lineSpace.ReplaceAllString(text, "\n")
	text = extraLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
