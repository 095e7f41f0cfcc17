// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// 画面に表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, content, import, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeInvalidURL        = "INVALID_URL"
	ErrCodeSSRFBlocked       = "SSRF_BLOCKED"
	ErrCodeFetchFailed       = "FETCH_FAILED"
	ErrCodeParseFailed       = "PARSE_FAILED"
	ErrCodeFeedNotDetected   = "FEED_NOT_DETECTED"
	ErrCodeNovelNotFound     = "NOVEL_NOT_FOUND"
	ErrCodeChapterNotFound   = "CHAPTER_NOT_FOUND"
	ErrCodeNoSourceFeed      = "NO_SOURCE_FEED"
	ErrCodeUnauthenticated   = "UNAUTHENTICATED"
	ErrCodeInvalidCredential = "INVALID_CREDENTIALS"
	ErrCodeUserExists        = "USER_ALREADY_REGISTERED"
	ErrCodeEmailNotConfirmed = "EMAIL_NOT_CONFIRMED"
	ErrCodeInvalidToken      = "INVALID_CONFIRMATION_TOKEN"
	ErrCodeAuthFailed        = "AUTH_FAILED"
	ErrCodeDataError         = "DATA_ERROR"
)

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewRequiredFieldsError は必須項目の未入力エラーを生成する。
func NewRequiredFieldsError(fields []string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("以下の項目は必須です: %s", strings.Join(fields, "、")),
		Category: "validation",
		Action:   "未入力の項目を入力してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを入力してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewFetchFailedError はフェッチ失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("URLの取得に失敗しました: %s", reason),
		Category: "import",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewParseFailedError はパース失敗エラーを生成する。
func NewParseFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeParseFailed,
		Message:  "フィードの解析に失敗しました。",
		Category: "import",
		Action:   "有効なRSS/Atomフィードかどうか確認してください。",
	}
}

// NewFeedNotDetectedError はフィード未検出エラーを生成する。
func NewFeedNotDetectedError(url string) *APIError {
	return &APIError{
		Code:     ErrCodeFeedNotDetected,
		Message:  fmt.Sprintf("指定されたURLからRSS/Atomフィードを検出できませんでした: %s", url),
		Category: "import",
		Action:   "RSS/AtomフィードのURLを直接入力するか、フィードが公開されているページのURLを確認してください。",
	}
}

// NewNoSourceFeedError は取り込み元フィードが未設定の場合のエラーを生成する。
func NewNoSourceFeedError() *APIError {
	return &APIError{
		Code:     ErrCodeNoSourceFeed,
		Message:  "この作品には取り込み元フィードが設定されていません。",
		Category: "import",
		Action:   "作品の編集画面でフィードURLを設定してください。",
	}
}

// NewNovelNotFoundError は作品未検出エラーを生成する。
func NewNovelNotFoundError(novelID string) *APIError {
	return &APIError{
		Code:     ErrCodeNovelNotFound,
		Message:  fmt.Sprintf("指定された作品が見つかりません: %s", novelID),
		Category: "content",
		Action:   "作品一覧から選択し直してください。",
	}
}

// NewChapterNotFoundError は章未検出エラーを生成する。
func NewChapterNotFoundError(chapterID string) *APIError {
	return &APIError{
		Code:     ErrCodeChapterNotFound,
		Message:  fmt.Sprintf("指定された章が見つかりません: %s", chapterID),
		Category: "content",
		Action:   "目次から選択し直してください。",
	}
}

// NewUnauthenticatedError は未ログインエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	}
}
