package feedsync

import (
	"fmt"
	"net/http"
	"time"

	"github.com/hitoshi/novelshelf/internal/model"
)

// Outcome はHTTPステータスコードに基づく同期結果の分類。
type Outcome int

const (
	// OutcomeOK は取得成功（200）。
	OutcomeOK Outcome = iota
	// OutcomeStop は同期停止が必要なステータス（404/410/401/403）。
	OutcomeStop
	// OutcomeBackoff はバックオフが必要なステータス（429/5xx）と通信エラー。
	OutcomeBackoff
	// OutcomeUnknown は未知のステータスコード。
	OutcomeUnknown
)

const (
	initialBackoff = 30 * time.Minute
	maxBackoff     = 12 * time.Hour
	// parseFailureThreshold はこの回数連続で解析に失敗すると同期を停止する。
	parseFailureThreshold = 10
)

// ClassifyHTTPStatus はHTTPステータスコードを同期結果に分類する。
// 0は通信エラーとしてバックオフに分類する。
func ClassifyHTTPStatus(statusCode int) Outcome {
	switch {
	case statusCode == 0:
		return OutcomeBackoff
	case statusCode == http.StatusOK:
		return OutcomeOK
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return OutcomeStop
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return OutcomeStop
	case statusCode == http.StatusTooManyRequests:
		return OutcomeBackoff
	case statusCode >= 500:
		return OutcomeBackoff
	default:
		return OutcomeUnknown
	}
}

// CalculateBackoff は連続エラー回数から次回までの遅延を計算する。
// 初回30分、2倍ずつ増加、最大12時間。
func CalculateBackoff(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// ApplyStop は作品の同期を停止する。
func ApplyStop(novel *model.Novel, reason string) {
	novel.SyncStatus = model.SyncStatusStopped
	novel.SyncError = reason
}

// ApplyBackoff は連続エラー回数を増やし、指数バックオフで次回同期日時を設定する。
func ApplyBackoff(novel *model.Novel, reason string, now time.Time) {
	novel.ConsecutiveErrors++
	novel.SyncStatus = model.SyncStatusError
	novel.SyncError = reason
	novel.NextSyncAt = now.Add(CalculateBackoff(novel.ConsecutiveErrors - 1))
}

// ApplySuccess はエラー状態をリセットし、interval後を次回同期日時にする。
func ApplySuccess(novel *model.Novel, interval time.Duration, now time.Time) {
	novel.SyncStatus = model.SyncStatusActive
	novel.ConsecutiveErrors = 0
	novel.SyncError = ""
	novel.NextSyncAt = now.Add(interval)
}

// ApplyParseFailure は連続エラー回数を増やす。閾値に達した場合は同期を停止する。
func ApplyParseFailure(novel *model.Novel, reason string, now time.Time) {
	novel.ConsecutiveErrors++
	novel.SyncStatus = model.SyncStatusError
	novel.SyncError = fmt.Sprintf("解析失敗 (%d回連続): %s", novel.ConsecutiveErrors, reason)
	novel.NextSyncAt = now.Add(CalculateBackoff(novel.ConsecutiveErrors - 1))

	if novel.ConsecutiveErrors >= parseFailureThreshold {
		novel.SyncStatus = model.SyncStatusStopped
		novel.SyncError = fmt.Sprintf("解析失敗が%d回連続したため同期を停止しました: %s", novel.ConsecutiveErrors, reason)
	}
}
