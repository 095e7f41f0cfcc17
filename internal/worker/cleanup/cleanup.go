// Package cleanup は認証データの定期削除ジョブを提供する。
// 期限切れのリフレッシュセッションと、保持期間（デフォルト7日）を過ぎても
// メールアドレス確認が完了していないユーザーを削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const (
	deleteExpiredSessions = `DELETE FROM sessions WHERE expires_at < now()`

	// 未確認ユーザーはセッションを持たないため、CASCADEで消えるのはブックマークのみ
	deleteUnconfirmedUsers = `DELETE FROM users
		WHERE email_confirmed_at IS NULL
		  AND created_at < now() - $1::interval`
)

// CleanupJob は認証データの削除ジョブ。何度実行しても結果は変わらない。
type CleanupJob struct {
	db                       Executor
	logger                   *slog.Logger
	UnconfirmedRetentionDays int
}

// NewCleanupJob はCleanupJobを生成する。未確認ユーザーの保持日数は7日。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:                       db,
		logger:                   logger,
		UnconfirmedRetentionDays: 7,
	}
}

// Run は期限切れセッションと古い未確認ユーザーを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	sessions, err := j.exec(ctx, "sessions", deleteExpiredSessions)
	if err != nil {
		return err
	}

	interval := fmt.Sprintf("%d days", j.UnconfirmedRetentionDays)
	users, err := j.exec(ctx, "unconfirmed_users", deleteUnconfirmedUsers, interval)
	if err != nil {
		return err
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", sessions),
		slog.Int64("deleted_unconfirmed_users", users),
		slog.Int("retention_days", j.UnconfirmedRetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

func (j *CleanupJob) exec(ctx context.Context, target, query string, args ...any) (int64, error) {
	result, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		j.logger.Error("クリーンアップの実行に失敗しました",
			slog.String("target", target),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("%sのクリーンアップに失敗: %w", target, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("target", target),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("%sの削除件数の取得に失敗: %w", target, err)
	}
	return n, nil
}
