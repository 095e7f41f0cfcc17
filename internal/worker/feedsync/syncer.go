package feedsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/novelshelf/internal/importer"
	"github.com/hitoshi/novelshelf/internal/model"
	"github.com/hitoshi/novelshelf/internal/repository"
)

// FeedImporter は取り込み元フィードから未取り込みの章を保存する。
// *importer.Importerが実装する。
type FeedImporter interface {
	Sync(ctx context.Context, novel *model.Novel) (*importer.Result, error)
}

// Recorder は同期結果のメトリクス記録先。
type Recorder interface {
	RecordSyncSuccess(novelID string)
	RecordSyncFailure(novelID string, reason string)
	RecordParseFailure(novelID string)
}

// Syncer は1作品分の同期を実行し、結果に応じて作品の同期状態を更新する。
type Syncer struct {
	novels   repository.NovelRepository
	importer FeedImporter
	recorder Recorder
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
}

// NewSyncer はSyncerを生成する。recorderはnilでもよい。
func NewSyncer(
	novels repository.NovelRepository,
	imp FeedImporter,
	recorder Recorder,
	logger *slog.Logger,
	interval time.Duration,
) *Syncer {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Syncer{
		novels:   novels,
		importer: imp,
		recorder: recorder,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

// Sync は作品を同期する。取得・解析の失敗は同期状態に反映して nil を返し、
// 同期状態の保存に失敗した場合のみエラーを返す。
func (s *Syncer) Sync(ctx context.Context, novel *model.Novel) error {
	start := s.now()
	result, err := s.importer.Sync(ctx, novel)
	now := s.now()

	var (
		fe *importer.FetchError
		pe *importer.ParseError
	)
	switch {
	case err == nil:
		ApplySuccess(novel, s.interval, now)
		s.record(func(r Recorder) { r.RecordSyncSuccess(novel.ID) })
		s.logger.Info("novel synced",
			slog.String("novel_id", novel.ID),
			slog.String("feed_url", novel.SourceFeedURL),
			slog.Int("imported", result.Imported),
			slog.Int("skipped", result.Skipped),
			slog.Float64("duration_ms", float64(now.Sub(start).Milliseconds())),
		)

	case errors.As(err, &fe):
		s.applyFetchFailure(novel, fe, now)

	case errors.As(err, &pe):
		ApplyParseFailure(novel, pe.Err.Error(), now)
		s.record(func(r Recorder) { r.RecordParseFailure(novel.ID) })
		s.logger.Warn("failed to parse feed",
			slog.String("novel_id", novel.ID),
			slog.String("feed_url", novel.SourceFeedURL),
			slog.Int("consecutive_errors", novel.ConsecutiveErrors),
			slog.String("error", pe.Err.Error()),
		)

	default:
		// 章の保存失敗など。作品側の問題ではないのでバックオフのみ適用する
		ApplyBackoff(novel, err.Error(), now)
		s.record(func(r Recorder) { r.RecordSyncFailure(novel.ID, "internal") })
		s.logger.Error("failed to sync novel",
			slog.String("novel_id", novel.ID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.novels.UpdateSyncState(ctx, novel); err != nil {
		return fmt.Errorf("failed to update sync state for %s: %w", novel.ID, err)
	}
	return nil
}

func (s *Syncer) applyFetchFailure(novel *model.Novel, fe *importer.FetchError, now time.Time) {
	switch ClassifyHTTPStatus(fe.StatusCode) {
	case OutcomeStop:
		reason := fmt.Sprintf("HTTPステータス %d により同期を停止しました", fe.StatusCode)
		ApplyStop(novel, reason)
		s.record(func(r Recorder) { r.RecordSyncFailure(novel.ID, "stopped") })
		s.logger.Warn("stopping feed sync",
			slog.String("novel_id", novel.ID),
			slog.String("feed_url", novel.SourceFeedURL),
			slog.Int("http_status", fe.StatusCode),
		)

	default:
		reason := fe.Error()
		label := "network"
		if fe.StatusCode != 0 {
			reason = fmt.Sprintf("HTTPステータス %d によりバックオフを適用しました", fe.StatusCode)
			label = fmt.Sprintf("http_%d", fe.StatusCode)
		}
		ApplyBackoff(novel, reason, now)
		s.record(func(r Recorder) { r.RecordSyncFailure(novel.ID, label) })
		s.logger.Warn("applying sync backoff",
			slog.String("novel_id", novel.ID),
			slog.String("feed_url", novel.SourceFeedURL),
			slog.Int("http_status", fe.StatusCode),
			slog.Int("consecutive_errors", novel.ConsecutiveErrors),
			slog.Time("next_sync_at", novel.NextSyncAt),
		)
	}
}

func (s *Syncer) record(fn func(Recorder)) {
	if s.recorder != nil {
		fn(s.recorder)
	}
}
