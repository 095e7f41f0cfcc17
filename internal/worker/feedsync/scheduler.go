// Package feedsync は取り込み元フィードを持つ作品の定期同期を提供する。
// スケジューラ、作品単位の同期、リトライ/バックオフ戦略を含む。
package feedsync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/novelshelf/internal/model"
	"github.com/hitoshi/novelshelf/internal/repository"
)

// NovelSyncer は1作品分の同期を実行する。
type NovelSyncer interface {
	Sync(ctx context.Context, novel *model.Novel) error
}

// Scheduler は同期対象の作品を定期的に取得し、並列数を制限して同期する。
type Scheduler struct {
	novels         repository.NovelRepository
	syncer         NovelSyncer
	logger         *slog.Logger
	maxConcurrency int
}

// NewScheduler はSchedulerを生成する。maxConcurrencyが0以下の場合は4を使う。
func NewScheduler(
	novels repository.NovelRepository,
	syncer NovelSyncer,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &Scheduler{
		novels:         novels,
		syncer:         syncer,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start はintervalごとにRunOnceを実行する。起動直後にも1回実行する。
// ctxがキャンセルされるまで戻らない。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("sync scheduler started",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	s.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync scheduler stopped")
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context) {
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("sync cycle failed", slog.String("error", err.Error()))
	}
}

// RunOnce は同期対象の作品を取得し、semaphoreで並列数を制御しながら同期する。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	novels, err := s.novels.ListDueForSync(ctx)
	if err != nil {
		return err
	}
	if len(novels) == 0 {
		s.logger.Debug("no novels due for sync")
		return nil
	}

	s.logger.Info("sync cycle started", slog.Int("novel_count", len(novels)))

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, novel := range novels {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}

		go func(n *model.Novel) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.syncer.Sync(ctx, n); err != nil {
				s.logger.Error("novel sync failed",
					slog.String("novel_id", n.ID),
					slog.String("error", err.Error()),
				)
			}
		}(novel)
	}
	wg.Wait()

	s.logger.Info("sync cycle completed",
		slog.Int("novel_count", len(novels)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return ctx.Err()
}
