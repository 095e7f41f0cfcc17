// Package catalog は読者向けの作品・章の閲覧ロジックを提供する。
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/hitoshi/novelshelf/internal/model"
	"github.com/hitoshi/novelshelf/internal/repository"
)

// FeaturedLimit はトップページに表示する新着作品数。
const FeaturedLimit = 3

// NovelDetail は作品ページの表示内容。
type NovelDetail struct {
	Novel    *model.Novel
	Chapters []*model.Chapter
}

// ChapterView は章ページの表示内容。Prev/Nextは存在しない場合nil。
type ChapterView struct {
	Novel   *model.Novel
	Chapter *model.Chapter
	Prev    *model.Chapter
	Next    *model.Chapter
}

// Service は作品カタログのサービス層。
type Service struct {
	novels   repository.NovelRepository
	chapters repository.ChapterRepository
}

// NewService はServiceを生成する。
func NewService(novels repository.NovelRepository, chapters repository.ChapterRepository) *Service {
	return &Service{novels: novels, chapters: chapters}
}

// Featured は新着作品を章数付きで返す。
func (s *Service) Featured(ctx context.Context) ([]model.NovelWithCount, error) {
	novels, err := s.novels.List(ctx, FeaturedLimit)
	if err != nil {
		return nil, fmt.Errorf("新着作品の取得に失敗しました: %w", err)
	}
	return WithChapterCounts(ctx, s.chapters, novels)
}

// List は作品一覧を章数付きで返す。queryが空白以外を含む場合は
// タイトル・あらすじ・ジャンルの部分一致で絞り込む。
func (s *Service) List(ctx context.Context, query string) ([]model.NovelWithCount, error) {
	var (
		novels []*model.Novel
		err    error
	)
	if q := strings.TrimSpace(query); q != "" {
		novels, err = s.novels.Search(ctx, q)
	} else {
		novels, err = s.novels.List(ctx, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("作品一覧の取得に失敗しました: %w", err)
	}
	return WithChapterCounts(ctx, s.chapters, novels)
}

// Novel は作品と目次を返す。
func (s *Service) Novel(ctx context.Context, novelID string) (*NovelDetail, error) {
	novel, err := s.findNovel(ctx, novelID)
	if err != nil {
		return nil, err
	}
	chapters, err := s.chapters.ListByNovel(ctx, novelID)
	if err != nil {
		return nil, fmt.Errorf("目次の取得に失敗しました: %w", err)
	}
	return &NovelDetail{Novel: novel, Chapters: chapters}, nil
}

// Chapter は章本文と前後の章を返す。
// 前後の章は同じ作品内で章番号が直前・直後のものを選ぶ。番号の欠けや重複は許容する。
func (s *Service) Chapter(ctx context.Context, novelID, chapterID string) (*ChapterView, error) {
	chapter, err := s.chapters.FindByID(ctx, chapterID)
	if err != nil {
		return nil, fmt.Errorf("章の取得に失敗しました: %w", err)
	}
	if chapter == nil || chapter.NovelID != novelID {
		return nil, model.NewChapterNotFoundError(chapterID)
	}

	novel, err := s.findNovel(ctx, novelID)
	if err != nil {
		return nil, err
	}

	prev, err := s.chapters.FindPrev(ctx, novelID, chapter.Number)
	if err != nil {
		return nil, fmt.Errorf("前の章の取得に失敗しました: %w", err)
	}
	next, err := s.chapters.FindNext(ctx, novelID, chapter.Number)
	if err != nil {
		return nil, fmt.Errorf("次の章の取得に失敗しました: %w", err)
	}

	return &ChapterView{Novel: novel, Chapter: chapter, Prev: prev, Next: next}, nil
}

func (s *Service) findNovel(ctx context.Context, novelID string) (*model.Novel, error) {
	novel, err := s.novels.FindByID(ctx, novelID)
	if err != nil {
		return nil, fmt.Errorf("作品の取得に失敗しました: %w", err)
	}
	if novel == nil {
		return nil, model.NewNovelNotFoundError(novelID)
	}
	return novel, nil
}

// WithChapterCounts は作品ごとの章数を1回の集計クエリで取得して付与する。
func WithChapterCounts(ctx context.Context, chapters repository.ChapterRepository, novels []*model.Novel) ([]model.NovelWithCount, error) {
	out := make([]model.NovelWithCount, len(novels))
	if len(novels) == 0 {
		return out, nil
	}

	ids := make([]string, len(novels))
	for i, n := range novels {
		ids[i] = n.ID
	}
	counts, err := chapters.CountByNovelIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("章数の集計に失敗しました: %w", err)
	}

	for i, n := range novels {
		out[i] = model.NovelWithCount{Novel: n, ChapterCount: counts[n.ID]}
	}
	return out, nil
}
