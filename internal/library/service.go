// Package library はログイン済み読者のブックマークを管理する。
package library

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/novelshelf/internal/model"
	"github.com/hitoshi/novelshelf/internal/repository"
)

// Service はブックマークのサービス層。
type Service struct {
	bookmarks repository.BookmarkRepository
	novels    repository.NovelRepository
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(bookmarks repository.BookmarkRepository, novels repository.NovelRepository) *Service {
	return &Service{bookmarks: bookmarks, novels: novels, now: time.Now}
}

// IsBookmarked はブックマーク済みかを返す。未ログインの場合と未検出はfalse。
func (s *Service) IsBookmarked(ctx context.Context, userID, novelID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	b, err := s.bookmarks.Find(ctx, userID, novelID)
	if err != nil {
		if model.DataErrorCode(err) == model.DataCodeNotFound {
			return false, nil
		}
		return false, fmt.Errorf("ブックマークの確認に失敗しました: %w", err)
	}
	return b != nil, nil
}

// Toggle はブックマークを付け外しし、操作後の状態を返す。
// 同時に登録された場合の一意制約違反は登録済みとして扱う。
func (s *Service) Toggle(ctx context.Context, userID, novelID string) (bool, error) {
	if userID == "" {
		return false, model.NewUnauthenticatedError()
	}

	novel, err := s.novels.FindByID(ctx, novelID)
	if err != nil {
		return false, fmt.Errorf("作品の取得に失敗しました: %w", err)
	}
	if novel == nil {
		return false, model.NewNovelNotFoundError(novelID)
	}

	bookmarked, err := s.IsBookmarked(ctx, userID, novelID)
	if err != nil {
		return false, err
	}

	if bookmarked {
		if err := s.bookmarks.Delete(ctx, userID, novelID); err != nil {
			return true, fmt.Errorf("ブックマークの削除に失敗しました: %w", err)
		}
		return false, nil
	}

	err = s.bookmarks.Create(ctx, &model.Bookmark{
		ID:        uuid.New().String(),
		UserID:    userID,
		NovelID:   novelID,
		CreatedAt: s.now(),
	})
	if err != nil {
		if model.DataErrorCode(err) == model.DataCodeUniqueViolation {
			return true, nil
		}
		return false, fmt.Errorf("ブックマークの登録に失敗しました: %w", err)
	}
	return true, nil
}

// List はユーザーのブックマークを新しい順に返す。
func (s *Service) List(ctx context.Context, userID string) ([]model.BookmarkWithNovel, error) {
	if userID == "" {
		return nil, model.NewUnauthenticatedError()
	}
	items, err := s.bookmarks.ListByUserWithNovel(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ブックマーク一覧の取得に失敗しました: %w", err)
	}
	return items, nil
}
