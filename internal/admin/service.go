// Package admin は管理画面の集計と作品・章の編集を提供する。
package admin

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/novelshelf/internal/catalog"
	"github.com/hitoshi/novelshelf/internal/importer"
	"github.com/hitoshi/novelshelf/internal/model"
	"github.com/hitoshi/novelshelf/internal/repository"
	"github.com/hitoshi/novelshelf/internal/security"
)

const (
	recentUsersWindow   = 7 * 24 * time.Hour
	registrationsWindow = 30 * 24 * time.Hour
	// RegistrationRows はダッシュボードに表示する登録数の行数。
	RegistrationRows = 10
)

// ChapterImporter はフィードからの章取り込みを行う。
type ChapterImporter interface {
	Import(ctx context.Context, novelID, inputURL string) (*importer.Result, error)
}

// NovelInput は作品フォームの入力値。
type NovelInput struct {
	Title         string
	Description   string
	CoverImage    string
	Genre         string
	Status        string
	SourceFeedURL string
}

// ChapterInput は章フォームの入力値。Numberはフォームの文字列のまま受け取る。
type ChapterInput struct {
	Number  string
	Title   string
	Content string
}

// Service は管理画面のサービス層。
type Service struct {
	users    repository.UserRepository
	novels   repository.NovelRepository
	chapters repository.ChapterRepository
	guard    security.URLGuard
	importer ChapterImporter
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	users repository.UserRepository,
	novels repository.NovelRepository,
	chapters repository.ChapterRepository,
	guard security.URLGuard,
	imp ChapterImporter,
) *Service {
	return &Service{
		users:    users,
		novels:   novels,
		chapters: chapters,
		guard:    guard,
		importer: imp,
		now:      time.Now,
	}
}

// Dashboard は管理画面トップの集計値を返す。
// 登録数の推移は直近30日を日付ごとに集計し、新しい方から10行を残す。
func (s *Service) Dashboard(ctx context.Context) (*model.DashboardStats, error) {
	now := s.now()
	stats := &model.DashboardStats{}

	var err error
	if stats.TotalUsers, err = s.users.Count(ctx); err != nil {
		return nil, fmt.Errorf("ユーザー数の取得に失敗しました: %w", err)
	}
	if stats.TotalNovels, err = s.novels.Count(ctx); err != nil {
		return nil, fmt.Errorf("作品数の取得に失敗しました: %w", err)
	}
	if stats.TotalChapters, err = s.chapters.Count(ctx); err != nil {
		return nil, fmt.Errorf("章数の取得に失敗しました: %w", err)
	}
	if stats.RecentUsers, err = s.users.CountCreatedSince(ctx, now.Add(-recentUsersWindow)); err != nil {
		return nil, fmt.Errorf("最近の登録数の取得に失敗しました: %w", err)
	}

	regs, err := s.users.RegistrationsSince(ctx, now.Add(-registrationsWindow))
	if err != nil {
		return nil, fmt.Errorf("登録数の推移の取得に失敗しました: %w", err)
	}
	if len(regs) > RegistrationRows {
		regs = regs[len(regs)-RegistrationRows:]
	}
	stats.Registrations = regs

	if stats.TotalNovels > 0 {
		avg := float64(stats.TotalChapters) / float64(stats.TotalNovels)
		stats.AvgChapters = math.Round(avg*10) / 10
	}
	return stats, nil
}

// ListNovels は全作品を章数付きで返す。
func (s *Service) ListNovels(ctx context.Context) ([]model.NovelWithCount, error) {
	novels, err := s.novels.List(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("作品一覧の取得に失敗しました: %w", err)
	}
	return catalog.WithChapterCounts(ctx, s.chapters, novels)
}

// CreateNovel は作品を登録する。連載状態の既定値はongoing。
func (s *Service) CreateNovel(ctx context.Context, in NovelInput) (*model.Novel, error) {
	if err := s.validateNovel(&in); err != nil {
		return nil, err
	}

	now := s.now()
	novel := &model.Novel{
		ID:         uuid.New().String(),
		SyncStatus: model.SyncStatusActive,
		NextSyncAt: now,
		CreatedAt:  now,
	}
	applyNovelInput(novel, in, now)

	if err := s.novels.Create(ctx, novel); err != nil {
		return nil, fmt.Errorf("作品の登録に失敗しました: %w", err)
	}
	return novel, nil
}

// UpdateNovel は作品の編集可能項目を更新する。
func (s *Service) UpdateNovel(ctx context.Context, novelID string, in NovelInput) (*model.Novel, error) {
	if err := s.validateNovel(&in); err != nil {
		return nil, err
	}

	novel, err := s.findNovel(ctx, novelID)
	if err != nil {
		return nil, err
	}
	sourceChanged := applyNovelInput(novel, in, s.now())

	if err := s.novels.Update(ctx, novel); err != nil {
		return nil, fmt.Errorf("作品の更新に失敗しました: %w", err)
	}
	if sourceChanged {
		if err := s.novels.UpdateSyncState(ctx, novel); err != nil {
			return nil, fmt.Errorf("同期状態の更新に失敗しました: %w", err)
		}
	}
	return novel, nil
}

// DeleteNovel は作品を削除する。章とブックマークはデータベース側で削除される。
func (s *Service) DeleteNovel(ctx context.Context, novelID string) error {
	if _, err := s.findNovel(ctx, novelID); err != nil {
		return err
	}
	if err := s.novels.Delete(ctx, novelID); err != nil {
		return fmt.Errorf("作品の削除に失敗しました: %w", err)
	}
	return nil
}

// NovelChapters は作品と章一覧を返す。
func (s *Service) NovelChapters(ctx context.Context, novelID string) (*model.Novel, []*model.Chapter, error) {
	novel, err := s.findNovel(ctx, novelID)
	if err != nil {
		return nil, nil, err
	}
	chapters, err := s.chapters.ListByNovel(ctx, novelID)
	if err != nil {
		return nil, nil, fmt.Errorf("章一覧の取得に失敗しました: %w", err)
	}
	return novel, chapters, nil
}

// CreateChapter は章を追加する。
func (s *Service) CreateChapter(ctx context.Context, novelID string, in ChapterInput) (*model.Chapter, error) {
	number, err := validateChapter(in)
	if err != nil {
		return nil, err
	}
	if _, err := s.findNovel(ctx, novelID); err != nil {
		return nil, err
	}

	now := s.now()
	chapter := &model.Chapter{
		ID:            uuid.New().String(),
		NovelID:       novelID,
		Number:        number,
		Title:         strings.TrimSpace(in.Title),
		Content:       in.Content,
		PublishedDate: now,
		CreatedAt:     now,
	}
	if err := s.chapters.Create(ctx, chapter); err != nil {
		return nil, fmt.Errorf("章の登録に失敗しました: %w", err)
	}
	return chapter, nil
}

// UpdateChapter は章番号・タイトル・本文を更新する。
func (s *Service) UpdateChapter(ctx context.Context, novelID, chapterID string, in ChapterInput) (*model.Chapter, error) {
	number, err := validateChapter(in)
	if err != nil {
		return nil, err
	}
	chapter, err := s.findChapter(ctx, novelID, chapterID)
	if err != nil {
		return nil, err
	}

	chapter.Number = number
	chapter.Title = strings.TrimSpace(in.Title)
	chapter.Content = in.Content
	if err := s.chapters.Update(ctx, chapter); err != nil {
		return nil, fmt.Errorf("章の更新に失敗しました: %w", err)
	}
	return chapter, nil
}

// DeleteChapter は章を削除する。
func (s *Service) DeleteChapter(ctx context.Context, novelID, chapterID string) error {
	if _, err := s.findChapter(ctx, novelID, chapterID); err != nil {
		return err
	}
	if err := s.chapters.Delete(ctx, chapterID); err != nil {
		return fmt.Errorf("章の削除に失敗しました: %w", err)
	}
	return nil
}

// ImportChapters はフィードURLから章を取り込む。URLが空の場合は登録済みの取り込み元を使う。
func (s *Service) ImportChapters(ctx context.Context, novelID, feedURL string) (*importer.Result, error) {
	return s.importer.Import(ctx, novelID, strings.TrimSpace(feedURL))
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

func (s *Service) findChapter(ctx context.Context, novelID, chapterID string) (*model.Chapter, error) {
	chapter, err := s.chapters.FindByID(ctx, chapterID)
	if err != nil {
		return nil, fmt.Errorf("章の取得に失敗しました: %w", err)
	}
	if chapter == nil || chapter.NovelID != novelID {
		return nil, model.NewChapterNotFoundError(chapterID)
	}
	return chapter, nil
}

// validateNovel は入力を正規化して検証する。
func (s *Service) validateNovel(in *NovelInput) error {
	in.Title = strings.TrimSpace(in.Title)
	in.CoverImage = strings.TrimSpace(in.CoverImage)
	in.SourceFeedURL = strings.TrimSpace(in.SourceFeedURL)
	in.Genre = strings.TrimSpace(in.Genre)
	in.Status = strings.TrimSpace(in.Status)

	if err := model.ValidateRequired(model.RequiredField{Label: "タイトル", Value: in.Title}); err != nil {
		return err
	}
	if in.Status == "" {
		in.Status = string(model.NovelStatusOngoing)
	}
	if !model.ValidNovelStatus(model.NovelStatus(in.Status)) {
		return model.NewValidationError(fmt.Sprintf("連載状態が不正です: %s", in.Status))
	}
	for _, raw := range []string{in.CoverImage, in.SourceFeedURL} {
		if raw == "" {
			continue
		}
		if err := s.checkURL(raw); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return model.NewInvalidURLError(raw)
	}
	if err := s.guard.ValidateURL(raw); err != nil {
		return model.NewSSRFBlockedError()
	}
	return nil
}

// applyNovelInput は入力を作品に反映し、取り込み元フィードが変わったかを返す。
func applyNovelInput(n *model.Novel, in NovelInput, now time.Time) bool {
	n.Title = in.Title
	n.Description = strings.TrimSpace(in.Description)
	n.CoverImage = in.CoverImage
	n.Genre = in.Genre
	n.Status = model.NovelStatus(in.Status)
	changed := n.SourceFeedURL != in.SourceFeedURL
	if changed {
		n.SyncStatus = model.SyncStatusActive
		n.ConsecutiveErrors = 0
		n.SyncError = ""
		n.NextSyncAt = now
	}
	n.SourceFeedURL = in.SourceFeedURL
	n.UpdatedAt = now
	return changed
}

func validateChapter(in ChapterInput) (int, error) {
	err := model.ValidateRequired(
		model.RequiredField{Label: "章番号", Value: in.Number},
		model.RequiredField{Label: "タイトル", Value: in.Title},
		model.RequiredField{Label: "本文", Value: in.Content},
	)
	if err != nil {
		return 0, err
	}
	number, err := strconv.Atoi(strings.TrimSpace(in.Number))
	if err != nil || number < 1 {
		return 0, model.NewValidationError("章番号は1以上の整数で入力してください。")
	}
	return number, nil
}
